// Package store persists paho's in-flight QoS 1/2 packets in SQLite.
//
// paho hands every outbound and inbound packet that still awaits an
// acknowledgement to its Store. Keeping them in the session database lets a
// session created with CleanSession=false resume those flows after a
// process restart instead of losing them with paho's default memory store.
//
// Rows are namespaced by client ID so several sessions can share one
// database file.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// operationTimeout bounds every statement; paho's Store methods have no context.
const operationTimeout = 5 * time.Second

// Logger interface for optional logging support.
// paho's Store interface cannot return errors, so failures are logged.
type Logger interface {
	Warn(msg string, args ...any)
}

// SQLiteStore implements pahomqtt.Store on the inflight_packets table.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type SQLiteStore struct {
	db       *sql.DB
	clientID string
	logger   Logger

	mu     sync.RWMutex
	opens  int
}

var _ pahomqtt.Store = (*SQLiteStore)(nil)

// New returns a store for clientID on db. The inflight_packets table must
// exist (see the migrations package).
func New(db *sql.DB, clientID string) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		clientID: clientID,
	}
}

// SetLogger sets a logger for statement failures.
func (s *SQLiteStore) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *SQLiteStore) warn(msg string, err error, args ...any) {
	s.mu.RLock()
	logger := s.logger
	s.mu.RUnlock()
	if logger != nil {
		logger.Warn(msg, append([]any{"client_id", s.clientID, "error", err}, args...)...)
	}
}

func (s *SQLiteStore) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opens > 0
}

// Open implements pahomqtt.Store. paho opens the store on every connect.
//
// Open and Close nest: when several clients share the store, it stays
// usable until each of them has closed it.
func (s *SQLiteStore) Open() {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
}

// Close implements pahomqtt.Store. The database itself stays open; it is
// owned by whoever created the store. A Close without a matching Open is
// ignored.
func (s *SQLiteStore) Close() {
	s.mu.Lock()
	if s.opens > 0 {
		s.opens--
	}
	s.mu.Unlock()
}

// Put implements pahomqtt.Store.
func (s *SQLiteStore) Put(key string, message packets.ControlPacket) {
	if !s.isOpen() {
		return
	}

	var buf bytes.Buffer
	if err := message.Write(&buf); err != nil {
		s.warn("encoding in-flight packet failed", err, "key", key)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inflight_packets (client_id, packet_key, packet, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id, packet_key) DO UPDATE SET
			packet = excluded.packet,
			stored_at = excluded.stored_at
	`, s.clientID, key, buf.Bytes(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.warn("storing in-flight packet failed", err, "key", key)
	}
}

// Get implements pahomqtt.Store. It returns nil for unknown keys and for
// rows that no longer decode.
func (s *SQLiteStore) Get(key string) packets.ControlPacket {
	if !s.isOpen() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT packet FROM inflight_packets WHERE client_id = ? AND packet_key = ?",
		s.clientID, key,
	).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			s.warn("loading in-flight packet failed", err, "key", key)
		}
		return nil
	}

	cp, err := packets.ReadPacket(bytes.NewReader(raw))
	if err != nil {
		s.warn("decoding in-flight packet failed", err, "key", key)
		return nil
	}
	return cp
}

// All implements pahomqtt.Store. Keys are returned in the order they were
// first stored so paho resumes flows oldest first.
func (s *SQLiteStore) All() []string {
	if !s.isOpen() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT packet_key FROM inflight_packets WHERE client_id = ? ORDER BY id",
		s.clientID,
	)
	if err != nil {
		s.warn("listing in-flight packets failed", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.warn("scanning in-flight packet key failed", err)
			return nil
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		s.warn("iterating in-flight packets failed", err)
		return nil
	}
	return keys
}

// Del implements pahomqtt.Store.
func (s *SQLiteStore) Del(key string) {
	if !s.isOpen() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM inflight_packets WHERE client_id = ? AND packet_key = ?",
		s.clientID, key,
	); err != nil {
		s.warn("deleting in-flight packet failed", err, "key", key)
	}
}

// Reset implements pahomqtt.Store. paho calls it for clean sessions.
func (s *SQLiteStore) Reset() {
	if !s.isOpen() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM inflight_packets WHERE client_id = ?",
		s.clientID,
	); err != nil {
		s.warn("resetting in-flight packets failed", err)
	}
}

// Count returns the number of stored packets for this client.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM inflight_packets WHERE client_id = ?",
		s.clientID,
	).Scan(&n)
	return n, err
}
