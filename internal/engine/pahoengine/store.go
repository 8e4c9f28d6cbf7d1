package pahoengine

import (
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// clientStore is one paho client's view of the engine's store.
//
// paho closes its store when a client disconnects, which for a superseded
// client happens in the background after its replacement has opened the
// same store. Close therefore only detaches this view; the shared store is
// closed by Engine.Close.
type clientStore struct {
	store pahomqtt.Store
	open  atomic.Bool
}

var _ pahomqtt.Store = (*clientStore)(nil)

func (s *clientStore) Open() {
	s.store.Open()
	s.open.Store(true)
}

func (s *clientStore) Close() {
	s.open.Store(false)
}

func (s *clientStore) Put(key string, message packets.ControlPacket) {
	if s.open.Load() {
		s.store.Put(key, message)
	}
}

func (s *clientStore) Get(key string) packets.ControlPacket {
	if !s.open.Load() {
		return nil
	}
	return s.store.Get(key)
}

func (s *clientStore) All() []string {
	if !s.open.Load() {
		return nil
	}
	return s.store.All()
}

func (s *clientStore) Del(key string) {
	if s.open.Load() {
		s.store.Del(key)
	}
}

func (s *clientStore) Reset() {
	if s.open.Load() {
		s.store.Reset()
	}
}
