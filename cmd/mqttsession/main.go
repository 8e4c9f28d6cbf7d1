// mqttsession runs a single supervised MQTT client session.
//
// It connects to the configured broker, registers the configured will,
// subscribes to the configured filters after every successful connect, and
// logs every session event. Optionally in-flight QoS 1/2 packets are kept in
// SQLite, session telemetry is written to InfluxDB, and an HTTP control API
// streams events over WebSocket.
//
// Usage:
//
//	mqttsession                                  run the session
//	mqttsession token -subject ops -scope read   print an API token
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/mqtt-session/migrations"

	"github.com/nerrad567/mqtt-session/internal/api"
	"github.com/nerrad567/mqtt-session/internal/audit"
	"github.com/nerrad567/mqtt-session/internal/engine"
	"github.com/nerrad567/mqtt-session/internal/engine/pahoengine"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/session"
	"github.com/nerrad567/mqtt-session/internal/store"
	"github.com/nerrad567/mqtt-session/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mqttsession",
		"version", version,
		"commit", commit,
		"build_date", date,
		"engine", pahoengine.Version(),
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"client_id", cfg.Session.ClientID,
		"level", cfg.Logging.Level,
	)

	var engineOpts []pahoengine.Option
	engineOpts = append(engineOpts, pahoengine.WithLogger(log.Component("engine")))
	checks := make(map[string]api.HealthCheck)
	var auditRepo audit.Repository

	// In-flight packet store (optional)
	if cfg.Store.Enabled {
		db, dbErr := openStore(ctx, cfg, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing store", "error", closeErr)
			}
		}()

		checks["store"] = db.HealthCheck
		auditRepo = audit.NewSQLiteRepository(db.DB)

		st := store.New(db.DB, cfg.Session.ClientID)
		st.SetLogger(log.Component("store"))
		engineOpts = append(engineOpts, pahoengine.WithStore(st))
	} else {
		log.Info("in-flight store disabled")
	}

	// Telemetry (optional)
	var telemetry Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "write_failures", influxClient.WriteFailures())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		checks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	sess, err := newSession(cfg, pahoengine.Factory(engineOpts...), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	app := newAppObserver(sess, cfg.Filters(), telemetry, log.Component("observer"))
	var observer session.Observer = app

	// Control API (optional). The hub observes the session before the
	// first connect so the stream sees every event.
	if cfg.API.Enabled {
		hub := api.NewHub(cfg.API.WebSocket, log.Component("api"))
		observer = session.MultiObserver(app, hub)

		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Session: sess,
			Hub:     hub,
			Checks:  checks,
			Audit:   auditRepo,
			Version: version,

			EngineVersion: pahoengine.Version(),
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("control API disabled")
	}

	// disconnect is what shutdown calls; with a supervisor it marks the
	// close as expected so no reconnect is scheduled.
	disconnect := sess.Disconnect
	if cfg.Reconnect.Enabled {
		sup := supervisor.New(sess, supervisor.Config{
			InitialDelay: cfg.GetInitialDelay(),
			MaxDelay:     cfg.GetMaxDelay(),
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
			OnAttempt:    app.reconnectAttempted,
		}, observer)
		sup.SetLogger(log.Component("supervisor"))
		defer sup.Stop()

		sess.SetObserver(sup)
		disconnect = sup.Disconnect
	} else {
		sess.SetObserver(observer)
	}

	if cfg.TLS.Enabled {
		err = sess.ConnectTLS(cfg.TLS.Material)
	} else {
		err = sess.Connect()
	}
	if err != nil {
		return fmt.Errorf("connecting session: %w", err)
	}
	log.Info("connecting",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"tls", cfg.TLS.Enabled,
		"reconnect", cfg.Reconnect.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := disconnect(); err != nil {
		log.Warn("disconnect failed", "error", err)
	}

	// Deferred calls run in reverse order: supervisor, API, session,
	// InfluxDB, store.
	log.Info("mqttsession stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTSESSION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTSESSION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore opens the SQLite database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("in-flight store ready", "path", db.Path())
	return db, nil
}

// newSession creates the session and applies the will and retry settings.
func newSession(cfg *config.Config, factory engine.Factory, log *logging.Logger) (*session.Session, error) {
	sess, err := session.New(cfg.SessionConfig(), factory)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	sess.SetLogger(log.Component("session"))

	if err := sess.SetMessageRetry(cfg.Session.MessageRetry); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("setting message retry: %w", err)
	}

	if cfg.Will.Enabled {
		// #nosec G115 -- QoS validated by config.Validate
		if err := sess.SetWill(cfg.Will.Topic, []byte(cfg.Will.Payload), byte(cfg.Will.QoS), cfg.Will.Retain); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("setting will: %w", err)
		}
	}
	return sess, nil
}
