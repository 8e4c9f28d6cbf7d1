// Package config loads and validates the mqttsession configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding selected values with MQTTSESSION_* environment variables
//   - Validation of every section, with all problems reported together
//   - Mapping onto session.Config, tlsconfig.Material and database.Config
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess, err := session.New(cfg.SessionConfig(), pahoengine.Factory())
package config
