// Package logging provides structured logging for mqttsession.
//
// It wraps log/slog with JSON or text output, level filtering, and default
// service and version fields on every entry. The session, engine, store
// and supervisor packages each declare a narrow Logger interface that
// *Logger satisfies, so none of them depend on this package.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or the InfluxDB token.
package logging
