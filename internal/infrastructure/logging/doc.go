// Package logging provides structured logging for graysql.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level filtering and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// Never log SQL parameter values: they may carry user data.
package logging
