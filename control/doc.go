// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration loading, logger construction and event loop metrics.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then HIOLOAD_* environment variables, then validation. Metrics are
// recorded through OpenTelemetry instruments and summarized periodically
// in the log.
package control
