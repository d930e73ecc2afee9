// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMeterProvider routes loop metrics to mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) {
		s.meterProvider = mp
	}
}

// WithEventBatch sets how many readiness events one poll may return.
func WithEventBatch(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBatch = n
		}
	}
}
