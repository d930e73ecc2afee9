// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"

	"github.com/momentics/hioload-app/middleware"
	"github.com/momentics/hioload-app/pubsub"
	"github.com/momentics/hioload-app/router"
)

var (
	// ErrAlreadyRunning is returned by a second Run on the same Server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrPortInUse wraps a bind failure caused by an occupied port.
	ErrPortInUse = errors.New("port already in use")
)

// WsRoute binds a WebSocket path pattern to an endpoint definition.
type WsRoute struct {
	Pattern  string
	Endpoint pubsub.EndpointConfig
}

// RouteTable is everything the host runtime registers before Run.
type RouteTable struct {
	Routes   []router.Route
	WsRoutes []WsRoute
	// Global middleware wraps every HTTP route.
	Global middleware.Chain
	// OpenAPI is the JSON document rendered at /docs when docs are enabled.
	OpenAPI []byte
}
