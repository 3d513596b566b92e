package app

import (
	"github.com/stacklok/notes-collab-server/internal/auth"
	"github.com/stacklok/notes-collab-server/internal/collab"
	"github.com/stacklok/notes-collab-server/internal/store"
	"github.com/stacklok/notes-collab-server/internal/telemetry"
	"github.com/stacklok/notes-collab-server/internal/transport/ws"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store answers note ownership and share lookups
	Store store.Store

	// Coordinator owns rooms and connections
	Coordinator *collab.Coordinator

	// Websocket is the realtime transport; it tracks hijacked connections
	// the HTTP server no longer sees.
	Websocket *ws.Handler

	// Auth holds the verifier chain and its background key refresh
	Auth *auth.Components

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
