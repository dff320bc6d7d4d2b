// Package store defines the composite Store interface for all Rewind persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all. Backends implement every subsystem in one type so a
// single connection serves the whole engine.
package store

import (
	"context"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
)

// Store is the aggregate persistence interface.
type Store interface {
	session.Store
	event.Store
	signal.Store
	catalog.Store
	quarantine.Store
	project.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
