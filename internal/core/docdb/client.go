// Package docdb defines the document database client interface.
package docdb

import (
	"context"
)

// Client defines the interface for a document database client.
type Client interface {
	// Realms returns the realms collection.
	Realms() Collection

	// Sessions returns the sessions collection.
	Sessions() Collection

	// ServiceConfig returns the service configuration collection.
	ServiceConfig() Collection

	// EnsureIndexes creates the indexes queries rely on.
	EnsureIndexes(ctx context.Context) error

	// Ping verifies the database connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close(ctx context.Context) error
}
