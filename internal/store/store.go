// Package store is the persistence collaborator: snapshot save/load for
// whiteboard and notes content and durable permission state. It is used
// only at session start (hydration) and on explicit save, never in the
// hot synchronization path.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// IsNotFound reports whether err means no saved state exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store persists per-room collaboration state.
// Implementations can use in-memory storage, redis, or other backends.
type Store interface {
	// SaveWhiteboard persists a full whiteboard snapshot.
	SaveWhiteboard(ctx context.Context, roomID string, snapshot []message.Record) error

	// LoadWhiteboard retrieves the latest whiteboard snapshot.
	// Returns ErrNotFound if none was saved.
	LoadWhiteboard(ctx context.Context, roomID string) ([]message.Record, error)

	// SaveNotes persists the full notes document.
	SaveNotes(ctx context.Context, roomID string, content json.RawMessage) error

	// LoadNotes retrieves the latest notes document.
	// Returns ErrNotFound if none was saved.
	LoadNotes(ctx context.Context, roomID string) (json.RawMessage, error)

	// SavePermissions persists the room's permission state.
	SavePermissions(ctx context.Context, roomID string, snap permission.Snapshot) error

	// LoadPermissions retrieves the room's permission state.
	// Returns ErrNotFound if none was saved.
	LoadPermissions(ctx context.Context, roomID string) (permission.Snapshot, error)
}
