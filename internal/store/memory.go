package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
)

// roomData holds all persisted state for a single room.
type roomData struct {
	whiteboard  []message.Record
	hasBoard    bool
	notes       json.RawMessage
	permissions *permission.Snapshot
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomData
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*roomData),
	}
}

// room returns the data for roomID, creating it if needed.
// Caller must hold m.mu for writing.
func (m *MemoryStore) room(roomID string) *roomData {
	data, ok := m.rooms[roomID]
	if !ok {
		data = &roomData{}
		m.rooms[roomID] = data
	}

	return data
}

// SaveWhiteboard persists a full whiteboard snapshot.
func (m *MemoryStore) SaveWhiteboard(_ context.Context, roomID string, snapshot []message.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.room(roomID)
	data.whiteboard = append([]message.Record(nil), snapshot...)
	data.hasBoard = true

	return nil
}

// LoadWhiteboard retrieves the latest whiteboard snapshot.
func (m *MemoryStore) LoadWhiteboard(_ context.Context, roomID string) ([]message.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.rooms[roomID]
	if !ok || !data.hasBoard {
		return nil, ErrNotFound
	}

	return append([]message.Record(nil), data.whiteboard...), nil
}

// SaveNotes persists the full notes document.
func (m *MemoryStore) SaveNotes(_ context.Context, roomID string, content json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.room(roomID).notes = append(json.RawMessage(nil), content...)

	return nil
}

// LoadNotes retrieves the latest notes document.
func (m *MemoryStore) LoadNotes(_ context.Context, roomID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.rooms[roomID]
	if !ok || data.notes == nil {
		return nil, ErrNotFound
	}

	return append(json.RawMessage(nil), data.notes...), nil
}

// SavePermissions persists the room's permission state.
func (m *MemoryStore) SavePermissions(_ context.Context, roomID string, snap permission.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.room(roomID).permissions = &snap

	return nil
}

// LoadPermissions retrieves the room's permission state.
func (m *MemoryStore) LoadPermissions(_ context.Context, roomID string) (permission.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.rooms[roomID]
	if !ok || data.permissions == nil {
		return permission.Snapshot{}, ErrNotFound
	}

	return *data.permissions, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
