// Package board binds a whiteboard editor's record store to the sync
// engine: local mutations become update broadcasts and inbound messages
// are reconciled through the last-write-wins resolver.
package board

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/serroba/meet-sync/internal/collab"
	"github.com/serroba/meet-sync/internal/conflict"
	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/store"
)

// RecordStore abstracts the drawing editor's record map: enumerable,
// patchable, keyed by stable record ids.
type RecordStore interface {
	// Put adds or replaces records.
	Put(records ...message.Record)

	// Remove deletes records by id. Unknown ids are ignored.
	Remove(ids ...string)

	// Replace swaps the entire record set for a snapshot.
	Replace(records []message.Record)

	// All returns every record.
	All() []message.Record
}

// Binding wires one whiteboard surface to the engine.
type Binding struct {
	engine   *collab.Engine
	records  RecordStore
	resolver *conflict.Resolver
	now      func() time.Time

	mu       sync.Mutex
	applying bool
}

// Config holds configuration for creating a binding.
type Config struct {
	Engine  *collab.Engine
	Records RecordStore

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// NewBinding creates a whiteboard binding.
func NewBinding(cfg Config) *Binding {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Binding{
		engine:   cfg.Engine,
		records:  cfg.Records,
		resolver: conflict.NewResolver(),
		now:      clock,
	}
}

// HandleLocalChange broadcasts a local editor mutation. The editor's
// change listener must call this only for user-attributed changes; the
// binding additionally suppresses changes it is applying from the
// network itself.
//
// Local timestamps are recorded in the resolver synchronously at
// mutation time, so a late remote echo of stale state loses the race.
func (b *Binding) HandleLocalChange(changes []message.Record, removedIDs []string) error {
	b.mu.Lock()

	if b.applying {
		b.mu.Unlock()

		return nil
	}

	ts := b.now().UnixMilli()

	for _, rec := range changes {
		b.resolver.Record(rec.ID, ts)
	}

	for _, id := range removedIDs {
		b.resolver.Record(id, ts)
	}

	b.mu.Unlock()

	if !b.engine.CanEdit(message.FeatureWhiteboard) {
		return permission.ErrUnauthorized
	}

	return b.engine.SendWhiteboardUpdate(changes, removedIDs)
}

// HandleRemote applies an inbound whiteboard message. Register it as
// the engine's OnWhiteboard handler.
func (b *Binding) HandleRemote(m message.Whiteboard) {
	switch m.Action {
	case message.ActionUpdate:
		b.applyUpdate(m)
	case message.ActionSyncResponse:
		b.ApplySnapshot(m.Snapshot)
	case message.ActionSyncRequest:
		// Answered by the engine.
	}
}

// applyUpdate admits each changed record through the resolver and
// applies the winners. Losers are silently discarded; a stale update is
// not an error.
func (b *Binding) applyUpdate(m message.Whiteboard) {
	b.mu.Lock()

	accepted := make([]message.Record, 0, len(m.Changes))

	for _, rec := range m.Changes {
		if !b.resolver.ShouldApply(rec.ID, m.Timestamp) {
			continue
		}

		b.resolver.Record(rec.ID, m.Timestamp)
		accepted = append(accepted, rec)
	}

	removed := make([]string, 0, len(m.RemovedIDs))

	for _, id := range m.RemovedIDs {
		if !b.resolver.ShouldApply(id, m.Timestamp) {
			continue
		}

		b.resolver.Record(id, m.Timestamp)
		removed = append(removed, id)
	}

	if len(accepted) == 0 && len(removed) == 0 {
		b.mu.Unlock()

		return
	}

	b.applying = true
	b.mu.Unlock()

	// The store may fire its change listener re-entrantly; the applying
	// flag keeps that from being re-broadcast.
	b.records.Put(accepted...)
	b.records.Remove(removed...)

	b.mu.Lock()
	b.applying = false
	b.mu.Unlock()
}

// ApplySnapshot replaces the whole record set and clears the resolver:
// a full snapshot is authoritative at the instant it is applied,
// whether it came from a peer's sync-response or from persistence.
func (b *Binding) ApplySnapshot(snapshot []message.Record) {
	b.mu.Lock()
	b.applying = true
	b.mu.Unlock()

	b.records.Replace(snapshot)

	b.mu.Lock()
	b.applying = false
	b.resolver.Clear()
	b.mu.Unlock()
}

// Snapshot returns the full local record set. Register it as the
// engine's WhiteboardSnapshot provider.
func (b *Binding) Snapshot() []message.Record {
	return b.records.All()
}

// Hydrate loads the persisted snapshot as a baseline, then requests the
// live state from peers. Called once at session start, never in the hot
// path.
func (b *Binding) Hydrate(ctx context.Context, st store.Store, roomID string) error {
	snapshot, err := st.LoadWhiteboard(ctx, roomID)

	switch {
	case err == nil:
		b.ApplySnapshot(snapshot)
	case store.IsNotFound(err):
		// New room, start empty.
	default:
		return err
	}

	return b.engine.RequestSync(message.FeatureWhiteboard)
}

// Save persists the current record set, reporting progress to peers.
func (b *Binding) Save(ctx context.Context, st store.Store, roomID string) error {
	if err := b.engine.SendSaveStatus(message.FeatureWhiteboard, message.SaveStateSaving); err != nil {
		log.Printf("board: save status dropped: %v", err)
	}

	if err := st.SaveWhiteboard(ctx, roomID, b.Snapshot()); err != nil {
		_ = b.engine.SendSaveStatus(message.FeatureWhiteboard, message.SaveStateError)

		return err
	}

	return b.engine.SendSaveStatus(message.FeatureWhiteboard, message.SaveStateSaved)
}

// MapStore is an in-memory RecordStore for tests and development.
type MapStore struct {
	mu      sync.Mutex
	records map[string]message.Record
}

// NewMapStore creates an empty record store.
func NewMapStore() *MapStore {
	return &MapStore{
		records: make(map[string]message.Record),
	}
}

// Put adds or replaces records.
func (s *MapStore) Put(records ...message.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.records[rec.ID] = rec
	}
}

// Remove deletes records by id.
func (s *MapStore) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.records, id)
	}
}

// Replace swaps the entire record set.
func (s *MapStore) Replace(records []message.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]message.Record, len(records))

	for _, rec := range records {
		s.records[rec.ID] = rec
	}
}

// All returns every record.
func (s *MapStore) All() []message.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]message.Record, 0, len(s.records))

	for _, rec := range s.records {
		all = append(all, rec)
	}

	return all
}

// Get returns a record by id.
func (s *MapStore) Get(id string) (message.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]

	return rec, ok
}

// Len returns the record count.
func (s *MapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Ensure MapStore implements RecordStore.
var _ RecordStore = (*MapStore)(nil)
