// Package conflict implements the per-record last-write-wins ledger used
// by the whiteboard sync. Peers are loosely synchronized clients without
// a shared sequencer, so wall-clock timestamps stand in for a vector
// clock; clock skew can drop or admit a redundant stroke update, which is
// acceptable for drawing data.
package conflict

import "sync"

// Resolver tracks the last-applied timestamp per record id.
type Resolver struct {
	mu          sync.Mutex
	lastApplied map[string]int64
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		lastApplied: make(map[string]int64),
	}
}

// ShouldApply reports whether an update for recordID stamped with ts may
// be applied. Equal timestamps are rejected: first-seen wins, which in
// practice favors local edits since they record synchronously at
// mutation time.
func (r *Resolver) ShouldApply(recordID string, ts int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastApplied[recordID]
	if !ok {
		return true
	}

	return last < ts
}

// Record unconditionally overwrites the ledger entry for recordID.
// Called for accepted remote updates and for locally-originated
// mutations, so a late echo of stale state cannot regress the baseline.
func (r *Resolver) Record(recordID string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastApplied[recordID] = ts
}

// Clear wipes the ledger. Invoked whenever a full snapshot is applied:
// the snapshot is authoritative at that instant and per-record history
// before it is meaningless.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastApplied = make(map[string]int64)
}

// Len returns the number of tracked records.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.lastApplied)
}
