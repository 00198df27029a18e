// Package permission tracks the room's shared role and access-control
// state: per-feature levels, allow-lists, and the co-host set.
//
// Checks here are advisory and client-side. True enforcement against a
// malicious peer belongs to a trusted server-side validation on the
// persistence path, which is an external collaborator.
package permission

import (
	"errors"
	"sort"
	"sync"

	"github.com/serroba/meet-sync/internal/message"
)

// Common errors.
var (
	// ErrUnauthorized means a permission-mutating call was refused
	// locally before any broadcast was attempted.
	ErrUnauthorized = errors.New("unauthorized")
)

// State is one peer's copy of the room's permission state. Consistency
// across peers is eventual, via broadcast-and-reconcile; there is no
// shared lock or leader.
type State struct {
	mu      sync.RWMutex
	hostID  string
	levels  map[message.Feature]message.Level
	allowed map[message.Feature]map[string]struct{}
	coHosts map[string]struct{}
}

// NewState creates permission state for a room owned by hostID.
// Both features start open.
func NewState(hostID string) *State {
	return &State{
		hostID: hostID,
		levels: map[message.Feature]message.Level{
			message.FeatureWhiteboard: message.LevelOpen,
			message.FeatureNotes:      message.LevelOpen,
		},
		allowed: map[message.Feature]map[string]struct{}{
			message.FeatureWhiteboard: {},
			message.FeatureNotes:      {},
		},
		coHosts: make(map[string]struct{}),
	}
}

// HostID returns the room owner's identity.
func (s *State) HostID() string {
	return s.hostID
}

// IsHost reports whether userID is the room owner.
func (s *State) IsHost(userID string) bool {
	return userID == s.hostID
}

// IsCoHost reports whether userID is currently a co-host.
func (s *State) IsCoHost(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.coHosts[userID]

	return ok
}

// Level returns the current access level for a feature.
func (s *State) Level(feature message.Feature) message.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.levels[feature]
}

// CanEdit reports whether userID may mutate a feature. The host and
// co-hosts are implicitly granted edit regardless of list membership.
func (s *State) CanEdit(feature message.Feature, userID string) bool {
	if s.IsHost(userID) {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.coHosts[userID]; ok {
		return true
	}

	if s.levels[feature] == message.LevelOpen {
		return true
	}

	_, ok := s.allowed[feature][userID]

	return ok
}

// CanManagePermissions reports whether userID may change levels and
// allow-lists.
func (s *State) CanManagePermissions(userID string) bool {
	return s.IsHost(userID) || s.IsCoHost(userID)
}

// CanManageCoHosts reports whether userID may add or remove co-hosts.
// Host only.
func (s *State) CanManageCoHosts(userID string) bool {
	return s.IsHost(userID)
}

// CanEndMeeting reports whether userID may end the meeting for everyone.
func (s *State) CanEndMeeting(userID string) bool {
	return s.IsHost(userID) || s.IsCoHost(userID)
}

// SetLevel changes a feature's access level.
func (s *State) SetLevel(feature message.Feature, level message.Level) {
	if feature != message.FeatureWhiteboard && feature != message.FeatureNotes {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.levels[feature] = level
}

// Grant adds userID to a feature's allow-list.
func (s *State) Grant(feature message.Feature, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.allowed[feature]
	if !ok || userID == "" {
		return
	}

	list[userID] = struct{}{}
}

// Revoke removes userID from a feature's allow-list. Removing an absent
// user is a no-op.
func (s *State) Revoke(feature message.Feature, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if list, ok := s.allowed[feature]; ok {
		delete(list, userID)
	}
}

// GrantCoHost adds userID to the co-host set.
func (s *State) GrantCoHost(userID string) {
	if userID == "" || userID == s.hostID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.coHosts[userID] = struct{}{}
}

// RevokeCoHost removes userID from the co-host set.
func (s *State) RevokeCoHost(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.coHosts, userID)
}

// Apply updates local state from an inbound permission message. Updates
// are unconditional: last message received wins, with no ordering
// guarantee across senders.
func (s *State) Apply(m message.Permission) {
	switch m.Action {
	case message.PermissionUpdate:
		s.SetLevel(m.Feature, m.Level)
	case message.PermissionGrant:
		s.Grant(m.Feature, m.TargetUserID)
	case message.PermissionRevoke:
		s.Revoke(m.Feature, m.TargetUserID)
	case message.PermissionGrantCoHost:
		s.GrantCoHost(m.TargetUserID)
	case message.PermissionRevokeCoHost:
		s.RevokeCoHost(m.TargetUserID)
	}
}

// Snapshot is a serializable copy of the permission state, used by the
// persistence collaborator at hydration and explicit save.
type Snapshot struct {
	Whiteboard             message.Level `json:"whiteboard"`
	Notes                  message.Level `json:"notes"`
	WhiteboardAllowedUsers []string      `json:"whiteboardAllowedUsers"`
	NotesAllowedUsers      []string      `json:"notesAllowedUsers"`
	CoHosts                []string      `json:"coHosts"`
}

// Snapshot returns a copy of the current state with deterministic
// ordering.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Whiteboard:             s.levels[message.FeatureWhiteboard],
		Notes:                  s.levels[message.FeatureNotes],
		WhiteboardAllowedUsers: sortedKeys(s.allowed[message.FeatureWhiteboard]),
		NotesAllowedUsers:      sortedKeys(s.allowed[message.FeatureNotes]),
		CoHosts:                sortedKeys(s.coHosts),
	}
}

// Restore replaces the current state with a snapshot.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.levels[message.FeatureWhiteboard] = snap.Whiteboard
	s.levels[message.FeatureNotes] = snap.Notes
	s.allowed[message.FeatureWhiteboard] = toSet(snap.WhiteboardAllowedUsers)
	s.allowed[message.FeatureNotes] = toSet(snap.NotesAllowedUsers)
	s.coHosts = toSet(snap.CoHosts)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))

	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))

	for _, k := range keys {
		set[k] = struct{}{}
	}

	return set
}
