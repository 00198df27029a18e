// Package notes binds the shared rich-text editor to the sync engine.
//
// Inbound updates are applied by whole-document replacement, not
// operational transform: the last update processed wins for the whole
// document. Two participants typing concurrently can clobber each
// other; that is an accepted limitation of this protocol, so do not
// upgrade this binding to operation merging.
package notes

import (
	"context"
	"encoding/json"
	"log"

	"github.com/serroba/meet-sync/internal/collab"
	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/store"
)

// Editor abstracts the rich-text surface: replaceable content plus a
// readable/settable selection.
type Editor interface {
	// Content returns the current document, or nil when empty.
	Content() json.RawMessage

	// Replace overwrites the entire document.
	Replace(content json.RawMessage)

	// Length returns the document's addressable size, the upper bound
	// for selection positions.
	Length() int

	// Selection returns the current selection anchor and head.
	Selection() (anchor, head int)

	// SetSelection moves the selection.
	SetSelection(anchor, head int)
}

// Binding wires one notes editor to the engine.
type Binding struct {
	engine *collab.Engine
	editor Editor
}

// NewBinding creates a notes binding.
func NewBinding(engine *collab.Engine, editor Editor) *Binding {
	return &Binding{
		engine: engine,
		editor: editor,
	}
}

// HandleLocalEdit broadcasts the full current document after a
// user-attributed edit.
func (b *Binding) HandleLocalEdit() error {
	if !b.engine.CanEdit(message.FeatureNotes) {
		return permission.ErrUnauthorized
	}

	return b.engine.SendNotesUpdate(b.editor.Content())
}

// HandleRemote applies an inbound notes message. Register it as the
// engine's OnNotes handler.
func (b *Binding) HandleRemote(m message.Notes) {
	switch m.Action {
	case message.ActionUpdate, message.ActionSyncResponse:
		b.replace(m.Content)
	case message.ActionSyncRequest:
		// Answered by the engine.
	}
}

// replace overwrites the document and restores the local selection,
// clamped to the new document's bounds.
func (b *Binding) replace(content json.RawMessage) {
	anchor, head := b.editor.Selection()

	b.editor.Replace(content)

	max := b.editor.Length()
	b.editor.SetSelection(clamp(anchor, max), clamp(head, max))
}

// Document returns the current document for answering sync-requests.
// Register it as the engine's NotesDocument provider; nil means empty.
func (b *Binding) Document() json.RawMessage {
	return b.editor.Content()
}

// Hydrate loads the persisted document as a baseline, then requests the
// live state from peers.
func (b *Binding) Hydrate(ctx context.Context, st store.Store, roomID string) error {
	content, err := st.LoadNotes(ctx, roomID)

	switch {
	case err == nil:
		b.replace(content)
	case store.IsNotFound(err):
		// New room, start empty.
	default:
		return err
	}

	return b.engine.RequestSync(message.FeatureNotes)
}

// Save persists the current document, reporting progress to peers.
func (b *Binding) Save(ctx context.Context, st store.Store, roomID string) error {
	if err := b.engine.SendSaveStatus(message.FeatureNotes, message.SaveStateSaving); err != nil {
		log.Printf("notes: save status dropped: %v", err)
	}

	if err := st.SaveNotes(ctx, roomID, b.editor.Content()); err != nil {
		_ = b.engine.SendSaveStatus(message.FeatureNotes, message.SaveStateError)

		return err
	}

	return b.engine.SendSaveStatus(message.FeatureNotes, message.SaveStateSaved)
}

func clamp(pos, max int) int {
	if pos < 0 {
		return 0
	}

	if pos > max {
		return max
	}

	return pos
}
