package notes_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/meet-sync/internal/collab"
	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/notes"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/store"
	"github.com/serroba/meet-sync/internal/transport"
)

// fakeEditor is a test double for notes.Editor. Length is the number
// of bytes in the document payload, which is enough to exercise
// clamping.
type fakeEditor struct {
	content      json.RawMessage
	anchor, head int
}

func (e *fakeEditor) Content() json.RawMessage        { return e.content }
func (e *fakeEditor) Replace(content json.RawMessage) { e.content = content }
func (e *fakeEditor) Length() int                     { return len(e.content) }
func (e *fakeEditor) Selection() (int, int)           { return e.anchor, e.head }

func (e *fakeEditor) SetSelection(anchor, head int) {
	e.anchor = anchor
	e.head = head
}

func newEngine(bus *transport.Bus, identity string) *collab.Engine {
	return collab.NewEngine(collab.EngineConfig{
		Transport:     bus.Join(identity),
		SweepInterval: time.Hour,
	})
}

func TestBinding_RemoteUpdateReplacesDocument(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	engine := newEngine(bus, "local")
	defer engine.Close()

	editor := &fakeEditor{content: json.RawMessage(`{"type":"doc","text":"local draft"}`)}
	binding := notes.NewBinding(engine, editor)

	incoming := json.RawMessage(`{"type":"doc","text":"remote"}`)

	binding.HandleRemote(message.Notes{
		Meta:    message.Meta{SenderID: "remote", Timestamp: 10},
		Action:  message.ActionUpdate,
		Content: incoming,
	})

	// Whole-document replacement: the local draft is gone entirely.
	require.Equal(t, incoming, editor.content)
}

func TestBinding_SelectionClampedAfterReplace(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	engine := newEngine(bus, "local")
	defer engine.Close()

	editor := &fakeEditor{
		content: json.RawMessage(`{"text":"a much longer original document"}`),
	}
	editor.SetSelection(30, 35)

	binding := notes.NewBinding(engine, editor)

	short := json.RawMessage(`{"t":"x"}`)

	binding.HandleRemote(message.Notes{
		Meta:    message.Meta{SenderID: "remote", Timestamp: 10},
		Action:  message.ActionSyncResponse,
		Content: short,
	})

	require.Equal(t, len(short), editor.anchor, "anchor clamped to new bounds")
	require.Equal(t, len(short), editor.head, "head clamped to new bounds")
}

func TestBinding_SelectionPreservedWhenInBounds(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	engine := newEngine(bus, "local")
	defer engine.Close()

	editor := &fakeEditor{content: json.RawMessage(`{"text":"before"}`)}
	editor.SetSelection(2, 5)

	binding := notes.NewBinding(engine, editor)

	binding.HandleRemote(message.Notes{
		Meta:    message.Meta{SenderID: "remote", Timestamp: 10},
		Action:  message.ActionUpdate,
		Content: json.RawMessage(`{"text":"after, and long enough"}`),
	})

	require.Equal(t, 2, editor.anchor)
	require.Equal(t, 5, editor.head)
}

func TestBinding_LastUpdateWins(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	engine := newEngine(bus, "local")
	defer engine.Close()

	editor := &fakeEditor{}
	binding := notes.NewBinding(engine, editor)

	// No per-field merge for notes: later processed wins, regardless of
	// timestamps.
	binding.HandleRemote(message.Notes{
		Meta:    message.Meta{SenderID: "a", Timestamp: 100},
		Action:  message.ActionUpdate,
		Content: json.RawMessage(`{"text":"first"}`),
	})
	binding.HandleRemote(message.Notes{
		Meta:    message.Meta{SenderID: "b", Timestamp: 50},
		Action:  message.ActionUpdate,
		Content: json.RawMessage(`{"text":"second"}`),
	})

	require.Equal(t, json.RawMessage(`{"text":"second"}`), editor.content)
}

func TestBinding_LocalEditPropagates(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	engineA := newEngine(bus, "alice")
	defer engineA.Close()

	engineB := newEngine(bus, "bob")
	defer engineB.Close()

	editorA := &fakeEditor{content: json.RawMessage(`{"text":"typed by alice"}`)}
	editorB := &fakeEditor{}

	bindingA := notes.NewBinding(engineA, editorA)
	bindingB := notes.NewBinding(engineB, editorB)

	engineB.SetHandlers(collab.Handlers{
		OnNotes:       bindingB.HandleRemote,
		NotesDocument: bindingB.Document,
	})

	require.NoError(t, bindingA.HandleLocalEdit())

	require.Equal(t, editorA.content, editorB.content)
}

func TestBinding_RestrictedEditRefused(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	perms := permission.NewState("host")
	perms.SetLevel(message.FeatureNotes, message.LevelRestricted)

	engine := collab.NewEngine(collab.EngineConfig{
		Transport:     bus.Join("user1"),
		Perms:         perms,
		SweepInterval: time.Hour,
	})
	defer engine.Close()

	binding := notes.NewBinding(engine, &fakeEditor{})

	require.ErrorIs(t, binding.HandleLocalEdit(), permission.ErrUnauthorized)
}

func TestBinding_HydrateAndSave(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	ctx := context.Background()

	persisted := store.NewMemoryStore()
	doc := json.RawMessage(`{"text":"persisted"}`)
	require.NoError(t, persisted.SaveNotes(ctx, "room1", doc))

	engine := newEngine(bus, "joiner")
	defer engine.Close()

	editor := &fakeEditor{}
	binding := notes.NewBinding(engine, editor)

	require.NoError(t, binding.Hydrate(ctx, persisted, "room1"))
	require.Equal(t, doc, editor.content)

	editor.content = json.RawMessage(`{"text":"edited"}`)
	require.NoError(t, binding.Save(ctx, persisted, "room1"))

	loaded, err := persisted.LoadNotes(ctx, "room1")
	require.NoError(t, err)
	require.Equal(t, editor.content, loaded)
}
