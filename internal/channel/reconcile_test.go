package channel

import (
	"encoding/json"
	"testing"
	"time"

	"taskpulse/internal/models"
)

func newTestReconciler() *reconciler {
	r := newReconciler()
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r
}

func TestReconciler_SnapshotReplacesRoster(t *testing.T) {
	r := newTestReconciler()

	r.applySnapshot([]models.WireMember{
		{UserID: "U1", Mode: "viewing"},
		{UserID: "U2", Mode: "editing", TS: 42},
	})

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 members, got %d", len(roster))
	}
	if roster[1].Mode != models.ModeEditing || roster[1].TS != 42 {
		t.Errorf("U2 not normalized correctly: %+v", roster[1])
	}

	// A later snapshot fully replaces: U1 and U2 must be gone.
	r.applySnapshot([]models.WireMember{{UserID: "U3"}})

	roster = r.Roster()
	if len(roster) != 1 || roster[0].UserID != "U3" {
		t.Errorf("expected roster [U3], got %+v", roster)
	}
	if roster[0].Mode != models.ModeViewing {
		t.Errorf("absent mode should default to viewing, got %s", roster[0].Mode)
	}
	if roster[0].TS != 1700000000000 {
		t.Errorf("absent ts should default to receipt time, got %d", roster[0].TS)
	}
}

func TestReconciler_SnapshotDropsEntriesWithoutUserID(t *testing.T) {
	r := newTestReconciler()

	r.applySnapshot([]models.WireMember{
		{Mode: "editing"},
		{UserID: "U1"},
		{User: &models.User{ID: "U2", DisplayName: "Bob"}},
	})

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 members, got %d: %+v", len(roster), roster)
	}
	if roster[0].UserID != "U1" || roster[1].UserID != "U2" {
		t.Errorf("unexpected roster: %+v", roster)
	}
}

func TestReconciler_PresenceUpdateMergesFields(t *testing.T) {
	r := newTestReconciler()

	cursor := json.RawMessage(`{"line":3}`)
	applied := r.applyPresenceUpdate(models.PresenceUpdate{
		User:   &models.User{ID: "U1", DisplayName: "Alice"},
		Mode:   "editing",
		Cursor: cursor,
		TS:     100,
	})
	if !applied {
		t.Fatal("update with user id should be applied")
	}

	// Second update without user info or cursor must not erase them.
	r.applyPresenceUpdate(models.PresenceUpdate{UserID: "U1", Mode: "editing", TS: 200})

	roster := r.Roster()
	if len(roster) != 1 {
		t.Fatalf("expected exactly 1 entry for U1, got %d", len(roster))
	}
	m := roster[0]
	if m.User == nil || m.User.DisplayName != "Alice" {
		t.Errorf("user info was erased: %+v", m)
	}
	if string(m.Cursor) != `{"line":3}` {
		t.Errorf("cursor was erased: %s", m.Cursor)
	}
	if m.TS != 200 {
		t.Errorf("ts should follow the later update, got %d", m.TS)
	}
}

func TestReconciler_PresenceUpdateModeNormalization(t *testing.T) {
	r := newTestReconciler()

	for _, mode := range []string{"EDITING", "edit", "", "garbage"} {
		r.applyPresenceUpdate(models.PresenceUpdate{UserID: "U1", Mode: mode})
		if got := r.Roster()[0].Mode; got != models.ModeViewing {
			t.Errorf("mode %q should normalize to viewing, got %s", mode, got)
		}
	}

	r.applyPresenceUpdate(models.PresenceUpdate{UserID: "U1", Mode: "editing"})
	if got := r.Roster()[0].Mode; got != models.ModeEditing {
		t.Errorf("exact match should normalize to editing, got %s", got)
	}
}

func TestReconciler_PresenceUpdateWithoutUserIDIgnored(t *testing.T) {
	r := newTestReconciler()

	if r.applyPresenceUpdate(models.PresenceUpdate{Mode: "editing"}) {
		t.Error("update without resolvable user id should not apply")
	}
	if len(r.Roster()) != 0 {
		t.Error("roster should stay empty")
	}
}

func TestReconciler_SnapshotThenUpdate(t *testing.T) {
	r := newTestReconciler()

	r.applySnapshot([]models.WireMember{{UserID: "U1", Mode: "viewing"}})
	r.applyPresenceUpdate(models.PresenceUpdate{
		User: &models.User{ID: "U1"},
		Mode: "editing",
	})

	roster := r.Roster()
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	if roster[0].UserID != "U1" || roster[0].Mode != models.ModeEditing {
		t.Errorf("expected U1 editing, got %+v", roster[0])
	}
}

func TestReconciler_CursorUpdateKeepsMode(t *testing.T) {
	r := newTestReconciler()

	r.applyPresenceUpdate(models.PresenceUpdate{UserID: "U1", Mode: "editing"})
	r.applyCursor(models.CursorUpdate{UserID: "U1", Cursor: json.RawMessage(`{"x":1}`), TS: 7})

	m := r.Roster()[0]
	if m.Mode != models.ModeEditing {
		t.Errorf("cursor update must not alter mode, got %s", m.Mode)
	}
	if string(m.Cursor) != `{"x":1}` || m.TS != 7 {
		t.Errorf("cursor/ts not applied: %+v", m)
	}

	// Cursor for an unknown user inserts a fresh viewing entry.
	r.applyCursor(models.CursorUpdate{UserID: "U2", Cursor: json.RawMessage(`{"x":2}`)})
	roster := r.Roster()
	if len(roster) != 2 || roster[1].Mode != models.ModeViewing {
		t.Errorf("expected new U2 entry in viewing mode, got %+v", roster)
	}
}

func TestReconciler_TypingReplacesLast(t *testing.T) {
	r := newTestReconciler()

	r.applyTyping(models.TypingUpdate{TaskID: "T1", Field: "title", Preview: "a", UserID: "U1", TS: 1})
	r.applyTyping(models.TypingUpdate{TaskID: "T1", Field: "title", Preview: "ab", UserID: "U1"})

	ev := r.LastTyping()
	if ev == nil {
		t.Fatal("expected a typing event")
	}
	if ev.Preview != "ab" {
		t.Errorf("expected latest preview, got %q", ev.Preview)
	}
	if ev.TS != 1700000000000 {
		t.Errorf("absent ts should default to receipt time, got %d", ev.TS)
	}
	if len(r.Roster()) != 0 {
		t.Error("typing must not mutate the roster")
	}
}

func TestReconciler_CommentTimestampResolution(t *testing.T) {
	r := newTestReconciler()

	// ISO timestamp wins over everything.
	ev := r.applyComment(models.CommentWire{
		Author:    "Jane",
		Content:   "LGTM",
		Timestamp: "2024-01-01T00:00:00Z",
		TS:        12345,
	})
	wantTS := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if ev.TS != wantTS {
		t.Errorf("expected epoch %d of ISO timestamp, got %d", wantTS, ev.TS)
	}
	if ev.AuthorName != "Jane" || ev.Content != "LGTM" {
		t.Errorf("unexpected event: %+v", ev)
	}

	// Numeric ts is the fallback.
	ev = r.applyComment(models.CommentWire{Content: "x", TS: 777})
	if ev.TS != 777 {
		t.Errorf("expected numeric ts fallback, got %d", ev.TS)
	}

	// Receipt time is the last resort.
	ev = r.applyComment(models.CommentWire{Content: "y"})
	if ev.TS != 1700000000000 {
		t.Errorf("expected receipt time, got %d", ev.TS)
	}

	if got := r.LastComment(); got == nil || got.Content != "y" {
		t.Errorf("last-comment slot not replaced: %+v", got)
	}
}

func TestReconciler_CommentAuthorResolution(t *testing.T) {
	r := newTestReconciler()

	ev := r.applyComment(models.CommentWire{FirstName: "Jane", LastName: "Doe", AuthorIDAlt: "U9", Content: "hi"})
	if ev.AuthorName != "Jane Doe" {
		t.Errorf("expected composed name, got %q", ev.AuthorName)
	}
	if ev.AuthorID != "U9" {
		t.Errorf("expected authorId fallback, got %q", ev.AuthorID)
	}

	// Explicit author field wins over first/last.
	ev = r.applyComment(models.CommentWire{Author: "J.", FirstName: "Jane", Content: "hi", AuthorID: "U1", AuthorIDAlt: "U2"})
	if ev.AuthorName != "J." || ev.AuthorID != "U1" {
		t.Errorf("unexpected author resolution: %+v", ev)
	}
}
