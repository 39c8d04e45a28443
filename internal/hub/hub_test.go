package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"taskpulse/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	comments []models.Comment
}

func (f *fakeStore) AppendComment(c models.Comment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, c)
	return int64(len(f.comments)), nil
}

func (f *fakeStore) all() []models.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Comment, len(f.comments))
	copy(out, f.comments)
	return out
}

var (
	alice = models.User{ID: "1", DisplayName: "Alice"}
	bob   = models.User{ID: "2", DisplayName: "Bob"}
)

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return data
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func expectNothing(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("expected no event, got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func decodeSnapshot(t *testing.T, data []byte) models.PresenceSnapshot {
	t.Helper()
	var snap models.PresenceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Type != models.EventPresenceSnapshot {
		t.Fatalf("expected presence:snapshot, got %s", snap.Type)
	}
	return snap
}

func TestHub_JoinSnapshotAndPresenceUpdate(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	snap := decodeSnapshot(t, recv(t, aliceCh))
	if len(snap.Members) != 1 || snap.Members[0].ResolveUserID() != "1" {
		t.Fatalf("expected snapshot with alice, got %+v", snap.Members)
	}
	if models.ParseMode(snap.Members[0].Mode) != models.ModeViewing {
		t.Errorf("new member should start viewing, got %s", snap.Members[0].Mode)
	}

	bobCh := h.Join("T1", bob)
	snap = decodeSnapshot(t, recv(t, bobCh))
	if len(snap.Members) != 2 {
		t.Fatalf("bob's snapshot should contain both members, got %+v", snap.Members)
	}

	// Alice hears about bob via a presence update.
	var update models.PresenceUpdate
	if err := json.Unmarshal(recv(t, aliceCh), &update); err != nil {
		t.Fatal(err)
	}
	if update.Type != models.EventPresenceUpdate || update.ResolveUserID() != "2" {
		t.Errorf("expected presence:update for bob, got %+v", update)
	}
	if update.User == nil || update.User.DisplayName != "Bob" {
		t.Errorf("update should carry display info, got %+v", update.User)
	}
}

func TestHub_HeartbeatPropagatesMode(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh) // own snapshot
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)   // own snapshot
	recv(t, aliceCh) // bob joined

	h.Dispatch("T1", "2", []byte(`{"type":"presence:heartbeat","mode":"editing"}`))

	var update models.PresenceUpdate
	if err := json.Unmarshal(recv(t, aliceCh), &update); err != nil {
		t.Fatal(err)
	}
	if update.ResolveUserID() != "2" || models.ParseMode(update.Mode) != models.ModeEditing {
		t.Errorf("expected bob editing, got %+v", update)
	}

	// The sender does not get its own heartbeat echoed.
	expectNothing(t, bobCh)
}

func TestHub_TypingFanOutExcludesSenderAndStamps(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Dispatch("T1", "2", []byte(`{"type":"typing:update","taskId":"T1","field":"title","preview":"dra"}`))

	var typing models.TypingUpdate
	if err := json.Unmarshal(recv(t, aliceCh), &typing); err != nil {
		t.Fatal(err)
	}
	if typing.UserID != "2" || typing.TS == 0 {
		t.Errorf("typing must be stamped with sender and ts, got %+v", typing)
	}
	if typing.Preview != "dra" || typing.Field != "title" {
		t.Errorf("unexpected typing payload: %+v", typing)
	}

	expectNothing(t, bobCh)
}

func TestHub_CursorUpdatesRoster(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Dispatch("T1", "2", []byte(`{"type":"cursor:update","taskId":"T1","cursor":{"line":4}}`))

	var cursor models.CursorUpdate
	if err := json.Unmarshal(recv(t, aliceCh), &cursor); err != nil {
		t.Fatal(err)
	}
	if cursor.UserID != "2" || string(cursor.Cursor) != `{"line":4}` {
		t.Errorf("unexpected cursor update: %+v", cursor)
	}

	// A later joiner sees the cursor in the snapshot.
	charlieCh := h.Join("T1", models.User{ID: "3", DisplayName: "Charlie"})
	snap := decodeSnapshot(t, recv(t, charlieCh))
	found := false
	for _, m := range snap.Members {
		if m.ResolveUserID() == "2" && string(m.Cursor) == `{"line":4}` {
			found = true
		}
	}
	if !found {
		t.Errorf("snapshot should carry bob's cursor, got %+v", snap.Members)
	}
}

func TestHub_TaskPatchRebroadcast(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Dispatch("T1", "2", []byte(`{"type":"task:patch","taskId":"T1","patch":{"status":"done"}}`))

	var patched models.TaskPatch
	if err := json.Unmarshal(recv(t, aliceCh), &patched); err != nil {
		t.Fatal(err)
	}
	if patched.Type != models.EventTaskPatched {
		t.Errorf("expected task:patched, got %s", patched.Type)
	}
	if patched.UserID != "2" || string(patched.Patch) != `{"status":"done"}` {
		t.Errorf("unexpected patched hint: %+v", patched)
	}

	expectNothing(t, bobCh)
}

func TestHub_CommentPersistsAndNotifiesEveryone(t *testing.T) {
	store := &fakeStore{}
	h := New(store, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Dispatch("T1", "2", []byte(`{"type":"comment:new","taskId":"T1","content":"<script>x</script>LGTM"}`))

	for _, ch := range []chan []byte{aliceCh, bobCh} {
		var comment models.CommentWire
		if err := json.Unmarshal(recv(t, ch), &comment); err != nil {
			t.Fatal(err)
		}
		if comment.Type != models.EventTaskComment {
			t.Errorf("expected task_comment, got %s", comment.Type)
		}
		if comment.Author != "Bob" || comment.Content != "LGTM" {
			t.Errorf("unexpected comment event: %+v", comment)
		}
	}

	stored := store.all()
	if len(stored) != 1 {
		t.Fatalf("expected 1 persisted comment, got %d", len(stored))
	}
	if stored[0].Content != "LGTM" {
		t.Errorf("content must be sanitized before persistence, got %q", stored[0].Content)
	}
	if stored[0].AuthorID != "2" || stored[0].TaskID != "T1" || stored[0].ID == "" {
		t.Errorf("unexpected stored comment: %+v", stored[0])
	}

	// A late joiner gets the latest comment replayed after the snapshot.
	charlieCh := h.Join("T1", models.User{ID: "3"})
	decodeSnapshot(t, recv(t, charlieCh))
	var replay models.CommentWire
	if err := json.Unmarshal(recv(t, charlieCh), &replay); err != nil {
		t.Fatal(err)
	}
	if replay.Content != "LGTM" {
		t.Errorf("expected comment replay, got %+v", replay)
	}
}

func TestHub_LeaveBroadcastsReducedSnapshot(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Leave("T1", "2", bobCh)

	snap := decodeSnapshot(t, recv(t, aliceCh))
	if len(snap.Members) != 1 || snap.Members[0].ResolveUserID() != "1" {
		t.Errorf("expected snapshot without bob, got %+v", snap.Members)
	}

	if _, ok := <-bobCh; ok {
		t.Error("bob's channel should be closed after leave")
	}

	// Last member leaving removes the room.
	h.Leave("T1", "1", aliceCh)
	rooms, members := h.Stats()
	if rooms != 0 || members != 0 {
		t.Errorf("expected empty hub, got rooms=%d members=%d", rooms, members)
	}
}

func TestHub_StaleLeaveIsIgnored(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	oldCh := h.Join("T1", alice)
	recv(t, oldCh)

	// Reconnect supersedes the old connection.
	newCh := h.Join("T1", alice)
	recv(t, newCh)

	// The superseded connection unwinding must not evict the new one.
	h.Leave("T1", "1", oldCh)

	_, members := h.Stats()
	if members != 1 {
		t.Errorf("expected alice still present, got %d members", members)
	}
}

func TestHub_SweepEvictsStaleMembers(t *testing.T) {
	h := New(&fakeStore{}, 15*time.Second)

	now := time.Unix(1700000000, 0)
	h.now = func() time.Time { return now }

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	// Alice heartbeats; bob goes quiet.
	now = now.Add(10 * time.Second)
	h.Dispatch("T1", "1", []byte(`{"type":"presence:heartbeat","mode":"viewing"}`))
	recv(t, bobCh) // alice's heartbeat update

	now = now.Add(8 * time.Second)
	h.sweep()

	snap := decodeSnapshot(t, recv(t, aliceCh))
	if len(snap.Members) != 1 || snap.Members[0].ResolveUserID() != "1" {
		t.Errorf("expected bob swept, got %+v", snap.Members)
	}

	if _, ok := <-bobCh; ok {
		t.Error("bob's channel should be closed after sweep")
	}

	_, members := h.Stats()
	if members != 1 {
		t.Errorf("expected 1 member after sweep, got %d", members)
	}
}

func TestHub_JoinReplaysRecentComments(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	for _, text := range []string{"first", "second", "third"} {
		h.Dispatch("T1", "2", []byte(`{"type":"comment:new","taskId":"T1","content":"`+text+`"}`))
		recv(t, bobCh) // own comment echo
	}

	charlieCh := h.Join("T1", models.User{ID: "3"})
	decodeSnapshot(t, recv(t, charlieCh))

	for _, want := range []string{"first", "second", "third"} {
		var replay models.CommentWire
		if err := json.Unmarshal(recv(t, charlieCh), &replay); err != nil {
			t.Fatal(err)
		}
		if replay.Content != want {
			t.Errorf("replay = %q, want %q", replay.Content, want)
		}
	}
}

func TestHub_ConcurrentRejoinSameUser(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	// Seed a comment so rejoining exercises the replay delivery too.
	seedCh := h.Join("T1", bob)
	recv(t, seedCh)
	h.Dispatch("T1", "2", []byte(`{"type":"comment:new","taskId":"T1","content":"seed"}`))
	recv(t, seedCh)

	// Racing joins for one user supersede each other; none of them may
	// send on a channel another join just closed.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				h.Join("T1", alice)
			}
		}()
	}
	wg.Wait()

	_, members := h.Stats()
	if members != 2 {
		t.Errorf("expected 2 members after rejoin storm, got %d", members)
	}
}

func TestHub_MalformedDispatchIsDropped(t *testing.T) {
	h := New(&fakeStore{}, time.Minute)

	aliceCh := h.Join("T1", alice)
	recv(t, aliceCh)
	bobCh := h.Join("T1", bob)
	recv(t, bobCh)
	recv(t, aliceCh)

	h.Dispatch("T1", "2", []byte(`garbage`))
	h.Dispatch("T1", "2", []byte(`{"no":"type"}`))
	h.Dispatch("T9", "2", []byte(`{"type":"presence:heartbeat","mode":"viewing"}`)) // unknown room

	expectNothing(t, aliceCh)
}
