package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpulse/internal/content"
	"taskpulse/internal/models"
)

const (
	// memberBufferSize bounds each member's outbound queue; events to a
	// full queue are dropped, presence is never load-bearing.
	memberBufferSize = 64

	// historySize bounds the per-room comment replay ring.
	historySize = 50

	// historyReplay is how many recent comments a joiner receives after
	// the roster snapshot.
	historyReplay = 10
)

// CommentStore persists comments created through the channel.
type CommentStore interface {
	AppendComment(comment models.Comment) (int64, error)
}

type member struct {
	user   models.User
	mode   models.Mode
	cursor json.RawMessage
	ts     int64 // last heartbeat, epoch millis
	ch     chan []byte
}

type room struct {
	taskID  string
	members map[string]*member
	history *History
	mu      sync.RWMutex
}

// Hub is the server-side presence tracker: one room per task, each holding
// the authoritative roster and fanning channel events out to members.
// Liveness is heartbeat-driven; members that stop heartbeating are swept.
type Hub struct {
	rooms map[string]*room
	mu    sync.RWMutex

	store      CommentStore
	staleAfter time.Duration
	now        func() time.Time
}

func New(store CommentStore, staleAfter time.Duration) *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		store:      store,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run sweeps stale members until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.staleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Join adds a user to a task room and returns their outbound event channel.
// The joiner immediately receives a roster snapshot followed by the room's
// recent comments; everyone else receives a presence update.
func (h *Hub) Join(taskID string, user models.User) chan []byte {
	h.mu.Lock()
	r, exists := h.rooms[taskID]
	if !exists {
		r = &room{
			taskID:  taskID,
			members: make(map[string]*member),
			history: NewHistory(historySize),
		}
		h.rooms[taskID] = r
	}
	h.mu.Unlock()

	m := &member{
		user: user,
		mode: models.ModeViewing,
		ts:   h.now().UnixMilli(),
		ch:   make(chan []byte, memberBufferSize),
	}

	r.mu.Lock()
	// A fresh connection for the same user replaces the old entry; the
	// superseded channel is closed so its connection unwinds. The joiner's
	// deliveries happen under the same lock as that close, so a competing
	// join for the same user can never close a channel mid-send.
	if old, ok := r.members[user.ID]; ok {
		close(old.ch)
	}
	r.members[user.ID] = m
	deliver(m.ch, r.snapshotLocked())
	for _, ev := range r.history.Recent(historyReplay) {
		deliver(m.ch, marshal(commentToWire(ev)))
	}
	count := len(r.members)
	r.mu.Unlock()

	r.broadcast(user.ID, marshal(models.PresenceUpdate{
		Type: models.EventPresenceUpdate,
		User: &m.user,
		Mode: string(m.mode),
		TS:   m.ts,
	}))

	slog.Info("member joined", "taskId", taskID, "userId", user.ID, "members", count)
	return m.ch
}

// Leave removes a user from a task room. The remaining members receive a
// fresh snapshot; departures reach clients as snapshot replacement. The
// caller passes the channel it got from Join so a connection superseded by
// a reconnect cannot evict its replacement.
func (h *Hub) Leave(taskID, userID string, ch chan []byte) {
	h.mu.RLock()
	r, exists := h.rooms[taskID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	r.mu.Lock()
	m, ok := r.members[userID]
	if ok && m.ch == ch {
		delete(r.members, userID)
		close(m.ch)
	} else {
		ok = false
	}
	count := len(r.members)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if !ok {
		return
	}

	slog.Info("member left", "taskId", taskID, "userId", userID, "members", count)

	if count == 0 {
		h.mu.Lock()
		// Re-check under the hub lock; a concurrent Join may have landed.
		r.mu.RLock()
		empty := len(r.members) == 0
		r.mu.RUnlock()
		if empty {
			delete(h.rooms, taskID)
		}
		h.mu.Unlock()
		return
	}

	r.broadcast("", snapshot)
}

// Dispatch handles one inbound client payload for the given room member.
// Malformed payloads are dropped.
func (h *Hub) Dispatch(taskID, userID string, raw []byte) {
	h.mu.RLock()
	r, exists := h.rooms[taskID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	kind, ok := models.EventKind(raw)
	if !ok {
		slog.Warn("dropping malformed payload", "taskId", taskID, "userId", userID)
		return
	}

	switch kind {
	case models.EventPresenceJoin, models.EventPresenceHeartbeat:
		var p models.PresenceHeartbeat
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		h.heartbeat(r, userID, p.Mode)

	case models.EventTypingUpdate:
		var p models.TypingUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		p.TaskID = taskID
		p.UserID = userID
		p.TS = h.now().UnixMilli()
		r.broadcast(userID, marshal(p))

	case models.EventCursorUpdate:
		var p models.CursorUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		h.cursor(r, userID, p.Cursor)

	case models.EventTaskPatch:
		var p models.TaskPatch
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		r.broadcast(userID, marshal(models.TaskPatch{
			Type:   models.EventTaskPatched,
			TaskID: taskID,
			Patch:  p.Patch,
			UserID: userID,
			TS:     h.now().UnixMilli(),
		}))

	case models.EventCommentNew:
		var p models.CommentNew
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		h.comment(r, userID, p)
	}
}

func (h *Hub) heartbeat(r *room, userID string, mode models.Mode) {
	r.mu.Lock()
	m, ok := r.members[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.mode = models.ParseMode(string(mode))
	m.ts = h.now().UnixMilli()
	update := models.PresenceUpdate{
		Type: models.EventPresenceUpdate,
		User: &m.user,
		Mode: string(m.mode),
		TS:   m.ts,
	}
	r.mu.Unlock()

	r.broadcast(userID, marshal(update))
}

func (h *Hub) cursor(r *room, userID string, cursor json.RawMessage) {
	r.mu.Lock()
	m, ok := r.members[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.cursor = cursor
	m.ts = h.now().UnixMilli()
	update := models.CursorUpdate{
		Type:   models.EventCursorUpdate,
		TaskID: r.taskID,
		UserID: userID,
		Cursor: cursor,
		TS:     m.ts,
	}
	r.mu.Unlock()

	r.broadcast(userID, marshal(update))
}

func (h *Hub) comment(r *room, userID string, p models.CommentNew) {
	r.mu.RLock()
	m, ok := r.members[userID]
	var author models.User
	if ok {
		author = m.user
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	now := h.now()
	comment := models.Comment{
		ID:         uuid.NewString(),
		TaskID:     r.taskID,
		AuthorID:   userID,
		AuthorName: content.Sanitize(author.DisplayName),
		Content:    content.Sanitize(p.Content),
		ParentID:   p.ParentID,
		CreatedAt:  now.UnixMilli(),
	}
	if h.store != nil {
		seq, err := h.store.AppendComment(comment)
		if err != nil {
			slog.Error("comment persist failed", "taskId", r.taskID, "userId", userID, "error", err)
			return
		}
		comment.Seq = seq
	}

	ev := models.CommentEvent{
		TaskID:     comment.TaskID,
		AuthorID:   comment.AuthorID,
		AuthorName: comment.AuthorName,
		Content:    comment.Content,
		TS:         comment.CreatedAt,
	}
	r.history.Add(ev)

	// Comments go to everyone, the author included; the event is the only
	// acknowledgement a fire-and-forget submit gets.
	r.broadcast("", marshal(commentToWire(ev)))
}

// sweep evicts members whose last heartbeat is too old and notifies the
// remainder with a reduced snapshot.
func (h *Hub) sweep() {
	cutoff := h.now().Add(-h.staleAfter).UnixMilli()

	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		evicted := 0
		for userID, m := range r.members {
			if m.ts < cutoff {
				delete(r.members, userID)
				close(m.ch)
				evicted++
			}
		}
		snapshot := r.snapshotLocked()
		remaining := len(r.members)
		r.mu.Unlock()

		if evicted == 0 {
			continue
		}
		slog.Info("swept stale members", "taskId", r.taskID, "evicted", evicted, "members", remaining)
		if remaining > 0 {
			r.broadcast("", snapshot)
		}
	}
}

// Stats reports room and member counts.
func (h *Hub) Stats() (rooms, members int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		members += len(r.members)
		r.mu.RUnlock()
	}
	return rooms, members
}

// snapshotLocked marshals the room roster; callers hold r.mu.
func (r *room) snapshotLocked() []byte {
	members := make([]models.WireMember, 0, len(r.members))
	for userID, m := range r.members {
		u := m.user
		members = append(members, models.WireMember{
			UserID: userID,
			User:   &u,
			Mode:   string(m.mode),
			Cursor: m.cursor,
			TS:     m.ts,
		})
	}
	return marshal(models.PresenceSnapshot{
		Type:    models.EventPresenceSnapshot,
		Members: members,
	})
}

// broadcast sends data to every member except the one named by exclude.
func (r *room) broadcast(exclude string, data []byte) {
	if data == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, m := range r.members {
		if userID == exclude {
			continue
		}
		deliver(m.ch, data)
	}
}

func deliver(ch chan []byte, data []byte) {
	if data == nil {
		return
	}
	select {
	case ch <- data:
	default:
		// Slow consumer, drop.
	}
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal failed", "error", err)
		return nil
	}
	return data
}

func commentToWire(ev models.CommentEvent) models.CommentWire {
	return models.CommentWire{
		Type:     models.EventTaskComment,
		TaskID:   ev.TaskID,
		Author:   ev.AuthorName,
		AuthorID: ev.AuthorID,
		Content:  ev.Content,
		TS:       ev.TS,
	}
}
