package channel

import (
	"sort"
	"sync"
	"time"

	"taskpulse/internal/models"
)

// reconciler folds inbound channel events, in arrival order, into the three
// pieces of locally observable state: the roster, the last typing event and
// the last comment event. It never reorders or buffers; every field is
// last-write-wins keyed by arrival.
type reconciler struct {
	mu          sync.RWMutex
	roster      map[string]models.PresenceMember
	lastTyping  *models.TypingEvent
	lastComment *models.CommentEvent
	now         func() time.Time
}

func newReconciler() *reconciler {
	return &reconciler{
		roster: make(map[string]models.PresenceMember),
		now:    time.Now,
	}
}

// applySnapshot replaces the entire roster. Entries without a resolvable
// user id are discarded; mode and ts are normalized.
func (r *reconciler) applySnapshot(members []models.WireMember) {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipt := r.now().UnixMilli()
	r.roster = make(map[string]models.PresenceMember, len(members))
	for _, m := range members {
		userID := m.ResolveUserID()
		if userID == "" {
			continue
		}
		ts := m.TS
		if ts <= 0 {
			ts = receipt
		}
		r.roster[userID] = models.PresenceMember{
			UserID: userID,
			User:   m.User,
			Mode:   models.ParseMode(m.Mode),
			Cursor: m.Cursor,
			TS:     ts,
		}
	}
}

// applyPresenceUpdate upserts a single roster entry with merge semantics:
// user and cursor are only overwritten when present, mode is always
// normalized, ts is refreshed. Reports whether the update was applied.
func (r *reconciler) applyPresenceUpdate(p models.PresenceUpdate) bool {
	userID := p.ResolveUserID()
	if userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.roster[userID]
	entry.UserID = userID
	entry.Mode = models.ParseMode(p.Mode)
	if p.User != nil {
		entry.User = p.User
	}
	if p.Cursor != nil {
		entry.Cursor = p.Cursor
	}
	entry.TS = p.TS
	if entry.TS <= 0 {
		entry.TS = r.now().UnixMilli()
	}
	r.roster[userID] = entry
	return true
}

// applyCursor upserts only the cursor and ts of the named entry, leaving
// mode untouched. An unknown user id inserts a fresh entry in viewing mode.
func (r *reconciler) applyCursor(c models.CursorUpdate) bool {
	if c.UserID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.roster[c.UserID]
	if !ok {
		entry = models.PresenceMember{UserID: c.UserID, Mode: models.ModeViewing}
	}
	entry.Cursor = c.Cursor
	entry.TS = c.TS
	if entry.TS <= 0 {
		entry.TS = r.now().UnixMilli()
	}
	r.roster[c.UserID] = entry
	return true
}

// applyTyping replaces the single last-typing slot. No roster mutation.
func (r *reconciler) applyTyping(t models.TypingUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := t.TS
	if ts <= 0 {
		ts = r.now().UnixMilli()
	}
	r.lastTyping = &models.TypingEvent{
		TaskID:  t.TaskID,
		Field:   t.Field,
		Preview: t.Preview,
		UserID:  t.UserID,
		TS:      ts,
	}
}

// applyComment replaces the single last-comment slot, resolving author and
// timestamp across the two accepted wire shapes.
func (r *reconciler) applyComment(c models.CommentWire) models.CommentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := models.CommentEvent{
		TaskID:     c.TaskID,
		AuthorID:   c.ResolveAuthorID(),
		AuthorName: c.ResolveAuthorName(),
		Content:    c.Content,
		TS:         c.ResolveTS(r.now()),
	}
	r.lastComment = &ev
	return ev
}

// clear discards all state. Used on channel close: the roster does not
// survive a session.
func (r *reconciler) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roster = make(map[string]models.PresenceMember)
	r.lastTyping = nil
	r.lastComment = nil
}

// Roster returns a snapshot of the roster sorted by user id.
func (r *reconciler) Roster() []models.PresenceMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]models.PresenceMember, 0, len(r.roster))
	for _, m := range r.roster {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
	return members
}

func (r *reconciler) LastTyping() *models.TypingEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTyping
}

func (r *reconciler) LastComment() *models.CommentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastComment
}
