package channel

import (
	"encoding/json"
	"sync"

	"taskpulse/internal/models"
)

// emitter is a minimal observer registry so any UI layer (or none) can
// subscribe to channel state changes without the session knowing about a
// rendering model. Callbacks run on the session's read goroutine and must
// not block.
type emitter struct {
	mu          sync.RWMutex
	rosterSubs  []func([]models.PresenceMember)
	typingSubs  []func(models.TypingEvent)
	commentSubs []func(models.CommentEvent)
	patchedSubs []func(json.RawMessage)
}

func (e *emitter) onRoster(fn func([]models.PresenceMember)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rosterSubs = append(e.rosterSubs, fn)
}

func (e *emitter) onTyping(fn func(models.TypingEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typingSubs = append(e.typingSubs, fn)
}

func (e *emitter) onComment(fn func(models.CommentEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commentSubs = append(e.commentSubs, fn)
}

func (e *emitter) onPatched(fn func(json.RawMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patchedSubs = append(e.patchedSubs, fn)
}

func (e *emitter) emitRoster(members []models.PresenceMember) {
	e.mu.RLock()
	subs := e.rosterSubs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(members)
	}
}

func (e *emitter) emitTyping(ev models.TypingEvent) {
	e.mu.RLock()
	subs := e.typingSubs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *emitter) emitComment(ev models.CommentEvent) {
	e.mu.RLock()
	subs := e.commentSubs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *emitter) emitPatched(raw json.RawMessage) {
	e.mu.RLock()
	subs := e.patchedSubs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(raw)
	}
}
