package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Mode is a collaborator's declared interaction state on a task.
type Mode string

const (
	ModeViewing Mode = "viewing"
	ModeEditing Mode = "editing"
)

// ParseMode normalizes a wire mode value: the exact string "editing"
// maps to ModeEditing, everything else (including absent) to ModeViewing.
func ParseMode(s string) Mode {
	if s == string(ModeEditing) {
		return ModeEditing
	}
	return ModeViewing
}

// EventType discriminates channel payloads. Every message on the wire is a
// single JSON object carrying one of these in its "type" field.
type EventType string

const (
	// Client to server.
	EventPresenceJoin      EventType = "presence:join"
	EventPresenceHeartbeat EventType = "presence:heartbeat"
	EventTaskPatch         EventType = "task:patch"
	EventCommentNew        EventType = "comment:new"

	// Server to client.
	EventPresenceSnapshot EventType = "presence:snapshot"
	EventPresenceUpdate   EventType = "presence:update"
	EventTaskPatched      EventType = "task:patched"
	// EventTaskComment is the legacy alias of EventCommentNew in the
	// server-to-client direction; both shapes must be accepted.
	EventTaskComment EventType = "task_comment"

	// Both directions.
	EventTypingUpdate EventType = "typing:update"
	EventCursorUpdate EventType = "cursor:update"
)

// User is denormalized display info for a collaborator.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// PresenceMember is one roster entry: a collaborator currently known to be
// viewing or editing a task. The roster holds at most one entry per UserID.
type PresenceMember struct {
	UserID string          `json:"userId"`
	User   *User           `json:"user,omitempty"`
	Mode   Mode            `json:"mode"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
	TS     int64           `json:"ts"` // epoch millis, freshness only
}

// TypingEvent is an ephemeral typing preview. Only the most recent one is
// retained client-side.
type TypingEvent struct {
	TaskID  string `json:"taskId"`
	Field   string `json:"field"`
	Preview string `json:"preview,omitempty"`
	UserID  string `json:"userId"`
	TS      int64  `json:"ts"`
}

// CommentEvent is the live notification of a durable comment creation.
// Comment history is owned by the REST API; the channel only surfaces the
// latest event.
type CommentEvent struct {
	TaskID     string `json:"taskId"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
	TS         int64  `json:"ts"`
}

// Comment is a persisted task comment as served by the REST read path.
type Comment struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	TaskID      string `json:"taskId"`
	AuthorID    string `json:"authorId"`
	AuthorName  string `json:"authorName"`
	Content     string `json:"content"`
	ContentHTML string `json:"contentHtml,omitempty"`
	ParentID    string `json:"parentCommentId,omitempty"`
	CreatedAt   int64  `json:"createdAt"` // epoch millis
}

// PresenceJoin declares the local collaborator's mode on connect.
type PresenceJoin struct {
	Type EventType `json:"type"`
	Mode Mode      `json:"mode"`
}

// PresenceHeartbeat is the periodic liveness signal carrying current mode.
type PresenceHeartbeat struct {
	Type EventType `json:"type"`
	Mode Mode      `json:"mode"`
}

// WireMember is a roster entry as it appears inside a snapshot. Mode and ts
// are normalized on receipt, entries without a resolvable user id are dropped.
type WireMember struct {
	UserID string          `json:"userId,omitempty"`
	User   *User           `json:"user,omitempty"`
	Mode   string          `json:"mode,omitempty"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

// ResolveUserID returns the member's user id from the flat field or the
// nested user object, empty when neither is present.
func (m WireMember) ResolveUserID() string {
	if m.UserID != "" {
		return m.UserID
	}
	if m.User != nil {
		return m.User.ID
	}
	return ""
}

// PresenceSnapshot replaces the whole roster on receipt.
type PresenceSnapshot struct {
	Type    EventType    `json:"type"`
	Members []WireMember `json:"members"`
}

// PresenceUpdate patches a single roster entry.
type PresenceUpdate struct {
	Type   EventType       `json:"type"`
	UserID string          `json:"userId,omitempty"`
	User   *User           `json:"user,omitempty"`
	Mode   string          `json:"mode,omitempty"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

func (p PresenceUpdate) ResolveUserID() string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.User != nil {
		return p.User.ID
	}
	return ""
}

// TypingUpdate carries a truncated preview of text being typed into a field.
type TypingUpdate struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"taskId"`
	Field   string    `json:"field"`
	Preview string    `json:"preview,omitempty"`
	UserID  string    `json:"userId,omitempty"`
	TS      int64     `json:"ts,omitempty"`
}

// CursorUpdate carries an opaque collaborator-defined cursor position.
type CursorUpdate struct {
	Type   EventType       `json:"type"`
	TaskID string          `json:"taskId,omitempty"`
	UserID string          `json:"userId,omitempty"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

// TaskPatch is an advisory broadcast of a field change. The authoritative
// mutation happens through the REST API; the channel only notifies.
type TaskPatch struct {
	Type   EventType       `json:"type"`
	TaskID string          `json:"taskId"`
	Patch  json.RawMessage `json:"patch"`
	UserID string          `json:"userId,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

// CommentNew asks the server to create a comment and notify collaborators.
type CommentNew struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"taskId"`
	Content  string    `json:"content"`
	ParentID string    `json:"parent_comment_id,omitempty"`
}

// CommentWire is the inbound comment notification. Two shapes are accepted
// for compatibility ("task_comment" and "comment:new"), so author identity
// and timestamp each have several candidate fields.
type CommentWire struct {
	Type          EventType `json:"type"`
	TaskID        string    `json:"taskId,omitempty"`
	Author        string    `json:"author,omitempty"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	AuthorID      string    `json:"author_id,omitempty"`
	AuthorIDAlt   string    `json:"authorId,omitempty"`
	Content       string    `json:"content"`
	Timestamp     string    `json:"timestamp,omitempty"` // ISO 8601
	TS            int64     `json:"ts,omitempty"`        // epoch millis
	ParentComment string    `json:"parent_comment_id,omitempty"`
}

func (c CommentWire) ResolveAuthorID() string {
	if c.AuthorID != "" {
		return c.AuthorID
	}
	return c.AuthorIDAlt
}

// ResolveAuthorName prefers the explicit name field and falls back to
// composing first/last name parts.
func (c CommentWire) ResolveAuthorName() string {
	if c.Author != "" {
		return c.Author
	}
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	return name
}

// ResolveTS prefers the ISO timestamp, falls back to the numeric ts field,
// and finally to the receipt time.
func (c CommentWire) ResolveTS(receivedAt time.Time) int64 {
	if c.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
			return t.UnixMilli()
		}
	}
	if c.TS != 0 {
		return c.TS
	}
	return receivedAt.UnixMilli()
}

// EventKind extracts the discriminator from a raw payload. A payload that is
// not a JSON object or has no "type" field is reported as not ok and must be
// dropped by the caller.
func EventKind(raw []byte) (EventType, bool) {
	var env struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return "", false
	}
	return env.Type, true
}
