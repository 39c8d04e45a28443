package channel

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskpulse/internal/models"
)

const (
	// HeartbeatInterval is the cadence of presence:heartbeat messages and
	// the sole client-side liveness signal to the server roster.
	HeartbeatInterval = 5 * time.Second

	typingDebounce    = 180 * time.Millisecond
	cursorMinInterval = 70 * time.Millisecond
	previewMaxLen     = 140
)

// wireConn is the connection surface the session needs.
// *websocket.Conn satisfies it.
type wireConn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Config binds a session to one task and one credential. Everything is
// injected explicitly; the session never reads ambient application state.
type Config struct {
	// BaseURL is the http(s) base of the API; the ws(s) scheme is derived
	// from it so a secure page gets a secure socket.
	BaseURL string
	TaskID  string
	// Token is the bearer credential, read once at construction. Credential
	// rotation mid-session is not handled; construct a new session.
	Token  string
	UserID string
	Mode   models.Mode
}

// Session is the presence channel client for one task-viewing instance. It
// owns exactly one connection, one heartbeat timer and the debouncer state
// for typing and cursor signals. Sessions are not shared across tasks.
//
// Every operation is fire-and-forget: the session never blocks its caller,
// never panics into caller code and never surfaces connection errors. A
// broken channel degrades to an empty roster, nothing more.
type Session struct {
	cfg Config

	mu      sync.Mutex
	conn    wireConn
	stop    chan struct{} // per-connection, closed on disconnect
	mode    models.Mode
	opened  bool
	closed  bool
	writeMu sync.Mutex

	state  *reconciler
	events *emitter
	typing *Debouncer[typingPayload]
	cursor *RateLimiter

	dial func(urlStr string) (wireConn, error)
	log  *slog.Logger
}

type typingPayload struct {
	field   string
	preview string
}

func New(cfg Config) *Session {
	if cfg.Mode == "" {
		cfg.Mode = models.ModeViewing
	}
	s := &Session{
		cfg:    cfg,
		mode:   cfg.Mode,
		state:  newReconciler(),
		events: &emitter{},
		cursor: NewRateLimiter(cursorMinInterval),
		dial:   gorillaDial,
		log:    slog.With("taskId", cfg.TaskID),
	}
	s.typing = NewDebouncer(typingDebounce, func(p typingPayload) {
		s.send(models.TypingUpdate{
			Type:    models.EventTypingUpdate,
			TaskID:  s.cfg.TaskID,
			Field:   p.field,
			Preview: p.preview,
		})
	})
	return s
}

// Open establishes the channel connection. It is a no-op without a task id
// and a token: no connection is attempted outside an authenticated context.
// Establishment is asynchronous; callers never block or learn of failure.
func (s *Session) Open() {
	if s.cfg.TaskID == "" || s.cfg.Token == "" {
		return
	}

	s.mu.Lock()
	if s.opened || s.closed {
		s.mu.Unlock()
		return
	}
	s.opened = true
	s.mu.Unlock()

	go s.connect()
}

func (s *Session) connect() {
	conn, err := s.dial(s.connectURL())
	if err != nil {
		// Best effort: no retry, no surfaced error. The UI may remount to
		// get a fresh session.
		s.log.Debug("channel dial failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.stop = make(chan struct{})
	stop := s.stop
	mode := s.mode
	s.mu.Unlock()

	s.send(models.PresenceJoin{Type: models.EventPresenceJoin, Mode: mode})

	go s.heartbeatLoop(stop)
	go s.readLoop(conn)
}

func (s *Session) connectURL() string {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/tasks/" + s.cfg.TaskID + "/channel"
	q := u.Query()
	q.Set("token", s.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.send(models.PresenceHeartbeat{
				Type: models.EventPresenceHeartbeat,
				Mode: s.Mode(),
			})
		case <-stop:
			return
		}
	}
}

func (s *Session) readLoop(conn wireConn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.disconnect()
			return
		}
		s.handleMessage(raw)
	}
}

// handleMessage dispatches one inbound payload. Malformed payloads are
// silently dropped: no crash, no surfaced error, no retry.
func (s *Session) handleMessage(raw []byte) {
	kind, ok := models.EventKind(raw)
	if !ok {
		s.log.Debug("dropping malformed channel payload")
		return
	}

	switch kind {
	case models.EventPresenceSnapshot:
		var p models.PresenceSnapshot
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		s.state.applySnapshot(p.Members)
		s.events.emitRoster(s.state.Roster())

	case models.EventPresenceUpdate:
		var p models.PresenceUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if s.state.applyPresenceUpdate(p) {
			s.events.emitRoster(s.state.Roster())
		}

	case models.EventCursorUpdate:
		var p models.CursorUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if s.state.applyCursor(p) {
			s.events.emitRoster(s.state.Roster())
		}

	case models.EventTypingUpdate:
		var p models.TypingUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		s.state.applyTyping(p)
		if ev := s.state.LastTyping(); ev != nil {
			s.events.emitTyping(*ev)
		}

	case models.EventTaskPatched:
		// Opaque refetch hint for the UI, nothing to reconcile.
		s.events.emitPatched(raw)

	case models.EventCommentNew, models.EventTaskComment:
		var p models.CommentWire
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		s.events.emitComment(s.state.applyComment(p))
	}
}

// send is the single best-effort boundary for outbound messages: a no-op
// while disconnected, and write errors are dropped, never propagated.
func (s *Session) send(v any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(v)
	s.writeMu.Unlock()
	if err != nil {
		s.log.Debug("channel send dropped", "error", err)
	}
}

// Mode returns the local collaborator's declared mode.
func (s *Session) Mode() models.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode declares a new local mode and propagates it immediately with an
// out-of-cadence heartbeat; mode changes are never debounced.
func (s *Session) SetMode(m models.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()

	s.send(models.PresenceHeartbeat{Type: models.EventPresenceHeartbeat, Mode: m})
}

// SendTyping schedules a debounced typing preview for a task field. Within
// a burst only the last payload is transmitted, once the quiet period ends.
func (s *Session) SendTyping(field, preview string) {
	s.typing.Schedule(typingPayload{
		field:   field,
		preview: truncate(preview, previewMaxLen),
	})
}

// SendCursor transmits a cursor position unless one was sent too recently.
// Dropped positions are not retransmitted.
func (s *Session) SendCursor(cursor json.RawMessage) {
	if !s.cursor.Allow() {
		return
	}
	s.send(models.CursorUpdate{
		Type:   models.EventCursorUpdate,
		TaskID: s.cfg.TaskID,
		Cursor: cursor,
	})
}

// PatchTask broadcasts an advisory field patch to collaborators. The
// authoritative mutation happens through the REST API; no acknowledgement
// is tracked here.
func (s *Session) PatchTask(patch json.RawMessage) {
	s.send(models.TaskPatch{
		Type:   models.EventTaskPatch,
		TaskID: s.cfg.TaskID,
		Patch:  patch,
	})
}

// SubmitComment submits a comment for durable creation server-side.
// Fire-and-forget; the resulting task_comment event is the only echo.
func (s *Session) SubmitComment(content, parentID string) {
	s.send(models.CommentNew{
		Type:     models.EventCommentNew,
		TaskID:   s.cfg.TaskID,
		Content:  content,
		ParentID: parentID,
	})
}

// Roster returns the current roster snapshot sorted by user id.
func (s *Session) Roster() []models.PresenceMember {
	return s.state.Roster()
}

func (s *Session) LastTyping() *models.TypingEvent {
	return s.state.LastTyping()
}

func (s *Session) LastComment() *models.CommentEvent {
	return s.state.LastComment()
}

// OnRosterChange registers a callback invoked with the full roster snapshot
// after every roster mutation.
func (s *Session) OnRosterChange(fn func([]models.PresenceMember)) {
	s.events.onRoster(fn)
}

func (s *Session) OnTyping(fn func(models.TypingEvent)) {
	s.events.onTyping(fn)
}

func (s *Session) OnComment(fn func(models.CommentEvent)) {
	s.events.onComment(fn)
}

// OnTaskPatched registers a callback for the opaque task:patched hint, so
// the UI can decide whether to refetch the task.
func (s *Session) OnTaskPatched(fn func(json.RawMessage)) {
	s.events.onPatched(fn)
}

// Close tears the session down: heartbeat stopped, pending debounce
// cancelled, connection closed with any close error swallowed, roster
// discarded. Idempotent and safe even if Open never ran or never completed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.typing.Cancel()
	s.disconnect()
}

// disconnect releases the current connection and its heartbeat, clearing
// local state. Roster state does not survive the connection.
func (s *Session) disconnect() {
	s.mu.Lock()
	conn := s.conn
	stop := s.stop
	s.conn = nil
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close()
	}
	if conn != nil || stop != nil {
		s.state.clear()
		s.events.emitRoster(nil)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func gorillaDial(urlStr string) (wireConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(urlStr, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
