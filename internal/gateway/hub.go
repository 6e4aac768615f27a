// Package gateway exposes player sessions over WebSocket. Each connection
// owns one session; client messages drive it and every hook is pushed back
// as a JSON message.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
	"github.com/p-n-ai/pai-player/internal/player"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	outboxSize          = 64
	readLimit           = 64 << 10
)

// HubConfig holds dependencies for the WebSocket hub.
type HubConfig struct {
	// NewAPI builds the upstream client for a connection's bearer token.
	NewAPI     func(token string) player.API
	Guard      player.Guard
	Events     events.Logger
	Normalizer *lesson.Normalizer
	Clock      clock.Clock
	Timings    player.Timings

	OriginPatterns []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// Hub accepts WebSocket connections and tracks their sessions.
type Hub struct {
	cfg      HubConfig
	validate *validator.Validate

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Hub{
		cfg:      cfg,
		validate: newValidator(),
		conns:    make(map[string]*conn),
	}
}

// Session returns the live session with the given id.
func (h *Hub) Session(id string) (*player.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok {
		return nil, false
	}
	return c.session, true
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every open connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := h.newConn(ws, bearerToken(r))
	id := c.session.ID()

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	slog.Info("player session connected", "session_id", id, "learner", c.session.LearnerKey())

	c.run(r.Context())

	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	slog.Info("player session disconnected", "session_id", id)
}

// bearerToken reads the learner token from the Authorization header or the
// token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

type conn struct {
	hub     *Hub
	ws      *websocket.Conn
	session *player.Session
	out     chan ServerMessage
	done    chan struct{}
}

func (h *Hub) newConn(ws *websocket.Conn, token string) *conn {
	c := &conn{
		hub:  h,
		ws:   ws,
		out:  make(chan ServerMessage, outboxSize),
		done: make(chan struct{}),
	}
	c.session = player.NewSession(player.Config{
		API:        h.cfg.NewAPI(token),
		Clock:      h.cfg.Clock,
		Guard:      h.cfg.Guard,
		Events:     h.cfg.Events,
		Normalizer: h.cfg.Normalizer,
		LearnerKey: player.LearnerKey(token),
		Timings:    h.cfg.Timings,
		Notifier: player.NotifierFunc(func(n player.Notification) {
			c.send(ServerMessage{Type: MsgNotification, Notification: &n, StepID: n.StepID})
		}),
		Hooks: player.Hooks{
			OnState: func(v player.View) {
				c.send(ServerMessage{Type: MsgState, State: &v})
			},
			OnLessonComplete: func(lessonID int64, next *int64) {
				c.send(ServerMessage{Type: MsgLessonCompleted, LessonID: lessonID, NextLessonID: next})
			},
			OnNextLesson: func(lessonID, nextID int64) {
				c.send(ServerMessage{Type: MsgNextLesson, LessonID: lessonID, NextLessonID: &nextID})
			},
			OnScrollToHeader: func(stepID int64) {
				c.send(ServerMessage{Type: MsgScrollToHeader, StepID: stepID})
			},
			OnTextProgress: func(stepID int64, p player.TextProgress) {
				c.send(ServerMessage{Type: MsgTextProgress, StepID: stepID, Text: &p})
			},
		},
	})
	return c
}

// send queues msg for the writer. Messages sent after the connection ended
// are dropped.
func (c *conn) send(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	go c.pingLoop(ctx)

	defer func() {
		close(c.done)
		c.session.Close()
	}()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				slog.Debug("websocket closed by client", "session_id", c.session.ID())
			default:
				if !errors.Is(err, context.Canceled) {
					slog.Info("websocket read ended", "session_id", c.session.ID(), "error", err)
				}
			}
			c.ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		c.handle(ctx, data)
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.hub.cfg.WriteTimeout)
			err := wsjson.Write(wctx, c.ws, msg)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "session_id", c.session.ID(), "type", msg.Type, "error", err)
				c.ws.CloseNow()
				return
			}
		}
	}
}

func (c *conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.hub.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("websocket ping failed", "session_id", c.session.ID(), "error", err)
				c.ws.CloseNow()
				return
			}
		}
	}
}

// handle processes one client message. Failures are reported to the client
// and never close the connection.
func (c *conn) handle(ctx context.Context, data []byte) {
	env, msg, err := decodeMessage(c.hub.validate, data)
	if err != nil {
		slog.Debug("rejected client message", "session_id", c.session.ID(), "error", err)
		c.send(errorMessage(env.ID, err))
		return
	}

	result, err := c.dispatch(ctx, env.Type, msg)
	if err != nil {
		c.send(errorMessage(env.ID, err))
		return
	}
	if result != nil {
		c.send(ServerMessage{Type: MsgResult, ID: env.ID, StepID: result.StepID, Result: result})
	}
}

func (c *conn) dispatch(ctx context.Context, typ string, msg any) (*StepResult, error) {
	s := c.session
	switch m := msg.(type) {
	case *OpenMessage:
		_, err := s.Open(ctx, m.LessonID, m.ModelID)
		return nil, err
	case *NavigateMessage:
		return nil, s.NavigateToStep(ctx, *m.Index)
	case *VideoProgressMessage:
		done, err := s.VideoProgress(ctx, m.StepID, *m.Percent)
		if err == nil && !done {
			return nil, nil
		}
		return completionResult(m.StepID, done, nil, err)
	case *StepMessage:
		done, err := s.MarkVideoComplete(ctx, m.StepID)
		return completionResult(m.StepID, done, nil, err)
	case *TextLayoutMessage:
		return nil, s.TextLayout(ctx, m.StepID, m.ContentHeight, m.ViewportHeight)
	case *TextScrollMessage:
		return nil, s.TextScroll(ctx, m.StepID, m.ScrollTop, m.ScrollHeight, m.ClientHeight)
	case *VisibilityMessage:
		s.SetVisible(*m.Visible)
		return nil, nil
	case *QuizSubmitMessage:
		resp, err := s.SubmitQuiz(ctx, m.StepID, m.Answers)
		if err != nil {
			return completionResult(m.StepID, false, nil, err)
		}
		return completionResult(m.StepID, true, resp.Result, nil)
	case *DownloadMessage:
		resp, err := s.CompleteDownload(ctx, m.StepID, m.FileID)
		return completionResult(m.StepID, resp != nil, nil, err)
	}

	switch typ {
	case MsgNext:
		return nil, s.GoToNextStep(ctx)
	case MsgPrevious:
		return nil, s.GoToPreviousStep(ctx)
	}
	return nil, nil
}
