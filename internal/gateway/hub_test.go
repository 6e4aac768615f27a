package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/gateway"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
	"github.com/p-n-ai/pai-player/internal/player"
)

func ptr[T any](v T) *T { return &v }

func sequentialLesson() *lessonapi.LessonResponse {
	return &lessonapi.LessonResponse{
		Lesson: lessonapi.LessonInfo{
			ID:         1,
			Title:      "Fractions",
			TotalSteps: 3,
			ProgressConfig: lessonapi.ProgressConfig{
				ProgressMode:         "sequential",
				RequireSequential:    ptr(true),
				AllowSkip:            ptr(false),
				VideoCompletePercent: ptr(85.0),
			},
		},
		Progress: &lessonapi.ProgressInfo{Status: "NOT_STARTED", TotalSteps: 3},
		Steps: []lessonapi.StepOverview{
			{ID: 11, Type: "VIDEO", Order: 1, Status: "available"},
			{ID: 12, Type: "TEXT", Order: 2, Duration: 1, Status: "locked"},
			{ID: 13, Type: "QUIZ", Order: 3, Status: "locked"},
		},
		StepContents: []lessonapi.StepContentBlock{
			{ID: 11, Content: json.RawMessage(`{"url":"https://video.example/11"}`)},
			{ID: 12, Content: json.RawMessage(`"<p>text</p>"`)},
			{ID: 13, Content: json.RawMessage(`[]`)},
		},
	}
}

// wireMessage holds the parts of a server message the tests look at.
type wireMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	State *struct {
		SessionID   string `json:"sessionId"`
		Loading     bool   `json:"loading"`
		CurrentStep *struct {
			ID int64 `json:"id"`
		} `json:"currentStep"`
	} `json:"state"`
	Notification *struct {
		Kind string `json:"kind"`
	} `json:"notification"`
	Result *struct {
		StepID    int64 `json:"stepId"`
		Completed bool  `json:"completed"`
	} `json:"result"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type testServer struct {
	hub *gateway.Hub
	api *lessonapi.MockAPI
	url string

	mu     sync.Mutex
	tokens []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{api: lessonapi.NewMockAPI(sequentialLesson())}
	ts.hub = gateway.NewHub(gateway.HubConfig{
		NewAPI: func(token string) player.API {
			ts.mu.Lock()
			ts.tokens = append(ts.tokens, token)
			ts.mu.Unlock()
			return ts.api
		},
		Events:  events.NewMemoryLogger(),
		Clock:   clock.NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)),
		Timings: player.DefaultTimings(),
	})
	srv := httptest.NewServer(ts.hub)
	t.Cleanup(func() {
		ts.hub.Close()
		srv.Close()
	})
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func (ts *testServer) dial(t *testing.T, opts *websocket.DialOptions) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, ts.url+"?token=token-a", opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg any) {
	t.Helper()
	if err := wsjson.Write(t.Context(), c, msg); err != nil {
		t.Fatalf("write %v: %v", msg, err)
	}
}

// readUntil reads messages until one matches typ. It returns the match and
// every message read before it.
func readUntil(t *testing.T, c *websocket.Conn, typ string, match func(wireMessage) bool) (wireMessage, []wireMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	var seen []wireMessage
	for {
		var msg wireMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			t.Fatalf("waiting for %q after %d messages: %v", typ, len(seen), err)
		}
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg, seen
		}
		seen = append(seen, msg)
	}
}

func loaded(m wireMessage) bool {
	return m.State != nil && !m.State.Loading && m.State.CurrentStep != nil
}

func openLesson(t *testing.T, c *websocket.Conn) wireMessage {
	t.Helper()
	send(t, c, map[string]any{"type": "open", "lessonId": 1})
	msg, _ := readUntil(t, c, gateway.MsgState, loaded)
	return msg
}

func TestHub_OpenPushesState(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, nil)

	msg := openLesson(t, c)
	if msg.State.CurrentStep.ID != 11 {
		t.Errorf("current step = %d, want 11", msg.State.CurrentStep.ID)
	}

	sess, ok := ts.hub.Session(msg.State.SessionID)
	if !ok {
		t.Fatalf("session %q not registered", msg.State.SessionID)
	}
	if sess.LearnerKey() != player.LearnerKey("token-a") {
		t.Errorf("learner key = %q", sess.LearnerKey())
	}
	if ts.api.Count("StartStep", 11) != 1 {
		t.Error("first step should be started")
	}
}

func TestHub_BearerHeader(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer token-b"}},
	})
	openLesson(t, c)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.tokens) != 1 || ts.tokens[0] != "token-b" {
		t.Errorf("tokens = %v, want [token-b]", ts.tokens)
	}
}

func TestHub_LockedNavigation(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, nil)
	openLesson(t, c)

	send(t, c, map[string]any{"type": "navigate", "id": "nav-1", "index": 2})
	msg, seen := readUntil(t, c, gateway.MsgError, nil)
	if msg.Code != "step_locked" || msg.ID != "nav-1" {
		t.Errorf("error = %+v, want step_locked for nav-1", msg)
	}
	var notified bool
	for _, m := range seen {
		if m.Type == gateway.MsgNotification && m.Notification != nil && m.Notification.Kind == player.KindStepLocked {
			notified = true
		}
	}
	if !notified {
		t.Errorf("no step_locked notification before the error, saw %+v", seen)
	}
}

func TestHub_InvalidMessagesKeepConnection(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, nil)

	if err := c.Write(t.Context(), websocket.MessageText, []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}
	msg, _ := readUntil(t, c, gateway.MsgError, nil)
	if msg.Code != "invalid_message" {
		t.Errorf("code = %q, want invalid_message", msg.Code)
	}

	send(t, c, map[string]any{"type": "video_progress", "id": "v1", "stepId": 11})
	msg, _ = readUntil(t, c, gateway.MsgError, nil)
	if msg.Code != "invalid_message" || msg.ID != "v1" {
		t.Errorf("error = %+v", msg)
	}

	openLesson(t, c)
}

func TestHub_VideoCompletionResult(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, nil)
	openLesson(t, c)

	send(t, c, map[string]any{"type": "video_progress", "id": "p1", "stepId": 11, "percent": 40})
	send(t, c, map[string]any{"type": "video_progress", "id": "p2", "stepId": 11, "percent": 95})
	msg, _ := readUntil(t, c, gateway.MsgResult, nil)
	if msg.ID != "p2" || msg.Result == nil || !msg.Result.Completed || msg.Result.StepID != 11 {
		t.Errorf("result = %+v, want completion of step 11 for p2", msg)
	}
	if got := ts.api.Count("CompleteStep", 11); got != 1 {
		t.Errorf("CompleteStep calls = %d, want 1", got)
	}

	send(t, c, map[string]any{"type": "next"})
	readUntil(t, c, gateway.MsgState, func(m wireMessage) bool {
		return loaded(m) && m.State.CurrentStep.ID == 12
	})
}

func TestHub_DisconnectRemovesSession(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, nil)
	openLesson(t, c)
	if ts.hub.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", ts.hub.Count())
	}

	c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for ts.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
