package player

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func content(s string) json.RawMessage { return json.RawMessage(s) }

// threeStepLesson is a sequential, no-skip lesson: a video with an 85%
// threshold, a one-minute text step with a 90% threshold, and a quiz.
func threeStepLesson() *lessonapi.LessonResponse {
	return &lessonapi.LessonResponse{
		Lesson: lessonapi.LessonInfo{
			ID:         1,
			CourseID:   100,
			Title:      "Fractions",
			TotalSteps: 3,
			ProgressConfig: lessonapi.ProgressConfig{
				ProgressMode:         "sequential",
				RequireSequential:    ptr(true),
				AllowSkip:            ptr(false),
				VideoCompletePercent: ptr(85.0),
				TextCompletePercent:  ptr(90.0),
			},
		},
		Progress: &lessonapi.ProgressInfo{Status: "NOT_STARTED", TotalSteps: 3},
		Steps: []lessonapi.StepOverview{
			{ID: 11, Title: "Watch", Type: "VIDEO", Order: 1, Status: "available"},
			{ID: 12, Title: "Read", Type: "TEXT", Order: 2, Duration: 1, Status: "locked"},
			{ID: 13, Title: "Check", Type: "QUIZ", Order: 3, Status: "locked"},
		},
		StepContents: []lessonapi.StepContentBlock{
			{ID: 11, Content: content(`"{\"url\":\"https://video.example/11\"}"`)},
			{ID: 12, Content: content(`"<p>Short text</p>"`)},
			{ID: 13, Content: content(`[{"id":1,"question":"1/2 + 1/2?","options":["1","2"]}]`)},
		},
	}
}

// openLesson is a free-standing lesson whose steps are all available, used
// to exercise navigation rules without locking getting in the way.
func openLesson(mode string, allowSkip bool) *lessonapi.LessonResponse {
	return &lessonapi.LessonResponse{
		Lesson: lessonapi.LessonInfo{
			ID:             2,
			TotalSteps:     4,
			ProgressConfig: lessonapi.ProgressConfig{ProgressMode: mode, AllowSkip: ptr(allowSkip)},
		},
		Progress: &lessonapi.ProgressInfo{Status: "IN_PROGRESS", TotalSteps: 4},
		Steps: []lessonapi.StepOverview{
			{ID: 21, Type: "TEXT", Order: 1, Status: "available"},
			{ID: 22, Type: "TEXT", Order: 2, Status: "available"},
			{ID: 23, Type: "VIDEO", Order: 3, Status: "available"},
			{ID: 24, Type: "DOWNLOAD", Order: 4, Status: "available"},
		},
		StepContents: []lessonapi.StepContentBlock{
			{ID: 21, Content: content(`"a"`)},
			{ID: 22, Content: content(`"b"`)},
			{ID: 23, Content: content(`{"url":"https://v/23"}`)},
		},
	}
}

// recorder captures session hook invocations.
type recorder struct {
	mu              sync.Mutex
	states          []View
	lessonComplete  []int64
	nextLessons     [][2]int64
	scrolls         []int64
	textProgress    []TextProgress
	completeNextArg []*int64
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(v View) {
			r.mu.Lock()
			r.states = append(r.states, v)
			r.mu.Unlock()
		},
		OnLessonComplete: func(lessonID int64, next *int64) {
			r.mu.Lock()
			r.lessonComplete = append(r.lessonComplete, lessonID)
			r.completeNextArg = append(r.completeNextArg, next)
			r.mu.Unlock()
		},
		OnNextLesson: func(lessonID, nextID int64) {
			r.mu.Lock()
			r.nextLessons = append(r.nextLessons, [2]int64{lessonID, nextID})
			r.mu.Unlock()
		},
		OnScrollToHeader: func(stepID int64) {
			r.mu.Lock()
			r.scrolls = append(r.scrolls, stepID)
			r.mu.Unlock()
		},
		OnTextProgress: func(stepID int64, p TextProgress) {
			r.mu.Lock()
			r.textProgress = append(r.textProgress, p)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) completions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64{}, r.lessonComplete...)
}

func (r *recorder) next() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64{}, r.nextLessons...)
}

func (r *recorder) scrolled() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64{}, r.scrolls...)
}

func (r *recorder) lastState() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return View{}
	}
	return r.states[len(r.states)-1]
}

type harness struct {
	t        *testing.T
	api      *lessonapi.MockAPI
	clock    *clock.Fake
	notifier *MemoryNotifier
	events   *events.MemoryLogger
	rec      *recorder
	session  *Session
}

func newHarness(t *testing.T, lessons ...*lessonapi.LessonResponse) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		api:      lessonapi.NewMockAPI(lessons...),
		clock:    clock.NewFake(epoch),
		notifier: NewMemoryNotifier(),
		events:   events.NewMemoryLogger(),
		rec:      &recorder{},
	}
	h.session = NewSession(Config{
		API:        h.api,
		Clock:      h.clock,
		Notifier:   h.notifier,
		Events:     h.events,
		SessionID:  "sess-test",
		LearnerKey: LearnerKey("token-a"),
		Timings:    DefaultTimings(),
		Hooks:      h.rec.hooks(),
	})
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) open(lessonID int64) View {
	h.t.Helper()
	v, err := h.session.Open(h.t.Context(), lessonID, "")
	if err != nil {
		h.t.Fatalf("Open(%d) error = %v", lessonID, err)
	}
	return v
}

func (h *harness) current() (int64, int) {
	h.t.Helper()
	step, idx, ok := h.session.nav.Current()
	if !ok {
		h.t.Fatal("no current step")
	}
	return step.ID, idx
}

func (h *harness) stepStatus(stepID int64) string {
	h.t.Helper()
	snap, ok := h.session.Snapshot()
	if !ok {
		h.t.Fatal("snapshot not loaded")
	}
	step, ok := snap.Step(stepID)
	if !ok {
		h.t.Fatalf("step %d missing", stepID)
	}
	return step.Status.String()
}
