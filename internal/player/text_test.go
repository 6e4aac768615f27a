package player

import (
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

func TestRequiredDwell(t *testing.T) {
	tests := []struct {
		minutes int
		percent float64
		want    time.Duration
	}{
		{1, 100, time.Minute},
		{1, 90, 54 * time.Second},
		{2, 80, 96 * time.Second},
		{0, 80, 48 * time.Second},
		{-3, 50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := RequiredDwell(tt.minutes, tt.percent); got != tt.want {
			t.Errorf("RequiredDwell(%d, %v) = %v, want %v", tt.minutes, tt.percent, got, tt.want)
		}
	}
}

func TestScrollPercent(t *testing.T) {
	tests := []struct {
		name                  string
		top, height, viewport float64
		want                  float64
	}{
		{"top", 0, 2000, 1000, 0},
		{"half", 500, 2000, 1000, 50},
		{"bottom", 1000, 2000, 1000, 100},
		{"overscroll", 1200, 2000, 1000, 100},
		{"negative", -40, 2000, 1000, 0},
		{"fits viewport", 0, 800, 1000, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScrollPercent(tt.top, tt.height, tt.viewport); got != tt.want {
				t.Errorf("ScrollPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// dwellLesson is openLesson with a 100% text threshold, so a one-minute
// step needs a full minute of reading.
func dwellLesson() *lessonapi.LessonResponse {
	l := openLesson("free", false)
	l.Lesson.ProgressConfig.TextCompletePercent = ptr(100.0)
	l.Steps[0].Duration = 1
	return l
}

func TestText_DwellPausesWhileHidden(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatalf("TextLayout() error = %v", err)
	}
	h.clock.Advance(20 * time.Second)

	h.session.SetVisible(false)
	p, ok := h.session.text.Progress(21)
	if !ok || !p.Paused || p.Elapsed != 20*time.Second || p.Mode != "time" {
		t.Fatalf("progress while hidden = %+v", p)
	}
	h.clock.Advance(10 * time.Second)
	h.session.SetVisible(true)

	h.clock.Advance(39 * time.Second)
	if got := h.api.Count("CompleteStep", 21); got != 0 {
		t.Fatalf("completed after %v of visible time", 59*time.Second)
	}
	h.clock.Advance(time.Second)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Fatalf("CompleteStep calls = %d, want 1", got)
	}
	if h.stepStatus(21) != "completed" {
		t.Errorf("step 21 = %s, want completed", h.stepStatus(21))
	}

	p, _ = h.session.text.Progress(21)
	if !p.Completed || p.Percent != 100 {
		t.Errorf("final progress = %+v", p)
	}
}

func TestText_DwellReportsBuckets(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(61 * time.Second)

	h.rec.mu.Lock()
	reports := append([]TextProgress{}, h.rec.textProgress...)
	h.rec.mu.Unlock()

	if len(reports) == 0 {
		t.Fatal("no text progress reported")
	}
	last := -1.0
	for _, p := range reports[:len(reports)-1] {
		if p.Percent <= last {
			t.Errorf("progress went from %v to %v", last, p.Percent)
		}
		last = p.Percent
	}
	if final := reports[len(reports)-1]; !final.Completed {
		t.Errorf("final report = %+v, want completed", final)
	}
}

func TestText_HiddenBeforeLayout(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	h.session.SetVisible(false)
	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(5 * time.Minute)
	if h.api.Count("CompleteStep", 21) != 0 {
		t.Fatal("hidden reading time must not count")
	}

	h.session.SetVisible(true)
	h.clock.Advance(time.Minute)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Errorf("CompleteStep calls = %d, want 1", got)
	}
}

func TestText_LayoutIsIdempotent(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	for i := 0; i < 3; i++ {
		if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(10 * time.Second)
	}
	p, _ := h.session.text.Progress(21)
	if p.Elapsed != 30*time.Second {
		t.Errorf("elapsed = %v, want 30s", p.Elapsed)
	}

	h.clock.Advance(30 * time.Second)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Errorf("CompleteStep calls = %d, want 1", got)
	}
}

func TestText_ScrollCompletesAfterSettle(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)
	ctx := t.Context()

	if err := h.session.TextLayout(ctx, 21, 2000, 800); err != nil {
		t.Fatal(err)
	}
	if err := h.session.TextScroll(ctx, 21, 500, 2000, 800); err != nil {
		t.Fatal(err)
	}
	p, _ := h.session.text.Progress(21)
	if p.Mode != "scroll" || p.Completed {
		t.Fatalf("progress = %+v", p)
	}

	// 80% is the default text threshold.
	if err := h.session.TextScroll(ctx, 21, 1000, 2000, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(1999 * time.Millisecond)
	if h.api.Count("CompleteStep", 21) != 0 {
		t.Fatal("completed before the settle delay")
	}
	h.clock.Advance(time.Millisecond)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Fatalf("CompleteStep calls = %d, want 1", got)
	}

	if err := h.session.TextScroll(ctx, 21, 1200, 2000, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(5 * time.Second)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Errorf("CompleteStep calls after more scrolling = %d, want 1", got)
	}
}

func TestText_ScrollIgnoredForShortContent(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	if err := h.session.TextScroll(t.Context(), 21, 0, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(5 * time.Second)
	if h.api.Count("CompleteStep", 21) != 0 {
		t.Error("scrolling short content must not complete it")
	}
}

func TestText_DwellRetriesOnNextLayout(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)
	h.api.Errs["CompleteStep"] = &lessonapi.APIError{Status: 500}

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Minute)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Fatalf("CompleteStep calls = %d, want 1", got)
	}
	if h.stepStatus(21) == "completed" {
		t.Fatal("failed completion marked the step completed")
	}

	delete(h.api.Errs, "CompleteStep")
	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	if got := h.api.Count("CompleteStep", 21); got != 2 {
		t.Errorf("CompleteStep calls = %d, want 2", got)
	}
	if h.stepStatus(21) != "completed" {
		t.Errorf("step 21 = %s, want completed", h.stepStatus(21))
	}
}

func TestText_LeavingStepStopsTimers(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(30 * time.Second)
	if err := h.session.NavigateToStep(t.Context(), 1); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Minute)

	if h.api.Count("CompleteStep", 21) != 0 {
		t.Error("timers of a left step must not complete it")
	}
	if _, ok := h.session.text.Progress(21); ok {
		t.Error("left step state should be released")
	}
}

func TestText_RejectsWrongSteps(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 23, 300, 800); !errors.Is(err, ErrStepTypeMismatch) {
		t.Errorf("video step error = %v, want ErrStepTypeMismatch", err)
	}
	if err := h.session.TextScroll(t.Context(), 77, 0, 10, 5); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("unknown step error = %v, want ErrUnknownStep", err)
	}
}

func TestText_IgnoresLockedAndOffscreenSteps(t *testing.T) {
	t.Run("locked", func(t *testing.T) {
		h := newHarness(t, threeStepLesson())
		h.open(1)

		if err := h.session.TextLayout(t.Context(), 12, 300, 800); !errors.Is(err, ErrStepLocked) {
			t.Errorf("TextLayout() error = %v, want ErrStepLocked", err)
		}
		if err := h.session.TextScroll(t.Context(), 12, 1000, 1000, 800); !errors.Is(err, ErrStepLocked) {
			t.Errorf("TextScroll() error = %v, want ErrStepLocked", err)
		}
		h.clock.Advance(2 * time.Minute)
		if h.api.Count("CompleteStep", 12) != 0 {
			t.Error("locked text step must not complete")
		}
		if _, ok := h.session.text.Progress(12); ok {
			t.Error("locked step should hold no tracking state")
		}
	})

	t.Run("not current", func(t *testing.T) {
		h := newHarness(t, dwellLesson())
		h.open(2)

		if err := h.session.TextLayout(t.Context(), 22, 300, 800); !errors.Is(err, ErrNotCurrentStep) {
			t.Errorf("TextLayout() error = %v, want ErrNotCurrentStep", err)
		}
		if err := h.session.TextScroll(t.Context(), 22, 1000, 1000, 800); !errors.Is(err, ErrNotCurrentStep) {
			t.Errorf("TextScroll() error = %v, want ErrNotCurrentStep", err)
		}
		h.clock.Advance(5 * time.Minute)
		if h.api.Count("CompleteStep", 22) != 0 {
			t.Error("off-screen text step must not complete")
		}
		if _, ok := h.session.text.Progress(22); ok {
			t.Error("off-screen step should hold no tracking state")
		}
	})
}

func TestText_DwellFiringAfterSwitchToScroll(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	if err := h.session.TextLayout(t.Context(), 21, 2000, 800); err != nil {
		t.Fatal(err)
	}
	// A dwell callback already dispatched when the content grew.
	h.session.text.dwellElapsed(21)
	h.clock.Advance(2 * time.Minute)

	if h.api.Count("CompleteStep", 21) != 0 {
		t.Error("stale dwell callback must not complete a scroll step")
	}
	if err := h.session.TextScroll(t.Context(), 21, 1200, 2000, 800); err != nil {
		t.Fatalf("TextScroll() error = %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if got := h.api.Count("CompleteStep", 21); got != 1 {
		t.Errorf("CompleteStep calls = %d, want 1 after scrolling", got)
	}
}

func TestText_CloseStopsAllTimers(t *testing.T) {
	h := newHarness(t, dwellLesson())
	h.open(2)

	if err := h.session.TextLayout(t.Context(), 21, 300, 800); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second)
	if h.clock.Pending() == 0 {
		t.Fatal("expected running timers before Close")
	}

	h.session.Close()
	if got := h.clock.Pending(); got != 0 {
		t.Errorf("pending timers after Close = %d, want 0", got)
	}
	if err := h.session.TextLayout(t.Context(), 21, 300, 800); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("TextLayout() after Close error = %v, want ErrSessionClosed", err)
	}
}
