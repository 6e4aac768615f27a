package player

import (
	"errors"
	"testing"

	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

func completeStepUpstream(s *lessonapi.StepOverview) {
	s.Status = "completed"
	s.Progress = 100
}

func TestNavigator_InitialStep(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		wantID   int64
	}{
		{"first available", []string{"available", "available", "available", "available"}, 21},
		{"skips completed", []string{"completed", "available", "locked", "locked"}, 22},
		{"in progress wins by order", []string{"completed", "completed", "in_progress", "available"}, 23},
		{"nothing startable", []string{"completed", "completed", "completed", "locked"}, 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := openLesson("free", false)
			for i, st := range tt.statuses {
				l.Steps[i].Status = st
			}
			h := newHarness(t, l)
			h.open(2)

			if id, _ := h.current(); id != tt.wantID {
				t.Errorf("current step = %d, want %d", id, tt.wantID)
			}
		})
	}
}

func TestNavigator_SequentialGate(t *testing.T) {
	h := newHarness(t, openLesson("sequential", false))
	h.open(2)

	err := h.session.NavigateToStep(t.Context(), 2)
	if !errors.Is(err, ErrCompleteEarlierSteps) {
		t.Fatalf("NavigateToStep(2) error = %v, want ErrCompleteEarlierSteps", err)
	}
	if h.notifier.Count(KindCompleteEarlier) != 1 {
		t.Errorf("notifications = %v", h.notifier.Kinds())
	}
	if _, idx := h.current(); idx != 0 {
		t.Fatalf("rejected navigation moved the pointer to %d", idx)
	}

	h.api.UpdateStep(2, 21, completeStepUpstream)
	h.api.UpdateStep(2, 22, completeStepUpstream)
	if _, err := h.session.store.Refetch(t.Context()); err != nil {
		t.Fatal(err)
	}

	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatalf("NavigateToStep(2) after completing earlier steps error = %v", err)
	}
	if id, idx := h.current(); id != 23 || idx != 2 {
		t.Errorf("current = %d@%d, want 23@2", id, idx)
	}
}

func TestNavigator_BackwardNavigationIgnoresGate(t *testing.T) {
	l := openLesson("sequential", false)
	l.Steps[0].Status = "completed"
	l.Steps[1].Status = "in_progress"
	h := newHarness(t, l)
	h.open(2)

	if _, idx := h.current(); idx != 1 {
		t.Fatalf("current index = %d, want 1", idx)
	}
	if err := h.session.GoToPreviousStep(t.Context()); err != nil {
		t.Fatalf("GoToPreviousStep() error = %v", err)
	}
	if id, _ := h.current(); id != 21 {
		t.Errorf("current = %d, want 21", id)
	}
}

func TestNavigator_FreeModeAllowsSkipping(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)

	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatalf("NavigateToStep(2) error = %v", err)
	}
	if id, _ := h.current(); id != 23 {
		t.Errorf("current = %d, want 23", id)
	}
}

func TestNavigator_AllowSkipOpensSequentialLesson(t *testing.T) {
	h := newHarness(t, openLesson("sequential", true))
	h.open(2)

	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatalf("NavigateToStep(2) error = %v", err)
	}
}

func TestNavigator_RejectsLockedAndEmptySteps(t *testing.T) {
	h := newHarness(t, threeStepLesson(), openLesson("free", false))

	h.open(1)
	if err := h.session.NavigateToStep(t.Context(), 2); !errors.Is(err, ErrStepLocked) {
		t.Errorf("locked target error = %v, want ErrStepLocked", err)
	}
	if h.notifier.Count(KindStepLocked) != 1 {
		t.Errorf("notifications = %v", h.notifier.Kinds())
	}

	h.open(2)
	if err := h.session.NavigateToStep(t.Context(), 3); !errors.Is(err, ErrContentUnavailable) {
		t.Errorf("empty target error = %v, want ErrContentUnavailable", err)
	}
	if h.notifier.Count(KindContentMissing) != 1 {
		t.Errorf("notifications = %v", h.notifier.Kinds())
	}

	for _, idx := range []int{-1, 4} {
		if err := h.session.NavigateToStep(t.Context(), idx); !errors.Is(err, ErrStepOutOfRange) {
			t.Errorf("NavigateToStep(%d) error = %v, want ErrStepOutOfRange", idx, err)
		}
	}
}

func TestNavigator_NotLoaded(t *testing.T) {
	h := newHarness(t)
	if err := h.session.NavigateToStep(t.Context(), 0); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("error = %v, want ErrNotLoaded", err)
	}
	if err := h.session.GoToNextStep(t.Context()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("error = %v, want ErrNotLoaded", err)
	}
}

func TestNavigator_NextAndPrevious(t *testing.T) {
	h := newHarness(t, threeStepLesson())
	h.open(1)

	if err := h.session.GoToPreviousStep(t.Context()); !errors.Is(err, ErrNoPreviousStep) {
		t.Errorf("GoToPreviousStep() at start error = %v", err)
	}
	if err := h.session.GoToNextStep(t.Context()); !errors.Is(err, ErrCompleteEarlierSteps) {
		t.Errorf("GoToNextStep() before completion error = %v", err)
	}
	v := h.session.View()
	if v.CanGoNext || v.CanGoPrevious {
		t.Errorf("CanGoNext=%v CanGoPrevious=%v, want both false", v.CanGoNext, v.CanGoPrevious)
	}

	if _, err := h.session.VideoProgress(t.Context(), 11, 100); err != nil {
		t.Fatal(err)
	}
	if !h.session.View().CanGoNext {
		t.Error("CanGoNext should be true once the video is complete")
	}
	if err := h.session.GoToNextStep(t.Context()); err != nil {
		t.Fatalf("GoToNextStep() error = %v", err)
	}
	if id, _ := h.current(); id != 12 {
		t.Errorf("current = %d, want 12", id)
	}
	if !h.session.View().CanGoPrevious {
		t.Error("CanGoPrevious should be true on the second step")
	}

	if err := h.session.NavigateToStep(t.Context(), 2); !errors.Is(err, ErrStepLocked) {
		t.Errorf("NavigateToStep(2) error = %v, want ErrStepLocked", err)
	}
}

func TestNavigator_GoToNextAtEnd(t *testing.T) {
	l := openLesson("free", false)
	l.StepContents = append(l.StepContents, lessonapi.StepContentBlock{ID: 24, Content: content(`{"files":[]}`)})
	h := newHarness(t, l)
	h.open(2)

	if err := h.session.NavigateToStep(t.Context(), 3); err != nil {
		t.Fatal(err)
	}
	if err := h.session.GoToNextStep(t.Context()); !errors.Is(err, ErrNoNextStep) {
		t.Errorf("GoToNextStep() at end error = %v, want ErrNoNextStep", err)
	}
}

func TestNavigator_PreviousStepLocked(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)
	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatal(err)
	}

	h.api.UpdateStep(2, 22, func(s *lessonapi.StepOverview) { s.Status = "locked" })
	if _, err := h.session.store.Refetch(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := h.session.GoToPreviousStep(t.Context()); !errors.Is(err, ErrStepLocked) {
		t.Errorf("GoToPreviousStep() error = %v, want ErrStepLocked", err)
	}
	if id, _ := h.current(); id != 23 {
		t.Errorf("current = %d, want 23", id)
	}
}

func TestNavigator_AutoStartsOnce(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)

	if got := h.api.Count("StartStep", 21); got != 1 {
		t.Fatalf("StartStep(21) calls = %d, want 1", got)
	}
	if h.stepStatus(21) != "in_progress" {
		t.Errorf("step 21 = %s, want in_progress", h.stepStatus(21))
	}

	ctx := t.Context()
	for _, idx := range []int{1, 0, 1, 0} {
		if err := h.session.NavigateToStep(ctx, idx); err != nil {
			t.Fatal(err)
		}
	}
	if got := h.api.Count("StartStep", 21); got != 1 {
		t.Errorf("StartStep(21) calls = %d, want 1", got)
	}
	if got := h.api.Count("StartStep", 22); got != 1 {
		t.Errorf("StartStep(22) calls = %d, want 1", got)
	}
	if !h.session.nav.Started(22) {
		t.Error("Started(22) = false")
	}
}

func TestNavigator_CompletedStepIsNotStarted(t *testing.T) {
	l := openLesson("free", false)
	l.Steps[0].Status = "completed"
	h := newHarness(t, l)
	h.open(2)

	if err := h.session.NavigateToStep(t.Context(), 0); err != nil {
		t.Fatal(err)
	}
	if got := h.api.Count("StartStep", 21); got != 0 {
		t.Errorf("StartStep(21) calls = %d, want 0", got)
	}
}

func TestNavigator_LessonChangeResets(t *testing.T) {
	h := newHarness(t, openLesson("free", false), threeStepLesson())
	h.open(2)
	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatal(err)
	}

	h.open(1)
	if id, idx := h.current(); id != 11 || idx != 0 {
		t.Errorf("current = %d@%d, want 11@0", id, idx)
	}
	if h.session.nav.Started(21) || h.session.nav.Started(23) {
		t.Error("started set should be cleared on lesson change")
	}

	// Coming back is a fresh visit: the step is started again.
	h.open(2)
	if got := h.api.Count("StartStep", 21); got != 2 {
		t.Errorf("StartStep(21) calls = %d, want 2", got)
	}
}

func TestNavigator_Hooks(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)

	for _, idx := range []int{1, 1, 2} {
		if err := h.session.NavigateToStep(t.Context(), idx); err != nil {
			t.Fatal(err)
		}
	}
	got := h.rec.scrolled()
	want := []int64{22, 22, 23}
	if len(got) != len(want) {
		t.Fatalf("scrolled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scrolled[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	last := h.rec.lastState()
	if last.CurrentStep == nil || last.CurrentStep.ID != 23 || last.CurrentIndex != 2 {
		t.Errorf("last state = %+v", last.CurrentStep)
	}
}

func TestNavigator_ReconcilesCurrentStep(t *testing.T) {
	h := newHarness(t, threeStepLesson())
	h.open(1)

	h.session.store.PatchStep(11, func(s *lesson.Step, _ *lesson.Progress) {
		s.Status = lesson.StatusCompleted
		s.Progress = 100
	})
	step, _, _ := h.session.nav.Current()
	if step.Status != lesson.StatusCompleted {
		t.Fatalf("current status = %s, want completed after patch", step.Status)
	}

	h.api.UpdateStep(1, 11, func(s *lessonapi.StepOverview) {
		s.Status = "in_progress"
		s.Progress = 40
	})
	if _, err := h.session.store.Refetch(t.Context()); err != nil {
		t.Fatal(err)
	}
	step, _, _ = h.session.nav.Current()
	if step.Status != lesson.StatusInProgress || step.Progress != 40 {
		t.Errorf("current = %s/%v, want in_progress/40", step.Status, step.Progress)
	}
}

func TestNavigator_CurrentStepRemoved(t *testing.T) {
	h := newHarness(t, openLesson("free", false))
	h.open(2)
	if err := h.session.NavigateToStep(t.Context(), 2); err != nil {
		t.Fatal(err)
	}

	l := openLesson("free", false)
	l.Steps = l.Steps[:2]
	l.StepContents = l.StepContents[:2]
	h.api.SetLesson(l)
	if _, err := h.session.store.Refetch(t.Context()); err != nil {
		t.Fatal(err)
	}

	if id, idx := h.current(); id != 21 || idx != 0 {
		t.Errorf("current = %d@%d, want 21@0 after the step vanished", id, idx)
	}
}
