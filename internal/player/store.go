package player

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

// Store is the session's cache of the current lesson. Refetches replace the
// whole snapshot; local predictions are applied as per-step patches.
// Subscribers run after every change, outside the store lock.
type Store struct {
	api        API
	normalizer *lesson.Normalizer
	group      singleflight.Group

	mu       sync.RWMutex
	lessonID int64
	modelID  string
	snap     *lesson.Snapshot
	version  uint64
	notified uint64
	course   []lessonapi.LessonSummary
	subs     map[int]func(lesson.Snapshot)
	nextSub  int
}

// NewStore creates an empty store.
func NewStore(api API, normalizer *lesson.Normalizer) *Store {
	if normalizer == nil {
		normalizer = lesson.NewNormalizer(nil)
	}
	return &Store{
		api:        api,
		normalizer: normalizer,
		subs:       make(map[int]func(lesson.Snapshot)),
	}
}

// Load switches the store to lessonID and fetches it. Switching lessons
// drops the cached snapshot, so Snapshot reports loading until the fetch lands.
func (s *Store) Load(ctx context.Context, lessonID int64, modelID string) (lesson.Snapshot, error) {
	s.mu.Lock()
	if s.lessonID != lessonID {
		s.lessonID = lessonID
		s.snap = nil
		s.course = nil
	}
	s.modelID = modelID
	s.mu.Unlock()

	return s.Refetch(ctx)
}

// LessonID returns the lesson the store is tracking.
func (s *Store) LessonID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lessonID
}

// Loading reports whether a lesson is selected but not yet fetched.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lessonID != 0 && s.snap == nil
}

// Snapshot returns a copy of the cached lesson.
func (s *Store) Snapshot() (lesson.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return lesson.Snapshot{}, false
	}
	return s.snap.Clone(), true
}

// Refetch fetches the current lesson and replaces the cached snapshot.
// Concurrent refetches of the same lesson share one request. A response
// that arrives after the store moved to another lesson is discarded.
func (s *Store) Refetch(ctx context.Context) (lesson.Snapshot, error) {
	s.mu.RLock()
	lessonID, modelID := s.lessonID, s.modelID
	s.mu.RUnlock()
	if lessonID == 0 {
		return lesson.Snapshot{}, ErrNotLoaded
	}

	v, err, _ := s.group.Do(strconv.FormatInt(lessonID, 10), func() (any, error) {
		resp, err := s.api.GetLessonContent(ctx, lessonID, modelID)
		if err != nil {
			return nil, err
		}
		snap := s.normalizer.Normalize(resp)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lessonID != lessonID {
			slog.Debug("discarding stale lesson response", "lesson_id", lessonID, "current", s.lessonID)
			return snap, nil
		}
		s.snap = &snap
		s.version++
		return snap, nil
	})
	if err != nil {
		return lesson.Snapshot{}, fmt.Errorf("fetch lesson %d: %w", lessonID, err)
	}

	s.publish()
	return v.(lesson.Snapshot).Clone(), nil
}

// PatchStep applies fn to the cached step and lesson progress. It reports
// false when the step is not in the cache.
func (s *Store) PatchStep(stepID int64, fn func(step *lesson.Step, progress *lesson.Progress)) bool {
	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return false
	}
	i := s.snap.StepIndex(stepID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next := s.snap.Clone()
	fn(&next.Steps[i], &next.Progress)
	s.snap = &next
	s.version++
	s.mu.Unlock()

	s.publish()
	return true
}

// RefetchCourse refreshes the lesson list of a course.
func (s *Store) RefetchCourse(ctx context.Context, courseID int64) ([]lessonapi.LessonSummary, error) {
	lessons, err := s.api.GetCourseLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("fetch course %d lessons: %w", courseID, err)
	}
	s.mu.Lock()
	s.course = lessons
	s.mu.Unlock()
	return lessons, nil
}

// Course returns the last fetched course lesson list.
func (s *Store) Course() []lessonapi.LessonSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]lessonapi.LessonSummary(nil), s.course...)
}

// Subscribe registers fn to run after every snapshot change. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(lesson.Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// publish notifies subscribers once per snapshot version.
func (s *Store) publish() {
	s.mu.Lock()
	if s.snap == nil || s.version == s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = s.version
	snap := s.snap.Clone()
	subs := make([]func(lesson.Snapshot), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
