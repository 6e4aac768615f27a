package lessonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockCall records one request received by MockAPI.
type MockCall struct {
	Method string
	ID     int64
	Data   map[string]any
}

// MockAPI is an in-memory stand-in for the upstream API used by tests.
// It keeps per-lesson state and applies step/lesson transitions the way the
// real backend does: completing a step marks it completed, bumps the lesson
// counters and unlocks the next locked step.
type MockAPI struct {
	mu      sync.Mutex
	lessons map[int64]*LessonResponse
	courses map[int64][]LessonSummary
	calls   []MockCall

	// Errs makes the named method fail ("GetLessonContent", "CompleteStep", ...).
	Errs map[string]error
	// BeforeCompleteStep runs before CompleteStep mutates state; tests use it
	// to hold a request in flight.
	BeforeCompleteStep func(stepID int64)
	// QuizResult computes the result object returned for quiz completions.
	QuizResult func(stepID int64, data map[string]any) map[string]any
	// NextLessons maps a lesson to the id revealed once it is completed.
	NextLessons map[int64]int64
}

// NewMockAPI creates a mock seeded with the given lesson responses.
func NewMockAPI(lessons ...*LessonResponse) *MockAPI {
	m := &MockAPI{
		lessons:     make(map[int64]*LessonResponse),
		courses:     make(map[int64][]LessonSummary),
		Errs:        make(map[string]error),
		NextLessons: make(map[int64]int64),
	}
	for _, l := range lessons {
		m.lessons[l.Lesson.ID] = clone(l)
	}
	return m
}

// SetLesson replaces the stored state of a lesson.
func (m *MockAPI) SetLesson(resp *LessonResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[resp.Lesson.ID] = clone(resp)
}

// UpdateStep mutates a stored step overview in place.
func (m *MockAPI) UpdateStep(lessonID, stepID int64, fn func(*StepOverview)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[lessonID]
	if !ok {
		return
	}
	for i := range l.Steps {
		if l.Steps[i].ID == stepID {
			fn(&l.Steps[i])
		}
	}
	recount(l)
}

// SetCourse sets a course's lesson list.
func (m *MockAPI) SetCourse(courseID int64, lessons []LessonSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[courseID] = lessons
}

// Calls returns a copy of the recorded requests.
func (m *MockAPI) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// Count returns how many times method was called for id (id 0 matches any).
func (m *MockAPI) Count(method string, id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method && (id == 0 || c.ID == id) {
			n++
		}
	}
	return n
}

func (m *MockAPI) GetLessonContent(_ context.Context, lessonID int64, _ string) (*LessonResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetLessonContent", lessonID, nil)
	if err := m.Errs["GetLessonContent"]; err != nil {
		return nil, err
	}
	l, ok := m.lessons[lessonID]
	if !ok {
		return nil, &APIError{Status: 404, Message: fmt.Sprintf("lesson %d not found", lessonID)}
	}
	return clone(l), nil
}

func (m *MockAPI) GetCourseLessons(_ context.Context, courseID int64) ([]LessonSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetCourseLessons", courseID, nil)
	if err := m.Errs["GetCourseLessons"]; err != nil {
		return nil, err
	}
	return append([]LessonSummary{}, m.courses[courseID]...), nil
}

func (m *MockAPI) StartLesson(_ context.Context, lessonID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StartLesson", lessonID, nil)
	if err := m.Errs["StartLesson"]; err != nil {
		return err
	}
	if l, ok := m.lessons[lessonID]; ok {
		if l.Progress == nil {
			l.Progress = &ProgressInfo{}
		}
		if l.Progress.Status == "" || strings.EqualFold(l.Progress.Status, "NOT_STARTED") {
			now := time.Now()
			l.Progress.Status = "IN_PROGRESS"
			l.Progress.StartedAt = &now
		}
	}
	return nil
}

func (m *MockAPI) CompleteLesson(_ context.Context, lessonID int64) (*LessonCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CompleteLesson", lessonID, nil)
	if err := m.Errs["CompleteLesson"]; err != nil {
		return nil, err
	}
	l, ok := m.lessons[lessonID]
	if !ok {
		return nil, &APIError{Status: 404, Message: "lesson not found"}
	}
	now := time.Now()
	if l.Progress == nil {
		l.Progress = &ProgressInfo{}
	}
	l.Progress.Status = "COMPLETED"
	l.Progress.Progress = 100
	l.Progress.CompletedAt = &now
	if next, ok := m.NextLessons[lessonID]; ok {
		n := next
		l.NextLesson = &n
	}
	return &LessonCompletion{LessonID: lessonID, Status: "COMPLETED", NextLesson: l.NextLesson}, nil
}

func (m *MockAPI) StartStep(_ context.Context, stepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StartStep", stepID, nil)
	if err := m.Errs["StartStep"]; err != nil {
		return err
	}
	if l, step := m.findStep(stepID); step != nil {
		if strings.EqualFold(step.Status, "available") {
			step.Status = "in_progress"
		}
		recount(l)
	}
	return nil
}

func (m *MockAPI) UpdateStepProgress(_ context.Context, stepID int64, percent float64, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateStepProgress", stepID, data)
	if err := m.Errs["UpdateStepProgress"]; err != nil {
		return err
	}
	if _, step := m.findStep(stepID); step != nil && !strings.EqualFold(step.Status, "completed") {
		if percent > step.Progress {
			step.Progress = percent
		}
	}
	return nil
}

func (m *MockAPI) CompleteStep(_ context.Context, stepID int64, contentType string, data map[string]any) (*StepCompletion, error) {
	if hook := m.BeforeCompleteStep; hook != nil {
		hook(stepID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CompleteStep", stepID, data)
	if err := m.Errs["CompleteStep"]; err != nil {
		return nil, err
	}

	l, step := m.findStep(stepID)
	if step == nil {
		return nil, &APIError{Status: 404, Message: fmt.Sprintf("step %d not found", stepID)}
	}
	now := time.Now()
	step.Status = "completed"
	step.Progress = 100
	step.CompletedAt = &now
	unlockNext(l, step.Order)
	recount(l)

	resp := &StepCompletion{StepID: stepID, Status: "completed"}
	if strings.EqualFold(contentType, "QUIZ") && m.QuizResult != nil {
		resp.Result = m.QuizResult(stepID, data)
	}
	return resp, nil
}

func (m *MockAPI) record(method string, id int64, data map[string]any) {
	m.calls = append(m.calls, MockCall{Method: method, ID: id, Data: data})
}

func (m *MockAPI) findStep(stepID int64) (*LessonResponse, *StepOverview) {
	for _, l := range m.lessons {
		for i := range l.Steps {
			if l.Steps[i].ID == stepID {
				return l, &l.Steps[i]
			}
		}
	}
	return nil, nil
}

func unlockNext(l *LessonResponse, order int) {
	var next *StepOverview
	for i := range l.Steps {
		s := &l.Steps[i]
		if s.Order > order && (next == nil || s.Order < next.Order) {
			next = s
		}
	}
	if next != nil && strings.EqualFold(next.Status, "locked") {
		next.Status = "available"
	}
}

func recount(l *LessonResponse) {
	if l.Progress == nil {
		l.Progress = &ProgressInfo{Status: "IN_PROGRESS"}
	}
	done := 0
	for _, s := range l.Steps {
		if strings.EqualFold(s.Status, "completed") {
			done++
		}
	}
	l.Progress.CompletedSteps = done
	l.Progress.TotalSteps = len(l.Steps)
	if len(l.Steps) > 0 {
		l.Progress.Progress = float64(done) * 100 / float64(len(l.Steps))
	}
}

func clone(l *LessonResponse) *LessonResponse {
	data, err := json.Marshal(l)
	if err != nil {
		panic(fmt.Sprintf("lessonapi mock: clone: %v", err))
	}
	var out LessonResponse
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("lessonapi mock: clone: %v", err))
	}
	return &out
}
