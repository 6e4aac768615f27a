package lesson

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

// Normalizer converts upstream lesson responses into Snapshots. It holds no
// per-lesson state, so it can be rerun on every refetch.
type Normalizer struct {
	schemas *SchemaSet
}

// NewNormalizer creates a normalizer. schemas may be nil to skip validation.
func NewNormalizer(schemas *SchemaSet) *Normalizer {
	return &Normalizer{schemas: schemas}
}

// Normalize builds a Snapshot from a lesson response. Steps are sorted by
// their Order field so that navigation indices follow the lesson sequence.
func (n *Normalizer) Normalize(resp *lessonapi.LessonResponse) Snapshot {
	snap := Snapshot{
		Lesson:   normalizeLesson(resp.Lesson),
		Progress: normalizeProgress(resp.Progress, len(resp.Steps)),
		Steps:    OrderedSteps(n.MergeSteps(resp.Steps, resp.StepContents)),
	}
	if resp.NextLesson != nil {
		next := *resp.NextLesson
		snap.NextLessonID = &next
	}
	return snap
}

// MergeSteps joins step overviews with their content blocks by id. The result
// has exactly one record per overview, in overview order, and HasContent is
// true iff a content block with the same id exists.
func (n *Normalizer) MergeSteps(overviews []lessonapi.StepOverview, contents []lessonapi.StepContentBlock) []Step {
	byID := make(map[int64]lessonapi.StepContentBlock, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
	}

	steps := make([]Step, 0, len(overviews))
	for _, ov := range overviews {
		step := Step{
			ID:          ov.ID,
			Title:       ov.Title,
			Type:        ParseStepType(ov.Type),
			Order:       ov.Order,
			Duration:    ov.Duration,
			Status:      ParseStepStatus(ov.Status),
			Progress:    clampPercent(ov.Progress),
			CompletedAt: ov.CompletedAt,
		}

		if block, ok := byID[ov.ID]; ok {
			step.HasContent = true
			step.Content = parseJSON(block.Content)
			step.Prior = asMap(parseJSON(block.Progress))
			step.Typed = n.typedContent(step)
		}
		steps = append(steps, step)
	}
	return steps
}

// OrderedSteps returns a copy of steps sorted by Order; ties keep input order.
func OrderedSteps(steps []Step) []Step {
	out := append([]Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (n *Normalizer) typedContent(step Step) any {
	if step.Content == nil {
		return nil
	}
	if err := n.schemas.Validate(step.Type, step.Content); err != nil {
		slog.Warn("step content failed schema validation",
			"step_id", step.ID,
			"type", step.Type.String(),
			"error", err,
		)
		return nil
	}

	switch step.Type {
	case StepVideo:
		var v VideoContent
		if decodeInto(step.Content, &v) {
			return v
		}
	case StepText:
		if s, ok := step.Content.(string); ok {
			return TextContent{HTML: s}
		}
		var v TextContent
		if decodeInto(step.Content, &v) {
			return v
		}
	case StepQuiz:
		var v QuizContent
		if list, ok := step.Content.([]any); ok {
			if decodeInto(list, &v.Questions) {
				return v
			}
			return nil
		}
		if decodeInto(step.Content, &v) {
			return v
		}
	case StepDownload:
		var v DownloadContent
		if list, ok := step.Content.([]any); ok {
			if decodeInto(list, &v.Files) {
				return v
			}
			return nil
		}
		if decodeInto(step.Content, &v) {
			return v
		}
	}
	return nil
}

// parseJSON decodes raw content. Strings holding serialized JSON are decoded a
// second time; when that fails the plain string is kept.
func parseJSON(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}

	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}
	var inner any
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		slog.Debug("content is not JSON, keeping raw string", "error", err)
		return s
	}
	return inner
}

func decodeInto(v any, out any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func normalizeLesson(in lessonapi.LessonInfo) Lesson {
	cfg := ProgressConfig{
		Mode:                 ParseProgressMode(in.ProgressConfig.ProgressMode),
		VideoCompletePercent: DefaultVideoCompletePercent,
		TextCompletePercent:  DefaultTextCompletePercent,
		GroupSize:            in.ProgressConfig.GroupSize,
		UnlockPercent:        in.ProgressConfig.UnlockPercent,
	}
	cfg.RequireSequential = cfg.Mode == ModeSequential
	if in.ProgressConfig.RequireSequential != nil {
		cfg.RequireSequential = *in.ProgressConfig.RequireSequential
	}
	if in.ProgressConfig.AllowSkip != nil {
		cfg.AllowSkip = *in.ProgressConfig.AllowSkip
	}
	if p := in.ProgressConfig.VideoCompletePercent; p != nil && *p > 0 {
		cfg.VideoCompletePercent = clampPercent(*p)
	}
	if p := in.ProgressConfig.TextCompletePercent; p != nil && *p > 0 {
		cfg.TextCompletePercent = clampPercent(*p)
	}

	return Lesson{
		ID:          in.ID,
		CourseID:    in.CourseID,
		Title:       in.Title,
		Description: in.Description,
		TotalSteps:  in.TotalSteps,
		Config:      cfg,
	}
}

func normalizeProgress(in *lessonapi.ProgressInfo, stepCount int) Progress {
	if in == nil {
		return Progress{Status: LessonNotStarted, TotalSteps: stepCount}
	}
	total := in.TotalSteps
	if total == 0 {
		total = stepCount
	}
	return Progress{
		Status:         ParseLessonStatus(in.Status),
		Percent:        clampPercent(in.Progress),
		CompletedSteps: in.CompletedSteps,
		TotalSteps:     total,
		StartedAt:      in.StartedAt,
		LastAccessedAt: in.LastAccessedAt,
		CompletedAt:    in.CompletedAt,
	}
}
