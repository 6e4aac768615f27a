package lessonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:3000/api"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

// Client talks to the upstream student-lessons API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithToken sets the bearer token forwarded on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client = &http.Client{Timeout: d}
	}
}

// NewClient creates a new API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLessonContent fetches lesson metadata, progress, step overviews and step content.
func (c *Client) GetLessonContent(ctx context.Context, lessonID int64, modelID string) (*LessonResponse, error) {
	path := fmt.Sprintf("/student-lessons/%d/content", lessonID)
	if modelID != "" {
		path += "?" + url.Values{"modelId": {modelID}}.Encode()
	}

	var resp LessonResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get lesson %d content: %w", lessonID, err)
	}
	return &resp, nil
}

// GetCourseLessons fetches the lesson list of a course.
func (c *Client) GetCourseLessons(ctx context.Context, courseID int64) ([]LessonSummary, error) {
	var resp []LessonSummary
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student-lessons/course/%d", courseID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get course %d lessons: %w", courseID, err)
	}
	return resp, nil
}

// StartLesson signals that the learner opened a lesson. Idempotent upstream.
func (c *Client) StartLesson(ctx context.Context, lessonID int64) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student-lessons/%d/start", lessonID), nil, nil); err != nil {
		return fmt.Errorf("start lesson %d: %w", lessonID, err)
	}
	return nil
}

// CompleteLesson marks a lesson complete.
func (c *Client) CompleteLesson(ctx context.Context, lessonID int64) (*LessonCompletion, error) {
	var resp LessonCompletion
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student-lessons/%d/complete", lessonID), nil, &resp); err != nil {
		return nil, fmt.Errorf("complete lesson %d: %w", lessonID, err)
	}
	if resp.LessonID == 0 {
		resp.LessonID = lessonID
	}
	return &resp, nil
}

// StartStep marks a step as entered.
func (c *Client) StartStep(ctx context.Context, stepID int64) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student-progress/step/%d/start", stepID), nil, nil); err != nil {
		return fmt.Errorf("start step %d: %w", stepID, err)
	}
	return nil
}

// UpdateStepProgress reports progress telemetry for a step.
func (c *Client) UpdateStepProgress(ctx context.Context, stepID int64, percent float64, data map[string]any) error {
	body := updateProgressRequest{ProgressPercent: percent, ProgressData: data}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/student-progress/step/%d/update", stepID), body, nil); err != nil {
		return fmt.Errorf("update step %d progress: %w", stepID, err)
	}
	return nil
}

// CompleteStep marks a step complete. The response may carry a computed
// result such as a quiz score.
func (c *Client) CompleteStep(ctx context.Context, stepID int64, contentType string, data map[string]any) (*StepCompletion, error) {
	body := completeStepRequest{ContentType: contentType, ProgressData: data}
	var resp StepCompletion
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student-progress/step/%d/complete", stepID), body, &resp); err != nil {
		return nil, fmt.Errorf("complete step %d: %w", stepID, err)
	}
	if resp.StepID == 0 {
		resp.StepID = stepID
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrapData accepts both bare payloads and {"data": ...} envelopes.
func unwrapData(raw []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Data) == 0 {
		return raw
	}
	return envelope.Data
}

func errorMessage(raw []byte) string {
	var body struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Message) > 0 {
			var s string
			if json.Unmarshal(body.Message, &s) == nil {
				return s
			}
			return string(body.Message)
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
