package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pavelanni/speakhub/internal/llm/prompts"
	"github.com/pavelanni/speakhub/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the generator settings. It is passed in explicitly; nothing
// is read from the environment at call time.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig returns the settings used when flags leave them unset.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   800,
		Timeout:     60 * time.Second,
	}
}

// Reason classifies a generation failure.
type Reason string

const (
	ReasonNoKey Reason = "NO_KEY"
	ReasonHTTP  Reason = "HTTP_ERROR"
	ReasonNet   Reason = "NET_ERROR"
	ReasonParse Reason = "PARSE_ERROR"
)

// GenerationError is returned by Generate for every failure.
type GenerationError struct {
	Reason Reason
	Status int
	Body   string
	Err    error
}

func (e *GenerationError) Error() string {
	switch e.Reason {
	case ReasonNoKey:
		return string(ReasonNoKey)
	case ReasonHTTP:
		return fmt.Sprintf("OpenAI error %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client generates discussion questions through an OpenAI-compatible API.
type Client struct {
	api *openai.Client
	cfg Config
}

// New creates a client. An empty API key is accepted; Generate then fails
// with ReasonNoKey.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{cfg: cfg}
	if cfg.APIKey != "" {
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		config.HTTPClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: errorBodyTransport{base: http.DefaultTransport},
		}
		c.api = openai.NewClientWithConfig(config)
	}
	return c
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.api != nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate asks the model for questions matching req. At most
// prompts.ClampCount(req.Count) questions are returned.
func (c *Client) Generate(ctx context.Context, req model.QuestionRequest) ([]model.Question, error) {
	if c.api == nil {
		return nil, &GenerationError{Reason: ReasonNoKey}
	}

	system, user, err := prompts.Build(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	errBody := &errorBody{}
	ctx = context.WithValue(ctx, errorBodyKey{}, errBody)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, classify(err, errBody.data)
	}
	if len(resp.Choices) == 0 {
		return nil, &GenerationError{Reason: ReasonParse, Err: errors.New("LLM returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	items, err := parseItems(raw)
	if err != nil {
		return nil, &GenerationError{Reason: ReasonParse, Err: err}
	}
	if n := prompts.ClampCount(req.Count); len(items) > n {
		items = items[:n]
	}
	return items, nil
}

// classify maps a go-openai error to a GenerationError. raw is the upstream
// error response body, when one was captured.
func classify(err error, raw []byte) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := strings.TrimSpace(string(raw))
		if body == "" {
			body = apiErr.Message
		}
		return &GenerationError{Reason: ReasonHTTP, Status: apiErr.HTTPStatusCode, Body: body, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &GenerationError{Reason: ReasonHTTP, Status: reqErr.HTTPStatusCode, Body: strings.TrimSpace(string(reqErr.Body)), Err: err}
	}
	return &GenerationError{Reason: ReasonNet, Err: err}
}

const maxErrorBody = 64 << 10

type errorBodyKey struct{}

// errorBody receives the body of a failed upstream response.
type errorBody struct {
	data []byte
}

// errorBodyTransport copies the body of non-2xx responses into the request's
// errorBody, if any, and hands an identical body on to go-openai.
type errorBodyTransport struct {
	base http.RoundTripper
}

func (t errorBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || (resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest) {
		return resp, err
	}
	dst, ok := req.Context().Value(errorBodyKey{}).(*errorBody)
	if !ok {
		return resp, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	dst.data = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?")
	fenceClose = regexp.MustCompile("```$")
)

// parseItems decodes {"items": [...]}, tolerating a surrounding Markdown
// code fence. Items without text are dropped.
func parseItems(raw string) ([]model.Question, error) {
	s := strings.TrimSpace(raw)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	var payload struct {
		Items []model.Question `json:"items"`
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, err
	}

	items := make([]model.Question, 0, len(payload.Items))
	for _, q := range payload.Items {
		q.Text = strings.TrimSpace(q.Text)
		q.FollowUp = strings.TrimSpace(q.FollowUp)
		q.GrammarTag = strings.TrimSpace(q.GrammarTag)
		if q.Text == "" {
			continue
		}
		items = append(items, q)
	}
	return items, nil
}
