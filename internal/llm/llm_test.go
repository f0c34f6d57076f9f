package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/speakhub/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// fakeOpenAI serves /chat/completions with the given status and content.
func fakeOpenAI(t *testing.T, status int, content string, rawBody string) (*httptest.Server, *recorder) {
	t.Helper()
	requests := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests.add(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if rawBody != "" {
			_, _ = w.Write([]byte(rawBody))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

type recorder struct {
	mu   sync.Mutex
	reqs []map[string]any
}

func (r *recorder) add(body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, body)
}

func (r *recorder) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs
}

func newTestClient(url string) *Client {
	return New(Config{BaseURL: url, APIKey: "test-key", Model: "gpt-4o-mini", Temperature: 0.7})
}

func TestGenerate(t *testing.T) {
	content := `{"items":[
		{"text":" Where did you go last summer? ","followUp":"Who with?","grammarTag":"Past simple"},
		{"text":"What is your dream trip?","hint":"Why there?"},
		{"text":"   "}
	]}`
	srv, requests := fakeOpenAI(t, http.StatusOK, content, "")

	items, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{Topic: "travel", Count: 3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []model.Question{
		{Text: "Where did you go last summer?", FollowUp: "Who with?", GrammarTag: "Past simple"},
		{Text: "What is your dream trip?", FollowUp: "Why there?"},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(items), len(want), items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, items[i], want[i])
		}
	}

	reqs := requests.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", req["model"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if c, _ := user["content"].(string); !strings.Contains(c, "Topic: travel") {
		t.Errorf("user prompt = %q", c)
	}
}

func TestGenerateTruncatesToCount(t *testing.T) {
	content := `{"items":[{"text":"a"},{"text":"b"},{"text":"c"}]}`
	srv, _ := fakeOpenAI(t, http.StatusOK, content, "")

	items, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestGenerateCodeFence(t *testing.T) {
	content := "```json\n{\"items\":[{\"text\":\"Do you like trains?\"}]}\n```"
	srv, _ := fakeOpenAI(t, http.StatusOK, content, "")

	items, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 1 || items[0].Text != "Do you like trains?" {
		t.Errorf("items = %+v", items)
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		c := New(Config{})
		if c.HasKey() {
			t.Fatal("HasKey should be false")
		}
		_, err := c.Generate(context.Background(), model.QuestionRequest{})
		assertGenErr(t, err, ReasonNoKey, "NO_KEY")
	})

	t.Run("api error keeps raw body", func(t *testing.T) {
		const body = `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`
		srv, _ := fakeOpenAI(t, http.StatusUnauthorized, "", body)
		_, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{})
		assertGenErr(t, err, ReasonHTTP, "OpenAI error 401: "+body)

		var apiErr *openai.APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "Incorrect API key provided" {
			t.Errorf("wrapped error = %v, want the decoded *openai.APIError", err)
		}
	})

	t.Run("api error without captured body", func(t *testing.T) {
		err := classify(&openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached"}, nil)
		assertGenErr(t, err, ReasonHTTP, "OpenAI error 429: Rate limit reached")
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		srv, _ := fakeOpenAI(t, http.StatusBadGateway, "", "upstream down")
		_, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{})
		assertGenErr(t, err, ReasonHTTP, "OpenAI error 502: upstream down")
	})

	t.Run("network", func(t *testing.T) {
		srv, _ := fakeOpenAI(t, http.StatusOK, "{}", "")
		url := srv.URL
		srv.Close()
		_, err := newTestClient(url).Generate(context.Background(), model.QuestionRequest{})
		var ge *GenerationError
		if !errors.As(err, &ge) || ge.Reason != ReasonNet {
			t.Fatalf("error = %v, want NET_ERROR", err)
		}
		if !strings.HasPrefix(err.Error(), "NET_ERROR: ") {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("not JSON", func(t *testing.T) {
		srv, _ := fakeOpenAI(t, http.StatusOK, "Sure! Here are some questions:", "")
		_, err := newTestClient(srv.URL).Generate(context.Background(), model.QuestionRequest{})
		var ge *GenerationError
		if !errors.As(err, &ge) || ge.Reason != ReasonParse {
			t.Fatalf("error = %v, want PARSE_ERROR", err)
		}
		if !strings.HasPrefix(err.Error(), "PARSE_ERROR: ") {
			t.Errorf("message = %q", err.Error())
		}
	})
}

func assertGenErr(t *testing.T, err error, reason Reason, msg string) {
	t.Helper()
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v (%T), want *GenerationError", err, err)
	}
	if ge.Reason != reason {
		t.Errorf("reason = %s, want %s", ge.Reason, reason)
	}
	if err.Error() != msg {
		t.Errorf("message = %q, want %q", err.Error(), msg)
	}
}

func TestParseItems(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"plain", `{"items":[{"text":"a"}]}`, 1, false},
		{"fence without lang", "```\n{\"items\":[{\"text\":\"a\"},{\"text\":\"b\"}]}\n```", 2, false},
		{"upper JSON fence", "```JSON\n{\"items\":[]}\n```", 0, false},
		{"missing items", `{"questions":[{"text":"a"}]}`, 0, false},
		{"garbage", `not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseItems(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("got %d items, want %d", len(got), tt.want)
			}
		})
	}
}
