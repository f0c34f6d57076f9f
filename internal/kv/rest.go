package kv

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

// REST talks to an Upstash-compatible REST endpoint (GET /get/<key>,
// POST /set/<key>) with a bearer token. It has no compare-and-swap.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewREST creates a REST client for baseURL.
func NewREST(baseURL, token string, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type restResult struct {
	Result *string `json:"result"`
	Error  string  `json:"error"`
}

func (r *REST) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/get/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	var res restResult
	if err := r.do(req, "GET", &res); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, ErrNil
	}
	return []byte(*res.Result), nil
}

func (r *REST) Set(ctx context.Context, key string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/set/"+url.PathEscape(key), bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, "SET", &restResult{})
}

func (r *REST) do(req *http.Request, op string, out *restResult) error {
	req.Header.Set("Authorization", "Bearer "+r.token)
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("KV %s failed: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("KV %s failed %d", op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("KV %s: decode response: %w", op, err)
	}
	if out.Error != "" {
		return fmt.Errorf("KV %s: %s", op, out.Error)
	}
	return nil
}

func (r *REST) Close() error {
	r.http.CloseIdleConnections()
	return nil
}
