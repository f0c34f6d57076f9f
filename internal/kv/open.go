package kv

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options configures Open.
type Options struct {
	// URL selects the backend: "memory://", "redis://…" / "rediss://…",
	// "sqlite://<path>", or "http(s)://…" for a REST endpoint.
	URL string
	// Token is the bearer token for REST endpoints.
	Token   string
	Timeout time.Duration
}

// Open creates the backend named by opts.URL.
func Open(ctx context.Context, opts Options) (Client, error) {
	u := strings.TrimSpace(opts.URL)
	switch {
	case u == "" || u == "memory://" || u == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
		return NewRedis(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite URL needs a path")
		}
		return NewSQLite(path)
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		if opts.Token == "" {
			return nil, fmt.Errorf("REST KV endpoint %s needs a token", u)
		}
		return NewREST(u, opts.Token, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported KV URL %q", u)
	}
}
