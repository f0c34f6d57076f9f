// Package store persists class sessions as JSON blobs in a key-value
// backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/speakhub/internal/kv"
	"github.com/pavelanni/speakhub/internal/model"
)

// Key returns the backend key for a class code.
func Key(classCode string) string {
	return "class:" + strings.TrimSpace(classCode)
}

// ModifyFunc derives a patch from the session as it was just read.
type ModifyFunc func(cur model.Session) (model.Patch, error)

// Store is the plain read-modify-write session store. Updates are not
// atomic: two concurrent updates of the same class both read the old record
// and the later write wins for every field it carries.
type Store struct {
	kv kv.Client
}

// New creates a Store over c.
func New(c kv.Client) *Store {
	return &Store{kv: c}
}

// Create writes s unconditionally. An existing record under the same code
// is overwritten.
func (s *Store) Create(ctx context.Context, sess model.Session) (model.Session, error) {
	sess.Normalize()
	data, err := encode(sess)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.kv.Set(ctx, Key(sess.ClassCode), data); err != nil {
		return model.Session{}, model.Upstream(err)
	}
	return sess, nil
}

// Read returns the session for classCode.
func (s *Store) Read(ctx context.Context, classCode string) (model.Session, error) {
	sess, _, err := read(ctx, s.kv, classCode)
	return sess, err
}

// MergeUpdate replaces the fields present in patch and writes the record
// back.
func (s *Store) MergeUpdate(ctx context.Context, classCode string, patch model.Patch) (model.Session, error) {
	return s.Modify(ctx, classCode, func(model.Session) (model.Patch, error) {
		return patch, nil
	})
}

// Modify reads the record once, asks fn for a patch and writes the merged
// record once.
func (s *Store) Modify(ctx context.Context, classCode string, fn ModifyFunc) (model.Session, error) {
	cur, _, err := read(ctx, s.kv, classCode)
	if err != nil {
		return model.Session{}, err
	}
	patch, err := fn(cur)
	if err != nil {
		return model.Session{}, err
	}
	next := patch.Apply(cur)
	data, err := encode(next)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.kv.Set(ctx, Key(classCode), data); err != nil {
		return model.Session{}, model.Upstream(err)
	}
	return next, nil
}

func read(ctx context.Context, c kv.Client, classCode string) (model.Session, []byte, error) {
	raw, err := c.Get(ctx, Key(classCode))
	if errors.Is(err, kv.ErrNil) {
		return model.Session{}, nil, model.NotFound("NotFound", "Not found")
	}
	if err != nil {
		return model.Session{}, nil, model.Upstream(err)
	}
	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return model.Session{}, nil, model.Upstream(fmt.Errorf("decode session %s: %w", classCode, err))
	}
	sess.Normalize()
	return sess, raw, nil
}

func encode(sess model.Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ClassCode, err)
	}
	return data, nil
}
