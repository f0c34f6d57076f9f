package store

import (
	"context"
	"log/slog"

	"github.com/pavelanni/speakhub/internal/kv"
	"github.com/pavelanni/speakhub/internal/model"
)

// DefaultMaxRetries bounds the compare-and-swap loop of AtomicStore.
const DefaultMaxRetries = 32

// AtomicStore has the same contract as Store but every write is a
// compare-and-swap against the bytes that were read, so concurrent updates
// never lose each other's fields. Create refuses to overwrite.
type AtomicStore struct {
	kv         kv.Swapper
	maxRetries int
}

// NewAtomic creates an AtomicStore over c. maxRetries <= 0 selects
// DefaultMaxRetries.
func NewAtomic(c kv.Swapper, maxRetries int) *AtomicStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &AtomicStore{kv: c, maxRetries: maxRetries}
}

// Create writes sess only if no record exists under its code.
func (s *AtomicStore) Create(ctx context.Context, sess model.Session) (model.Session, error) {
	sess.Normalize()
	data, err := encode(sess)
	if err != nil {
		return model.Session{}, err
	}
	ok, err := s.kv.CompareAndSwap(ctx, Key(sess.ClassCode), nil, data)
	if err != nil {
		return model.Session{}, model.Upstream(err)
	}
	if !ok {
		return model.Session{}, &model.Error{
			Kind:      model.ErrAlreadyExists,
			MessageID: "ClassExists",
			Message:   "Class code already in use",
		}
	}
	return sess, nil
}

func (s *AtomicStore) Read(ctx context.Context, classCode string) (model.Session, error) {
	sess, _, err := read(ctx, s.kv, classCode)
	return sess, err
}

func (s *AtomicStore) MergeUpdate(ctx context.Context, classCode string, patch model.Patch) (model.Session, error) {
	return s.Modify(ctx, classCode, func(model.Session) (model.Patch, error) {
		return patch, nil
	})
}

// Modify reruns read, fn and swap until the swap lands. fn may therefore be
// called more than once and must not have side effects.
func (s *AtomicStore) Modify(ctx context.Context, classCode string, fn ModifyFunc) (model.Session, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		cur, raw, err := read(ctx, s.kv, classCode)
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
		ok, err := s.kv.CompareAndSwap(ctx, Key(classCode), raw, data)
		if err != nil {
			return model.Session{}, model.Upstream(err)
		}
		if ok {
			return next, nil
		}
		slog.Debug("session changed during update, retrying", "class_code", classCode, "attempt", attempt)
		if err := ctx.Err(); err != nil {
			return model.Session{}, model.Upstream(err)
		}
	}
	return model.Session{}, &model.Error{
		Kind:      model.ErrConflict,
		MessageID: "UpdateConflict",
		Message:   "Class is busy, please try again",
	}
}
