// Package service implements the class session operations on top of a
// session store and a question generator.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/speakhub/internal/assign"
	"github.com/pavelanni/speakhub/internal/model"
	"github.com/pavelanni/speakhub/internal/store"
)

const (
	DefaultTopic = "general"
	DefaultLevel = "A2–B1"

	DefaultSessionCount = 10
	MaxSessionCount     = 200

	// NotReadyPlaceholder is shown to students of a class without questions.
	NotReadyPlaceholder = "(Questions not ready yet)"

	codeAttempts = 5
)

// SessionStore persists sessions. It is satisfied by *store.Store and
// *store.AtomicStore.
type SessionStore interface {
	Create(ctx context.Context, sess model.Session) (model.Session, error)
	Read(ctx context.Context, classCode string) (model.Session, error)
	MergeUpdate(ctx context.Context, classCode string, patch model.Patch) (model.Session, error)
	Modify(ctx context.Context, classCode string, fn store.ModifyFunc) (model.Session, error)
}

// QuestionGenerator produces discussion questions. It is satisfied by
// *llm.Client.
type QuestionGenerator interface {
	Generate(ctx context.Context, req model.QuestionRequest) ([]model.Question, error)
}

// Service coordinates teachers and students around shared sessions.
type Service struct {
	store   SessionStore
	gen     QuestionGenerator
	now     func() time.Time
	newCode func() string
}

// New returns a Service backed by st and gen.
func New(st SessionStore, gen QuestionGenerator) *Service {
	return &Service{
		store:   st,
		gen:     gen,
		now:     time.Now,
		newCode: NewClassCode,
	}
}

// CreateRequest is the teacher's request to open a class under a chosen code.
type CreateRequest struct {
	ClassCode    string   `json:"classCode" validate:"max=64"`
	Topic        string   `json:"topic" validate:"max=200"`
	Level        string   `json:"level" validate:"max=100"`
	GrammarFocus []string `json:"grammarFocus" validate:"max=20,dive,max=200"`
	Count        int      `json:"count"`
}

// CreateResult is the outcome of CreateSession. GenerationErr is set when the
// session was stored without questions because generation failed.
type CreateResult struct {
	Session       model.Session
	GenerationErr error
}

// CreateSession generates questions for a new class and stores the session.
// A generator failure does not fail the call: the session is stored with no
// questions and marked pending.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (CreateResult, error) {
	code := strings.TrimSpace(req.ClassCode)
	if code == "" {
		return CreateResult{}, model.Validation("MissingClassCode", "Missing classCode")
	}
	if err := check(req); err != nil {
		return CreateResult{}, err
	}

	sess := model.Session{
		ClassCode:    code,
		Topic:        orDefault(req.Topic, DefaultTopic),
		Level:        orDefault(req.Level, DefaultLevel),
		GrammarFocus: cleanList(req.GrammarFocus),
		Count:        clampSessionCount(req.Count),
		CreatedAt:    s.now().UTC(),
	}

	var genErr error
	sess.Questions, genErr = s.gen.Generate(ctx, model.QuestionRequest{
		Topic:        sess.Topic,
		Level:        sess.Level,
		Count:        sess.Count,
		GrammarFocus: sess.GrammarFocus,
	})
	if genErr != nil {
		slog.Warn("question generation failed, storing class without questions",
			"class", code, "error", genErr)
		sess.Questions = nil
	}
	// No usable questions, with or without an error, leaves the class pending.
	if len(sess.Questions) == 0 {
		sess.QuestionsPending = true
	}

	created, err := s.store.Create(ctx, sess)
	if err != nil {
		return CreateResult{}, err
	}
	slog.Info("class created", "class", code, "questions", len(created.Questions))
	return CreateResult{Session: created, GenerationErr: genErr}, nil
}

// JoinSession assigns a question to a student by numeric id and records the
// student on the roster.
func (s *Service) JoinSession(ctx context.Context, classCode, studentID string) (model.Assignment, error) {
	code := strings.TrimSpace(classCode)
	id := strings.TrimSpace(studentID)
	if code == "" || id == "" {
		return model.Assignment{}, model.Validation("MissingJoinFields", "Missing classCode or studentId")
	}
	if err := assign.CheckStrict(id); err != nil {
		return model.Assignment{}, model.Validation("StudentIDNumeric", "studentId must be numeric")
	}

	next, err := s.store.Modify(ctx, code, func(cur model.Session) (model.Patch, error) {
		idx, err := assign.StrictNumeric.Assign(id, len(cur.Questions), cur.ClassSize)
		if err != nil {
			if errors.Is(err, assign.ErrNotReady) {
				return model.Patch{}, errClassNotReady()
			}
			return model.Patch{}, model.Validation("StudentIDNumeric", err.Error())
		}
		assignments := make(map[string]int, len(cur.Assignments)+1)
		for k, v := range cur.Assignments {
			assignments[k] = v
		}
		assignments[id] = idx
		patch := model.Patch{Assignments: &assignments}
		if !cur.HasStudent(id) {
			roster := append(append([]string{}, cur.Roster...), id)
			patch.Roster = &roster
		}
		return patch, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Assignment{}, errClassNotReady()
		}
		return model.Assignment{}, err
	}

	idx := next.Assignments[id]
	slog.Debug("student joined", "class", code, "student", id, "index", idx)
	return model.Assignment{Question: next.Questions[idx], Index: idx}, nil
}

// GetSession returns the stored session for classCode.
func (s *Service) GetSession(ctx context.Context, classCode string) (model.Session, error) {
	code := strings.TrimSpace(classCode)
	if code == "" {
		return model.Session{}, model.Validation("MissingCode", "Missing code")
	}
	return s.store.Read(ctx, code)
}

// ReplaceQuestions swaps the question list of a class. Assignments and the
// roster are left as they are, so previously issued indices may now point
// past the end of the list.
func (s *Service) ReplaceQuestions(ctx context.Context, classCode string, questions []model.Question) (model.Session, error) {
	code := strings.TrimSpace(classCode)
	if code == "" {
		return model.Session{}, model.Validation("MissingClassCode", "Missing classCode")
	}
	if questions == nil {
		questions = []model.Question{}
	}
	if err := check(questionList{Questions: questions}); err != nil {
		return model.Session{}, err
	}
	pending := false
	return s.store.MergeUpdate(ctx, code, model.Patch{
		Questions:        &questions,
		QuestionsPending: &pending,
	})
}

// Generate runs the question generator directly.
func (s *Service) Generate(ctx context.Context, req model.QuestionRequest) ([]model.Question, error) {
	qs, err := s.gen.Generate(ctx, req)
	if err != nil {
		return nil, model.Upstream(err)
	}
	return qs, nil
}

func errClassNotReady() *model.Error {
	return model.NotReady("ClassNotReady", "Class not ready. Ask teacher to Create Class.")
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clampSessionCount(n int) int {
	switch {
	case n <= 0:
		return DefaultSessionCount
	case n > MaxSessionCount:
		return MaxSessionCount
	}
	return n
}
