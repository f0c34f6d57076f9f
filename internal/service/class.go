package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/pavelanni/speakhub/internal/assign"
	"github.com/pavelanni/speakhub/internal/model"
)

// ClassRequest opens a class whose code is chosen by the server. Questions
// are authored later and attached with UpdateClass.
type ClassRequest struct {
	Topic     string `json:"topic" validate:"max=200"`
	ClassSize int    `json:"classSize" validate:"gte=0,lte=1000"`
	Count     int    `json:"count" validate:"gte=0,lte=200"`
}

// ClassUpdate changes an existing class. A nil Questions leaves the list
// alone.
type ClassUpdate struct {
	Questions       *[]model.Question `json:"questions"`
	IncrementJoined bool              `json:"incrementJoined"`
}

// StudentView is what a student sees for a class without joining it.
type StudentView struct {
	Ready       bool            `json:"ready"`
	Index       int             `json:"index"`
	Question    *model.Question `json:"question"`
	Cached      bool            `json:"cached"`
	Stale       bool            `json:"stale,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
}

// CreateClass stores a new class under a generated code with its questions
// still pending.
func (s *Service) CreateClass(ctx context.Context, req ClassRequest) (model.Session, error) {
	if err := check(req); err != nil {
		return model.Session{}, err
	}
	sess := model.Session{
		Topic:            orDefault(req.Topic, DefaultTopic),
		Level:            DefaultLevel,
		ClassSize:        req.ClassSize,
		Count:            req.Count,
		CreatedAt:        s.now().UTC(),
		QuestionsPending: true,
	}

	var err error
	for range codeAttempts {
		sess.ClassCode = s.newCode()
		var created model.Session
		created, err = s.store.Create(ctx, sess)
		if err == nil {
			slog.Info("class created", "class", created.ClassCode, "students", created.ClassSize)
			return created, nil
		}
		if !errors.Is(err, model.ErrAlreadyExists) {
			return model.Session{}, err
		}
		slog.Debug("class code taken, retrying", "class", sess.ClassCode)
	}
	return model.Session{}, err
}

// UpdateClass attaches questions to a class and optionally counts one more
// joined student.
func (s *Service) UpdateClass(ctx context.Context, classCode string, upd ClassUpdate) (model.Session, error) {
	code := strings.TrimSpace(classCode)
	if code == "" {
		return model.Session{}, model.Validation("MissingClassCode", "Missing classCode")
	}
	if upd.Questions != nil {
		if err := check(questionList{Questions: *upd.Questions}); err != nil {
			return model.Session{}, err
		}
	}
	if upd.Questions == nil && !upd.IncrementJoined {
		return s.store.Read(ctx, code)
	}

	return s.store.Modify(ctx, code, func(cur model.Session) (model.Patch, error) {
		var patch model.Patch
		if upd.Questions != nil {
			qs := *upd.Questions
			if qs == nil {
				qs = []model.Question{}
			}
			pending := false
			patch.Questions = &qs
			patch.QuestionsPending = &pending
		}
		if upd.IncrementJoined {
			joined := cur.Joined + 1
			patch.Joined = &joined
		}
		return patch, nil
	})
}

// Lookup resolves a student's question without writing anything. A recorded
// assignment takes precedence over the computed one.
func (s *Service) Lookup(ctx context.Context, classCode, studentID string) (StudentView, error) {
	code := strings.TrimSpace(classCode)
	if code == "" {
		return StudentView{}, model.Validation("MissingCode", "Missing code")
	}
	sess, err := s.store.Read(ctx, code)
	if err != nil {
		return StudentView{}, err
	}
	id := strings.TrimSpace(studentID)
	if len(sess.Questions) == 0 {
		return StudentView{Placeholder: NotReadyPlaceholder}, nil
	}

	if idx, ok := sess.Assignments[id]; ok {
		if idx < 0 || idx >= len(sess.Questions) {
			return StudentView{Index: idx, Cached: true, Stale: true}, nil
		}
		q := sess.Questions[idx]
		return StudentView{Ready: true, Index: idx, Question: &q, Cached: true}, nil
	}

	idx, err := assign.LenientHashFallback.Assign(id, len(sess.Questions), sess.ClassSize)
	if err != nil {
		return StudentView{}, model.Validation("InvalidInput", err.Error())
	}
	q := sess.Questions[idx]
	return StudentView{Ready: true, Index: idx, Question: &q}, nil
}
