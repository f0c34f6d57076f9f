package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/speakhub/internal/i18n"
	"github.com/pavelanni/speakhub/internal/kv"
	"github.com/pavelanni/speakhub/internal/model"
	"github.com/pavelanni/speakhub/internal/service"
)

const demoKey = "demo:key"

// KeyReporter tells whether the question generator has credentials.
type KeyReporter interface {
	HasKey() bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc     *service.Service
	kv      kv.Client
	keys    KeyReporter
	limiter *Limiter
}

// New creates a new Handler.
func New(svc *service.Service, kvc kv.Client, keys KeyReporter) *Handler {
	return &Handler{svc: svc, kv: kvc, keys: keys}
}

// LimitGeneration rate-limits the requests that call the question generator.
// A nil limiter removes the limit.
func (h *Handler) LimitGeneration(l *Limiter) *Handler {
	h.limiter = l
	return h
}

func (h *Handler) allowGeneration(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil || h.limiter.Allow(clientKey(r)) {
		return true
	}
	h.reject(w, r, http.StatusTooManyRequests, "TooManyRequests", "Too many requests, please wait a moment")
	return false
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/session", h.handleSessionPost)
	r.Get("/session", h.handleSessionGet)
	r.Put("/session", h.handleSessionPut)
	r.Get("/session/assignment", h.handleAssignment)
	r.HandleFunc("/generate-questions", h.handleGenerate)
	r.Get("/env-check", h.handleEnvCheck)
	r.Get("/kv-test", h.handleKVTest)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.reject(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.reject(w, r, http.StatusNotFound, "NotFound", "Not found")
	})
}

type sessionPost struct {
	Action       string   `json:"action"`
	ClassCode    text     `json:"classCode"`
	StudentID    text     `json:"studentId"`
	Topic        text     `json:"topic"`
	Level        text     `json:"level"`
	GrammarFocus []string `json:"grammarFocus"`
	Count        *number  `json:"count"`
	ClassSize    *number  `json:"classSize"`

	// Older clients name the setup fields this way.
	NumStudents  *number `json:"numStudents"`
	NumQuestions *number `json:"numQuestions"`
}

// isSetup reports whether the body is a setup request, which names the class
// size or question count but no class code.
func (b sessionPost) isSetup() bool {
	return b.ClassCode == "" &&
		(b.ClassSize != nil || b.Count != nil || b.NumStudents != nil || b.NumQuestions != nil)
}

// first returns the first non-nil value as an int, or 0.
func first(ns ...*number) int {
	for _, n := range ns {
		if n != nil {
			return int(*n)
		}
	}
	return 0
}

func (h *Handler) handleSessionPost(w http.ResponseWriter, r *http.Request) {
	body := decodeBody[sessionPost](r)

	action := body.Action
	if action == "" {
		action = "create"
		if body.isSetup() {
			action = "setup"
		}
	}

	switch action {
	case "create":
		h.createSession(w, r, body)
	case "join":
		h.joinSession(w, r, body)
	case "setup":
		h.createClass(w, r, body)
	default:
		h.reject(w, r, http.StatusBadRequest, "UnknownAction", "Unknown action")
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, body sessionPost) {
	if !h.allowGeneration(w, r) {
		return
	}
	res, err := h.svc.CreateSession(r.Context(), service.CreateRequest{
		ClassCode:    string(body.ClassCode),
		Topic:        string(body.Topic),
		Level:        string(body.Level),
		GrammarFocus: body.GrammarFocus,
		Count:        first(body.Count),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := map[string]any{"ok": true, "session": res.Session}
	if res.GenerationErr != nil {
		out["questionsPending"] = true
		out["warning"] = res.GenerationErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request, body sessionPost) {
	a, err := h.svc.JoinSession(r.Context(), string(body.ClassCode), string(body.StudentID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "question": a.Question, "index": a.Index})
}

func (h *Handler) createClass(w http.ResponseWriter, r *http.Request, body sessionPost) {
	sess, err := h.svc.CreateClass(r.Context(), service.ClassRequest{
		Topic:     string(body.Topic),
		ClassSize: first(body.ClassSize, body.NumStudents),
		Count:     first(body.Count, body.NumQuestions),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "classId": sess.ClassCode, "session": sess})
}

func (h *Handler) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), classCodeParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sess})
}

func (h *Handler) handleSessionPut(w http.ResponseWriter, r *http.Request) {
	upd, err := decodeStrict[service.ClassUpdate](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.svc.UpdateClass(r.Context(), classCodeParam(r), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sess})
}

func (h *Handler) handleAssignment(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Lookup(r.Context(), classCodeParam(r), r.URL.Query().Get("studentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !view.Ready && view.Placeholder != "" {
		view.Placeholder = i18n.Message(r.Context(), "QuestionsNotReady", view.Placeholder)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assignment": view})
}

type generateBody struct {
	Topic        text     `json:"topic"`
	Level        text     `json:"level"`
	Count        number   `json:"count"`
	MustInclude  text     `json:"mustInclude"`
	Avoid        text     `json:"avoid"`
	GrammarFocus []string `json:"grammarFocus"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "Use POST"})
		return
	}
	if !h.allowGeneration(w, r) {
		return
	}
	body := decodeBody[generateBody](r)
	items, err := h.svc.Generate(r.Context(), model.QuestionRequest{
		Topic:        string(body.Topic),
		Level:        string(body.Level),
		Count:        int(body.Count),
		MustInclude:  string(body.MustInclude),
		Avoid:        string(body.Avoid),
		GrammarFocus: body.GrammarFocus,
	})
	if err != nil {
		// Generator errors are machine-readable codes and stay untranslated.
		slog.Warn("question generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (h *Handler) handleEnvCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "hasKey": h.keys.HasKey()})
}

func (h *Handler) handleKVTest(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(map[string]any{"hello": "world", "time": time.Now().UnixMilli()})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.kv.Set(r.Context(), demoKey, payload); err != nil {
		h.fail(w, r, model.Upstream(err))
		return
	}
	raw, err := h.kv.Get(r.Context(), demoKey)
	if err != nil {
		h.fail(w, r, model.Upstream(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": json.RawMessage(raw)})
}

func classCodeParam(r *http.Request) string {
	q := r.URL.Query()
	if code := q.Get("code"); code != "" {
		return code
	}
	return q.Get("classId")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrNotReady):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	msgID, msg := model.MessageOf(err)
	h.reject(w, r, status, msgID, msg)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, status int, msgID, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": i18n.Message(r.Context(), msgID, msg)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
