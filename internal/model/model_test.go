package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestQuestionHintAlias(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Question
	}{
		{"followUp", `{"text":"Q","followUp":"F","grammarTag":"G"}`, Question{Text: "Q", FollowUp: "F", GrammarTag: "G"}},
		{"hint", `{"text":"Q","hint":"H"}`, Question{Text: "Q", FollowUp: "H"}},
		{"followUp wins", `{"text":"Q","followUp":"F","hint":"H"}`, Question{Text: "Q", FollowUp: "F"}},
		{"text only", `{"text":"Q"}`, Question{Text: "Q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Question
			if err := json.Unmarshal([]byte(tt.in), &q); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if q != tt.want {
				t.Errorf("got %+v, want %+v", q, tt.want)
			}
		})
	}
}

func TestNormalizeSerializesEmptyCollections(t *testing.T) {
	var s Session
	s.Normalize()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for field, want := range map[string]string{
		"questions":    "[]",
		"roster":       "[]",
		"grammarFocus": "[]",
		"assignments":  "{}",
	} {
		if got := string(raw[field]); got != want {
			t.Errorf("%s = %s, want %s", field, got, want)
		}
	}
}

func TestPatchApply(t *testing.T) {
	base := Session{
		ClassCode:   "ABCD-1234",
		Topic:       "travel",
		Questions:   []Question{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		Assignments: map[string]int{"1": 0},
		Roster:      []string{"1"},
	}

	t.Run("empty patch leaves everything", func(t *testing.T) {
		p := Patch{}
		if !p.IsEmpty() {
			t.Fatal("expected empty patch")
		}
		got := p.Apply(base)
		if len(got.Questions) != 3 || len(got.Roster) != 1 || got.Assignments["1"] != 0 {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("questions replaced wholesale", func(t *testing.T) {
		qs := []Question{{Text: "z"}}
		got := Patch{Questions: &qs}.Apply(base)
		if len(got.Questions) != 1 || got.Questions[0].Text != "z" {
			t.Errorf("questions = %+v", got.Questions)
		}
		if len(got.Roster) != 1 || len(got.Assignments) != 1 {
			t.Error("roster and assignments should be untouched")
		}
	})

	t.Run("result does not alias input", func(t *testing.T) {
		roster := []string{"1", "2"}
		got := Patch{Roster: &roster}.Apply(base)
		got.Assignments["9"] = 9
		got.Questions[0].Text = "changed"
		roster[0] = "mutated"
		if _, ok := base.Assignments["9"]; ok {
			t.Error("base assignments mutated")
		}
		if base.Questions[0].Text != "a" {
			t.Error("base questions mutated")
		}
		if got.Roster[0] != "1" {
			t.Error("patch slice aliased into result")
		}
	})
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	tests := []struct {
		name    string
		err     error
		kind    error
		wantMsg string
	}{
		{"validation", Validation("MissingClassCode", "Missing classCode"), ErrValidation, "Missing classCode"},
		{"not found", NotFound("NotFound", "Not found"), ErrNotFound, "Not found"},
		{"not ready", NotReady("ClassNotReady", "Class not ready"), ErrNotReady, "Class not ready"},
		{"upstream", Upstream(cause), ErrUpstream, "dial tcp: refused"},
		{"wrapped", fmt.Errorf("join: %w", Upstream(cause)), ErrUpstream, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if _, msg := MessageOf(tt.err); msg != tt.wantMsg {
				t.Errorf("MessageOf = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
	if !errors.Is(Upstream(cause), cause) {
		t.Error("upstream error should unwrap to its cause")
	}
}
