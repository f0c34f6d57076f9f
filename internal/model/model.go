package model

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Question is a single discussion prompt handed to one or more students.
type Question struct {
	Text       string `json:"text" validate:"required,max=1000"`
	FollowUp   string `json:"followUp,omitempty" validate:"max=1000"`
	GrammarTag string `json:"grammarTag,omitempty" validate:"max=200"`
}

// UnmarshalJSON accepts "hint" as an alias for "followUp", which is what the
// question authoring page sends back.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text       string `json:"text"`
		FollowUp   string `json:"followUp"`
		Hint       string `json:"hint"`
		GrammarTag string `json:"grammarTag"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Text = raw.Text
	q.FollowUp = raw.FollowUp
	if q.FollowUp == "" {
		q.FollowUp = raw.Hint
	}
	q.GrammarTag = raw.GrammarTag
	return nil
}

// Session is the shared record for one class, keyed by its class code.
type Session struct {
	ClassCode        string         `json:"classCode"`
	Topic            string         `json:"topic"`
	Level            string         `json:"level"`
	GrammarFocus     []string       `json:"grammarFocus"`
	ClassSize        int            `json:"classSize"`
	Count            int            `json:"count"`
	CreatedAt        time.Time      `json:"createdAt"`
	Questions        []Question     `json:"questions"`
	QuestionsPending bool           `json:"questionsPending"`
	Assignments      map[string]int `json:"assignments"`
	Roster           []string       `json:"roster"`
	Joined           int            `json:"joined"`
}

// Normalize replaces nil collections with empty ones so that a stored record
// always serializes as [] and {} rather than null.
func (s *Session) Normalize() {
	if s.GrammarFocus == nil {
		s.GrammarFocus = []string{}
	}
	if s.Questions == nil {
		s.Questions = []Question{}
	}
	if s.Assignments == nil {
		s.Assignments = map[string]int{}
	}
	if s.Roster == nil {
		s.Roster = []string{}
	}
}

// HasStudent reports whether id is already on the roster.
func (s Session) HasStudent(id string) bool {
	return slices.Contains(s.Roster, id)
}

// Patch is a partial update of a Session. A nil field is left untouched; a
// non-nil field replaces the stored value wholesale.
type Patch struct {
	Questions        *[]Question
	QuestionsPending *bool
	Assignments      *map[string]int
	Roster           *[]string
	Joined           *int
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Questions == nil && p.QuestionsPending == nil &&
		p.Assignments == nil && p.Roster == nil && p.Joined == nil
}

// Apply returns a copy of s with the fields present in p replaced. The
// returned session shares no slices or maps with s.
func (p Patch) Apply(s Session) Session {
	out := s.Clone()
	if p.Questions != nil {
		out.Questions = slices.Clone(*p.Questions)
	}
	if p.QuestionsPending != nil {
		out.QuestionsPending = *p.QuestionsPending
	}
	if p.Assignments != nil {
		out.Assignments = maps.Clone(*p.Assignments)
	}
	if p.Roster != nil {
		out.Roster = slices.Clone(*p.Roster)
	}
	if p.Joined != nil {
		out.Joined = *p.Joined
	}
	out.Normalize()
	return out
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.GrammarFocus = slices.Clone(s.GrammarFocus)
	out.Questions = slices.Clone(s.Questions)
	out.Assignments = maps.Clone(s.Assignments)
	out.Roster = slices.Clone(s.Roster)
	return out
}

// QuestionRequest describes what the question generator should produce.
type QuestionRequest struct {
	Topic        string   `json:"topic"`
	Level        string   `json:"level"`
	Count        int      `json:"count"`
	MustInclude  string   `json:"mustInclude"`
	Avoid        string   `json:"avoid"`
	GrammarFocus []string `json:"grammarFocus"`
}

// Assignment is the question a student receives after joining.
type Assignment struct {
	Question Question `json:"question"`
	Index    int      `json:"index"`
}
