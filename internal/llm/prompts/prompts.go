// Package prompts renders the chat messages sent to the question generator.
package prompts

import (
	"bytes"
	"embed"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/speakhub/internal/model"
)

const (
	// DefaultCount is used when a request does not say how many questions.
	DefaultCount = 5
	// MaxCount is the most questions one generation call asks for.
	MaxCount = 10

	maxFieldRunes = 500
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.txt"))

var spaceRun = regexp.MustCompile(`\s+`)

// Data is the template input for the user prompt.
type Data struct {
	Count        int
	Topic        string
	Level        string
	GrammarFocus string
	MustInclude  string
	Avoid        string
}

// ClampCount maps a requested count into [1, MaxCount], with 0 meaning
// DefaultCount.
func ClampCount(n int) int {
	if n == 0 {
		return DefaultCount
	}
	return max(1, min(MaxCount, n))
}

// Clean collapses runs of whitespace, trims, and caps the length of a
// free-form field before it is put into a prompt.
func Clean(s string) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > maxFieldRunes {
		s = string([]rune(s)[:maxFieldRunes])
	}
	return s
}

// NewData normalizes a request into template data.
func NewData(req model.QuestionRequest) Data {
	var focus []string
	for _, g := range req.GrammarFocus {
		if g = Clean(g); g != "" {
			focus = append(focus, g)
		}
	}
	return Data{
		Count:        ClampCount(req.Count),
		Topic:        Clean(req.Topic),
		Level:        Clean(req.Level),
		GrammarFocus: strings.Join(focus, ", "),
		MustInclude:  Clean(req.MustInclude),
		Avoid:        Clean(req.Avoid),
	}
}

// Build returns the system and user prompts for req.
func Build(req model.QuestionRequest) (system, user string, err error) {
	data := NewData(req)

	var sys, usr bytes.Buffer
	if err := templates.ExecuteTemplate(&sys, "system.txt", data); err != nil {
		return "", "", err
	}
	if err := templates.ExecuteTemplate(&usr, "user.txt", data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(sys.String()), strings.TrimSpace(usr.String()), nil
}
