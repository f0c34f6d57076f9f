package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavelanni/speakhub/internal/model"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into a T. A missing or malformed body
// yields the zero T, so handlers validate fields rather than syntax.
func decodeBody[T any](r *http.Request) T {
	var v T
	if r.Body == nil {
		return v
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if !errors.Is(err, io.EOF) {
			slog.Debug("ignoring malformed request body", "path", r.URL.Path, "error", err)
		}
		var zero T
		return zero
	}
	return v
}

// decodeStrict is decodeBody for requests that change stored state: an empty
// body yields the zero T, but a malformed one is a validation error.
func decodeStrict[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		var zero T
		if errors.Is(err, io.EOF) {
			return zero, nil
		}
		return zero, &model.Error{Kind: model.ErrValidation, MessageID: "InvalidBody", Message: "Invalid JSON body", Err: err}
	}
	return v, nil
}

// text is a string field that also accepts JSON numbers. Other JSON values
// decode to "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = text(n.String())
		return nil
	}
	*t = ""
	return nil
}

// number is an int field that also accepts numeric strings. Fractions are
// truncated; anything unparsable decodes to 0.
type number int

func (n *number) UnmarshalJSON(b []byte) error {
	var t text
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = number(f)
	return nil
}
