// Package assign maps a student identifier onto a question index.
//
// Consecutive numeric identifiers map to consecutive questions and wrap
// around, so a class numbered 1..N spreads over the whole question list
// before any question repeats.
package assign

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf16"
)

var (
	// ErrNotReady is returned when there are no questions to assign.
	ErrNotReady = errors.New("no questions to assign")
	// ErrInvalidStudentID is returned by StrictNumeric for identifiers that
	// are not a positive decimal number.
	ErrInvalidStudentID = errors.New("studentId must be numeric")
)

// Policy assigns a question index in [0, questionCount).
type Policy interface {
	Name() string
	Assign(studentID string, questionCount, classSize int) (int, error)
}

var (
	// StrictNumeric accepts only decimal identifiers >= 1.
	StrictNumeric Policy = strictNumeric{}
	// LenientHashFallback accepts an optional non-digit prefix ("S12") and
	// falls back to a character-code hash for anything else.
	LenientHashFallback Policy = lenientHashFallback{}
)

var (
	digitsOnly     = regexp.MustCompile(`^[0-9]+$`)
	prefixedNumber = regexp.MustCompile(`^[^0-9]*([0-9]+)$`)
)

type strictNumeric struct{}

func (strictNumeric) Name() string { return "strict" }

func (strictNumeric) Assign(studentID string, questionCount, _ int) (int, error) {
	if err := CheckStrict(studentID); err != nil {
		return 0, err
	}
	id := strings.TrimSpace(studentID)
	if questionCount <= 0 {
		return 0, ErrNotReady
	}
	return wrap(id, questionCount), nil
}

// CheckStrict reports whether studentID is acceptable to StrictNumeric,
// without needing the question list.
func CheckStrict(studentID string) error {
	id := strings.TrimSpace(studentID)
	if !digitsOnly.MatchString(id) || isZero(id) {
		return ErrInvalidStudentID
	}
	return nil
}

type lenientHashFallback struct{}

func (lenientHashFallback) Name() string { return "lenient" }

func (lenientHashFallback) Assign(studentID string, questionCount, classSize int) (int, error) {
	if questionCount <= 0 {
		return 0, ErrNotReady
	}
	id := strings.TrimSpace(studentID)
	if m := prefixedNumber.FindStringSubmatch(id); m != nil && !isZero(m[1]) {
		return wrap(m[1], questionCount), nil
	}
	n := charCodeSum(id)%max(1, classSize) + 1
	return (n - 1) % questionCount, nil
}

// wrap computes (n-1) mod m for the decimal string n >= 1 without parsing it
// into a fixed-width integer, so arbitrarily long identifiers still work.
func wrap(digits string, m int) int {
	r := 0
	for i := 0; i < len(digits); i++ {
		r = (r*10 + int(digits[i]-'0')) % m
	}
	return (r - 1 + m) % m
}

func isZero(digits string) bool {
	return strings.TrimLeft(digits, "0") == ""
}

// charCodeSum adds up the UTF-16 code units of s.
func charCodeSum(s string) int {
	sum := 0
	for _, u := range utf16.Encode([]rune(s)) {
		sum += int(u)
	}
	return sum
}
