package service

import (
	"strings"
	"unicode/utf8"
)

const DefaultFollowupMinLength = 300

// DefaultVaguePhrases are substrings that mark a report as too generic to
// act on without follow-up questions.
var DefaultVaguePhrases = []string{
	"cant login", "can't login", "cannot login", "login problem",
	"problem with the internet", "internet problem",
	"doesn't work", "not working", "help",
}

// Gate decides whether a description needs AI clarification.
type Gate struct {
	MinLength int
	Phrases   []string
}

func NewGate(minLength int) Gate {
	if minLength < 0 {
		minLength = DefaultFollowupMinLength
	}
	return Gate{MinLength: minLength, Phrases: DefaultVaguePhrases}
}

// NeedsFollowup is true when the trimmed description is empty, shorter than
// MinLength runes, or contains any vague phrase, case-insensitively.
func (g Gate) NeedsFollowup(description string) bool {
	d := strings.ToLower(strings.TrimSpace(description))
	if d == "" || utf8.RuneCountInString(d) < g.MinLength {
		return true
	}
	for _, p := range g.Phrases {
		if strings.Contains(d, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
