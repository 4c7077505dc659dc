package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned when neither a hobby nor a birthplace term is given.
var ErrEmptyQuery = errors.New("趣味または出身地のいずれかを入力してください")

// Query is a search request with optional hobby and birthplace terms.
type Query struct {
	Hobby      string `json:"hobby,omitempty"`
	Birthplace string `json:"birthplace,omitempty"`
}

// Normalize trims surrounding whitespace from both terms.
func (q *Query) Normalize() {
	q.Hobby = strings.TrimSpace(q.Hobby)
	q.Birthplace = strings.TrimSpace(q.Birthplace)
}

// Validate normalizes the query and returns ErrEmptyQuery when both terms are empty.
func (q *Query) Validate() error {
	q.Normalize()
	if q.Hobby == "" && q.Birthplace == "" {
		return ErrEmptyQuery
	}
	return nil
}

// MatchType returns the tag for the dimensions this query filters on.
func (q *Query) MatchType() MatchType {
	switch {
	case q.Hobby != "" && q.Birthplace != "":
		return MatchHobbyAndBirthplace
	case q.Hobby != "":
		return MatchHobby
	case q.Birthplace != "":
		return MatchBirthplace
	}
	return ""
}
