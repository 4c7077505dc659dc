package models

// MatchType tags which query dimensions a result matched on.
type MatchType string

const (
	MatchHobby              MatchType = "hobby"
	MatchBirthplace         MatchType = "birthplace"
	MatchHobbyAndBirthplace MatchType = "hobby_and_birthplace"
)

// MatchResult is one matching profile, produced fresh per query.
type MatchResult struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	NameRoman  string `json:"name_roman"`
	Hobby      string `json:"hobby"`
	Birthplace string `json:"birthplace"`
	Department string `json:"department"`
	// MatchedHobby and MatchedBirthplace are nil when that dimension was not queried.
	MatchedHobby           *string   `json:"matched_hobby"`
	MatchedBirthplace      *string   `json:"matched_birthplace"`
	MatchedHobbyWords      []string  `json:"matched_hobby_words,omitempty"`
	MatchedBirthplaceWords []string  `json:"matched_birthplace_words,omitempty"`
	MatchType              MatchType `json:"match_type"`
}

// NewMatchResult copies the display fields of p into a result.
func NewMatchResult(p *Profile) MatchResult {
	return MatchResult{
		ID:         p.ID,
		Name:       p.DisplayName(),
		NameRoman:  p.DisplayNameRoman(),
		Hobby:      p.DisplayHobby(),
		Birthplace: p.DisplayBirthplace(),
		Department: p.DisplayDepartment(),
	}
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Success bool          `json:"success"`
	Users   []MatchResult `json:"users"`
	Count   int           `json:"count"`
	Error   string        `json:"error,omitempty"`
}
