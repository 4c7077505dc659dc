// Package matcher filters profiles by hobby and birthplace terms.
//
// Matching is plain containment: no ranking, tokenization or normalization. A term
// matches a field entry when the entry contains the term (ModeSubstring) or equals it
// (ModeExact). Which profile fields are consulted is controlled by Sources.
package matcher

import (
	"fmt"
	"strings"

	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/region"
)

// Mode selects how a term is compared to a field entry.
type Mode string

const (
	// ModeSubstring matches when the entry contains the term.
	ModeSubstring Mode = "substring"
	// ModeExact matches only when the entry equals the term.
	ModeExact Mode = "exact"
)

// Sources selects which profile fields are consulted.
type Sources string

const (
	// SourcesAll consults both the keyword arrays and the raw fields.
	SourcesAll Sources = "all"
	// SourcesKeywordsFirst consults a keyword array when it is non-empty and the raw field otherwise.
	SourcesKeywordsFirst Sources = "keywords_first"
	// SourcesKeywords consults only the keyword arrays.
	SourcesKeywords Sources = "keywords"
	// SourcesRaw consults only the raw hobby and birthplace fields.
	SourcesRaw Sources = "raw"
)

// ParseMode returns the Mode named by s. Empty selects ModeSubstring.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSubstring:
		return ModeSubstring, nil
	case ModeExact:
		return ModeExact, nil
	}
	return "", fmt.Errorf("unknown match mode %q", s)
}

// ParseSources returns the Sources named by s. Empty selects SourcesAll.
func ParseSources(s string) (Sources, error) {
	switch Sources(s) {
	case "", SourcesAll:
		return SourcesAll, nil
	case SourcesKeywordsFirst, SourcesKeywords, SourcesRaw:
		return Sources(s), nil
	}
	return "", fmt.Errorf("unknown match sources %q", s)
}

// Matcher filters profiles against a query. It holds no per-call state and may be
// shared between goroutines.
type Matcher struct {
	mode    Mode
	sources Sources
	regions *region.Table
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMode sets the containment mode.
func WithMode(mode Mode) Option {
	return func(m *Matcher) { m.mode = mode }
}

// WithSources sets which fields are consulted.
func WithSources(sources Sources) Option {
	return func(m *Matcher) { m.sources = sources }
}

// WithRegions sets the table used to expand birthplace terms. Nil disables expansion.
func WithRegions(t *region.Table) Option {
	return func(m *Matcher) { m.regions = t }
}

// New returns a Matcher using substring containment over all fields with the
// default region table, adjusted by opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		mode:    ModeSubstring,
		sources: SourcesAll,
		regions: region.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the configured containment mode.
func (m *Matcher) Mode() Mode { return m.mode }

// Sources returns the configured field sources.
func (m *Matcher) Sources() Sources { return m.sources }

// ExpandBirthplace returns the birthplace term plus its region expansions.
func (m *Matcher) ExpandBirthplace(term string) []string {
	if term == "" {
		return nil
	}
	if m.regions == nil {
		return []string{term}
	}
	return m.regions.Expand(term)
}

// Match returns a result for every profile satisfying q, in input order. A profile
// identity contributes at most one result. Profiles without an ID are never merged.
// The query is used as given; callers validate it first.
func (m *Matcher) Match(profiles []*models.Profile, q models.Query) []models.MatchResult {
	results := []models.MatchResult{}
	birthplaceTerms := m.ExpandBirthplace(q.Birthplace)
	matchType := q.MatchType()
	seen := make(map[string]struct{})

	for _, p := range profiles {
		if p == nil {
			continue
		}
		if p.ID != "" {
			if _, dup := seen[p.ID]; dup {
				continue
			}
		}
		hobbyOK, hobbyWords := m.MatchesHobby(p, q.Hobby)
		if !hobbyOK {
			continue
		}
		birthOK, birthWords := m.matchesBirthplaceTerms(p, birthplaceTerms)
		if !birthOK {
			continue
		}
		if p.ID != "" {
			seen[p.ID] = struct{}{}
		}

		r := models.NewMatchResult(p)
		r.MatchType = matchType
		if q.Hobby != "" {
			term := q.Hobby
			r.MatchedHobby = &term
			r.MatchedHobbyWords = hobbyWords
		}
		if q.Birthplace != "" {
			term := q.Birthplace
			r.MatchedBirthplace = &term
			r.MatchedBirthplaceWords = birthWords
		}
		results = append(results, r)
	}
	return results
}

// MatchesHobby reports whether p matches the hobby term and returns the entries that
// satisfied it. An empty term matches every profile.
func (m *Matcher) MatchesHobby(p *models.Profile, term string) (bool, []string) {
	if term == "" {
		return true, nil
	}
	words := newWordSet()
	for _, field := range m.fields(p.HobbyKeywords, p.Hobby) {
		for _, entry := range field {
			if m.contains(entry, term) {
				words.add(entry)
			}
		}
	}
	return words.len() > 0, words.list()
}

// MatchesBirthplace reports whether p matches the birthplace term or one of its region
// expansions and returns the source strings that satisfied it. An empty term matches
// every profile.
func (m *Matcher) MatchesBirthplace(p *models.Profile, term string) (bool, []string) {
	return m.matchesBirthplaceTerms(p, m.ExpandBirthplace(term))
}

func (m *Matcher) matchesBirthplaceTerms(p *models.Profile, terms []string) (bool, []string) {
	if len(terms) == 0 {
		return true, nil
	}
	var raw []string
	if p.Birthplace != "" {
		raw = []string{p.Birthplace}
	}
	words := newWordSet()
	for _, field := range m.fields(p.BirthplaceKeywords, raw) {
		for _, entry := range field {
			for _, term := range terms {
				if m.contains(entry, term) {
					words.add(entry)
					break
				}
			}
		}
	}
	return words.len() > 0, words.list()
}

// fields returns the entry lists to scan according to the configured sources.
func (m *Matcher) fields(keywords, raw []string) [][]string {
	switch m.sources {
	case SourcesKeywords:
		return [][]string{keywords}
	case SourcesRaw:
		return [][]string{raw}
	case SourcesKeywordsFirst:
		if len(keywords) > 0 {
			return [][]string{keywords}
		}
		return [][]string{raw}
	default:
		return [][]string{keywords, raw}
	}
}

func (m *Matcher) contains(entry, term string) bool {
	if m.mode == ModeExact {
		return entry == term
	}
	return strings.Contains(entry, term)
}

// wordSet is an insertion-ordered set of strings.
type wordSet struct {
	seen  map[string]struct{}
	order []string
}

func newWordSet() *wordSet {
	return &wordSet{seen: make(map[string]struct{})}
}

func (s *wordSet) add(w string) {
	if _, ok := s.seen[w]; ok {
		return
	}
	s.seen[w] = struct{}{}
	s.order = append(s.order, w)
}

func (s *wordSet) len() int { return len(s.order) }

func (s *wordSet) list() []string { return s.order }
