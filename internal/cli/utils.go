// Package cli provides output helpers for the Nakama command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one tab-separated line per result.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, response)
	case OutputCompact:
		for _, u := range response.Users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.Hobby, u.Birthplace, u.Department, u.MatchType)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\n%d人の仲間が見つかりました\n\n", response.Count)
	for i, u := range response.Users {
		writeOneResult(w, i+1, u)
	}
}

func writeOneResult(w io.Writer, rank int, u models.MatchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%d. %s (%s)\n", rank, u.Name, u.NameRoman)
	fmt.Fprintf(w, "   部署: %s | 出身地: %s\n", u.Department, u.Birthplace)
	fmt.Fprintf(w, "   趣味: %s\n", utils.Truncate(u.Hobby, 80))
	var matched []string
	if len(u.MatchedHobbyWords) > 0 {
		matched = append(matched, "趣味="+strings.Join(u.MatchedHobbyWords, ","))
	}
	if len(u.MatchedBirthplaceWords) > 0 {
		matched = append(matched, "出身地="+strings.Join(u.MatchedBirthplaceWords, ","))
	}
	if len(matched) > 0 {
		fmt.Fprintf(w, "   一致: %s [%s]\n", strings.Join(matched, " "), u.MatchType)
	}
	fmt.Fprintln(w)
}

// WriteRegions lists region labels in sorted order with their places.
func WriteRegions(w io.Writer, entries map[string][]string) {
	labels := make([]string, 0, len(entries))
	for label := range entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(w, "%s: %s\n", label, strings.Join(entries[label], ", "))
	}
}
