// Package region provides the region synonym table used to broaden birthplace matching.
package region

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var kansai = []string{"大阪府", "京都府", "兵庫県", "奈良県", "滋賀県", "和歌山県"}

var kinki = append(append([]string(nil), kansai...), "三重県")

// defaultEntries is the built-in Kansai/Kinki entry set.
var defaultEntries = map[string][]string{
	"関西":     kansai,
	"関西地方":   kansai,
	"近畿":     kinki,
	"近畿地方":   kinki,
	"Kansai": kansai,
	"Kinki":  kinki,
}

// Table maps colloquial region labels to the place names they expand to.
// A Table is never mutated after construction and is safe for concurrent use.
type Table struct {
	labels  []string
	entries map[string][]string
}

// File is the on-disk YAML shape of a region table.
type File struct {
	Regions map[string][]string `yaml:"regions"`
}

// New builds a table from entries. Labels and places are trimmed; empty ones are dropped.
func New(entries map[string][]string) *Table {
	t := &Table{entries: make(map[string][]string, len(entries))}
	for label, places := range entries {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		cleaned := make([]string, 0, len(places))
		for _, p := range places {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		t.entries[label] = cleaned
		t.labels = append(t.labels, label)
	}
	sort.Strings(t.labels)
	return t
}

// Default returns the built-in Kansai/Kinki table.
func Default() *Table {
	return New(defaultEntries)
}

// Load reads a YAML region table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region table: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse region table: %w", err)
	}
	return New(f.Regions), nil
}

// Merge returns a new table holding the entries of t overlaid with other.
// Labels present in both take their places from other.
func (t *Table) Merge(other *Table) *Table {
	merged := make(map[string][]string, len(t.entries))
	for label, places := range t.entries {
		merged[label] = places
	}
	if other != nil {
		for label, places := range other.entries {
			merged[label] = places
		}
	}
	return New(merged)
}

// Labels returns the region labels in sorted order.
func (t *Table) Labels() []string {
	return append([]string(nil), t.labels...)
}

// Places returns the place names a label expands to, or nil for an unknown label.
func (t *Table) Places(label string) []string {
	places, ok := t.entries[label]
	if !ok {
		return nil
	}
	return append([]string(nil), places...)
}

// Entries returns a copy of the table contents.
func (t *Table) Entries() map[string][]string {
	out := make(map[string][]string, len(t.entries))
	for label, places := range t.entries {
		out[label] = append([]string(nil), places...)
	}
	return out
}

// Expand returns term followed by the places of every label that contains term or is
// contained in it. The result is de-duplicated; an empty term expands to nothing.
func (t *Table) Expand(term string) []string {
	if term == "" {
		return nil
	}
	out := []string{term}
	seen := map[string]struct{}{term: {}}
	if t == nil {
		return out
	}
	for _, label := range t.labels {
		if !strings.Contains(label, term) && !strings.Contains(term, label) {
			continue
		}
		for _, place := range t.entries[label] {
			if _, ok := seen[place]; ok {
				continue
			}
			seen[place] = struct{}{}
			out = append(out, place)
		}
	}
	return out
}
