// Package models defines core data structures for profiles, queries, and match results.
package models

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
)

// Display defaults used when a profile document lacks the field.
const (
	DefaultName       = "名前なし"
	DefaultNameRoman  = "Unknown Name"
	DefaultBirthplace = "不明"
	DefaultDepartment = "部署不明"
)

// Document keys as stored in the profiles collection.
const (
	FieldID                 = "id"
	FieldName               = "name"
	FieldNameRoman          = "name_roman"
	FieldHobby              = "hobby"
	FieldHobbyKeywords      = "hobby_keywords"
	FieldBirthplace         = "birthplace"
	FieldBirthplaceKeywords = "birthplace_keywords"
	FieldDepartment         = "department"
	FieldSource             = "source"
	FieldCreatedAt          = "created_at"
)

// Profile describes one person in the directory.
// Empty strings and nil slices mean the field was absent from the stored document.
type Profile struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name,omitempty"`
	NameRoman          string    `json:"name_roman,omitempty"`
	Hobby              []string  `json:"hobby,omitempty"`
	HobbyKeywords      []string  `json:"hobby_keywords,omitempty"`
	Birthplace         string    `json:"birthplace,omitempty"`
	BirthplaceKeywords []string  `json:"birthplace_keywords,omitempty"`
	Department         string    `json:"department,omitempty"`
	Source             string    `json:"source,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
}

// DisplayName returns the name, or DefaultName when absent.
func (p *Profile) DisplayName() string {
	return orDefault(p.Name, DefaultName)
}

// DisplayNameRoman returns the romanized name, or DefaultNameRoman when absent.
func (p *Profile) DisplayNameRoman() string {
	return orDefault(p.NameRoman, DefaultNameRoman)
}

// DisplayHobby joins hobbies with ", ".
func (p *Profile) DisplayHobby() string {
	return strings.Join(p.Hobby, ", ")
}

// DisplayBirthplace returns the birthplace, or DefaultBirthplace when absent.
func (p *Profile) DisplayBirthplace() string {
	return orDefault(p.Birthplace, DefaultBirthplace)
}

// DisplayDepartment returns the department, or DefaultDepartment when absent.
func (p *Profile) DisplayDepartment() string {
	return orDefault(p.Department, DefaultDepartment)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Document converts the profile to a storable document. Absent fields are omitted
// so that a round trip through the store keeps them absent.
func (p *Profile) Document() map[string]any {
	doc := make(map[string]any)
	putString(doc, FieldName, p.Name)
	putString(doc, FieldNameRoman, p.NameRoman)
	putList(doc, FieldHobby, p.Hobby)
	putList(doc, FieldHobbyKeywords, p.HobbyKeywords)
	putString(doc, FieldBirthplace, p.Birthplace)
	putList(doc, FieldBirthplaceKeywords, p.BirthplaceKeywords)
	putString(doc, FieldDepartment, p.Department)
	putString(doc, FieldSource, p.Source)
	return doc
}

func putString(doc map[string]any, key, v string) {
	if v != "" {
		doc[key] = v
	}
}

func putList(doc map[string]any, key string, v []string) {
	if v != nil {
		doc[key] = append([]string(nil), v...)
	}
}

// ProfileFromDocument builds a Profile from a loosely typed document such as a decoded
// JSON object or a Mongo bson.M. Unexpected shapes are coerced rather than rejected:
// a single string where a list is expected becomes a one-element list, scalars are
// rendered as text, and nulls are treated as absent.
func ProfileFromDocument(id string, doc map[string]any) *Profile {
	p := &Profile{
		ID:                 id,
		Name:               coerceString(doc[FieldName]),
		NameRoman:          coerceString(doc[FieldNameRoman]),
		Hobby:              CoerceList(doc[FieldHobby]),
		HobbyKeywords:      CoerceList(doc[FieldHobbyKeywords]),
		Birthplace:         coerceString(doc[FieldBirthplace]),
		BirthplaceKeywords: CoerceList(doc[FieldBirthplaceKeywords]),
		Department:         coerceString(doc[FieldDepartment]),
		Source:             coerceString(doc[FieldSource]),
	}
	if p.ID == "" {
		p.ID = coerceString(doc[FieldID])
	}
	return p
}

// CoerceList converts v into a list of strings. Strings become one-element lists,
// slices of any element type are rendered element by element, nil yields nil.
func CoerceList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	case []string:
		return append([]string{}, t...)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s := coerceString(rv.Index(i).Interface())
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{coerceString(v)}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return strings.Join(CoerceList(v), ", ")
	}
	return fmt.Sprint(v)
}

// keywordSeparators are the characters free-text fields are split on when deriving keywords.
const keywordSeparators = "、,，・/／;；"

// DeriveKeywords builds a keyword list from free-text values. Each value is kept whole
// and also split on list separators and whitespace; results are trimmed and de-duplicated
// in first-seen order.
func DeriveKeywords(values ...string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, v := range values {
		add(v)
		parts := strings.FieldsFunc(v, func(r rune) bool {
			return unicode.IsSpace(r) || strings.ContainsRune(keywordSeparators, r)
		})
		for _, part := range parts {
			add(part)
		}
	}
	return out
}

// WithDerivedKeywords fills empty keyword fields from the raw hobby and birthplace fields.
func (p *Profile) WithDerivedKeywords() *Profile {
	if len(p.HobbyKeywords) == 0 && len(p.Hobby) > 0 {
		p.HobbyKeywords = DeriveKeywords(p.Hobby...)
	}
	if len(p.BirthplaceKeywords) == 0 && p.Birthplace != "" {
		p.BirthplaceKeywords = DeriveKeywords(p.Birthplace)
	}
	return p
}
