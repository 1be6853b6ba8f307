// Package doctype classifies scanned reading material into a fixed set of
// document types.
package doctype

import (
	"fmt"
	"strings"
)

// Type is the kind of reading material a scan was taken from
type Type string

const (
	Book      Type = "book"
	Magazine  Type = "magazine"
	Newspaper Type = "newspaper"
	Article   Type = "article"
	Other     Type = "other"
)

// All lists every valid Type in classification priority order
var All = []Type{Book, Magazine, Newspaper, Article, Other}

// rules are evaluated in order; the first category with a matching keyword wins
var rules = []struct {
	typ      Type
	keywords []string
}{
	{Book, []string{"book", "chapter", "novel"}},
	{Magazine, []string{"magazine", "issue", "monthly"}},
	{Newspaper, []string{"newspaper", "daily", "edition"}},
	{Article, []string{"article", "journal"}},
}

// Classify maps extracted text to a document type using a case-insensitive
// keyword match. Text that matches nothing, including empty text, is Other.
func Classify(text string) Type {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.typ
			}
		}
	}
	return Other
}

// Valid reports whether t is one of the enumerated types
func (t Type) Valid() bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns the capitalized display name, e.g. "Book"
func (t Type) Label() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// Parse converts a loosely formatted string into a Type
func Parse(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown document type: %q", s)
	}
	return t, nil
}
