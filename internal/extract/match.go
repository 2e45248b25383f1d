package extract

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns are the attachment names worth sending to extraction.
var DefaultPatterns = []string{"*.pdf", "*.xlsx", "*.xlsm", "*.xls", "*.doc", "*.docx", "*.csv", "*.txt", "*.htm", "*.html"}

// PatternError reports a glob that cannot be compiled.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern " + e.Pattern
}

// Matcher selects attachments by case-insensitive glob on their base name.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles patterns. An empty list uses DefaultPatterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether name matches any pattern.
func (m *Matcher) Match(name string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
