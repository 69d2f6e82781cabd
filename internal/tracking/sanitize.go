package tracking

import (
	"strings"
	"unicode/utf8"
)

// DefaultReplacement is shown instead of customs-related wording.
const DefaultReplacement = "Em processamento"

// Sanitizer detects customs and taxation wording. Matching is
// case-insensitive substring search over the configured keywords plus an
// exact match on provider sub-statuses.
type Sanitizer struct {
	keywords    []string
	statuses    map[string]bool
	replacement string
}

// NewSanitizer creates a Sanitizer. Empty keywords are ignored.
func NewSanitizer(keywords, statuses []string, replacement string) *Sanitizer {
	s := &Sanitizer{
		statuses:    make(map[string]bool, len(statuses)),
		replacement: replacement,
	}
	if s.replacement == "" {
		s.replacement = DefaultReplacement
	}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			s.keywords = append(s.keywords, k)
		}
	}
	for _, st := range statuses {
		s.statuses[strings.ToLower(st)] = true
	}
	return s
}

// Replacement returns the neutral text used in place of matches.
func (s *Sanitizer) Replacement() string { return s.replacement }

// Match reports whether text contains any customs keyword.
func (s *Sanitizer) Match(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// MatchStatus reports whether a provider status or sub-status is one of
// the configured customs statuses.
func (s *Sanitizer) MatchStatus(status, subStatus string) bool {
	return s.statuses[strings.ToLower(status)] || s.statuses[strings.ToLower(subStatus)]
}

// Clean returns the replacement when text matches, or text unchanged.
func (s *Sanitizer) Clean(text string) (string, bool) {
	if s.Match(text) {
		return s.replacement, true
	}
	return text, false
}

// CleanEvent translates a carrier event description and returns the
// replacement when either the raw or the translated text matches.
func (s *Sanitizer) CleanEvent(raw string) (string, bool) {
	translated := TranslateEvent(raw)
	if s.Match(raw) || s.Match(translated) {
		return s.replacement, true
	}
	return translated, false
}

// Flagged reports whether info shows any sign of customs processing.
func (s *Sanitizer) Flagged(info *Info) bool {
	if s.MatchStatus(info.Status, info.SubStatus) || s.Match(info.LatestEvent) {
		return true
	}
	for _, e := range info.Events {
		if s.Match(e.Description) || s.Match(e.Location) {
			return true
		}
	}
	return false
}

// replaceFold replaces every case-insensitive occurrence of old in s.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	lowerOld := strings.ToLower(old)
	var b strings.Builder
	for {
		start, end := indexFold(s, lowerOld)
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		b.WriteString(new)
		s = s[end:]
	}
}

// indexFold finds lowerNeedle in s ignoring case and returns the byte span
// of the match in s, or -1, -1.
func indexFold(s, lowerNeedle string) (int, int) {
	n := utf8.RuneCountInString(lowerNeedle)
	for i := range s {
		j, k := i, 0
		for k < n && j < len(s) {
			_, size := utf8.DecodeRuneInString(s[j:])
			j += size
			k++
		}
		if k < n {
			return -1, -1
		}
		if strings.ToLower(s[i:j]) == lowerNeedle {
			return i, j
		}
	}
	return -1, -1
}
