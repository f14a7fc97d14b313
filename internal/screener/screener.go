// Package screener flags message text that touches topics a trainer must review by hand.
package screener

import "strings"

// DefaultKeywords is used when no keyword list is configured.
var DefaultKeywords = []string{
	"injury",
	"illness",
	"pain",
	"medical",
	"doctor",
	"billing",
	"payment",
	"cancel",
	"lawsuit",
}

// Screener does case-insensitive substring matching against a keyword list.
type Screener struct {
	keywords []string
}

func New(keywords []string) *Screener {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kw = append(kw, k)
		}
	}
	return &Screener{keywords: kw}
}

// Screen reports whether text mentions any sensitive topic.
func (s *Screener) Screen(text string) bool {
	_, ok := s.Match(text)
	return ok
}

// Match returns the first keyword found in text.
func (s *Screener) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}
