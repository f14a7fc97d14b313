package util

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone turns CRM phone input into an E.164-like value.
// Bare 10-digit numbers are treated as North American.
func NormalizePhone(raw string) string {
	s := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(s, "+"):
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case len(s) == 10:
		s = "+1" + s
	case len(s) == 11 && strings.HasPrefix(s, "1"):
		s = "+" + s
	}

	return s
}
