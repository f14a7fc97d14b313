package drafting

import "strings"

const fallbackSubject = "Message from your trainer"

// ParseResponse splits model output into subject and body. It looks for
// Subject:/Body: markers and joins body continuation lines with a space; without
// markers the first paragraph is the subject and the rest the body.
func ParseResponse(response string) (subject, body string) {
	inBody := false
	for _, line := range strings.Split(response, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Subject:"):
			subject = strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))
		case strings.HasPrefix(line, "Body:"):
			body = strings.TrimSpace(strings.TrimPrefix(line, "Body:"))
			inBody = true
		case inBody:
			body += " " + strings.TrimSpace(line)
		}
	}

	if subject == "" && body == "" {
		parts := strings.Split(response, "\n\n")
		subject = parts[0]
		if subject == "" {
			subject = fallbackSubject
		}
		body = strings.Join(parts[1:], "\n\n")
		if body == "" {
			body = response
		}
	}

	return subject, body
}
