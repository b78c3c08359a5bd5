package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e******.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	// Keep first char of the local part
	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// Keep only the TLD of the domain
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		for i := 0; i < len(labels)-1; i++ {
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		domain = strings.Join(labels, ".")
	}

	return username + "@" + domain
}

// RedactedAttr returns "[REDACTED]" in production and the value elsewhere.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{"password", "token", "secret", "email", "auth"}

// SanitizeQueryString reports whether any query parameter name looks
// sensitive, in which case the whole query string should be redacted.
func SanitizeQueryString(rawQuery string) bool {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// unparseable queries are redacted wholesale
		return rawQuery != ""
	}
	for name := range values {
		lower := strings.ToLower(name)
		for _, p := range sensitiveParams {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}
