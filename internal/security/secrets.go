package security

import (
	"regexp"
	"strings"
)

const redacted = "****"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)(["']?\s*[:=]\s*["']?)[0-9a-zA-Z\-_]{8,}`),
	regexp.MustCompile(`(?i)(authorization)(["']?\s*[:=]\s*["']?(?:bearer\s+)?)[^\s"']{8,}`),
}

// Redact masks the given secret values and anything shaped like an API key
// assignment in input.
func Redact(input string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		input = strings.ReplaceAll(input, s, redacted)
	}
	for _, re := range secretPatterns {
		input = re.ReplaceAllString(input, "${1}${2}"+redacted)
	}
	return input
}

// Mask shows only the first characters of a secret, for logs
func Mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return redacted
	default:
		return secret[:4] + redacted
	}
}
