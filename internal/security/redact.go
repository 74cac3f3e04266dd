package security

import "strings"

const redactedValue = "***"

var sensitiveSubstrings = []string{
	"token",
	"password",
	"authorization",
	"apikey",
	"api_key",
	"secret",
	"credential",
	"bearer",
	"cookie",
}

// RedactArguments returns a copy of tool arguments safe for audit logs.
// Sensitive keys are masked and long string values are shortened to maxLen
// characters (no shortening when maxLen <= 0).
func RedactArguments(values map[string]any, maxLen int) map[string]any {
	if values == nil {
		return nil
	}
	redacted := make(map[string]any, len(values))
	for key, value := range values {
		if isSensitiveKey(key) {
			redacted[key] = redactedValue
			continue
		}
		if s, ok := value.(string); ok && maxLen > 0 {
			redacted[key] = shorten(s, maxLen)
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// RedactEnv masks values of sensitive KEY=VALUE entries.
func RedactEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, entry := range env {
		key, _, found := strings.Cut(entry, "=")
		if found && isSensitiveKey(key) {
			out = append(out, key+"="+redactedValue)
			continue
		}
		out = append(out, entry)
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, part := range sensitiveSubstrings {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func shorten(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
