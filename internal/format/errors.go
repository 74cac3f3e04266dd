package format

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultErrorPatterns match well-known engine failure prefixes.
var DefaultErrorPatterns = []string{
	`^\$Failed`,
	`^\$Aborted`,
	`^Syntax::`,
	`^[A-Za-z$][A-Za-z0-9$]*::[A-Za-z0-9]+:`,
}

// ErrorDetector is a best-effort heuristic that flags output which looks like
// an engine error message. It is informational only.
type ErrorDetector struct {
	patterns []*regexp.Regexp
}

// NewErrorDetector compiles the given patterns (DefaultErrorPatterns when empty).
func NewErrorDetector(patterns []string) (*ErrorDetector, error) {
	if len(patterns) == 0 {
		patterns = DefaultErrorPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid error pattern %q: %w", raw, err)
		}
		compiled = append(compiled, re)
	}
	return &ErrorDetector{patterns: compiled}, nil
}

// IsErrorOutput reports whether any line of output matches a known error prefix.
func (d *ErrorDetector) IsErrorOutput(output string) bool {
	if d == nil {
		return false
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, re := range d.patterns {
			if re.MatchString(line) {
				return true
			}
		}
	}
	return false
}
