// Package format normalizes raw engine output into presentation content.
package format

import (
	"regexp"
	"strings"

	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

var (
	// CSI sequences (colors, cursor movement) and OSC sequences (titles, links).
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	// Two-byte escapes such as ESC= or ESC>.
	escPattern = regexp.MustCompile(`\x1b[@-Z\\-_]`)
)

// Format cleans raw engine output for the requested format. It never
// translates content: latex and native output is produced by the engine.
func Format(raw string, kind protocol.Format) string {
	cleaned := StripControl(raw)
	switch kind {
	case protocol.FormatLatex, protocol.FormatNative:
		lines := strings.Split(cleaned, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		cleaned = strings.Join(lines, "\n")
	}
	return strings.TrimSpace(cleaned)
}

// StripControl removes ANSI escape sequences and control characters other
// than newline and tab, and normalizes line endings.
func StripControl(raw string) string {
	if raw == "" {
		return ""
	}
	out := oscPattern.ReplaceAllString(raw, "")
	out = csiPattern.ReplaceAllString(out, "")
	out = escPattern.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")

	var b strings.Builder
	b.Grow(len(out))
	for _, r := range out {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			continue
		case r >= 0x80 && r <= 0x9f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
