package format

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind protocol.Format
		want string
	}{
		{name: "plain text trimmed", raw: "  2\n", kind: protocol.FormatText, want: "2"},
		{name: "ansi colors stripped", raw: "\x1b[1;32m42\x1b[0m", kind: protocol.FormatText, want: "42"},
		{name: "osc title stripped", raw: "\x1b]0;kernel\x07x^2", kind: protocol.FormatText, want: "x^2"},
		{name: "crlf normalized", raw: "a\r\nb\r\n", kind: protocol.FormatText, want: "a\nb"},
		{name: "control bytes dropped", raw: "a\x00b\x08c", kind: protocol.FormatText, want: "abc"},
		{name: "tabs kept", raw: "a\tb", kind: protocol.FormatText, want: "a\tb"},
		{name: "latex trailing spaces", raw: "\\frac{1}{2}   \n", kind: protocol.FormatLatex, want: "\\frac{1}{2}"},
		{name: "native multi line", raw: "{1,   \n 2}  \n", kind: protocol.FormatNative, want: "{1,\n 2}"},
		{name: "unicode preserved", raw: "π ≈ 3.14", kind: protocol.FormatText, want: "π ≈ 3.14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.raw, tt.kind))
		})
	}
}

func TestTruncate(t *testing.T) {
	out, truncated := Truncate("short", 10)
	assert.False(t, truncated)
	assert.Equal(t, "short", out)

	long := strings.Repeat("x", 25)
	out, truncated = Truncate(long, 10)
	require.True(t, truncated)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("x", 10)+"\n\n"))
	assert.Contains(t, out, "of 25 characters")

	again, truncatedAgain := Truncate(out, 10)
	assert.False(t, truncatedAgain)
	assert.Equal(t, out, again)
}

func TestTruncateCountsRunes(t *testing.T) {
	out, truncated := Truncate(strings.Repeat("π", 12), 10)
	require.True(t, truncated)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("π", 10)+"\n"))
}

func TestTruncateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.String().Draw(t, "input")
		limit := rapid.IntRange(1, 64).Draw(t, "limit")
		length := utf8.RuneCountInString(input)

		out, truncated := Truncate(input, limit)
		if length <= limit {
			if truncated || out != input {
				t.Fatalf("expected unchanged output for length %d <= %d", length, limit)
			}
			return
		}
		if !truncated {
			t.Fatalf("expected truncation for length %d > %d", length, limit)
		}
		if got := utf8.RuneCountInString(out); got > limit+NoticeLength(limit, length) {
			t.Fatalf("output length %d exceeds bound", got)
		}
		if !strings.Contains(out, "of "+strconv.Itoa(length)+" characters") {
			t.Fatalf("notice does not carry original length: %q", out)
		}
		again, _ := Truncate(out, limit)
		if again != out {
			t.Fatalf("truncate is not idempotent")
		}
	})
}

func TestErrorDetector(t *testing.T) {
	detector, err := NewErrorDetector(nil)
	require.NoError(t, err)

	assert.True(t, detector.IsErrorOutput("$Failed"))
	assert.True(t, detector.IsErrorOutput("Power::infy: Infinite expression 1/0 encountered."))
	assert.True(t, detector.IsErrorOutput("ok\nSyntax::sntxf: \"1+\" cannot be followed by \"\"."))
	assert.False(t, detector.IsErrorOutput("2"))
	assert.False(t, detector.IsErrorOutput("a :: b"))

	var nilDetector *ErrorDetector
	assert.False(t, nilDetector.IsErrorOutput("$Failed"))

	_, err = NewErrorDetector([]string{"("})
	assert.Error(t, err)
}
