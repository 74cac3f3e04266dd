package format

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"
)

const noticeFormat = "\n\n[Output truncated: showing first %d of %d characters]"

var noticePattern = regexp.MustCompile(`\n\n\[Output truncated: showing first (\d+) of (\d+) characters\]$`)

// Truncate cuts output to maxLength characters and appends a notice with the
// original length. Output already carrying a notice for this limit is
// returned unchanged, so applying Truncate twice is a no-op.
func Truncate(output string, maxLength int) (string, bool) {
	if maxLength <= 0 {
		return output, false
	}
	if IsTruncated(output, maxLength) {
		return output, false
	}
	length := utf8.RuneCountInString(output)
	if length <= maxLength {
		return output, false
	}
	return cutRunes(output, maxLength) + fmt.Sprintf(noticeFormat, maxLength, length), true
}

// NoticeLength returns the length of the notice Truncate would append.
func NoticeLength(maxLength, originalLength int) int {
	return utf8.RuneCountInString(fmt.Sprintf(noticeFormat, maxLength, originalLength))
}

// IsTruncated reports whether output ends with a notice produced by Truncate
// for the given limit.
func IsTruncated(output string, maxLength int) bool {
	loc := noticePattern.FindStringSubmatchIndex(output)
	if loc == nil {
		return false
	}
	shown, err := strconv.Atoi(output[loc[2]:loc[3]])
	if err != nil || shown != maxLength {
		return false
	}
	original, err := strconv.Atoi(output[loc[4]:loc[5]])
	if err != nil || original <= maxLength {
		return false
	}
	return utf8.RuneCountInString(output[:loc[0]]) == maxLength
}

func cutRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
