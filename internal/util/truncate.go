package util

import (
	"fmt"
	"unicode/utf8"
)

// DefaultLogMaxLen caps a logged request or response body.
const DefaultLogMaxLen = 1024

// TruncateLog shortens s to at most maxLen bytes for verbose logging. The cut
// never splits a UTF-8 sequence, so the kept prefix may be a few bytes short.
// Request summaries remain available through /api/translator/history.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes applies DefaultLogMaxLen to a body.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
