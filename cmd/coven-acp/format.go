// ABOUTME: Output formatting for coven-acp replies
// ABOUTME: Markdown rendering to Matrix HTML and oversized reply truncation

package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Reply truncation limits. Frontends reject very large messages, so long
// replies keep their head and tail with a marker in between.
const (
	maxReplyLen  = 4000
	replyHeadLen = 1500
	replyTailLen = 1500
)

// renderMarkdown converts markdown to HTML for a Matrix formatted body.
// Returns false when the text has no markup worth rendering or conversion
// fails, in which case the plain body stands alone.
func renderMarkdown(text string) (string, bool) {
	if !strings.ContainsAny(text, "*_`#[>-") {
		return "", false
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}

// truncateReply enforces the frontend message size limit, keeping the start
// and end of the reply. Both matter: the start carries the explanation, the
// end carries the conclusion.
func truncateReply(text string) string {
	runes := []rune(text)
	if len(runes) <= maxReplyLen {
		return text
	}
	elided := len(runes) - replyHeadLen - replyTailLen
	return fmt.Sprintf("%s\n\n...(%d characters truncated)...\n\n%s",
		string(runes[:replyHeadLen]), elided, string(runes[len(runes)-replyTailLen:]))
}
