// Package render turns model answers into terminal output.
package render

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	openThinkRe  = regexp.MustCompile(`(?s)<think>(.*)$`)
)

// SplitThink separates reasoning blocks from the answer. Several blocks are
// joined with a blank line; an unterminated block runs to the end of the
// content. found is false when content has no think tag.
func SplitThink(content string) (think, response string, found bool) {
	matches := thinkBlockRe.FindAllStringSubmatch(content, -1)
	rest := thinkBlockRe.ReplaceAllString(content, "")

	var parts []string
	for _, m := range matches {
		if text := strings.TrimSpace(m[1]); text != "" {
			parts = append(parts, text)
		}
	}
	if m := openThinkRe.FindStringSubmatch(rest); m != nil {
		if text := strings.TrimSpace(m[1]); text != "" {
			parts = append(parts, text)
		}
		rest = openThinkRe.ReplaceAllString(rest, "")
		matches = append(matches, m)
	}

	if len(matches) == 0 {
		return "", content, false
	}
	return strings.Join(parts, "\n\n"), strings.TrimSpace(rest), true
}
