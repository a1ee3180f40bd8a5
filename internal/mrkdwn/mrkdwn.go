// Package mrkdwn converts standard markdown into Slack's mrkdwn dialect.
//
// Slack uses its own markup which differs from markdown in small but
// user-visible ways: bold is a single asterisk, links are <url|text>,
// there are no headings, and ordered lists are unsupported. Render is a
// total function: anything it does not recognize passes through as plain
// text.
package mrkdwn

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern      = regexp.MustCompile("(?s)(```.*?```)")
	headingPattern    = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	rulePattern       = regexp.MustCompile(`^---+$`)
	boldItalicPattern = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	imagePattern      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	strikePattern     = regexp.MustCompile(`~~(.+?)~~`)
	bulletPattern     = regexp.MustCompile(`^(\s*)\*\s+(.+)$`)
)

// Render converts markdown text to Slack mrkdwn. Fenced code blocks pass
// through untouched; everything else is rewritten line by line.
func Render(text string) string {
	parts := fencePattern.Split(text, -1)
	fences := fencePattern.FindAllString(text, -1)

	var sb strings.Builder
	for i, part := range parts {
		sb.WriteString(renderProse(part))
		if i < len(fences) {
			sb.WriteString(fences[i])
		}
	}
	return sb.String()
}

func renderProse(part string) string {
	lines := strings.Split(part, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		// Headings have no mrkdwn equivalent; bold is the convention.
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			out = append(out, "*"+m[2]+"*")
			continue
		}
		if rulePattern.MatchString(strings.TrimSpace(line)) {
			out = append(out, "")
			continue
		}

		line = boldItalicPattern.ReplaceAllString(line, "*_${1}_*")
		line = boldPattern.ReplaceAllString(line, "*${1}*")
		// Images before links: the image pattern is a superset.
		line = imagePattern.ReplaceAllString(line, "<${2}|${1}>")
		line = linkPattern.ReplaceAllString(line, "<${2}|${1}>")
		line = strikePattern.ReplaceAllString(line, "~${1}~")

		// Asterisk bullets read as bold markers in mrkdwn; use a dot.
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			line = fmt.Sprintf("%s• %s", m[1], m[2])
		}

		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Split breaks text into chunks no longer than limit runes, preferring
// newline boundaries and falling back to hard cuts. Concatenating the
// returned parts reproduces the input exactly.
func Split(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		// Look back for a newline so messages break between lines.
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
