package executor

import (
	"strings"

	"courier/internal/transcript"
)

// preamble frames every request so the CLI's answer fits a Slack message.
const preamble = "You are responding to a Slack command. " +
	"Keep your response concise — it will be posted to a Slack channel. " +
	"Format for Slack mrkdwn: use *bold* (single asterisk), _italic_, " +
	"`code`, and <url|text> for links. No markdown headings.\n\n"

// BuildPrompt assembles the effective prompt: system preamble, prior
// thread turns when present, then the user's latest request.
func BuildPrompt(prompt string, turns []transcript.Turn) string {
	var sb strings.Builder
	sb.WriteString(preamble)

	if history := transcript.Format(turns); history != "" {
		sb.WriteString(history)
		sb.WriteString("\n\nLatest request: ")
	} else {
		sb.WriteString("User request: ")
	}
	sb.WriteString(prompt)
	return sb.String()
}
