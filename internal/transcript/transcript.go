// Package transcript reconstructs the conversation history of a Slack
// thread. Slack is the source of truth: nothing here is cached or
// persisted, every Build call is a one-shot snapshot.
package transcript

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"courier/internal/logging"
)

// Speaker labels for transcript turns.
const (
	SpeakerUser = "user"
	SpeakerBot  = "bot"
)

// AckPrefix marks the pickup acknowledgment the runner posts when it
// claims a task. Our own ack messages are pure status echo and would
// pollute the transcript, so Build drops them.
const AckPrefix = "Processing: "

// Turn is one prior message in a conversation, chronologically ordered.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	TS      string `json:"ts,omitempty"`
}

// HistoryFetcher is the slice of the Slack API the builder needs.
// *slack.Client satisfies it.
type HistoryFetcher interface {
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
}

// Builder materializes bounded thread transcripts.
type Builder struct {
	client    HistoryFetcher
	botUserID string
	maxTurns  int
	logger    logging.Logger
}

// NewBuilder constructs a Builder. maxTurns bounds the transcript length;
// when the thread is longer, the oldest turns are dropped first.
func NewBuilder(client HistoryFetcher, botUserID string, maxTurns int, logger logging.Logger) (*Builder, error) {
	if client == nil {
		return nil, fmt.Errorf("transcript builder requires a history fetcher")
	}
	if maxTurns <= 0 {
		return nil, fmt.Errorf("transcript builder requires a positive turn bound, got %d", maxTurns)
	}
	return &Builder{
		client:    client,
		botUserID: botUserID,
		maxTurns:  maxTurns,
		logger:    logging.OrNop(logger),
	}, nil
}

// fetchCap bounds pagination so a pathological thread cannot stall an
// enqueue; the transcript is truncated to maxTurns anyway.
const fetchCap = 200

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

// Build returns the prior turns of the given thread, oldest first. The
// final message of the thread is excluded: it is the request currently
// being processed, not context for it.
func (b *Builder) Build(ctx context.Context, channelID, threadTS string) ([]Turn, error) {
	if channelID == "" || threadTS == "" {
		return nil, fmt.Errorf("transcript build requires channel and thread ids")
	}

	var messages []slack.Message
	cursor := ""
	for {
		page, hasMore, next, err := b.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     100,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch thread %s/%s: %w", channelID, threadTS, err)
		}
		messages = append(messages, page...)
		if !hasMore || next == "" || len(messages) >= fetchCap {
			break
		}
		cursor = next
	}
	if len(messages) <= 1 {
		return nil, nil
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return tsValue(messages[i].Timestamp) < tsValue(messages[j].Timestamp)
	})

	// The newest message is the request being enqueued right now.
	messages = messages[:len(messages)-1]

	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turn, ok := b.toTurn(msg)
		if !ok {
			continue
		}
		turns = append(turns, turn)
	}

	if len(turns) > b.maxTurns {
		turns = turns[len(turns)-b.maxTurns:]
	}
	return turns, nil
}

func (b *Builder) toTurn(msg slack.Message) (Turn, bool) {
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(msg.Text, ""))
	if text == "" {
		return Turn{}, false
	}

	if b.isOwnMessage(msg) {
		// Our own pure status echoes would loop back into prompts.
		if strings.HasPrefix(text, AckPrefix) {
			return Turn{}, false
		}
		return Turn{Speaker: SpeakerBot, Text: text, TS: msg.Timestamp}, true
	}
	if msg.BotID != "" || msg.SubType == "bot_message" {
		// Some other bot; still conversation context.
		return Turn{Speaker: SpeakerBot, Text: text, TS: msg.Timestamp}, true
	}
	if msg.SubType != "" {
		// Joins, topic changes and other system noise.
		return Turn{}, false
	}
	return Turn{Speaker: SpeakerUser, Text: text, TS: msg.Timestamp}, true
}

func (b *Builder) isOwnMessage(msg slack.Message) bool {
	if b.botUserID == "" {
		return false
	}
	return msg.User == b.botUserID || msg.BotID == b.botUserID
}

func tsValue(ts string) float64 {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return v
}

// Format renders turns as prompt-ready lines ("User: …" / "Bot: …").
// Returns "" when there is nothing worth including.
func Format(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns)+1)
	lines = append(lines, "Previous conversation in this thread:")
	for _, turn := range turns {
		label := "User"
		if turn.Speaker == SpeakerBot {
			label = "Bot"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, turn.Text))
	}
	return strings.Join(lines, "\n")
}
