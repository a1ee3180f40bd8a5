package ingress

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"courier/internal/dispatch"
	"courier/internal/metrics"
)

func countEvent(kind string) {
	metrics.EventsTotal.WithLabelValues(kind).Inc()
}

// maxEventBody bounds the request body; Slack events are small.
const maxEventBody = 1 << 20

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

// handleSlackEvents is the single entry point for slash commands and
// Events API callbacks. Authentication happens here, before any payload
// is interpreted; a failed signature never reaches the dispatcher.
func (s *Server) handleSlackEvents(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	if err := s.verifySignature(c.Request.Header, body); err != nil {
		countEvent("rejected")
		s.logger.Warn("Rejected unauthenticated event: %v", err)
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	if strings.Contains(c.GetHeader("Content-Type"), "application/x-www-form-urlencoded") {
		s.handleSlashCommand(c, body)
		return
	}
	s.handleEventCallback(c, body)
}

// verifySignature checks the v0 HMAC and the timestamp skew window.
func (s *Server) verifySignature(header http.Header, body []byte) error {
	ts := header.Get("X-Slack-Request-Timestamp")
	sent, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return errBadTimestamp
	}
	if skew := math.Abs(float64(time.Now().Unix()) - sent); skew > s.cfg.ReplayWindow.Seconds() {
		return errStaleTimestamp
	}

	verifier, err := slack.NewSecretsVerifier(header, s.cfg.SigningSecret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	return verifier.Ensure()
}

var (
	errBadTimestamp   = errorString("missing or malformed request timestamp")
	errStaleTimestamp = errorString("request timestamp outside replay window")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// handleSlashCommand parses a form-encoded slash command, queues the work
// and acks with an ephemeral message within the deadline.
func (s *Server) handleSlashCommand(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "malformed slash command")
		return
	}

	countEvent("slash_command")
	text := strings.TrimSpace(cmd.Text)
	s.logger.Info("Slash command from %s: %.60q", cmd.UserID, text)

	s.dispatchInBackground(dispatch.Request{
		Text:        text,
		UserID:      cmd.UserID,
		ChannelID:   cmd.ChannelID,
		ResponseURL: cmd.ResponseURL,
	})

	label := text
	if label == "" {
		label = "help"
	}
	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          "Got it: `" + label + "`\nWorking on it...",
	})
}

// handleEventCallback parses an Events API payload: the URL verification
// challenge during app setup, then mentions and direct messages.
func (s *Server) handleEventCallback(c *gin.Context, body []byte) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		c.String(http.StatusBadRequest, "malformed event payload")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		countEvent("challenge")
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.String(http.StatusBadRequest, "malformed challenge")
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": challenge.Challenge})

	case slackevents.CallbackEvent:
		if callback, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
			if s.markSeen(callback.EventID) {
				countEvent("duplicate")
				c.JSON(http.StatusOK, gin.H{"ok": true})
				return
			}
		}
		s.routeInnerEvent(event.InnerEvent)
		c.JSON(http.StatusOK, gin.H{"ok": true})

	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func (s *Server) routeInnerEvent(inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return
		}
		countEvent("app_mention")
		s.dispatchInBackground(dispatch.Request{
			Text:      strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, "")),
			UserID:    ev.User,
			ChannelID: ev.Channel,
			ThreadTS:  threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
		})

	case *slackevents.MessageEvent:
		// Only direct messages; channel traffic arrives as app_mention.
		// Bot echoes and edits are dropped to prevent feedback loops.
		if ev.ChannelType != "im" || ev.BotID != "" || ev.SubType != "" {
			return
		}
		countEvent("message")
		s.dispatchInBackground(dispatch.Request{
			Text:      strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, "")),
			UserID:    ev.User,
			ChannelID: ev.Channel,
			ThreadTS:  threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
		})
	}
}

// threadOf picks the thread root: replies carry ThreadTimeStamp, a fresh
// message starts its own thread at its own timestamp.
func threadOf(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}
