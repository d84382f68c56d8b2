package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	maxTelegramMessage = 3800
	telegramRetries    = 3
	telegramTail       = 5
)

// TelegramSink posts a Markdown summary of each batch to one chat.
type TelegramSink struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
	// RetryInitial is the first backoff wait; later waits grow exponentially.
	RetryInitial time.Duration
}

func NewTelegramSink(botToken, chatID, apiBase string) *TelegramSink {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultTelegramAPI
	}
	return &TelegramSink{
		BotToken:     botToken,
		ChatID:       chatID,
		APIBase:      strings.TrimRight(apiBase, "/"),
		Client:       &http.Client{Timeout: 15 * time.Second},
		RetryInitial: time.Second,
	}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Deliver(ctx context.Context, b Batch) error {
	newest, ok := b.Newest()
	if !ok {
		return nil
	}
	msg := batchMessage(b, newest.Timestamp)
	return t.SendText(ctx, msg.RenderMarkdown())
}

// SendText posts text to the chat, retrying transport errors and non-2xx
// replies.
func (t *TelegramSink) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram sink is missing bot token or chat id")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.BotToken)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("telegram status=%d", resp.StatusCode)
		}
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.RetryInitial
	exp.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, telegramRetries-1), ctx))
}

// MessageSection is one titled block of a chat message.
type MessageSection struct {
	Title string
	Lines []string
}

type StructuredMessage struct {
	Title     string
	Sections  []MessageSection
	Timestamp time.Time
}

func batchMessage(b Batch, at time.Time) StructuredMessage {
	tail := b.Candles
	if len(tail) > telegramTail {
		tail = tail[len(tail)-telegramTail:]
	}
	lines := make([]string, 0, len(tail))
	for _, c := range tail {
		lines = append(lines, fmt.Sprintf("%s O %s H %s L %s C %s V %s",
			c.TimeString(nil),
			fmtPrice(c.Open), fmtPrice(c.High), fmtPrice(c.Low), fmtPrice(c.Close), fmtPrice(c.Volume)))
	}
	title := fmt.Sprintf("%s %s", strings.ToUpper(string(b.Mode)), b.Key)
	if n := len(b.Candles); n > telegramTail {
		title = fmt.Sprintf("%s (%d candles)", title, n)
	}
	return StructuredMessage{
		Title:     title,
		Sections:  []MessageSection{{Title: "latest", Lines: lines}},
		Timestamp: at,
	}
}

// RenderMarkdown lays the message out as a code block, cut to the chat limit.
func (m StructuredMessage) RenderMarkdown() string {
	var sb strings.Builder
	if title := strings.TrimSpace(m.Title); title != "" {
		sb.WriteString("*" + sanitize(title) + "*\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		sb.WriteString(block)
	}
	if !m.Timestamp.IsZero() {
		sb.WriteString("bar: " + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(sb.String())
	if len(body) > maxTelegramMessage {
		body = body[:maxTelegramMessage] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	var sb strings.Builder
	wrote := false
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if wrote {
			sb.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			sb.WriteString(sanitize(title) + "\n")
		}
		for _, line := range lines {
			sb.WriteString("- " + sanitize(line) + "\n")
		}
		wrote = true
	}
	if !wrote {
		return ""
	}
	return "```\n" + sb.String() + "```\n\n"
}

func fmtPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
