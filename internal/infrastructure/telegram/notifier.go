// Package telegram posts run summaries to a chat through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"TenderSync/internal/ports"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// MaxMessageLength is the Bot API limit for a sendMessage text.
	MaxMessageLength = 4096

	truncationMarker = "\n…"
)

// Options configures Notifier.
type Options struct {
	BaseURL    string
	BotToken   string
	ChatID     string
	HTTPClient *http.Client
}

// Notifier sends run summaries to one chat.
type Notifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier builds a notifier; empty options fall back to the public API and a 5s timeout.
func NewNotifier(opts Options) *Notifier {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Notifier{baseURL: baseURL, botToken: opts.BotToken, chatID: opts.ChatID, client: client}
}

// APIError is a response the Bot API refused.
type APIError struct {
	Status      int
	Code        int
	Description string
	// RetryAfter is set when the chat is flood limited.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram: status %d", e.Status)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Publish posts message as plain text, cut to the API limit when longer.
func (n *Notifier) Publish(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" {
		return errors.New("telegram: bot token and chat id are required")
	}

	body, err := json.Marshal(sendMessage{
		ChatID:                n.chatID,
		Text:                  Truncate(message, MaxMessageLength),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	endpoint := n.baseURL + "/bot" + n.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: new request: %w", n.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", n.redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var out apiResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode == http.StatusOK && decodeErr == nil && out.OK {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Code: out.ErrorCode, Description: out.Description}
	if out.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
	}
	if apiErr.Description == "" && decodeErr != nil {
		apiErr.Description = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// redact drops the request URL from transport errors; it carries the bot token.
func (n *Notifier) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	if n.botToken != "" && strings.Contains(err.Error(), n.botToken) {
		return errors.New(strings.ReplaceAll(err.Error(), n.botToken, "<token>"))
	}
	return err
}

// Truncate shortens s to at most limit runes, ending with a marker when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(truncationMarker)
	if keep <= 0 {
		return string([]rune(s)[:limit])
	}
	i := 0
	for pos := range s {
		if i == keep {
			return s[:pos] + truncationMarker
		}
		i++
	}
	return s + truncationMarker
}
