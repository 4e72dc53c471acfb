package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"HeadlineBot/internal/config"
	"HeadlineBot/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Sender posts rendered headlines to a Telegram channel via bot API.
type Sender struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Sender = (*Sender)(nil)

// NewSender registers bot token and chat identifier. A nil client gets a 10s timeout.
func NewSender(cfg config.TelegramConfig, client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Sender{
		apiBase:  base,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   client,
	}
}

// Send posts text as a plain message and returns the Telegram message id.
// Text is sent without parse_mode so headline punctuation is never read as markup.
func (s *Sender) Send(ctx context.Context, text string) (string, error) {
	return s.sendMessage(ctx, text, "")
}

// Reply posts text as a reply to message replyTo in the same chat.
func (s *Sender) Reply(ctx context.Context, text, replyTo string) (string, error) {
	if _, err := strconv.ParseInt(replyTo, 10, 64); err != nil {
		return "", fmt.Errorf("telegram reply target %q is not a message id", replyTo)
	}
	return s.sendMessage(ctx, text, replyTo)
}

func (s *Sender) sendMessage(ctx context.Context, text, replyTo string) (string, error) {
	if s.botToken == "" || s.chatID == "" {
		return "", fmt.Errorf("telegram sender misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("text", text)
	if replyTo != "" {
		form.Set("reply_to_message_id", replyTo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs and task records.
		if urlErr, ok := err.(*url.Error); ok {
			err = urlErr.Err
		}
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("telegram error: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return "", fmt.Errorf("telegram error: %s: %s", resp.Status, body.Description)
	}

	return strconv.FormatInt(body.Result.MessageID, 10), nil
}
