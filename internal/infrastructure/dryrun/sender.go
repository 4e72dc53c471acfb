// Package dryrun provides a Sender that only logs what would have been posted.
package dryrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"HeadlineBot/internal/ports"
)

// Sender logs posts instead of delivering them.
type Sender struct {
	logger *slog.Logger
}

var _ ports.Sender = (*Sender)(nil)

func NewSender(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sender{logger: logger}
}

// Send logs text and returns a synthetic post id.
func (s *Sender) Send(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()
	s.logger.Info("dry run post", "post_id", id, "chars", len([]rune(text)), "text", text)
	return id, nil
}

// Reply logs a thread reply and returns a synthetic post id.
func (s *Sender) Reply(ctx context.Context, text, replyTo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()
	s.logger.Info("dry run reply", "post_id", id, "reply_to", replyTo, "text", text)
	return id, nil
}
