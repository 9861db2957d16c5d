// =============================================================================
// Merchant Analytics - Email
// =============================================================================

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

// sendTimeout bounds a single Mailgun API call.
const sendTimeout = 20 * time.Second

// EmailSender delivers one message to a list of recipients.
type EmailSender interface {
	SendEmail(ctx context.Context, subject, text, html string, to []string) error
}

// MailgunSender sends email through the Mailgun API.
type MailgunSender struct {
	mg     mailgun.Mailgun
	from   string
	logger *slog.Logger
}

// NewMailgunSender creates a sender for the given Mailgun domain.
func NewMailgunSender(domain, apiKey, from string, logger *slog.Logger) *MailgunSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MailgunSender{
		mg:     mailgun.NewMailgun(domain, apiKey),
		from:   from,
		logger: logger,
	}
}

// SendEmail sends a multipart (text and HTML) message.
func (s *MailgunSender) SendEmail(ctx context.Context, subject, text, html string, to []string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients for %q", subject)
	}

	message := s.mg.NewMessage(s.from, subject, text, to...)
	if html != "" {
		message.SetHtml(html)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		s.logger.Error("mailgun send failed", "error", err, "subject", subject, "mailgunResp", resp)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	s.logger.Info("email sent", "subject", subject, "recipients", len(to), "id", id)
	return nil
}
