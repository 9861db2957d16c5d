// =============================================================================
// Merchant Analytics - Notifications
// =============================================================================
//
// Sends pipeline outcome messages by email (Mailgun) and Slack (incoming
// webhook). A channel without configuration is skipped; a failure on one
// channel does not stop the other.
//
// =============================================================================

package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
)

const (
	footer           = "This is an automated message from the Ireland Pay Analytics Pipeline."
	maxDetailRunes   = 1000
	successSubject   = "Ireland Pay Analytics Pipeline Success - %s"
	errorSubject     = "⚠️ Ireland Pay Analytics Pipeline Error - %s"
	statementSubject = "Ireland Pay Agent Statement - %s"
)

// PipelineStats summarises a completed run for the success message.
type PipelineStats struct {
	TotalMerchants int
	TotalVolume    float64
	TotalProfit    float64
	ProcessingTime time.Duration
}

// Notifier fans messages out to the configured channels.
type Notifier struct {
	email      EmailSender
	recipients []string
	slack      *SlackPoster
	logger     *slog.Logger
}

// New builds a Notifier from configuration. Channels that are not
// configured are left nil.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "notify")

	var email EmailSender
	if cfg.EmailEnabled() {
		email = NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.Sender, logger)
	}
	var slack *SlackPoster
	if cfg.SlackEnabled() {
		slack = NewSlackPoster(cfg.SlackWebhookURL, nil)
	}
	return NewNotifier(email, cfg.Recipients, slack, logger)
}

// NewNotifier wires explicit channels. Either may be nil.
func NewNotifier(email EmailSender, recipients []string, slack *SlackPoster, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{email: email, recipients: recipients, slack: slack, logger: logger}
}

// PipelineSuccess reports a successful run for period.
func (n *Notifier) PipelineSuccess(ctx context.Context, period string, stats PipelineStats) error {
	if n == nil {
		return nil
	}
	merchants := formatInt(int64(stats.TotalMerchants))
	volume := "$" + formatMoney(stats.TotalVolume)
	profit := "$" + formatMoney(stats.TotalProfit)
	seconds := strconv.FormatFloat(stats.ProcessingTime.Seconds(), 'f', 2, 64)

	var body strings.Builder
	fmt.Fprintf(&body, "<html><body>\n<h2>Ireland Pay Analytics Pipeline Completed Successfully</h2>\n")
	fmt.Fprintf(&body, "<p>The analytics pipeline for <strong>%s</strong> has completed successfully.</p>\n", html.EscapeString(period))
	fmt.Fprintf(&body, "<h3>Summary:</h3>\n<ul>\n")
	fmt.Fprintf(&body, "<li>Total Merchants: %s</li>\n<li>Total Volume: %s</li>\n", merchants, volume)
	fmt.Fprintf(&body, "<li>Total Profit: %s</li>\n<li>Processing Time: %s seconds</li>\n</ul>\n", profit, seconds)
	fmt.Fprintf(&body, "<p>%s</p>\n</body></html>", footer)

	text := fmt.Sprintf("The analytics pipeline for %s has completed successfully.\n\n"+
		"Total Merchants: %s\nTotal Volume: %s\nTotal Profit: %s\nProcessing Time: %s seconds\n\n%s",
		period, merchants, volume, profit, seconds, footer)

	slack := SlackMessage{
		Text: fmt.Sprintf("✅ Ireland Pay Analytics Pipeline for %s completed successfully!", period),
		Blocks: []SlackBlock{
			header("✅ Analytics Pipeline Success - " + period),
			fields("*Total Merchants:*\n"+merchants, "*Total Volume:*\n"+volume),
			fields("*Total Profit:*\n"+profit, "*Processing Time:*\n"+seconds+"s"),
		},
	}

	return n.dispatch(ctx, fmt.Sprintf(successSubject, period), text, body.String(), n.recipients, slack)
}

// PipelineError reports a failed run. The error's message is the headline;
// details, when non-empty, are appended and truncated for Slack.
func (n *Notifier) PipelineError(ctx context.Context, period string, runErr error, details string) error {
	if n == nil {
		return nil
	}
	message := "unknown error"
	if runErr != nil {
		message = runErr.Error()
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<html><body>\n<h2>Ireland Pay Analytics Pipeline Error</h2>\n")
	fmt.Fprintf(&body, "<p>The analytics pipeline for <strong>%s</strong> encountered an error.</p>\n", html.EscapeString(period))
	fmt.Fprintf(&body, "<h3>Error Message:</h3>\n<p>%s</p>\n", html.EscapeString(message))
	if details != "" {
		fmt.Fprintf(&body, "<h3>Error Details:</h3><pre>%s</pre>\n", html.EscapeString(details))
	}
	fmt.Fprintf(&body, "<p>Please review the logs and take appropriate action.</p>\n<p>%s</p>\n</body></html>", footer)

	text := fmt.Sprintf("The analytics pipeline for %s encountered an error.\n\nError Message: %s\n", period, message)
	if details != "" {
		text += "\nError Details:\n" + details + "\n"
	}
	text += "\n" + footer

	slack := SlackMessage{
		Text: fmt.Sprintf("⚠️ Ireland Pay Analytics Pipeline Error for %s: %s", period, message),
		Blocks: []SlackBlock{
			header("⚠️ Analytics Pipeline Error - " + period),
			section("*Error Message:*\n" + message),
		},
	}
	if details != "" {
		slack.Blocks = append(slack.Blocks, section("*Error Details:*\n```"+truncate(details, maxDetailRunes)+"```"))
	}

	return n.dispatch(ctx, fmt.Sprintf(errorSubject, period), text, body.String(), n.recipients, slack)
}

// AgentStatementReady emails a single agent that their statement for
// period is available. Slack is not used for per-agent messages.
func (n *Notifier) AgentStatementReady(ctx context.Context, agent, period, email string) error {
	if n == nil || n.email == nil {
		return nil
	}
	if email == "" {
		return fmt.Errorf("no email address for agent %s", agent)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<html><body>\n<h2>Ireland Pay Agent Statement</h2>\n")
	fmt.Fprintf(&body, "<p>Dear %s,</p>\n", html.EscapeString(agent))
	fmt.Fprintf(&body, "<p>Your agent statement for <strong>%s</strong> is now available.</p>\n", html.EscapeString(period))
	fmt.Fprintf(&body, "<p>If you have any questions or concerns, please contact your account manager.</p>\n")
	fmt.Fprintf(&body, "<p>Thank you for your partnership with Ireland Pay.</p>\n</body></html>")

	text := fmt.Sprintf("Dear %s,\n\nYour agent statement for %s is now available.\n\n"+
		"If you have any questions or concerns, please contact your account manager.\n\n"+
		"Thank you for your partnership with Ireland Pay.", agent, period)

	return n.dispatch(ctx, fmt.Sprintf(statementSubject, period), text, body.String(), []string{email}, SlackMessage{})
}

// dispatch sends to every configured channel and joins their errors.
// An empty Slack message skips Slack.
func (n *Notifier) dispatch(ctx context.Context, subject, text, htmlBody string, to []string, slack SlackMessage) error {
	var errs []error

	if n.email != nil && len(to) > 0 {
		if err := n.email.SendEmail(ctx, subject, text, htmlBody, to); err != nil {
			n.logger.Error("email notification failed", "subject", subject, "error", err)
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if n.slack != nil && slack.Text != "" {
		if err := n.slack.Post(ctx, slack); err != nil {
			n.logger.Error("slack notification failed", "subject", subject, "error", err)
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	return errors.Join(errs...)
}

// =============================================================================
// FORMATTING
// =============================================================================

// formatMoney renders v with thousands separators and two decimals.
func formatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	return sign + groupDigits(whole) + "." + frac
}

func formatInt(v int64) string {
	s := strconv.FormatInt(v, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + groupDigits(s[1:])
	}
	return groupDigits(s)
}

func groupDigits(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
