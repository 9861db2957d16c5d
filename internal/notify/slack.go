// =============================================================================
// Merchant Analytics - Slack Webhook
// =============================================================================

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackMessage is the payload accepted by an incoming webhook.
type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

// SlackBlock is one Block Kit block. Only header and section blocks are used.
type SlackBlock struct {
	Type   string       `json:"type"`
	Text   *SlackText   `json:"text,omitempty"`
	Fields []*SlackText `json:"fields,omitempty"`
}

// SlackText is a plain_text or mrkdwn text object.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func header(text string) SlackBlock {
	return SlackBlock{Type: "header", Text: &SlackText{Type: "plain_text", Text: text}}
}

func section(text string) SlackBlock {
	return SlackBlock{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: text}}
}

func fields(texts ...string) SlackBlock {
	block := SlackBlock{Type: "section"}
	for _, t := range texts {
		block.Fields = append(block.Fields, &SlackText{Type: "mrkdwn", Text: t})
	}
	return block
}

// SlackPoster posts messages to a Slack incoming webhook.
type SlackPoster struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackPoster creates a poster for webhookURL. A nil client gets a
// 10 second timeout.
func NewSlackPoster(webhookURL string, client *http.Client) *SlackPoster {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackPoster{webhookURL: webhookURL, httpClient: client}
}

// Post sends msg to the webhook. Any non-2xx response is an error.
func (p *SlackPoster) Post(ctx context.Context, msg SlackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return nil
}
