// Package notify is the coordinator's interface to the interactive
// messaging channel that reaches a human: it sends approval prompts and
// receives approve/reject actions back. The concrete channel (chat bot,
// pager, console) lives behind the Notifier interface; a JSON webhook
// implementation is provided.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Prompt is one approval request presented to a human, with two
// actionable choices (approve / reject).
type Prompt struct {
	ApprovalID string `json:"approval_id"`
	AmountNano int64  `json:"amount_nano"`
	Target     string `json:"target"`
	// RequestID is the correlated audit request, when one was found.
	RequestID string `json:"request_id,omitempty"`
}

// Action is a human decision arriving back from the channel, tagged with
// the acting identity and originating conversation. The coordinator
// verifies the actor is the authorized recipient before acting on it.
type Action struct {
	ApprovalID   string `json:"approval_id"`
	Approve      bool   `json:"approve"`
	Actor        string `json:"actor"`
	Conversation string `json:"conversation"`
}

// Notifier delivers approval prompts to a recipient.
type Notifier interface {
	SendApprovalPrompt(ctx context.Context, recipient string, prompt Prompt) error
}

// WebhookNotifier posts prompts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// WithLogger overrides the default logger.
func (n *WebhookNotifier) WithLogger(logger *slog.Logger) *WebhookNotifier {
	n.logger = logger
	return n
}

type webhookPayload struct {
	Recipient string   `json:"recipient"`
	Prompt    Prompt   `json:"prompt"`
	Choices   []string `json:"choices"`
}

func (n *WebhookNotifier) SendApprovalPrompt(ctx context.Context, recipient string, prompt Prompt) error {
	body, err := json.Marshal(webhookPayload{
		Recipient: recipient,
		Prompt:    prompt,
		Choices:   []string{"approve", "reject"},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("approval prompt delivery failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("approval prompt delivery failed: status %d", resp.StatusCode)
	}
	n.logger.Info("approval prompt sent", "approval", prompt.ApprovalID, "recipient", recipient)
	return nil
}
