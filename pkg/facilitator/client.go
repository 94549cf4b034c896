// Package facilitator calls the external pricing/authorization service
// that may approve, reprice, or reject a payment request before it is
// submitted on chain. Participation is optional: with no service URL
// configured the client declines to decide and the caller proceeds with
// its original request.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonsentry/tonsentry/pkg/faults"
)

// Config holds the facilitator endpoint and retry policy.
type Config struct {
	URL           string
	Network       string
	Timeout       time.Duration // per-attempt
	RetryAttempts int           // additional attempts after the first
	BackoffMs     int           // backoff between attempts is attempt * BackoffMs
}

// Request is the payment the facilitator is asked to decide on.
type Request struct {
	RequestID       string
	ContractAddress string
	Target          string
	AmountNano      int64
	Context         map[string]any
}

// Decision is the facilitator's authoritative answer. Target and
// AmountNano already include any overrides, falling back to the
// caller's original values where the response left them out.
type Decision struct {
	Target     string
	AmountNano int64
	Reference  string
	Note       string
}

type wireRequest struct {
	RequestID       string         `json:"requestId"`
	Network         string         `json:"network"`
	ContractAddress string         `json:"contractAddress"`
	TargetAddress   string         `json:"targetAddress"`
	AmountInTon     string         `json:"amountInTon"`
	Context         map[string]any `json:"context,omitempty"`
}

type wireResponse struct {
	Accepted      bool    `json:"accepted"`
	Reason        *string `json:"reason"`
	TargetAddress *string `json:"targetAddress"`
	AmountInTon   *string `json:"amountInTon"`
	Reference     *string `json:"reference"`
	Note          *string `json:"note"`
}

// ErrRejected marks an explicit facilitator rejection inside the
// ErrFacilitatorUnavailable wrap chain, so callers applying a fail-open
// policy can still distinguish an authoritative "no" from an outage.
var ErrRejected = errors.New("facilitator rejected")

// fatalError marks failures that must not be retried: an authoritative
// rejection or a structurally malformed success response.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Client calls the facilitator with bounded retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      func(time.Duration)
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffMs <= 0 {
		cfg.BackoffMs = 500
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sleep:      time.Sleep,
		logger:     slog.Default(),
	}
}

// WithSleep overrides the backoff sleeper for deterministic testing.
func (c *Client) WithSleep(sleep func(time.Duration)) *Client {
	c.sleep = sleep
	return c
}

// WithLogger overrides the default logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Decide asks the facilitator about req. A nil decision with a nil error
// means no facilitator is configured. Transient faults (network errors,
// timeouts, non-success statuses) are retried with linear backoff; an
// explicit rejection or a malformed response is fatal on first sight.
// Exhausted retries surface as ErrFacilitatorUnavailable wrapping the
// last failure.
func (c *Client) Decide(ctx context.Context, req Request) (*Decision, error) {
	if c.cfg.URL == "" {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*c.cfg.BackoffMs) * time.Millisecond
			c.logger.Warn("facilitator retry",
				"request", req.RequestID, "attempt", attempt, "backoff", backoff, "error", lastErr)
			c.sleep(backoff)
		}

		decision, err := c.attempt(ctx, req)
		if err == nil {
			return decision, nil
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return nil, fmt.Errorf("%w: %w", faults.ErrFacilitatorUnavailable, fatal.err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: retries exhausted: %s", faults.ErrFacilitatorUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request) (*Decision, error) {
	body := wireRequest{
		RequestID:       req.RequestID,
		Network:         c.cfg.Network,
		ContractAddress: req.ContractAddress,
		TargetAddress:   req.Target,
		AmountInTon:     FormatTON(req.AmountNano),
		Context:         req.Context,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &fatalError{fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, &fatalError{fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("facilitator status %d", resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		// Wrong field types are a contract violation, not a transient
		// fault; coercing them would launder a bad decision.
		return nil, &fatalError{fmt.Errorf("malformed facilitator response: %w", err)}
	}

	if !wire.Accepted {
		reason := "no reason given"
		if wire.Reason != nil && *wire.Reason != "" {
			reason = *wire.Reason
		}
		return nil, &fatalError{fmt.Errorf("%w: %s", ErrRejected, reason)}
	}

	decision := &Decision{Target: req.Target, AmountNano: req.AmountNano}
	if wire.TargetAddress != nil && *wire.TargetAddress != "" {
		decision.Target = *wire.TargetAddress
	}
	if wire.AmountInTon != nil && *wire.AmountInTon != "" {
		amountNano, err := ParseTON(*wire.AmountInTon)
		if err != nil {
			return nil, &fatalError{fmt.Errorf("malformed facilitator response: %w", err)}
		}
		decision.AmountNano = amountNano
	}
	if wire.Reference != nil {
		decision.Reference = *wire.Reference
	}
	if wire.Note != nil {
		decision.Note = *wire.Note
	}
	return decision, nil
}
