// Package coordinator orchestrates supervised agent payments: it
// consults the facilitator, reserves envelope budget, submits to the
// guarded contract, keeps the audit trail, and drives the human approval
// workflow for over-limit spends. All mutation of persisted state is
// serialized through the coordinator's mutex; reads that feed decisions
// always go back to the durable store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonsentry/tonsentry/pkg/approval"
	"github.com/tonsentry/tonsentry/pkg/auditlog"
	"github.com/tonsentry/tonsentry/pkg/chain"
	"github.com/tonsentry/tonsentry/pkg/detect"
	"github.com/tonsentry/tonsentry/pkg/envelope"
	"github.com/tonsentry/tonsentry/pkg/facilitator"
	"github.com/tonsentry/tonsentry/pkg/faults"
	"github.com/tonsentry/tonsentry/pkg/notify"
	"github.com/tonsentry/tonsentry/pkg/observability"
	"github.com/tonsentry/tonsentry/pkg/ratelimit"
)

// Decider is the facilitator surface the coordinator needs.
type Decider interface {
	Decide(ctx context.Context, req facilitator.Request) (*facilitator.Decision, error)
}

// Config holds the coordinator's operating parameters.
type Config struct {
	ContractAddress string
	// Owner is the only identity authorized to resolve approvals.
	Owner string
	// Conversation, when set, is the only messaging conversation whose
	// actions are accepted; empty skips the check for channels that do
	// not carry a conversation identity.
	Conversation string
	// PollInterval is the approval poll cadence.
	PollInterval time.Duration
	// RecentTxLimit bounds each poll's transaction fetch.
	RecentTxLimit int
	// FacilitatorFailOpen proceeds with the original request when the
	// facilitator is unavailable; when false the payment fails instead.
	FacilitatorFailOpen bool
}

// PaymentResult reports a completed submission.
type PaymentResult struct {
	RequestID          string
	Target             string
	AmountNano         int64
	EscalationExpected bool
	FacilitatorNote    string
}

// Coordinator wires the components together.
type Coordinator struct {
	mu sync.Mutex

	cfg       Config
	chain     chain.Client
	wallet    chain.Wallet
	ledger    *envelope.Ledger
	approvals *approval.Store
	audit     *auditlog.Log
	decider   Decider
	notifier  notify.Notifier
	detector  *detect.Detector
	limiter   ratelimit.Limiter
	metrics   *observability.Provider

	clock  func() time.Time
	logger *slog.Logger
}

// New creates a coordinator. decider, notifier, limiter, and metrics may
// be nil; absent collaborators degrade to no participation, no prompts,
// no throttling, and no metrics respectively.
func New(cfg Config, chainClient chain.Client, wallet chain.Wallet,
	ledger *envelope.Ledger, approvals *approval.Store, audit *auditlog.Log,
	decider Decider, notifier notify.Notifier) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.RecentTxLimit <= 0 {
		cfg.RecentTxLimit = 50
	}
	return &Coordinator{
		cfg:       cfg,
		chain:     chainClient,
		wallet:    wallet,
		ledger:    ledger,
		approvals: approvals,
		audit:     audit,
		decider:   decider,
		notifier:  notifier,
		detector:  detect.NewDetector(),
		limiter:   ratelimit.NoopLimiter{},
		clock:     time.Now,
		logger:    slog.Default(),
	}
}

// WithDetector overrides the default detector.
func (c *Coordinator) WithDetector(d *detect.Detector) *Coordinator {
	c.detector = d
	return c
}

// WithLimiter installs a per-agent submission rate limiter.
func (c *Coordinator) WithLimiter(l ratelimit.Limiter) *Coordinator {
	c.limiter = l
	return c
}

// WithMetrics installs the observability provider.
func (c *Coordinator) WithMetrics(m *observability.Provider) *Coordinator {
	c.metrics = m
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// WithLogger overrides the default logger.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	c.logger = logger
	return c
}

// Pay executes a direct payment on behalf of agentID.
func (c *Coordinator) Pay(ctx context.Context, agentID, target string, amountNano int64, callCtx map[string]any) (*PaymentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pay(ctx, agentID, target, amountNano, callCtx)
}

// PayFromEnvelope executes a payment backed by a shared envelope budget.
// The reservation happens before the chain call and is rolled back on
// any submission failure, so the shared budget never stays decremented
// for a payment that did not execute.
func (c *Coordinator) PayFromEnvelope(ctx context.Context, envelopeID, agentID, target string, amountNano int64, callCtx map[string]any) (*PaymentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amountNano <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", faults.ErrInvalidArgument, amountNano)
	}
	if err := c.allowSubmission(ctx, agentID); err != nil {
		return nil, err
	}

	req, decision, err := c.consultFacilitator(ctx, agentID, target, amountNano, callCtx)
	if err != nil {
		return nil, err
	}
	finalTarget, finalAmount := req.Target, req.AmountNano
	note := ""
	if decision != nil {
		finalTarget, finalAmount = decision.Target, decision.AmountNano
		note = decision.Note
	}

	if _, err := c.ledger.Reserve(ctx, envelopeID, agentID, finalAmount); err != nil {
		return nil, err
	}

	result, err := c.submitAndRecord(ctx, req.RequestID, finalTarget, finalAmount, note)
	if err != nil {
		if rbErr := c.ledger.Rollback(ctx, envelopeID, finalAmount); rbErr != nil {
			c.logger.Error("rollback after failed submission failed",
				"envelope", envelopeID, "amount_nano", finalAmount, "error", rbErr)
		}
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) pay(ctx context.Context, agentID, target string, amountNano int64, callCtx map[string]any) (*PaymentResult, error) {
	if amountNano <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", faults.ErrInvalidArgument, amountNano)
	}
	if err := c.allowSubmission(ctx, agentID); err != nil {
		return nil, err
	}

	req, decision, err := c.consultFacilitator(ctx, agentID, target, amountNano, callCtx)
	if err != nil {
		return nil, err
	}
	finalTarget, finalAmount := req.Target, req.AmountNano
	note := ""
	if decision != nil {
		finalTarget, finalAmount = decision.Target, decision.AmountNano
		note = decision.Note
	}

	return c.submitAndRecord(ctx, req.RequestID, finalTarget, finalAmount, note)
}

// consultFacilitator builds the request and applies the facilitator's
// decision, honoring the fail-open policy on unavailability.
func (c *Coordinator) consultFacilitator(ctx context.Context, agentID, target string, amountNano int64, callCtx map[string]any) (facilitator.Request, *facilitator.Decision, error) {
	req := facilitator.Request{
		RequestID:       uuid.New().String(),
		ContractAddress: c.cfg.ContractAddress,
		Target:          target,
		AmountNano:      amountNano,
		Context:         callCtx,
	}
	if c.decider == nil {
		return req, nil, nil
	}

	decision, err := c.decider.Decide(ctx, req)
	if err != nil {
		// An explicit rejection is an authoritative decision; fail-open
		// forgives outages, never a "no".
		if c.cfg.FacilitatorFailOpen && errors.Is(err, faults.ErrFacilitatorUnavailable) &&
			!errors.Is(err, facilitator.ErrRejected) {
			c.logger.Warn("facilitator unavailable, proceeding fail-open",
				"request", req.RequestID, "agent", agentID, "error", err)
			return req, nil, nil
		}
		return req, nil, err
	}
	if decision != nil && decision.AmountNano <= 0 {
		return req, nil, fmt.Errorf("%w: override amount %d is not a positive nanoton value",
			faults.ErrFacilitatorUnavailable, decision.AmountNano)
	}
	return req, decision, nil
}

func (c *Coordinator) allowSubmission(ctx context.Context, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is empty", faults.ErrInvalidArgument)
	}
	allowed, err := c.limiter.Allow(ctx, agentID)
	if err != nil {
		return fmt.Errorf("submission rate check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: submission rate limit reached for agent %q", faults.ErrBudgetExceeded, agentID)
	}
	return nil
}

// submitAndRecord submits the payment and writes the audit entry, tagged
// approval_pending when the amount exceeds the contract's currently
// reported remaining allowance.
func (c *Coordinator) submitAndRecord(ctx context.Context, requestID, target string, amountNano int64, note string) (*PaymentResult, error) {
	remaining, err := c.chain.RemainingAllowance(ctx, c.cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: allowance read failed: %s", faults.ErrChainSubmissionFailed, err)
	}
	escalationExpected := amountNano > remaining

	if err := c.chain.SubmitPayment(ctx, c.wallet, c.cfg.ContractAddress, amountNano, target); err != nil {
		return nil, fmt.Errorf("%w: %s", faults.ErrChainSubmissionFailed, err)
	}

	status := auditlog.StatusSubmitted
	if escalationExpected {
		status = auditlog.StatusApprovalPending
	}
	if _, err := c.audit.Record(ctx, requestID, c.cfg.ContractAddress, target, amountNano, status, escalationExpected); err != nil {
		// The payment went through; a failed audit write must not be
		// reported as a failed payment.
		c.logger.Error("audit record write failed", "request", requestID, "error", err)
	}

	c.metrics.RecordPayment(ctx, escalationExpected)
	c.logger.Info("payment submitted",
		"request", requestID, "target", target, "amount_nano", amountNano,
		"escalation_expected", escalationExpected, "note", note)

	return &PaymentResult{
		RequestID:          requestID,
		Target:             target,
		AmountNano:         amountNano,
		EscalationExpected: escalationExpected,
		FacilitatorNote:    note,
	}, nil
}
