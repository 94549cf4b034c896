package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/tonsentry/tonsentry/pkg/approval"
	"github.com/tonsentry/tonsentry/pkg/auditlog"
	"github.com/tonsentry/tonsentry/pkg/faults"
	"github.com/tonsentry/tonsentry/pkg/notify"
)

// Tick runs one poll cycle: fetch recent transactions, detect new
// approval requests, persist them (with correlation and the updated
// seen-transaction set in one write), and prompt the human exactly once
// per newly created pending record.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.approvals.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("approval snapshot failed: %w", err)
	}

	batch, err := c.chain.RecentTransactions(ctx, c.cfg.ContractAddress, c.cfg.RecentTxLimit)
	if err != nil {
		return fmt.Errorf("transaction fetch failed: %w", err)
	}

	res := c.detector.Scan(batch, doc, doc.HasPending())
	if len(res.New) == 0 && len(res.Observed) == 0 {
		return nil
	}

	created, err := c.approvals.Ingest(ctx, c.cfg.ContractAddress, res.New, res.Observed)
	if err != nil {
		return fmt.Errorf("approval ingest failed: %w", err)
	}

	for _, rec := range created {
		c.metrics.RecordApprovalDetected(ctx)
		if c.notifier == nil {
			continue
		}
		prompt := notify.Prompt{
			ApprovalID: rec.ID,
			AmountNano: rec.AmountNano,
			Target:     rec.Target,
			RequestID:  rec.RequestID,
		}
		if err := c.notifier.SendApprovalPrompt(ctx, c.cfg.Owner, prompt); err != nil {
			// The record is already durable; the human can still act on
			// it through the API, so a lost prompt is logged, not fatal.
			c.logger.Error("approval prompt failed", "approval", rec.ID, "error", err)
		}
	}
	return nil
}

// Run drives the poll loop until ctx is canceled. Tick errors are
// logged and the loop continues on the next interval.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.logger.Info("poll loop started", "interval", c.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll loop stopped")
			return
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("poll tick failed", "error", err)
			}
		}
	}
}

// HandleAction applies a human decision from the messaging channel. The
// actor must be the configured owner and, when a conversation is
// configured, the action must originate from it; the record must still
// be pending.
// On approve the order is: chain submission, audit advance, approval
// resolve — so a crash after submission leaves the approval pending and
// detectable rather than silently lost.
func (c *Coordinator) HandleAction(ctx context.Context, action notify.Action) (*approval.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if action.Actor != c.cfg.Owner {
		return nil, fmt.Errorf("%w: %q is not the authorized approver", faults.ErrUnauthorized, action.Actor)
	}
	if c.cfg.Conversation != "" && action.Conversation != c.cfg.Conversation {
		return nil, fmt.Errorf("%w: action arrived outside the authorized conversation", faults.ErrUnauthorized)
	}

	rec, err := c.approvals.Get(ctx, action.ApprovalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != approval.StatusPending {
		return nil, fmt.Errorf("%w: approval %q is already %s", faults.ErrInvalidState, rec.ID, rec.Status)
	}

	if !action.Approve {
		c.advanceAudit(ctx, rec.RequestID, auditlog.StatusRejected)
		resolved, err := c.approvals.Resolve(ctx, rec.ID, approval.StatusRejected, action.Actor, approval.Resolution{})
		if err != nil {
			return nil, err
		}
		c.metrics.RecordApprovalResolved(ctx, string(approval.StatusRejected))
		return resolved, nil
	}

	if err := c.chain.SubmitPayment(ctx, c.wallet, c.cfg.ContractAddress, rec.AmountNano, rec.Target); err != nil {
		submitErr := fmt.Errorf("%w: %s", faults.ErrChainSubmissionFailed, err)
		c.advanceAudit(ctx, rec.RequestID, auditlog.StatusFailed)
		if _, resErr := c.approvals.Resolve(ctx, rec.ID, approval.StatusFailed, action.Actor,
			approval.Resolution{FailureDetail: err.Error()}); resErr != nil {
			c.logger.Error("failed-approval resolve failed", "approval", rec.ID, "error", resErr)
		}
		c.metrics.RecordApprovalResolved(ctx, string(approval.StatusFailed))
		return nil, submitErr
	}

	c.advanceAudit(ctx, rec.RequestID, auditlog.StatusApproved)
	resolved, err := c.approvals.Resolve(ctx, rec.ID, approval.StatusApproved, action.Actor,
		approval.Resolution{OwnerWallet: c.wallet.Address})
	if err != nil {
		return nil, err
	}
	c.metrics.RecordApprovalResolved(ctx, string(approval.StatusApproved))
	return resolved, nil
}

// advanceAudit moves the linked audit entry forward, best-effort. A
// missing link or unknown request is not an error for the decision path.
func (c *Coordinator) advanceAudit(ctx context.Context, requestID string, status auditlog.Status) {
	if requestID == "" {
		return
	}
	if err := c.audit.Advance(ctx, requestID, status); err != nil {
		c.logger.Error("audit advance failed", "request", requestID, "status", status, "error", err)
	}
}

// ReconcileStartup surfaces approvals left pending across a restart.
// Whether the underlying chain payment already executed cannot be
// decided from local state alone, so the operator is warned rather than
// the records auto-resolved.
func (c *Coordinator) ReconcileStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, err := c.approvals.Pending(ctx)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		c.logger.Warn("approval pending across restart; verify on-chain execution before approving",
			"approval", rec.ID, "amount_nano", rec.AmountNano, "target", rec.Target, "created_at", rec.CreatedAt)
	}
	return nil
}
