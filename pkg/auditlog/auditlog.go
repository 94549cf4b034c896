// Package auditlog keeps the payment request trail and correlates
// detected on-chain approval requests back to the request that produced
// them. The trail is best-effort: advancing an unknown request is a
// no-op, never a blocking failure for payment execution.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/tonsentry/tonsentry/pkg/faults"
)

// Status is the lifecycle state of an audit entry. Transitions only
// advance forward: submitted|approval_pending -> approved|rejected|failed.
type Status string

const (
	StatusSubmitted       Status = "submitted"
	StatusApprovalPending Status = "approval_pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
)

// statusRank orders statuses for forward-only enforcement; terminalRank
// marks the three terminal statuses, reached at most once.
const terminalRank = 2

var statusRank = map[Status]int{
	StatusSubmitted:       0,
	StatusApprovalPending: 1,
	StatusApproved:        terminalRank,
	StatusRejected:        terminalRank,
	StatusFailed:          terminalRank,
}

// Entry is one durable audit record for a payment request.
type Entry struct {
	RequestID          string    `json:"request_id"`
	ContractAddress    string    `json:"contract_address"`
	Target             string    `json:"target"`
	AmountNano         int64     `json:"amount_nano"`
	Status             Status    `json:"status"`
	EscalationExpected bool      `json:"escalation_expected"`
	ConsumedBy         string    `json:"consumed_by,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Hash chain over the immutable creation fields. Status updates do
	// not re-hash; the chain proves the sequence of requests, not their
	// later transitions.
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Storage persists the audit trail as a whole document.
type Storage interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Log records and correlates audit entries.
type Log struct {
	storage Storage
	clock   func() time.Time
	logger  *slog.Logger
}

func New(storage Storage) *Log {
	return &Log{
		storage: storage,
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// WithLogger overrides the default logger.
func (l *Log) WithLogger(logger *slog.Logger) *Log {
	l.logger = logger
	return l
}

// Record appends a new entry for a submitted payment request.
func (l *Log) Record(ctx context.Context, requestID, contract, target string, amountNano int64, status Status, escalationExpected bool) (*Entry, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is empty", faults.ErrInvalidArgument)
	}
	if status != StatusSubmitted && status != StatusApprovalPending {
		return nil, fmt.Errorf("%w: initial audit status must be submitted or approval_pending, got %q",
			faults.ErrInvalidArgument, status)
	}

	entries, err := l.storage.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	entry := Entry{
		RequestID:          requestID,
		ContractAddress:    contract,
		Target:             target,
		AmountNano:         amountNano,
		Status:             status,
		EscalationExpected: escalationExpected,
		CreatedAt:          now,
		UpdatedAt:          now,
		PrevHash:           chainHead(entries),
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	entries = append(entries, entry)
	if err := l.storage.Save(ctx, entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Claim scans for the newest unconsumed entry matching the approval's
// contract, target, and exact amount, marks it approval_pending with a
// back-link to the approval, and returns its request identifier. The
// match is heuristic: the chain payload carries no client request id, so
// two concurrent identical requests are indistinguishable here.
func (l *Log) Claim(ctx context.Context, approvalID, contract, target string, amountNano int64) (string, bool, error) {
	entries, err := l.storage.Load(ctx)
	if err != nil {
		return "", false, err
	}

	best := -1
	for i, e := range entries {
		if e.ConsumedBy != "" {
			continue
		}
		if e.ContractAddress != contract || e.Target != target || e.AmountNano != amountNano {
			continue
		}
		if best == -1 || e.CreatedAt.After(entries[best].CreatedAt) {
			best = i
		}
	}
	if best == -1 {
		return "", false, nil
	}

	entries[best].ConsumedBy = approvalID
	entries[best].Status = StatusApprovalPending
	entries[best].UpdatedAt = l.clock()
	if err := l.storage.Save(ctx, entries); err != nil {
		return "", false, err
	}
	l.logger.Info("audit entry claimed",
		"request", entries[best].RequestID, "approval", approvalID, "amount_nano", amountNano)
	return entries[best].RequestID, true, nil
}

// Advance moves the entry for requestID forward to status. An unknown
// request identifier is a silent no-op; a backward transition is refused.
func (l *Log) Advance(ctx context.Context, requestID string, status Status) error {
	if _, ok := statusRank[status]; !ok {
		return fmt.Errorf("%w: unknown audit status %q", faults.ErrInvalidArgument, status)
	}

	entries, err := l.storage.Load(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].RequestID != requestID {
			continue
		}
		current := entries[i].Status
		if statusRank[status] < statusRank[current] {
			return fmt.Errorf("%w: audit status cannot move from %q back to %q",
				faults.ErrInvalidState, current, status)
		}
		// Terminal statuses share a rank; a rewrite between them is just
		// as backward as a downgrade.
		if statusRank[current] == terminalRank && status != current {
			return fmt.Errorf("%w: audit status %q is terminal and cannot become %q",
				faults.ErrInvalidState, current, status)
		}
		entries[i].Status = status
		entries[i].UpdatedAt = l.clock()
		return l.storage.Save(ctx, entries)
	}

	l.logger.Debug("audit advance skipped: unknown request", "request", requestID, "status", status)
	return nil
}

// Entries returns a copy of the full trail.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	return l.storage.Load(ctx)
}

func chainHead(entries []Entry) string {
	if len(entries) == 0 {
		return "genesis"
	}
	return entries[len(entries)-1].EntryHash
}

// entryHash hashes the immutable creation fields over canonicalized JSON
// so the chain is stable across field ordering and re-serialization.
func entryHash(e Entry) (string, error) {
	hashable := struct {
		RequestID       string    `json:"request_id"`
		ContractAddress string    `json:"contract_address"`
		Target          string    `json:"target"`
		AmountNano      int64     `json:"amount_nano"`
		CreatedAt       time.Time `json:"created_at"`
		PrevHash        string    `json:"prev_hash"`
	}{e.RequestID, e.ContractAddress, e.Target, e.AmountNano, e.CreatedAt, e.PrevHash}

	data, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("audit entry canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyChain walks the trail and reports the first break in the hash
// chain, if any.
func VerifyChain(entries []Entry) error {
	prev := "genesis"
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d prev_hash mismatch", faults.ErrInvariantViolation, i)
		}
		hash, err := entryHash(e)
		if err != nil {
			return err
		}
		if hash != e.EntryHash {
			return fmt.Errorf("%w: entry %d content hash mismatch", faults.ErrInvariantViolation, i)
		}
		prev = e.EntryHash
	}
	return nil
}
