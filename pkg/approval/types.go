// Package approval is the durable state machine for human-in-the-loop
// approvals. A record is created pending when an on-chain approval
// request is first observed and moves exactly once to approved, rejected,
// or failed; terminal states are never reverted. The records and the
// seen-transaction deduplication set persist as a single document, so a
// crash between notifying a human and recording the decision cannot lose
// one side without the other.
package approval

import (
	"context"
	"time"
)

// Status is the lifecycle state of an approval record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFailed
}

// Record is the durable lifecycle entry for one approval request.
type Record struct {
	ID         string `json:"id"`
	AmountNano int64  `json:"amount_nano"`
	Target     string `json:"target"`
	TxLT       uint64 `json:"tx_lt"`
	TxHash     string `json:"tx_hash"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// RequestID links back to the audit entry this approval consumed,
	// when correlation found one.
	RequestID string `json:"request_id,omitempty"`

	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	OwnerWallet   string     `json:"owner_wallet,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
}

// Document is the unit of persistence: every approval record plus the
// seen-transaction set, saved atomically.
type Document struct {
	Approvals map[string]*Record `json:"approvals"`
	SeenTx    map[string]bool    `json:"seen_tx"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Approvals: make(map[string]*Record),
		SeenTx:    make(map[string]bool),
	}
}

// Contains implements the detector's seen-set view.
func (d *Document) Contains(hash string) bool { return d.SeenTx[hash] }

// Size implements the detector's seen-set view.
func (d *Document) Size() int { return len(d.SeenTx) }

// HasPending reports whether any record is still pending.
func (d *Document) HasPending() bool {
	for _, r := range d.Approvals {
		if r.Status == StatusPending {
			return true
		}
	}
	return false
}

// Storage persists the approval document as a whole.
type Storage interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// Correlator links a newly created approval record to the audit entry
// for the payment request that produced it.
type Correlator interface {
	Claim(ctx context.Context, approvalID, contract, target string, amountNano int64) (requestID string, ok bool, err error)
}
