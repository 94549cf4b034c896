// Package detect turns the raw transaction stream of the guarded contract
// into the set of approval-request events that have not been seen before.
// Deduplication is by transaction content hash; every observed hash is
// marked seen whether or not it carried an approval request, so the seen
// set grows by at most one entry per transaction and no transaction is
// re-scanned.
package detect

import (
	"fmt"
	"log/slog"

	"github.com/tonsentry/tonsentry/pkg/chain"
)

// PendingApproval is a newly detected approval-request event, not yet
// persisted as a lifecycle record.
type PendingApproval struct {
	ID         string `json:"id"`
	AmountNano int64  `json:"amount_nano"`
	Target     string `json:"target"`
	TxLT       uint64 `json:"tx_lt"`
	TxHash     string `json:"tx_hash"`
}

// ApprovalID derives the deterministic identifier for the approval
// request carried by a transaction. The same on-chain event always maps
// to the same identifier, across poll cycles and restarts.
func ApprovalID(lt uint64, hash string) string {
	prefix := hash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%d_%s", lt, prefix)
}

// SeenSet is the read side of the deduplication ledger. The detector
// never writes it; the caller persists the hashes reported by Scan.
type SeenSet interface {
	Contains(hash string) bool
	Size() int
}

// Result is the outcome of one poll-cycle scan.
type Result struct {
	// New holds pending approvals for transactions observed for the
	// first time, in the order the batch presented them.
	New []PendingApproval
	// Observed holds every transaction hash in the batch that was not
	// already seen; the caller must persist all of them.
	Observed []string
	// Bootstrapped reports whether this scan performed first-run
	// bootstrap, in which case New is empty by construction.
	Bootstrapped bool
}

// Detector scans transaction batches for approval requests.
type Detector struct {
	logger *slog.Logger
}

func NewDetector() *Detector {
	return &Detector{logger: slog.Default()}
}

// WithLogger overrides the default logger.
func (d *Detector) WithLogger(logger *slog.Logger) *Detector {
	d.logger = logger
	return d
}

// Scan inspects a batch of transactions, most recent first, and returns
// the not-yet-seen approval requests plus the hashes to mark seen.
//
// hasPending reports whether any pending approval records already exist;
// a completely fresh process (empty seen set, nothing pending) bootstraps
// by marking the fetched batch seen without notifying, so events that
// predate the coordinator's runtime do not flood the human channel.
func (d *Detector) Scan(batch []chain.Transaction, seen SeenSet, hasPending bool) Result {
	if seen.Size() == 0 && !hasPending {
		return d.bootstrap(batch)
	}

	var res Result
	for _, tx := range batch {
		if seen.Contains(tx.Hash) {
			continue
		}
		res.Observed = append(res.Observed, tx.Hash)
		if pending, ok := extractApproval(tx); ok {
			res.New = append(res.New, pending)
		}
	}
	return res
}

// bootstrap marks the whole fetched batch seen. The poll's fetch limit
// already bounds the batch, so marking every transaction keeps the next
// tick from rediscovering pre-runtime history as new events.
func (d *Detector) bootstrap(batch []chain.Transaction) Result {
	res := Result{Bootstrapped: true}
	for _, tx := range batch {
		res.Observed = append(res.Observed, tx.Hash)
	}
	d.logger.Info("bootstrapped seen-transaction set", "marked", len(res.Observed))
	return res
}

// extractApproval returns the first parseable approval request among the
// transaction's outbound messages.
func extractApproval(tx chain.Transaction) (PendingApproval, bool) {
	for _, msg := range tx.OutMessages {
		req, ok := chain.DecodeApprovalRequest(msg.Payload)
		if !ok {
			continue
		}
		return PendingApproval{
			ID:         ApprovalID(tx.LT, tx.Hash),
			AmountNano: req.AmountNano,
			Target:     req.Target,
			TxLT:       tx.LT,
			TxHash:     tx.Hash,
		}, true
	}
	return PendingApproval{}, false
}
