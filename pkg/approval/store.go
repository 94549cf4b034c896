package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tonsentry/tonsentry/pkg/detect"
	"github.com/tonsentry/tonsentry/pkg/faults"
)

// Resolution carries the extra detail recorded when a pending approval
// reaches a terminal state.
type Resolution struct {
	// OwnerWallet is the wallet identity that executed the approved
	// payment. Set on StatusApproved.
	OwnerWallet string
	// FailureDetail describes why execution failed. Set on StatusFailed.
	FailureDetail string
}

// Store applies lifecycle rules on top of a Storage backend.
type Store struct {
	storage    Storage
	correlator Correlator
	clock      func() time.Time
	logger     *slog.Logger
}

// NewStore creates a store. correlator may be nil, in which case new
// records are created without an audit back-link.
func NewStore(storage Storage, correlator Correlator) *Store {
	return &Store{
		storage:    storage,
		correlator: correlator,
		clock:      time.Now,
		logger:     slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithLogger overrides the default logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Snapshot loads the current document. The returned document doubles as
// the detector's seen-set view.
func (s *Store) Snapshot(ctx context.Context) (*Document, error) {
	doc, err := s.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = NewDocument()
	}
	if doc.Approvals == nil {
		doc.Approvals = make(map[string]*Record)
	}
	if doc.SeenTx == nil {
		doc.SeenTx = make(map[string]bool)
	}
	return doc, nil
}

// Ingest applies one poll cycle's scan result: it creates a pending
// record for every not-yet-known approval, correlates each with the
// audit trail, marks every observed transaction hash seen, and persists
// all of it in a single save. Already-known approval identifiers are
// skipped, which guards against re-notification across poll cycles.
// The returned records are the ones created by this call.
func (s *Store) Ingest(ctx context.Context, contract string, pendings []detect.PendingApproval, observed []string) ([]*Record, error) {
	doc, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var created []*Record
	for _, p := range pendings {
		if _, exists := doc.Approvals[p.ID]; exists {
			continue
		}
		rec := &Record{
			ID:         p.ID,
			AmountNano: p.AmountNano,
			Target:     p.Target,
			TxLT:       p.TxLT,
			TxHash:     p.TxHash,
			Status:     StatusPending,
			CreatedAt:  s.clock(),
		}
		if s.correlator != nil {
			requestID, ok, err := s.correlator.Claim(ctx, p.ID, contract, p.Target, p.AmountNano)
			if err != nil {
				return nil, err
			}
			if ok {
				rec.RequestID = requestID
			}
		}
		doc.Approvals[rec.ID] = rec
		created = append(created, rec)
		s.logger.Info("approval request recorded",
			"approval", rec.ID, "amount_nano", rec.AmountNano, "target", rec.Target, "request", rec.RequestID)
	}

	for _, hash := range observed {
		doc.SeenTx[hash] = true
	}

	if err := s.storage.Save(ctx, doc); err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	doc, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Approvals[id]
	if !ok {
		return nil, fmt.Errorf("%w: approval %q", faults.ErrNotFound, id)
	}
	return rec, nil
}

// Pending returns all pending records, oldest first.
func (s *Store) Pending(ctx context.Context) ([]*Record, error) {
	doc, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var pending []*Record
	for _, r := range doc.Approvals {
		if r.Status == StatusPending {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

// Resolve moves a pending record to a terminal state. Acting on a record
// that is not pending fails with the record's current status named, never
// silently.
func (s *Store) Resolve(ctx context.Context, id string, status Status, actor string, res Resolution) (*Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal approval status", faults.ErrInvalidArgument, status)
	}

	doc, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Approvals[id]
	if !ok {
		return nil, fmt.Errorf("%w: approval %q", faults.ErrNotFound, id)
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: approval %q is already %s", faults.ErrInvalidState, id, rec.Status)
	}

	now := s.clock()
	rec.Status = status
	rec.ResolvedAt = &now
	rec.ResolvedBy = actor
	rec.OwnerWallet = res.OwnerWallet
	rec.FailureDetail = res.FailureDetail

	if err := s.storage.Save(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("approval resolved", "approval", id, "status", status, "actor", actor)
	return rec, nil
}
