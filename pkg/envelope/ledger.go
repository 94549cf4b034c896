package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonsentry/tonsentry/pkg/faults"
)

// Ledger applies the windowed-budget rules on top of a Storage backend.
// It is the only writer of envelope state; every read that feeds a
// decision goes back to storage rather than a cached copy.
type Ledger struct {
	storage Storage
	clock   func() time.Time
	logger  *slog.Logger
}

// NewLedger creates a ledger over the given storage.
func NewLedger(s Storage) *Ledger {
	return &Ledger{
		storage: s,
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithLogger overrides the default logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

// Create registers a new envelope with an empty spend and a window
// starting now.
func (l *Ledger) Create(ctx context.Context, id string, totalNano, windowSeconds int64) (*Envelope, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: envelope id is empty", faults.ErrInvalidArgument)
	}
	if totalNano <= 0 {
		return nil, fmt.Errorf("%w: total budget must be positive, got %d", faults.ErrInvalidArgument, totalNano)
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %ds", faults.ErrInvalidArgument, windowSeconds)
	}

	existing, err := l.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: envelope %q already exists", faults.ErrInvalidArgument, id)
	}

	now := l.clock()
	env := &Envelope{
		ID:            id,
		TotalNano:     totalNano,
		SpentNano:     0,
		WindowSeconds: windowSeconds,
		WindowStart:   now,
		CreatedAt:     now,
	}
	if err := l.storage.Set(ctx, env); err != nil {
		return nil, err
	}
	l.logger.Info("envelope created", "envelope", id, "total_nano", totalNano, "window_seconds", windowSeconds)
	return env, nil
}

// AssignAgent authorizes an agent on the envelope. Assigning an agent
// that is already authorized is a no-op.
func (l *Ledger) AssignAgent(ctx context.Context, id, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is empty", faults.ErrInvalidArgument)
	}
	env, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if env.HasAgent(agentID) {
		return nil
	}
	env.Agents = append(env.Agents, agentID)
	return l.storage.Set(ctx, env)
}

// Allowance applies the lazy window-reset rule, persists any reset, and
// returns the envelope together with the remaining budget.
func (l *Ledger) Allowance(ctx context.Context, id string) (*Envelope, int64, error) {
	env, err := l.get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if err := l.resetIfExpired(ctx, env); err != nil {
		return nil, 0, err
	}
	return env, env.Remaining(), nil
}

// Reserve provisionally debits amountNano from the envelope for agentID.
// The debit is atomic with respect to other ledger operations on the same
// storage, and must happen before the downstream chain submission so the
// shared budget is never overcommitted.
func (l *Ledger) Reserve(ctx context.Context, id, agentID string, amountNano int64) (int64, error) {
	if amountNano <= 0 {
		return 0, fmt.Errorf("%w: reserve amount must be positive, got %d", faults.ErrInvalidArgument, amountNano)
	}
	env, err := l.get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !env.HasAgent(agentID) {
		return 0, fmt.Errorf("%w: agent %q is not assigned to envelope %q", faults.ErrUnauthorized, agentID, id)
	}
	if err := l.resetIfExpired(ctx, env); err != nil {
		return 0, err
	}
	if amountNano > env.Remaining() {
		return 0, fmt.Errorf("%w: %d exceeds remaining %d on envelope %q",
			faults.ErrBudgetExceeded, amountNano, env.Remaining(), id)
	}

	env.SpentNano += amountNano
	if err := l.storage.Set(ctx, env); err != nil {
		return 0, err
	}
	l.logger.Info("budget reserved",
		"envelope", id, "agent", agentID, "amount_nano", amountNano, "remaining_nano", env.Remaining())
	return env.Remaining(), nil
}

// Rollback reverses a prior reservation after a failed downstream
// submission, restoring the remaining budget.
func (l *Ledger) Rollback(ctx context.Context, id string, amountNano int64) error {
	if amountNano <= 0 {
		return fmt.Errorf("%w: rollback amount must be positive, got %d", faults.ErrInvalidArgument, amountNano)
	}
	env, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if amountNano > env.SpentNano {
		return fmt.Errorf("%w: rollback of %d exceeds spent %d on envelope %q",
			faults.ErrInvariantViolation, amountNano, env.SpentNano, id)
	}
	env.SpentNano -= amountNano
	if err := l.storage.Set(ctx, env); err != nil {
		return err
	}
	l.logger.Info("reservation rolled back", "envelope", id, "amount_nano", amountNano)
	return nil
}

func (l *Ledger) get(ctx context.Context, id string) (*Envelope, error) {
	env, err := l.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("%w: envelope %q", faults.ErrNotFound, id)
	}
	return env, nil
}

// resetIfExpired zeroes the spend and restarts the window when the
// current window has elapsed, persisting the reset.
func (l *Ledger) resetIfExpired(ctx context.Context, env *Envelope) error {
	now := l.clock()
	if !env.windowExpired(now) {
		return nil
	}
	env.SpentNano = 0
	env.WindowStart = now
	l.logger.Info("envelope window reset", "envelope", env.ID, "window_start", now)
	return l.storage.Set(ctx, env)
}
