// Package envelope provides shared, time-windowed spending budgets for
// groups of agents, with pessimistic reservation and rollback. The ledger
// fails closed: a reservation that cannot be proven to fit the remaining
// window budget is denied.
package envelope

import (
	"context"
	"time"
)

// Envelope is a shared budget usable by one or more authorized agents.
// All amounts are in nanotons (the smallest currency unit).
type Envelope struct {
	ID            string    `json:"id"`
	TotalNano     int64     `json:"total_nano"`
	SpentNano     int64     `json:"spent_nano"`
	WindowSeconds int64     `json:"window_seconds"`
	WindowStart   time.Time `json:"window_start"`
	CreatedAt     time.Time `json:"created_at"`
	Agents        []string  `json:"agents"`
}

// Remaining returns the unreserved budget for the current window.
func (e *Envelope) Remaining() int64 {
	remaining := e.TotalNano - e.SpentNano
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasAgent reports whether agentID is authorized on this envelope.
func (e *Envelope) HasAgent(agentID string) bool {
	for _, a := range e.Agents {
		if a == agentID {
			return true
		}
	}
	return false
}

// windowExpired reports whether the current window has elapsed at now.
func (e *Envelope) windowExpired(now time.Time) bool {
	return !now.Before(e.WindowStart.Add(time.Duration(e.WindowSeconds) * time.Second))
}

// Storage handles persistence of envelope state. Implementations must
// return a copy from Get so callers cannot mutate stored state outside
// the ledger's control.
type Storage interface {
	Get(ctx context.Context, id string) (*Envelope, error)
	Set(ctx context.Context, env *Envelope) error
}
