package auditlog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonsentry/tonsentry/pkg/auditlog"
	"github.com/tonsentry/tonsentry/pkg/faults"
)

type memoryStorage struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (s *memoryStorage) Load(ctx context.Context) ([]auditlog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auditlog.Entry(nil), s.entries...), nil
}

func (s *memoryStorage) Save(ctx context.Context, entries []auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]auditlog.Entry(nil), entries...)
	return nil
}

func newTestLog(now *time.Time) (*auditlog.Log, *memoryStorage) {
	storage := &memoryStorage{}
	return auditlog.New(storage).WithClock(func() time.Time { return *now }), storage
}

func TestRecordChainsEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	log, _ := newTestLog(&now)

	first, err := log.Record(ctx, "req-1", "EQcontract", "EQtarget", 100, auditlog.StatusSubmitted, false)
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PrevHash)

	now = now.Add(time.Second)
	second, err := log.Record(ctx, "req-2", "EQcontract", "EQtarget", 200, auditlog.StatusApprovalPending, true)
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, second.PrevHash)

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	assert.NoError(t, auditlog.VerifyChain(entries))
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	log, _ := newTestLog(&now)

	_, err := log.Record(ctx, "", "c", "t", 1, auditlog.StatusSubmitted, false)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)

	_, err = log.Record(ctx, "req-1", "c", "t", 1, auditlog.StatusApproved, false)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument, "terminal initial status must be rejected")
}

func TestClaimPrefersNewestUnconsumed(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	log, _ := newTestLog(&now)

	_, err := log.Record(ctx, "req-old", "EQcontract", "EQtarget", 500, auditlog.StatusSubmitted, true)
	require.NoError(t, err)
	now = now.Add(time.Minute)
	_, err = log.Record(ctx, "req-new", "EQcontract", "EQtarget", 500, auditlog.StatusSubmitted, true)
	require.NoError(t, err)

	requestID, ok, err := log.Claim(ctx, "appr-1", "EQcontract", "EQtarget", 500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "req-new", requestID, "the most recently created match is consumed first")

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		switch e.RequestID {
		case "req-new":
			assert.Equal(t, "appr-1", e.ConsumedBy)
			assert.Equal(t, auditlog.StatusApprovalPending, e.Status)
		case "req-old":
			assert.Empty(t, e.ConsumedBy, "the older entry stays unconsumed")
			assert.Equal(t, auditlog.StatusSubmitted, e.Status)
		}
	}

	// A second claim takes the remaining older entry.
	requestID, ok, err = log.Claim(ctx, "appr-2", "EQcontract", "EQtarget", 500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "req-old", requestID)
}

func TestClaimRequiresExactMatch(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	log, _ := newTestLog(&now)

	_, err := log.Record(ctx, "req-1", "EQcontract", "EQtarget", 500, auditlog.StatusSubmitted, true)
	require.NoError(t, err)

	_, ok, err := log.Claim(ctx, "appr-1", "EQcontract", "EQtarget", 501)
	require.NoError(t, err)
	assert.False(t, ok, "amount must match exactly")

	_, ok, err = log.Claim(ctx, "appr-1", "EQcontract", "EQother", 500)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	log, _ := newTestLog(&now)

	_, err := log.Record(ctx, "req-1", "c", "t", 1, auditlog.StatusSubmitted, false)
	require.NoError(t, err)

	require.NoError(t, log.Advance(ctx, "req-1", auditlog.StatusApproved))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, auditlog.StatusApproved, entries[0].Status)

	// Backward transition is refused.
	err = log.Advance(ctx, "req-1", auditlog.StatusSubmitted)
	assert.ErrorIs(t, err, faults.ErrInvalidState)

	// A terminal status is reached at most once; rewriting one terminal
	// status into another is refused too.
	err = log.Advance(ctx, "req-1", auditlog.StatusFailed)
	assert.ErrorIs(t, err, faults.ErrInvalidState)
	err = log.Advance(ctx, "req-1", auditlog.StatusRejected)
	assert.ErrorIs(t, err, faults.ErrInvalidState)

	entries, err = log.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, auditlog.StatusApproved, entries[0].Status, "refused transitions leave the entry unchanged")

	// Re-asserting the current terminal status stays a no-op success.
	assert.NoError(t, log.Advance(ctx, "req-1", auditlog.StatusApproved))

	// Unknown request is a silent no-op.
	assert.NoError(t, log.Advance(ctx, "req-unknown", auditlog.StatusFailed))

	// Unknown status is an argument error.
	assert.ErrorIs(t, log.Advance(ctx, "req-1", auditlog.Status("bogus")), faults.ErrInvalidArgument)
}
