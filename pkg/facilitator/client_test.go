package facilitator_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonsentry/tonsentry/pkg/facilitator"
	"github.com/tonsentry/tonsentry/pkg/faults"
)

func testRequest() facilitator.Request {
	return facilitator.Request{
		RequestID:       "req-1",
		ContractAddress: "EQcontract",
		Target:          "EQtarget",
		AmountNano:      400_000_000,
		Context:         map[string]any{"agent": "a"},
	}
}

func newTestClient(url string, retries int) *facilitator.Client {
	return facilitator.NewClient(facilitator.Config{
		URL:           url,
		Network:       "ton-mainnet",
		Timeout:       time.Second,
		RetryAttempts: retries,
		BackoffMs:     1,
	}).WithSleep(func(time.Duration) {})
}

func TestDecideWithoutURL(t *testing.T) {
	client := facilitator.NewClient(facilitator.Config{})
	decision, err := client.Decide(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.Nil(t, decision, "no configured facilitator means no participation")
}

func TestDecideRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	decision, err := newTestClient(srv.URL, 1).Decide(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, int32(2), calls.Load(), "one failure plus one retry is exactly two calls")
	assert.Equal(t, "EQtarget", decision.Target, "absent override falls back to the original target")
	assert.Equal(t, int64(400_000_000), decision.AmountNano)
}

func TestDecideExplicitRejectionIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"accepted":false,"reason":"X"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Decide(context.Background(), testRequest())
	assert.ErrorIs(t, err, faults.ErrFacilitatorUnavailable)
	assert.ErrorIs(t, err, facilitator.ErrRejected)
	assert.ErrorContains(t, err, "X")
	assert.Equal(t, int32(1), calls.Load(), "an authoritative rejection is never retried")
}

func TestDecideMalformedResponseIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"accepted":"yes"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Decide(context.Background(), testRequest())
	assert.ErrorIs(t, err, faults.ErrFacilitatorUnavailable)
	assert.ErrorContains(t, err, "malformed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecideExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Decide(context.Background(), testRequest())
	assert.ErrorIs(t, err, faults.ErrFacilitatorUnavailable)
	assert.ErrorContains(t, err, "status 500")
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestDecideAppliesOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accepted":true,"targetAddress":"EQother","amountInTon":"0.25","reference":"inv-7","note":"discounted"}`))
	}))
	defer srv.Close()

	decision, err := newTestClient(srv.URL, 0).Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "EQother", decision.Target)
	assert.Equal(t, int64(250_000_000), decision.AmountNano)
	assert.Equal(t, "inv-7", decision.Reference)
	assert.Equal(t, "discounted", decision.Note)
}

func TestDecideMalformedOverrideAmountIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accepted":true,"amountInTon":"lots"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Decide(context.Background(), testRequest())
	assert.ErrorIs(t, err, faults.ErrFacilitatorUnavailable)
	assert.ErrorContains(t, err, "malformed")
}

func TestFormatTON(t *testing.T) {
	assert.Equal(t, "0.4", facilitator.FormatTON(400_000_000))
	assert.Equal(t, "1", facilitator.FormatTON(1_000_000_000))
	assert.Equal(t, "2.000000001", facilitator.FormatTON(2_000_000_001))
	assert.Equal(t, "0", facilitator.FormatTON(0))
}

func TestParseTON(t *testing.T) {
	for input, want := range map[string]int64{
		"0.4":         400_000_000,
		"1":           1_000_000_000,
		"2.000000001": 2_000_000_001,
		"0":           0,
		// The largest representable nanoton amount, exactly.
		"9223372036.854775807": math.MaxInt64,
	} {
		got, err := facilitator.ParseTON(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"", "x", "1.", "1.0000000001", "-1", "-0.5"} {
		_, err := facilitator.ParseTON(input)
		assert.Error(t, err, input)
	}

	// Amounts past the int64 nanoton range must fail loudly; wrapping
	// into a negative amount would hand a corrupted override onward.
	for _, input := range []string{"9300000000", "9223372037", "9223372036.854775808", "99999999999999"} {
		got, err := facilitator.ParseTON(input)
		assert.Error(t, err, input)
		assert.Zero(t, got, input)
	}
}
