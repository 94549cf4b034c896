package chain_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonsentry/tonsentry/pkg/chain"
	"github.com/tonsentry/tonsentry/pkg/faults"
)

func TestGatewayRecentTransactions(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"type":"approval_request","amount_nano":500,"target":"EQtarget"}`))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/contracts/EQcontract/transactions", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		fmt.Fprintf(w, `[{"lt":101,"hash":"hash-a","out_messages":[{"destination":"owner","payload":%q}]},{"lt":100,"hash":"hash-b"}]`, payload)
	}))
	defer ts.Close()

	client := chain.NewGatewayClient(ts.URL, time.Second)
	txs, err := client.RecentTransactions(context.Background(), "EQcontract", 25)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(101), txs[0].LT)
	require.Len(t, txs[0].OutMessages, 1)

	req, ok := chain.DecodeApprovalRequest(txs[0].OutMessages[0].Payload)
	require.True(t, ok, "gateway payload decodes straight into an approval request")
	assert.Equal(t, int64(500), req.AmountNano)
	assert.Empty(t, txs[1].OutMessages)
}

func TestGatewaySubmitPayment(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/EQwallet/submit", r.URL.Path)
		assert.Equal(t, "Bearer hunter2", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := chain.NewGatewayClient(ts.URL, time.Second)
	wallet := chain.Wallet{Address: "EQwallet", Secret: "hunter2"}
	err := client.SubmitPayment(context.Background(), wallet, "EQcontract", 400_000_000, "EQtarget")
	require.NoError(t, err)
	assert.Equal(t, "EQcontract", got["contract"])
	assert.Equal(t, float64(400_000_000), got["amount_nano"])
	assert.Equal(t, "EQtarget", got["target"])
}

func TestGatewaySubmitFailureWrapsFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "lite server timeout", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := chain.NewGatewayClient(ts.URL, time.Second)
	err := client.SubmitPayment(context.Background(), chain.Wallet{Address: "EQwallet"}, "EQcontract", 5, "EQtarget")
	assert.ErrorIs(t, err, faults.ErrChainSubmissionFailed)
}

func TestGatewayRemainingAllowance(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contracts/EQcontract/allowance", r.URL.Path)
		fmt.Fprint(w, `{"remaining_nano":750000000}`)
	}))
	defer ts.Close()

	client := chain.NewGatewayClient(ts.URL, time.Second)
	remaining, err := client.RemainingAllowance(context.Background(), "EQcontract")
	require.NoError(t, err)
	assert.Equal(t, int64(750_000_000), remaining)
}
