// Package chain defines the coordinator's view of the underlying ledger:
// a client that can list recent transactions for the guarded contract,
// submit payments through it, and read its remaining on-chain allowance.
// Consensus, finality tracking, and wallet cryptography live behind the
// Client implementation and are not modeled here.
package chain

import "context"

// Message is a single outbound message attached to a transaction. The
// payload is opaque; it may or may not decode as an approval request.
type Message struct {
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
}

// Transaction is one observed transaction on the guarded contract.
// LT is the chain's monotonic ordering key; Hash is the content hash.
type Transaction struct {
	LT          uint64    `json:"lt"`
	Hash        string    `json:"hash"`
	OutMessages []Message `json:"out_messages"`
}

// Wallet carries the credentials used to sign a submission. Key handling
// is the Client's concern; the coordinator only passes it through.
type Wallet struct {
	Address string
	Secret  string
}

// Client is the external chain collaborator. Implementations wrap a
// concrete node/API endpoint.
type Client interface {
	// RecentTransactions returns up to limit transactions for the
	// address, most recent first.
	RecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)

	// SubmitPayment submits a signed payment call through the guarded
	// contract. It waits for the submission to be accepted, not for
	// finality.
	SubmitPayment(ctx context.Context, wallet Wallet, contractAddress string, amountNano int64, target string) error

	// RemainingAllowance reads the contract's currently remaining
	// spending allowance in nanotons.
	RemainingAllowance(ctx context.Context, contractAddress string) (int64, error)
}
