package chain

import (
	"context"
	"math/big"
)

// Target selects which bound contract a call is addressed to.
type Target string

const (
	TargetEscrowVault      Target = "escrow_vault"
	TargetDocumentRegistry Target = "document_registry"
)

// Call describes one contract method invocation.
type Call struct {
	Target Target
	Method string
	Args   []any
}

// FeeEstimate is the network's current EIP-1559 fee suggestion.
type FeeEstimate struct {
	MaxFee         *big.Int
	MaxPriorityFee *big.Int
}

// Receipt is the decoded outcome of a mined transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Reverted    bool
	// ContractAddress is the per-escrow instance address decoded from the
	// vault's creation event, when the call produced one.
	ContractAddress string
}

// Client abstracts the on-chain interaction.
type Client interface {
	EstimateFees(ctx context.Context) (FeeEstimate, error)
	Broadcast(ctx context.Context, call Call, gasLimit uint64, fees FeeEstimate) (string, error)
	AwaitReceipt(ctx context.Context, txHash string, confirmations uint64) (Receipt, error)
	// Receipt fetches the receipt for an externally supplied hash. It returns
	// (nil, nil) when the transaction is unknown to the network.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	Read(ctx context.Context, call Call, out *[]any) error
}

// HealthChecker is implemented by clients that can probe their RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
