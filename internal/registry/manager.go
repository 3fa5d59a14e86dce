// Package registry anchors document content hashes on-chain and verifies
// them by reading the ledger back. It holds no local mutable state: the
// ledger is the only record.
package registry

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/fault"
	"custodia/internal/submit"
)

type Manager struct {
	submitter *submit.Submitter
	chain     chain.Client
	log       zerolog.Logger
}

func NewManager(submitter *submit.Submitter, client chain.Client, log zerolog.Logger) *Manager {
	return &Manager{
		submitter: submitter,
		chain:     client,
		log:       log.With().Str("component", "registry").Logger(),
	}
}

// Registration reports a confirmed hash attestation.
type Registration struct {
	ContractID  string    `json:"contractId"`
	ContentHash string    `json:"contentHash"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

// Verification is the read-through answer for a contract's attestation.
type Verification struct {
	IsVerified   bool      `json:"isVerified"`
	RegisteredAt time.Time `json:"registeredAt,omitempty"`
	RegisteredBy string    `json:"registeredBy,omitempty"`
}

// Register anchors the content hash under the contract id, with the same
// retry and confirmation discipline as every other chain submission.
func (m *Manager) Register(ctx context.Context, contractID, contentHash string) (Registration, error) {
	if contractID == "" {
		return Registration{}, fault.Validation("contract id is required")
	}
	hash, err := chain.Bytes32FromHex(contentHash)
	if err != nil {
		return Registration{}, fault.Validation("content hash must be a 32-byte hex string: %v", err)
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetDocumentRegistry,
		Method: "registerDocument",
		Args:   []any{chain.Bytes32FromString(contractID), hash},
	})
	if err != nil {
		return Registration{}, err
	}

	m.log.Info().
		Str("contract_id", contractID).
		Str("content_hash", contentHash).
		Str("tx_hash", result.TxHash).
		Msg("document hash anchored")

	return Registration{
		ContractID:  contractID,
		ContentHash: contentHash,
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		AnchoredAt:  time.Now().UTC(),
	}, nil
}

// Verify reads the stored attestation and compares it with the supplied
// content hash.
func (m *Manager) Verify(ctx context.Context, contractID, contentHash string) (Verification, error) {
	if contractID == "" {
		return Verification{}, fault.Validation("contract id is required")
	}
	want, err := chain.Bytes32FromHex(contentHash)
	if err != nil {
		return Verification{}, fault.Validation("content hash must be a 32-byte hex string: %v", err)
	}

	var out []any
	err = m.chain.Read(ctx, chain.Call{
		Target: chain.TargetDocumentRegistry,
		Method: "getDocument",
		Args:   []any{chain.Bytes32FromString(contractID)},
	}, &out)
	if err != nil {
		return Verification{}, fault.ChainVerification(err, "read attestation for %s", contractID)
	}
	if len(out) != 3 {
		return Verification{}, fault.ChainVerification(nil, "unexpected attestation shape for %s", contractID)
	}

	stored, ok := out[0].([32]byte)
	if !ok {
		return Verification{}, fault.ChainVerification(nil, "unexpected content hash type for %s", contractID)
	}
	registeredAt, ok := out[1].(*big.Int)
	if !ok {
		return Verification{}, fault.ChainVerification(nil, "unexpected timestamp type for %s", contractID)
	}
	registeredBy, ok := out[2].(common.Address)
	if !ok {
		return Verification{}, fault.ChainVerification(nil, "unexpected registrant type for %s", contractID)
	}

	// A zero timestamp means the contract id was never registered.
	if registeredAt.Sign() == 0 {
		return Verification{}, nil
	}

	return Verification{
		IsVerified:   stored == want,
		RegisteredAt: time.Unix(registeredAt.Int64(), 0).UTC(),
		RegisteredBy: registeredBy.Hex(),
	}, nil
}
