package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"custodia/internal/chain"
	"custodia/internal/fault"
	"custodia/internal/metrics"
	"custodia/internal/submit"
)

// Config fixes the settlement asset the platform escrows.
type Config struct {
	// Currency is the settlement-asset symbol, e.g. "BRLX".
	Currency string
	// Decimals converts decimal amounts to on-chain base units.
	Decimals int32
}

// Manager owns the escrow state machine and its off-chain mirror record.
// Every mutating operation is serialized per escrow id and translates into
// exactly one chain call through the submitter.
type Manager struct {
	store     Store
	submitter *submit.Submitter
	chain     chain.Client
	cfg       Config
	metrics   *metrics.Set
	locks     *keyedMutex
	log       zerolog.Logger
}

func NewManager(store Store, submitter *submit.Submitter, client chain.Client, cfg Config, set *metrics.Set, log zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		submitter: submitter,
		chain:     client,
		cfg:       cfg,
		metrics:   set,
		locks:     newKeyedMutex(),
		log:       log.With().Str("component", "escrow").Logger(),
	}
}

// CreateRequest is the structured input to Create.
type CreateRequest struct {
	ExternalContractID string
	Amount             decimal.Decimal
	Parties            Parties
	ReleaseConditions  *ReleaseConditions
}

// Create submits a contract-creation call and, once it confirms, persists a
// new PENDING record holding the resulting chain address. A MILESTONE plan
// seeds pending milestones summing to the escrow amount.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	// Reserve the external id for the whole create cycle so two concurrent
	// creates cannot both deploy a contract before the unique constraint
	// rejects the second persist.
	unlock := m.locks.lock("external:" + req.ExternalContractID)
	defer unlock()

	if err := m.validateCreate(ctx, req); err != nil {
		m.metrics.IncEscrowOp("create", "rejected")
		return nil, err
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "createEscrow",
		Args: []any{
			chain.Bytes32FromString(req.ExternalContractID),
			common.HexToAddress(req.Parties.DepositorAddress),
			common.HexToAddress(req.Parties.BeneficiaryAddress),
			m.toBaseUnits(req.Amount),
		},
	})
	if err != nil {
		m.metrics.IncEscrowOp("create", "failed")
		return nil, err
	}

	now := time.Now().UTC()
	record := &Escrow{
		ID:                 uuid.NewString(),
		ExternalContractID: req.ExternalContractID,
		ChainAddress:       result.ContractAddress,
		Amount:             req.Amount,
		Currency:           m.cfg.Currency,
		DepositorAddress:   req.Parties.DepositorAddress,
		BeneficiaryAddress: req.Parties.BeneficiaryAddress,
		Status:             StatusPending,
		ReleasePlan:        req.ReleaseConditions,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.ReleaseConditions != nil && req.ReleaseConditions.Type == PlanMilestone {
		for _, plan := range req.ReleaseConditions.Milestones {
			record.Milestones = append(record.Milestones, Milestone{
				ID:          plan.ID,
				Description: plan.Description,
				Amount:      plan.Amount,
				Status:      MilestonePending,
			})
		}
	}

	if err := m.store.Create(ctx, record); err != nil {
		m.metrics.IncEscrowOp("create", "failed")
		if err == ErrDuplicateExternalID {
			return nil, fault.Validation("external contract %s already has an escrow", req.ExternalContractID)
		}
		return nil, err
	}

	m.metrics.IncEscrowOp("create", "ok")
	m.log.Info().
		Str("escrow_id", record.ID).
		Str("external_contract_id", record.ExternalContractID).
		Str("chain_address", record.ChainAddress).
		Str("tx_hash", result.TxHash).
		Msg("escrow created")
	return record.Clone(), nil
}

func (m *Manager) validateCreate(ctx context.Context, req CreateRequest) error {
	if req.ExternalContractID == "" {
		return fault.Validation("external contract id is required")
	}
	if !req.Amount.IsPositive() {
		return fault.Validation("amount must be positive")
	}
	if !common.IsHexAddress(req.Parties.DepositorAddress) {
		return fault.Validation("invalid depositor address")
	}
	if !common.IsHexAddress(req.Parties.BeneficiaryAddress) {
		return fault.Validation("invalid beneficiary address")
	}

	if plan := req.ReleaseConditions; plan != nil && plan.Type == PlanMilestone {
		seen := make(map[string]bool, len(plan.Milestones))
		total := decimal.Zero
		for _, ms := range plan.Milestones {
			if ms.ID == "" {
				return fault.Validation("milestone id is required")
			}
			if seen[ms.ID] {
				return fault.Validation("duplicate milestone id %s", ms.ID)
			}
			seen[ms.ID] = true
			if !ms.Amount.IsPositive() {
				return fault.Validation("milestone %s amount must be positive", ms.ID)
			}
			total = total.Add(ms.Amount)
		}
		if !total.Equal(req.Amount) {
			return fault.Validation("milestone amounts sum to %s, escrow amount is %s", total, req.Amount)
		}
	}

	existing, err := m.store.ByExternalID(ctx, req.ExternalContractID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fault.Validation("external contract %s already has an escrow", req.ExternalContractID)
	}
	return nil
}

// Deposit transitions PENDING → FUNDED after independently verifying that the
// supplied transaction hash resolves on-chain to a non-reverted receipt. The
// caller's claim is never trusted.
func (m *Manager) Deposit(ctx context.Context, escrowID string, amount decimal.Decimal, txHash string) (*Escrow, error) {
	unlock := m.locks.lock(escrowID)
	defer unlock()

	record, err := m.load(ctx, escrowID)
	if err != nil {
		m.metrics.IncEscrowOp("deposit", "rejected")
		return nil, err
	}
	if record.Status != StatusPending {
		m.metrics.IncEscrowOp("deposit", "rejected")
		return nil, fault.IllegalState("cannot deposit into escrow %s in status %s", escrowID, record.Status)
	}
	if !amount.Equal(record.Amount) {
		m.metrics.IncEscrowOp("deposit", "rejected")
		return nil, fault.Validation("deposit amount %s does not match agreed amount %s", amount, record.Amount)
	}

	receipt, err := m.chain.Receipt(ctx, txHash)
	if err != nil {
		m.metrics.IncEscrowOp("deposit", "failed")
		return nil, fault.ChainVerification(err, "verify deposit transaction %s", txHash)
	}
	if receipt == nil {
		m.metrics.IncEscrowOp("deposit", "failed")
		return nil, fault.ChainVerification(nil, "deposit transaction %s not found on chain", txHash)
	}
	if receipt.Reverted {
		m.metrics.IncEscrowOp("deposit", "failed")
		return nil, fault.ChainVerification(nil, "deposit transaction %s reverted", txHash)
	}

	record.Status = StatusFunded
	record.DepositTxHash = txHash
	record.FundedAmount = amount
	record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, record); err != nil {
		m.metrics.IncEscrowOp("deposit", "failed")
		return nil, err
	}

	m.metrics.IncEscrowOp("deposit", "ok")
	m.log.Info().
		Str("escrow_id", escrowID).
		Str("tx_hash", txHash).
		Str("amount", amount.String()).
		Msg("escrow funded")
	return record.Clone(), nil
}

// Release transitions FUNDED → RELEASED via a full-release chain call.
func (m *Manager) Release(ctx context.Context, escrowID, approvedBy string) (*Escrow, error) {
	unlock := m.locks.lock(escrowID)
	defer unlock()

	record, err := m.load(ctx, escrowID)
	if err != nil {
		m.metrics.IncEscrowOp("release", "rejected")
		return nil, err
	}
	if record.Status != StatusFunded {
		m.metrics.IncEscrowOp("release", "rejected")
		return nil, fault.IllegalState("cannot release escrow %s in status %s", escrowID, record.Status)
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "release",
		Args:   []any{common.HexToAddress(record.ChainAddress)},
	})
	if err != nil {
		m.metrics.IncEscrowOp("release", "failed")
		return nil, err
	}

	record.Status = StatusReleased
	record.ReleaseTxHash = result.TxHash
	record.Amount = decimal.Zero
	record.supersedePendingMilestones()
	record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, record); err != nil {
		m.metrics.IncEscrowOp("release", "failed")
		return nil, err
	}

	m.metrics.IncEscrowOp("release", "ok")
	m.log.Info().
		Str("escrow_id", escrowID).
		Str("approved_by", approvedBy).
		Str("tx_hash", result.TxHash).
		Msg("escrow released")
	return record.Clone(), nil
}

// Refund transitions FUNDED or FROZEN → REFUNDED, recording the justification
// in the freeze-reason field.
func (m *Manager) Refund(ctx context.Context, escrowID, reason string) (*Escrow, error) {
	unlock := m.locks.lock(escrowID)
	defer unlock()

	record, err := m.load(ctx, escrowID)
	if err != nil {
		m.metrics.IncEscrowOp("refund", "rejected")
		return nil, err
	}
	if record.Status != StatusFunded && record.Status != StatusFrozen {
		m.metrics.IncEscrowOp("refund", "rejected")
		return nil, fault.IllegalState("cannot refund escrow %s in status %s", escrowID, record.Status)
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "refund",
		Args:   []any{common.HexToAddress(record.ChainAddress)},
	})
	if err != nil {
		m.metrics.IncEscrowOp("refund", "failed")
		return nil, err
	}

	record.Status = StatusRefunded
	record.RefundTxHash = result.TxHash
	record.FreezeReason = reason
	record.Amount = decimal.Zero
	record.supersedePendingMilestones()
	record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, record); err != nil {
		m.metrics.IncEscrowOp("refund", "failed")
		return nil, err
	}

	m.metrics.IncEscrowOp("refund", "ok")
	m.log.Info().
		Str("escrow_id", escrowID).
		Str("reason", reason).
		Str("tx_hash", result.TxHash).
		Msg("escrow refunded")
	return record.Clone(), nil
}

// Freeze transitions FUNDED → FROZEN, recording the dispute reference.
// A frozen escrow can only move on to REFUNDED.
func (m *Manager) Freeze(ctx context.Context, escrowID, disputeID string) (*Escrow, error) {
	unlock := m.locks.lock(escrowID)
	defer unlock()

	record, err := m.load(ctx, escrowID)
	if err != nil {
		m.metrics.IncEscrowOp("freeze", "rejected")
		return nil, err
	}
	if record.Status != StatusFunded {
		m.metrics.IncEscrowOp("freeze", "rejected")
		return nil, fault.IllegalState("cannot freeze escrow %s in status %s", escrowID, record.Status)
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "freeze",
		Args:   []any{common.HexToAddress(record.ChainAddress)},
	})
	if err != nil {
		m.metrics.IncEscrowOp("freeze", "failed")
		return nil, err
	}

	record.Status = StatusFrozen
	record.FreezeReason = disputeID
	record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, record); err != nil {
		m.metrics.IncEscrowOp("freeze", "failed")
		return nil, err
	}

	m.metrics.IncEscrowOp("freeze", "ok")
	m.log.Info().
		Str("escrow_id", escrowID).
		Str("dispute_id", disputeID).
		Str("tx_hash", result.TxHash).
		Msg("escrow frozen")
	return record.Clone(), nil
}

// ReleasePartial releases amount against the named milestone, creating an
// ad-hoc entry when none was pre-declared. The escrow lands on RELEASED iff
// the remaining balance hits exactly zero, else PARTIALLY_RELEASED.
func (m *Manager) ReleasePartial(ctx context.Context, escrowID string, amount decimal.Decimal, milestoneID string) (*Escrow, error) {
	unlock := m.locks.lock(escrowID)
	defer unlock()

	record, err := m.load(ctx, escrowID)
	if err != nil {
		m.metrics.IncEscrowOp("release_partial", "rejected")
		return nil, err
	}
	if record.Status != StatusFunded && record.Status != StatusPartiallyReleased {
		m.metrics.IncEscrowOp("release_partial", "rejected")
		return nil, fault.IllegalState("cannot partially release escrow %s in status %s", escrowID, record.Status)
	}
	if !amount.IsPositive() {
		m.metrics.IncEscrowOp("release_partial", "rejected")
		return nil, fault.Validation("partial release amount must be positive")
	}
	if amount.GreaterThan(record.Amount) {
		m.metrics.IncEscrowOp("release_partial", "rejected")
		return nil, fault.IllegalState("partial release amount %s exceeds remaining balance %s", amount, record.Amount)
	}
	if milestoneID == "" {
		m.metrics.IncEscrowOp("release_partial", "rejected")
		return nil, fault.Validation("milestone id is required")
	}
	milestone := record.milestone(milestoneID)
	if milestone != nil {
		if milestone.Status == MilestoneReleased {
			m.metrics.IncEscrowOp("release_partial", "rejected")
			return nil, fault.IllegalState("milestone %s already released", milestoneID)
		}
		if !milestone.Amount.Equal(amount) {
			m.metrics.IncEscrowOp("release_partial", "rejected")
			return nil, fault.Validation("amount %s does not match milestone %s amount %s", amount, milestoneID, milestone.Amount)
		}
	}

	result, err := m.submitter.Submit(ctx, chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "releasePartial",
		Args:   []any{common.HexToAddress(record.ChainAddress), m.toBaseUnits(amount)},
	})
	if err != nil {
		m.metrics.IncEscrowOp("release_partial", "failed")
		return nil, err
	}

	now := time.Now().UTC()
	if milestone == nil {
		record.Milestones = append(record.Milestones, Milestone{
			ID:     milestoneID,
			Amount: amount,
			Status: MilestonePending,
		})
		milestone = &record.Milestones[len(record.Milestones)-1]
	}
	milestone.Status = MilestoneReleased
	milestone.ReleasedAt = &now
	milestone.TransactionHash = result.TxHash

	record.Amount = record.Amount.Sub(amount)
	record.ReleaseTxHash = result.TxHash
	if record.Amount.IsZero() {
		record.Status = StatusReleased
	} else {
		record.Status = StatusPartiallyReleased
	}
	record.UpdatedAt = now
	if err := m.store.Update(ctx, record); err != nil {
		m.metrics.IncEscrowOp("release_partial", "failed")
		return nil, err
	}

	m.metrics.IncEscrowOp("release_partial", "ok")
	m.log.Info().
		Str("escrow_id", escrowID).
		Str("milestone_id", milestoneID).
		Str("amount", amount.String()).
		Str("remaining", record.Amount.String()).
		Str("tx_hash", result.TxHash).
		Msg("escrow partially released")
	return record.Clone(), nil
}

// Status returns a read-only projection of the escrow record.
func (m *Manager) Status(ctx context.Context, escrowID string) (*Escrow, error) {
	record, err := m.load(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (m *Manager) load(ctx context.Context, escrowID string) (*Escrow, error) {
	record, err := m.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fault.NotFound("escrow %s not found", escrowID)
	}
	return record, nil
}

func (m *Manager) toBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(m.cfg.Decimals).BigInt()
}
