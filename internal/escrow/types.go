package escrow

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the escrow lifecycle state. Transitions happen only through the
// guarded manager operations.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusFunded            Status = "FUNDED"
	StatusReleased          Status = "RELEASED"
	StatusRefunded          Status = "REFUNDED"
	StatusFrozen            Status = "FROZEN"
	StatusPartiallyReleased Status = "PARTIALLY_RELEASED"
)

// Terminal reports whether no further transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

type MilestoneStatus string

const (
	MilestonePending  MilestoneStatus = "PENDING"
	MilestoneReleased MilestoneStatus = "RELEASED"
	// MilestoneSuperseded marks declared milestones bypassed by a full
	// release or refund; the funds left through a single outflow instead.
	MilestoneSuperseded MilestoneStatus = "SUPERSEDED"
)

// Milestone is a named partial-amount sub-agreement within an escrow.
type Milestone struct {
	ID              string          `json:"id"`
	Description     string          `json:"description,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          MilestoneStatus `json:"status"`
	ReleasedAt      *time.Time      `json:"releasedAt,omitempty"`
	TransactionHash string          `json:"transactionHash,omitempty"`
}

// PlanType names the release-condition family agreed at creation.
type PlanType string

const (
	PlanMilestone PlanType = "MILESTONE"
	PlanOracle    PlanType = "ORACLE"
	PlanTimeout   PlanType = "TIMEOUT"
)

// MilestonePlan seeds one pending milestone at creation.
type MilestonePlan struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReleaseConditions describes how the escrow is meant to be released. Only
// MILESTONE plans seed milestones; ORACLE and TIMEOUT plans are persisted
// verbatim and remain caller-driven.
type ReleaseConditions struct {
	Type       PlanType        `json:"type"`
	Milestones []MilestonePlan `json:"milestones,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Parties are the immutable chain addresses of the two counterparties.
type Parties struct {
	DepositorAddress   string `json:"depositorAddress"`
	BeneficiaryAddress string `json:"beneficiaryAddress"`
}

// Escrow is the authoritative off-chain mirror of one on-chain holding
// contract. Records are never physically deleted.
type Escrow struct {
	ID                 string             `json:"id"`
	ExternalContractID string             `json:"externalContractId"`
	ChainAddress       string             `json:"chainAddress,omitempty"`
	Amount             decimal.Decimal    `json:"amount"`
	FundedAmount       decimal.Decimal    `json:"fundedAmount"`
	Currency           string             `json:"currency"`
	DepositorAddress   string             `json:"depositorAddress"`
	BeneficiaryAddress string             `json:"beneficiaryAddress"`
	Status             Status             `json:"status"`
	DepositTxHash      string             `json:"depositTxHash,omitempty"`
	ReleaseTxHash      string             `json:"releaseTxHash,omitempty"`
	RefundTxHash       string             `json:"refundTxHash,omitempty"`
	FreezeReason       string             `json:"freezeReason,omitempty"`
	Milestones         []Milestone        `json:"milestones,omitempty"`
	ReleasePlan        *ReleaseConditions `json:"releasePlan,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Milestones != nil {
		clone.Milestones = make([]Milestone, len(e.Milestones))
		copy(clone.Milestones, e.Milestones)
		for i, m := range e.Milestones {
			if m.ReleasedAt != nil {
				at := *m.ReleasedAt
				clone.Milestones[i].ReleasedAt = &at
			}
		}
	}
	if e.ReleasePlan != nil {
		plan := *e.ReleasePlan
		if e.ReleasePlan.Milestones != nil {
			plan.Milestones = make([]MilestonePlan, len(e.ReleasePlan.Milestones))
			copy(plan.Milestones, e.ReleasePlan.Milestones)
		}
		if e.ReleasePlan.Params != nil {
			plan.Params = make(json.RawMessage, len(e.ReleasePlan.Params))
			copy(plan.Params, e.ReleasePlan.Params)
		}
		clone.ReleasePlan = &plan
	}
	return &clone
}

// supersedePendingMilestones is called when a full release or refund bypasses
// the declared plan, so the audit view does not read as funds still owed.
func (e *Escrow) supersedePendingMilestones() {
	for i := range e.Milestones {
		if e.Milestones[i].Status == MilestonePending {
			e.Milestones[i].Status = MilestoneSuperseded
		}
	}
}

func (e *Escrow) milestone(id string) *Milestone {
	for i := range e.Milestones {
		if e.Milestones[i].ID == id {
			return &e.Milestones[i]
		}
	}
	return nil
}

// ReleasedMilestoneTotal sums the amounts of all released milestones.
func (e *Escrow) ReleasedMilestoneTotal() decimal.Decimal {
	total := decimal.Zero
	for _, m := range e.Milestones {
		if m.Status == MilestoneReleased {
			total = total.Add(m.Amount)
		}
	}
	return total
}
