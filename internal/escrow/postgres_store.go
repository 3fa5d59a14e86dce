package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists escrow records in a PostgreSQL table. Milestones and
// the release plan are embedded documents, always read and written as a unit
// with the parent record.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS escrows (
    id TEXT PRIMARY KEY,
    external_contract_id TEXT NOT NULL UNIQUE,
    chain_address TEXT NOT NULL DEFAULT '',
    amount NUMERIC(32,8) NOT NULL,
    funded_amount NUMERIC(32,8) NOT NULL,
    currency TEXT NOT NULL,
    depositor_address TEXT NOT NULL,
    beneficiary_address TEXT NOT NULL,
    status TEXT NOT NULL,
    deposit_tx_hash TEXT NOT NULL DEFAULT '',
    release_tx_hash TEXT NOT NULL DEFAULT '',
    refund_tx_hash TEXT NOT NULL DEFAULT '',
    freeze_reason TEXT NOT NULL DEFAULT '',
    milestones JSONB,
    release_plan JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

const uniqueViolationCode = "23505"

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	milestones, plan, err := marshalEmbedded(e)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO escrows (
    id, external_contract_id, chain_address, amount, funded_amount, currency,
    depositor_address, beneficiary_address, status,
    deposit_tx_hash, release_tx_hash, refund_tx_hash, freeze_reason,
    milestones, release_plan, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`, e.ID, e.ExternalContractID, e.ChainAddress, e.Amount.String(), e.FundedAmount.String(), e.Currency,
		e.DepositorAddress, e.BeneficiaryAddress, string(e.Status),
		e.DepositTxHash, e.ReleaseTxHash, e.RefundTxHash, e.FreezeReason,
		milestones, plan, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateExternalID
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	return p.queryOne(ctx, `WHERE id = $1`, id)
}

func (p *PostgresStore) ByExternalID(ctx context.Context, externalContractID string) (*Escrow, error) {
	return p.queryOne(ctx, `WHERE external_contract_id = $1`, externalContractID)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	milestones, plan, err := marshalEmbedded(e)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
UPDATE escrows SET
    chain_address = $2,
    amount = $3,
    funded_amount = $4,
    status = $5,
    deposit_tx_hash = $6,
    release_tx_hash = $7,
    refund_tx_hash = $8,
    freeze_reason = $9,
    milestones = $10,
    release_plan = $11,
    updated_at = $12
WHERE id = $1
`, e.ID, e.ChainAddress, e.Amount.String(), e.FundedAmount.String(), string(e.Status),
		e.DepositTxHash, e.ReleaseTxHash, e.RefundTxHash, e.FreezeReason,
		milestones, plan, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("escrow not found")
	}
	return nil
}

func (p *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*Escrow, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, external_contract_id, chain_address, amount::text, funded_amount::text, currency,
       depositor_address, beneficiary_address, status,
       deposit_tx_hash, release_tx_hash, refund_tx_hash, freeze_reason,
       milestones, release_plan, created_at, updated_at
FROM escrows
`+where, arg)

	var (
		e              Escrow
		amount         string
		fundedAmount   string
		status         string
		milestonesJSON []byte
		planJSON       []byte
	)
	err := row.Scan(&e.ID, &e.ExternalContractID, &e.ChainAddress, &amount, &fundedAmount, &e.Currency,
		&e.DepositorAddress, &e.BeneficiaryAddress, &status,
		&e.DepositTxHash, &e.ReleaseTxHash, &e.RefundTxHash, &e.FreezeReason,
		&milestonesJSON, &planJSON, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if e.FundedAmount, err = decimal.NewFromString(fundedAmount); err != nil {
		return nil, fmt.Errorf("parse funded amount: %w", err)
	}
	e.Status = Status(status)

	if len(milestonesJSON) > 0 {
		if err := json.Unmarshal(milestonesJSON, &e.Milestones); err != nil {
			return nil, fmt.Errorf("parse milestones: %w", err)
		}
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &e.ReleasePlan); err != nil {
			return nil, fmt.Errorf("parse release plan: %w", err)
		}
	}
	return &e, nil
}

func marshalEmbedded(e *Escrow) (milestones, plan []byte, err error) {
	if e.Milestones != nil {
		if milestones, err = json.Marshal(e.Milestones); err != nil {
			return nil, nil, fmt.Errorf("marshal milestones: %w", err)
		}
	}
	if e.ReleasePlan != nil {
		if plan, err = json.Marshal(e.ReleasePlan); err != nil {
			return nil, nil, fmt.Errorf("marshal release plan: %w", err)
		}
	}
	return milestones, plan, nil
}
