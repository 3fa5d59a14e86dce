// Package submit implements the shared retrying, fee-aware,
// confirmation-aware submission engine. Both the escrow manager and the
// document registry route their chain calls through one Submitter so that all
// broadcasts signed by the shared credential are serialized.
package submit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/fault"
	"custodia/internal/metrics"
)

// Policy is the retry schedule fed into Submit.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Backoff computes the sleep before the next attempt. Defaults to
	// LinearBackoff.
	Backoff func(base time.Duration, attempt int) time.Duration
}

// LinearBackoff sleeps base × attempt.
func LinearBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

func (p Policy) delay(attempt int) time.Duration {
	fn := p.Backoff
	if fn == nil {
		fn = LinearBackoff
	}
	return fn(p.BaseDelay, attempt)
}

// Config bounds every individual attempt.
type Config struct {
	// GasLimit is the fixed ceiling each broadcast runs under.
	GasLimit uint64
	// FeeCeiling caps the max fee in wei and doubles as the static fallback
	// when the network estimate is unavailable.
	FeeCeiling *big.Int
	// SafetyMultiplierPercent scales the network estimate, e.g. 120.
	SafetyMultiplierPercent int64
	// Confirmations is the block depth a receipt must reach before the
	// transaction counts as final.
	Confirmations uint64
}

// Result reports a confirmed submission.
type Result struct {
	TxHash          string
	BlockNumber     uint64
	ContractAddress string
}

type Submitter struct {
	client  chain.Client
	policy  Policy
	cfg     Config
	slot    chan struct{}
	metrics *metrics.Set
	log     zerolog.Logger
}

func New(client chain.Client, policy Policy, cfg Config, set *metrics.Set, log zerolog.Logger) *Submitter {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Submitter{
		client:  client,
		policy:  policy,
		cfg:     cfg,
		slot:    make(chan struct{}, 1),
		metrics: set,
		log:     log.With().Str("component", "submitter").Logger(),
	}
}

// Submit broadcasts the call and waits for it to confirm, retrying transient
// failures up to the policy budget. A reverted receipt counts as a failed
// attempt. Exhaustion surfaces as a chain-submission fault wrapping the last
// underlying cause.
func (s *Submitter) Submit(ctx context.Context, call chain.Call) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		result, err := s.attempt(ctx, call)
		if err == nil {
			s.metrics.IncSubmitAttempt("confirmed")
			s.log.Info().
				Str("method", call.Method).
				Str("tx_hash", result.TxHash).
				Uint64("block", result.BlockNumber).
				Int("attempt", attempt).
				Msg("submission confirmed")
			return result, nil
		}

		lastErr = err
		s.metrics.IncSubmitAttempt("failed")
		s.log.Warn().
			Err(err).
			Str("method", call.Method).
			Int("attempt", attempt).
			Int("max_attempts", s.policy.MaxAttempts).
			Msg("submission attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < s.policy.MaxAttempts {
			select {
			case <-time.After(s.policy.delay(attempt)):
			case <-ctx.Done():
				return Result{}, fault.ChainSubmission(ctx.Err(), "submit %s interrupted", call.Method)
			}
		}
	}
	return Result{}, fault.ChainSubmission(lastErr, "submit %s: retries exhausted after %d attempts", call.Method, s.policy.MaxAttempts)
}

func (s *Submitter) attempt(ctx context.Context, call chain.Call) (Result, error) {
	// The signing credential admits one broadcast-and-confirm cycle at a
	// time; concurrent submissions would race the account nonce.
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	s.metrics.BroadcastStarted()
	defer func() {
		s.metrics.BroadcastDone()
		<-s.slot
	}()

	fees := s.boundedFees(ctx)

	txHash, err := s.client.Broadcast(ctx, call, s.cfg.GasLimit, fees)
	if err != nil {
		return Result{}, fmt.Errorf("broadcast: %w", err)
	}

	receipt, err := s.client.AwaitReceipt(ctx, txHash, s.cfg.Confirmations)
	if err != nil {
		return Result{}, fmt.Errorf("await receipt %s: %w", txHash, err)
	}
	if receipt.Reverted {
		return Result{}, fmt.Errorf("transaction %s reverted", txHash)
	}

	return Result{
		TxHash:          txHash,
		BlockNumber:     receipt.BlockNumber,
		ContractAddress: receipt.ContractAddress,
	}, nil
}

// boundedFees scales the live estimate by the safety multiplier and caps it at
// the static ceiling, falling back to the ceiling when the estimate fails.
func (s *Submitter) boundedFees(ctx context.Context) chain.FeeEstimate {
	estimate, err := s.client.EstimateFees(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("fee estimate unavailable, using static ceiling")
		return chain.FeeEstimate{
			MaxFee:         new(big.Int).Set(s.cfg.FeeCeiling),
			MaxPriorityFee: new(big.Int).Div(s.cfg.FeeCeiling, big.NewInt(10)),
		}
	}

	pct := s.cfg.SafetyMultiplierPercent
	if pct <= 0 {
		pct = 100
	}
	maxFee := scalePercent(estimate.MaxFee, pct)
	if maxFee.Cmp(s.cfg.FeeCeiling) > 0 {
		maxFee = new(big.Int).Set(s.cfg.FeeCeiling)
	}
	tip := scalePercent(estimate.MaxPriorityFee, pct)
	if tip.Cmp(maxFee) > 0 {
		tip = new(big.Int).Set(maxFee)
	}
	return chain.FeeEstimate{MaxFee: maxFee, MaxPriorityFee: tip}
}

func scalePercent(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}
