package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/fault"
	"custodia/internal/metrics"
)

func newTestSubmitter(client chain.Client, maxAttempts int) *Submitter {
	policy := Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}
	cfg := Config{
		GasLimit:                500_000,
		FeeCeiling:              big.NewInt(100_000_000_000),
		SafetyMultiplierPercent: 120,
		Confirmations:           2,
	}
	return New(client, policy, cfg, metrics.New(), zerolog.Nop())
}

func TestSubmitConfirms(t *testing.T) {
	fake := chain.NewFakeClient()
	sub := newTestSubmitter(fake, 3)

	result, err := sub.Submit(context.Background(), chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "release",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TxHash == "" {
		t.Fatalf("expected a transaction hash")
	}
	if fake.BroadcastCount() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", fake.BroadcastCount())
	}
}

func TestSubmitExhaustsRetryBudgetOnRevert(t *testing.T) {
	fake := chain.NewFakeClient()
	fake.RevertAll = true
	sub := newTestSubmitter(fake, 3)

	_, err := sub.Submit(context.Background(), chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "release",
	})
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if !fault.IsKind(err, fault.KindChainSubmission) {
		t.Fatalf("expected chain submission fault, got %v", err)
	}
	if fake.BroadcastCount() != 3 {
		t.Fatalf("expected exactly 3 broadcasts, got %d", fake.BroadcastCount())
	}
}

func TestSubmitRecoversAfterTransientRevert(t *testing.T) {
	fake := chain.NewFakeClient()
	fake.RevertFirst = 1
	sub := newTestSubmitter(fake, 3)

	result, err := sub.Submit(context.Background(), chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "refund",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fake.BroadcastCount() != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", fake.BroadcastCount())
	}
	if result.BlockNumber == 0 {
		t.Fatalf("expected a block number")
	}
}

func TestSubmitFallsBackToStaticFeeCeiling(t *testing.T) {
	fake := chain.NewFakeClient()
	fake.FeeErr = errors.New("fee oracle down")
	sub := newTestSubmitter(fake, 1)

	if _, err := sub.Submit(context.Background(), chain.Call{
		Target: chain.TargetEscrowVault,
		Method: "freeze",
	}); err != nil {
		t.Fatalf("submit with fee fallback: %v", err)
	}
}

// overlapClient counts how many broadcast-to-receipt cycles are in flight at
// once. The signing credential admits exactly one.
type overlapClient struct {
	mu          sync.Mutex
	inflight    int
	maxInflight int
	broadcasts  int
}

func (c *overlapClient) EstimateFees(context.Context) (chain.FeeEstimate, error) {
	return chain.FeeEstimate{MaxFee: big.NewInt(30_000_000_000), MaxPriorityFee: big.NewInt(1_000_000_000)}, nil
}

func (c *overlapClient) Broadcast(_ context.Context, _ chain.Call, _ uint64, _ chain.FeeEstimate) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	c.broadcasts++
	return fmt.Sprintf("0x%064d", c.broadcasts), nil
}

func (c *overlapClient) AwaitReceipt(_ context.Context, txHash string, _ uint64) (chain.Receipt, error) {
	// Widen the broadcast-to-receipt window so overlap would be observed.
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	return chain.Receipt{TxHash: txHash, BlockNumber: 1}, nil
}

func (c *overlapClient) Receipt(context.Context, string) (*chain.Receipt, error) {
	return nil, nil
}

func (c *overlapClient) Read(context.Context, chain.Call, *[]any) error {
	return nil
}

func TestSubmitSerializesBroadcastCycles(t *testing.T) {
	client := &overlapClient{}
	sub := newTestSubmitter(client, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sub.Submit(context.Background(), chain.Call{
				Target: chain.TargetEscrowVault,
				Method: "release",
			}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if client.broadcasts != 4 {
		t.Fatalf("expected 4 broadcasts, got %d", client.broadcasts)
	}
	if client.maxInflight != 1 {
		t.Fatalf("broadcast-confirm cycles overlapped: %d in flight at peak", client.maxInflight)
	}
}

func TestSubmitPreservesLastCause(t *testing.T) {
	fake := chain.NewFakeClient()
	fake.BroadcastErr = errors.New("connection refused")
	sub := newTestSubmitter(fake, 2)

	_, err := sub.Submit(context.Background(), chain.Call{
		Target: chain.TargetDocumentRegistry,
		Method: "registerDocument",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, fake.BroadcastErr) {
		t.Fatalf("expected wrapped root cause, got %v", err)
	}
	if fake.BroadcastCount() != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", fake.BroadcastCount())
	}
}
