package registry

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/fault"
	"custodia/internal/metrics"
	"custodia/internal/submit"
)

const contentHash = "0x4141414141414141414141414141414141414141414141414141414141414141"

func newTestManager(t *testing.T, maxAttempts int) (*Manager, *chain.FakeClient) {
	t.Helper()
	fake := chain.NewFakeClient()
	sub := submit.New(fake,
		submit.Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond},
		submit.Config{
			GasLimit:                300_000,
			FeeCeiling:              big.NewInt(100_000_000_000),
			SafetyMultiplierPercent: 120,
			Confirmations:           1,
		},
		metrics.New(), zerolog.Nop())
	return NewManager(sub, fake, zerolog.Nop()), fake
}

func TestRegisterAnchorsHash(t *testing.T) {
	mgr, fake := newTestManager(t, 3)

	reg, err := mgr.Register(context.Background(), "CT-1", contentHash)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.TxHash == "" || reg.BlockNumber == 0 {
		t.Fatalf("expected confirmed registration, got %+v", reg)
	}
	if call := fake.LastBroadcast(); call.Method != "registerDocument" || call.Target != chain.TargetDocumentRegistry {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestRegisterValidatesContentHash(t *testing.T) {
	mgr, fake := newTestManager(t, 3)

	if _, err := mgr.Register(context.Background(), "CT-1", "0x1234"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if fake.BroadcastCount() != 0 {
		t.Fatalf("invalid input must not reach the chain")
	}
}

func TestRegisterSharesRetryDiscipline(t *testing.T) {
	mgr, fake := newTestManager(t, 2)
	fake.RevertAll = true

	_, err := mgr.Register(context.Background(), "CT-2", contentHash)
	if !fault.IsKind(err, fault.KindChainSubmission) {
		t.Fatalf("expected chain submission fault, got %v", err)
	}
	if fake.BroadcastCount() != 2 {
		t.Fatalf("expected exactly 2 broadcasts, got %d", fake.BroadcastCount())
	}
}

func TestVerifyReadsThrough(t *testing.T) {
	mgr, fake := newTestManager(t, 1)

	stored, err := chain.Bytes32FromHex(contentHash)
	if err != nil {
		t.Fatalf("decode hash: %v", err)
	}
	registrant := common.HexToAddress("0x3333333333333333333333333333333333333333")
	registeredAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	fake.SetReadFn(func(call chain.Call, out *[]any) error {
		*out = []any{stored, big.NewInt(registeredAt.Unix()), registrant}
		return nil
	})

	result, err := mgr.Verify(context.Background(), "CT-3", contentHash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsVerified {
		t.Fatalf("matching hash must verify")
	}
	if !result.RegisteredAt.Equal(registeredAt) || result.RegisteredBy != registrant.Hex() {
		t.Fatalf("unexpected attestation: %+v", result)
	}

	// A different hash against the same record must not verify.
	other := "0x4242424242424242424242424242424242424242424242424242424242424242"
	result, err = mgr.Verify(context.Background(), "CT-3", other)
	if err != nil {
		t.Fatalf("verify other: %v", err)
	}
	if result.IsVerified {
		t.Fatalf("mismatched hash must not verify")
	}
}

func TestVerifyWrapsReadFailures(t *testing.T) {
	mgr, fake := newTestManager(t, 1)

	fake.SetReadFn(func(call chain.Call, out *[]any) error {
		return errors.New("rpc unreachable")
	})

	_, err := mgr.Verify(context.Background(), "CT-5", contentHash)
	if !fault.IsKind(err, fault.KindChainVerification) {
		t.Fatalf("expected chain verification fault, got %v", err)
	}
}

func TestVerifyUnregisteredContract(t *testing.T) {
	mgr, fake := newTestManager(t, 1)

	fake.SetReadFn(func(call chain.Call, out *[]any) error {
		*out = []any{[32]byte{}, big.NewInt(0), common.Address{}}
		return nil
	})

	result, err := mgr.Verify(context.Background(), "CT-4", contentHash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsVerified || !result.RegisteredAt.IsZero() {
		t.Fatalf("unregistered contract must report unverified, got %+v", result)
	}
}
