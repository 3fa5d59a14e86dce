package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// FakeClient emulates the chain with deterministic hashes. Tests script its
// failure modes; the zero value behaves as a healthy network.
type FakeClient struct {
	mu sync.Mutex

	// FeeErr makes every fee estimate fail, exercising the static ceiling
	// fallback in the submitter.
	FeeErr error
	// BroadcastErr makes every broadcast fail.
	BroadcastErr error
	// RevertAll makes every mined receipt report a revert.
	RevertAll bool
	// RevertFirst reverts only the first N receipts.
	RevertFirst int

	broadcasts []Call
	pending    map[string]Call
	awaited    int
	receipts   map[string]Receipt
	readFn     func(call Call, out *[]any) error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		pending:  make(map[string]Call),
		receipts: make(map[string]Receipt),
	}
}

func (f *FakeClient) EstimateFees(context.Context) (FeeEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FeeErr != nil {
		return FeeEstimate{}, f.FeeErr
	}
	return FeeEstimate{MaxFee: big.NewInt(30_000_000_000), MaxPriorityFee: big.NewInt(1_000_000_000)}, nil
}

func (f *FakeClient) Broadcast(_ context.Context, call Call, _ uint64, _ FeeEstimate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BroadcastErr != nil {
		f.broadcasts = append(f.broadcasts, call)
		return "", f.BroadcastErr
	}
	f.broadcasts = append(f.broadcasts, call)
	hash := fakeHash(fmt.Sprintf("%s:%s:%d", call.Target, call.Method, len(f.broadcasts)))
	f.pending[hash] = call
	return hash, nil
}

func (f *FakeClient) AwaitReceipt(_ context.Context, txHash string, _ uint64) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.pending[txHash]
	if !ok {
		return Receipt{}, fmt.Errorf("unknown transaction %s", txHash)
	}
	f.awaited++
	reverted := f.RevertAll || f.awaited <= f.RevertFirst
	receipt := Receipt{
		TxHash:      txHash,
		BlockNumber: uint64(f.awaited),
		Reverted:    reverted,
	}
	if call.Method == "createEscrow" && !reverted {
		receipt.ContractAddress = "0x" + fakeHash(txHash)[2:42]
	}
	return receipt, nil
}

func (f *FakeClient) Receipt(_ context.Context, txHash string) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, nil
	}
	return &receipt, nil
}

func (f *FakeClient) Read(_ context.Context, call Call, out *[]any) error {
	f.mu.Lock()
	readFn := f.readFn
	f.mu.Unlock()
	if readFn == nil {
		return fmt.Errorf("no read handler configured")
	}
	return readFn(call, out)
}

func (f *FakeClient) Ping(context.Context) error { return nil }

// SeedReceipt makes an externally supplied hash resolvable via Receipt.
func (f *FakeClient) SeedReceipt(txHash string, receipt Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt.TxHash = txHash
	f.receipts[txHash] = receipt
}

// SetReadFn scripts responses to contract reads.
func (f *FakeClient) SetReadFn(fn func(call Call, out *[]any) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readFn = fn
}

// BroadcastCount reports how many broadcasts were attempted.
func (f *FakeClient) BroadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

// LastBroadcast returns the most recent call, or a zero Call.
func (f *FakeClient) LastBroadcast() Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return Call{}
	}
	return f.broadcasts[len(f.broadcasts)-1]
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
