package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient talks to the escrow vault and document registry contracts over a
// single RPC connection with a single signing credential.
type EthClient struct {
	client    *ethclient.Client
	vault     *bind.BoundContract
	registry  *bind.BoundContract
	vaultABI  abi.ABI
	chainID   *big.Int
	transacts *bind.TransactOpts
	pollEvery time.Duration
}

type EthClientConfig struct {
	RPCURL           string
	PrivateKeyHex    string
	VaultContract    string
	RegistryContract string
	// ReceiptPollInterval defaults to 2s when zero.
	ReceiptPollInterval time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.VaultContract == "" {
		return nil, fmt.Errorf("escrow vault address is required")
	}
	if cfg.RegistryContract == "" {
		return nil, fmt.Errorf("document registry address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting transactions")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	vaultABI, err := abi.JSON(strings.NewReader(escrowVaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	registryABI, err := abi.JSON(strings.NewReader(documentRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.Context = ctx

	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EthClient{
		client:    cli,
		vault:     bind.NewBoundContract(common.HexToAddress(cfg.VaultContract), vaultABI, cli, cli, cli),
		registry:  bind.NewBoundContract(common.HexToAddress(cfg.RegistryContract), registryABI, cli, cli, cli),
		vaultABI:  vaultABI,
		chainID:   chainID,
		transacts: txOpts,
		pollEvery: poll,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) bound(target Target) (*bind.BoundContract, error) {
	switch target {
	case TargetEscrowVault:
		return c.vault, nil
	case TargetDocumentRegistry:
		return c.registry, nil
	default:
		return nil, fmt.Errorf("unknown call target %q", target)
	}
}

func (c *EthClient) EstimateFees(ctx context.Context) (FeeEstimate, error) {
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("fetch head: %w", err)
	}
	if head.BaseFee == nil {
		return FeeEstimate{}, fmt.Errorf("network does not report a base fee")
	}
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("suggest tip cap: %w", err)
	}
	// Double the base fee so the bound survives the next few blocks.
	maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return FeeEstimate{MaxFee: maxFee, MaxPriorityFee: tip}, nil
}

func (c *EthClient) Broadcast(ctx context.Context, call Call, gasLimit uint64, fees FeeEstimate) (string, error) {
	contract, err := c.bound(call.Target)
	if err != nil {
		return "", err
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.GasLimit = gasLimit
	opts.GasFeeCap = fees.MaxFee
	opts.GasTipCap = fees.MaxPriorityFee

	tx, err := contract.Transact(&opts, call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("broadcast %s: %w", call.Method, err)
	}
	return tx.Hash().Hex(), nil
}

// AwaitReceipt polls until the transaction is mined and buried under the
// requested number of confirming blocks.
func (c *EthClient) AwaitReceipt(ctx context.Context, txHash string, confirmations uint64) (Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := c.client.TransactionReceipt(ctx, hash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return Receipt{}, fmt.Errorf("fetch receipt: %w", err)
		}
		if r != nil {
			receipt = r
			break
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}

	for {
		latest, err := c.client.BlockNumber(ctx)
		if err != nil {
			return Receipt{}, fmt.Errorf("fetch block number: %w", err)
		}
		if latest >= receipt.BlockNumber.Uint64()+confirmations {
			break
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}

	return c.decodeReceipt(receipt), nil
}

func (c *EthClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	decoded := c.decodeReceipt(r)
	return &decoded, nil
}

func (c *EthClient) Read(ctx context.Context, call Call, out *[]any) error {
	contract, err := c.bound(call.Target)
	if err != nil {
		return err
	}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, out, call.Method, call.Args...); err != nil {
		return fmt.Errorf("call %s: %w", call.Method, err)
	}
	return nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) decodeReceipt(r *types.Receipt) Receipt {
	out := Receipt{
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		Reverted:    r.Status == types.ReceiptStatusFailed,
	}
	ev := c.vaultABI.Events["EscrowCreated"]
	for _, lg := range r.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) == 0 {
			continue
		}
		if addr, ok := vals[0].(common.Address); ok {
			out.ContractAddress = addr.Hex()
		}
	}
	return out
}

// Bytes32FromString left-copies a short identifier into a bytes32 argument.
func Bytes32FromString(value string) [32]byte {
	var out [32]byte
	copy(out[:], value)
	return out
}

// Bytes32FromHex decodes a canonical 32-byte hex string (0x-prefixed or not).
func Bytes32FromHex(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return out, fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
