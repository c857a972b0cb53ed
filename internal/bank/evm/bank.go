// Package evm implements domain.Bank by sending native-value transactions
// through an Ethereum-compatible JSON-RPC endpoint, signed with the operator
// key. This is the one component that moves real funds; the ledger entry for
// a withdrawal is already cleared by the time Transfer is called, so errors
// here are surfaced to operators rather than retried into double payments.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// nativeTransferGas is the fixed gas cost of a plain value transfer.
const nativeTransferGas = 21000

// Config holds the connection and signing parameters for the EVM bank.
type Config struct {
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string
}

// Bank sends withdrawals as signed native-value transactions.
type Bank struct {
	client  *ethclient.Client
	pk      *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// New dials the RPC endpoint and prepares the operator signing key.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Bank, error) {
	pk, err := ethcrypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("evm: invalid operator key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	return &Bank{
		client:  client,
		pk:      pk,
		from:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.With(slog.String("component", "bank_evm")),
	}, nil
}

// Transfer sends amount to the given account and returns the transaction
// hash. It waits only for broadcast acceptance, not for inclusion.
func (b *Bank) Transfer(ctx context.Context, to domain.AccountID, amount *uint256.Int) (string, error) {
	if !common.IsHexAddress(string(to)) {
		return "", fmt.Errorf("evm: %q is not a valid address", to)
	}
	toAddr := common.HexToAddress(string(to))

	nonce, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return "", fmt.Errorf("evm: pending nonce: %w", err)
	}

	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &toAddr,
		Value:    amount.ToBig(),
		Gas:      nativeTransferGas,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(b.chainID), b.pk)
	if err != nil {
		return "", fmt.Errorf("evm: sign transfer: %w", err)
	}

	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: send transfer to %s: %w", to, err)
	}

	b.logger.InfoContext(ctx, "transfer broadcast",
		slog.String("to", string(to)),
		slog.String("amount", amount.Dec()),
		slog.String("tx_hash", signed.Hash().Hex()),
	)

	return signed.Hash().Hex(), nil
}

// Name identifies the bank implementation.
func (b *Bank) Name() string { return "evm" }

// Close releases the RPC connection.
func (b *Bank) Close() {
	b.client.Close()
}

// Compile-time interface check.
var _ domain.Bank = (*Bank)(nil)
