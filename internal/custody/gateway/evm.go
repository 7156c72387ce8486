// Package gateway adapts the custody module's ledger contract to an
// EVM-compatible chain over JSON-RPC.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// weiDecimals is the native token's decimal shift.
const weiDecimals = 18

// EVMGateway implements interfaces.LedgerGateway against an EVM node. The
// operator key signs outbound transfers; multisig approval happens off-chain
// before anything reaches this gateway.
type EVMGateway struct {
	client       *ethclient.Client
	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address
	receiptWait  time.Duration
	logger       *zap.Logger
}

var _ interfaces.LedgerGateway = (*EVMGateway)(nil)

// NewEVMGateway dials the node and derives the operator address.
func NewEVMGateway(rpcURL, operatorKeyHex string, receiptWait time.Duration, logger *zap.Logger) (*EVMGateway, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.External(err, "dial ledger node %s", rpcURL)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, errors.Validation("invalid operator key: %v", err)
	}
	return &EVMGateway{
		client:       client,
		operatorKey:  key,
		operatorAddr: crypto.PubkeyToAddress(key.PublicKey),
		receiptWait:  receiptWait,
		logger:       logger,
	}, nil
}

// Submit signs and broadcasts the transfer, then waits for it to be mined.
// A reverted transaction is a permanent failure; node and propagation errors
// are transient.
func (g *EVMGateway) Submit(ctx context.Context, sub *interfaces.LedgerSubmission) (*interfaces.LedgerReceipt, error) {
	if !common.IsHexAddress(sub.Recipient) {
		return nil, errors.Wrap(interfaces.ErrPermanentLedgerFailure, errors.KindExternal,
			"recipient %q is not a valid address", sub.Recipient)
	}
	to := common.HexToAddress(sub.Recipient)
	value := amountToWei(sub.Amount)

	nonce, err := g.client.PendingNonceAt(ctx, g.operatorAddr)
	if err != nil {
		return nil, errors.External(err, "fetch nonce")
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.External(err, "fetch gas price")
	}
	chainID, err := g.client.NetworkID(ctx)
	if err != nil {
		return nil, errors.External(err, "fetch chain id")
	}

	tx := types.NewTransaction(nonce, to, value, 21000, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), g.operatorKey)
	if err != nil {
		return nil, errors.Internal(err, "sign transaction")
	}
	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, errors.External(err, "broadcast transaction")
	}

	g.logger.Info("submitted ledger transaction",
		zap.String("transaction_id", sub.TransactionID.String()),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("recipient", sub.Recipient),
		zap.String("amount", sub.Amount.String()),
	)

	receipt, err := g.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, errors.Wrap(interfaces.ErrPermanentLedgerFailure, errors.KindExternal,
			"transaction %s reverted", signedTx.Hash().Hex())
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), gasPrice)
	return &interfaces.LedgerReceipt{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Int64(),
		Fee:         decimal.NewFromBigInt(fee, -weiDecimals),
	}, nil
}

// GetConfirmations returns the confirmation depth of a mined transaction.
// Unmined transactions report zero.
func (g *EVMGateway) GetConfirmations(ctx context.Context, txHash string) (int, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		// Not yet mined.
		return 0, nil
	}
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.External(err, "fetch head block")
	}
	depth := int64(head) - receipt.BlockNumber.Int64() + 1
	if depth < 0 {
		depth = 0
	}
	return int(depth), nil
}

// GetBalance returns the native balance of a wallet contract.
func (g *EVMGateway) GetBalance(ctx context.Context, contractRef string) (decimal.Decimal, error) {
	if !common.IsHexAddress(contractRef) {
		return decimal.Zero, errors.Validation("contract ref %q is not a valid address", contractRef)
	}
	bal, err := g.client.BalanceAt(ctx, common.HexToAddress(contractRef), nil)
	if err != nil {
		return decimal.Zero, errors.External(err, "fetch balance")
	}
	return decimal.NewFromBigInt(bal, -weiDecimals), nil
}

func (g *EVMGateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(g.receiptWait)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.External(err, "transaction %s not mined within %s", hash.Hex(), g.receiptWait)
		}
		select {
		case <-ctx.Done():
			return nil, errors.External(ctx.Err(), "wait for transaction %s", hash.Hex())
		case <-ticker.C:
		}
	}
}

func amountToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(weiDecimals).BigInt()
}
