package service

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChainBackend struct {
	receipts map[common.Hash]*types.Receipt
	chainID  *big.Int

	sent        []*types.Transaction
	nonce       uint64
	callHandler func(msg ethereum.CallMsg) ([]byte, error)
	// sentReceiptStatus is the receipt minted for submitted transactions;
	// noReceiptForSent leaves them unmined.
	sentReceiptStatus uint64
	noReceiptForSent  bool
	// receiptAfter suppresses receipts for the first N polls
	receiptAfter int
	polls        int
}

func (f *fakeChainBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.chainID == nil {
		return big.NewInt(56), nil
	}
	return f.chainID, nil
}

func (f *fakeChainBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChainBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callHandler(msg)
}

func (f *fakeChainBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	if !f.noReceiptForSent {
		if f.receipts == nil {
			f.receipts = make(map[common.Hash]*types.Receipt)
		}
		f.receipts[tx.Hash()] = &types.Receipt{Status: f.sentReceiptStatus}
	}
	return nil
}

func (f *fakeChainBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.polls++
	if f.polls <= f.receiptAfter {
		return nil, ethereum.NotFound
	}
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func transferLog(to common.Address, value *big.Int) *types.Log {
	from := common.HexToAddress("0x697bc55e4c184f4c1f3e1e55d8a4090a66a61aa0")
	return &types.Log{
		Topics: []common.Hash{
			transferEventSig,
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
		},
		Data: common.BigToHash(value).Bytes(),
	}
}

func newTestVerifyService(t *testing.T, strict bool, backend ChainBackend) *VerifyService {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(transferEventABIJSON))
	require.NoError(t, err)
	return &VerifyService{
		networks:  map[string]string{"56": "http://unused"},
		defaultID: "56",
		strict:    strict,
		erc20:     parsed,
		backends:  map[string]ChainBackend{"56": backend},
		logger:    zap.NewNop(),
	}
}

const claimedHash = "0xb49aed9f947d6ca4b408619da9fd8fb9cbb9d2a5ad779445ce6ee0366d4af0c8"

var treasury = common.HexToAddress("0x316747dddD12840b29b87B7AF16Ba6407C17F19b")

func receiptWith(logs ...*types.Log) map[common.Hash]*types.Receipt {
	return map[common.Hash]*types.Receipt{
		common.HexToHash(claimedHash): {
			Status: types.ReceiptStatusSuccessful,
			Logs:   logs,
		},
	}
}

func TestVerifyInboundPaymentMatch(t *testing.T) {
	amount := big.NewInt(30000000)
	backend := &fakeChainBackend{receipts: receiptWith(transferLog(treasury, amount))}
	svc := newTestVerifyService(t, true, backend)

	err := svc.VerifyInboundPayment(context.Background(), "56", claimedHash,
		// receiver matching is case-insensitive
		strings.ToLower(treasury.Hex()), "30000000")
	assert.NoError(t, err)
}

func TestVerifyInboundPaymentWrongAmount(t *testing.T) {
	backend := &fakeChainBackend{receipts: receiptWith(transferLog(treasury, big.NewInt(999)))}

	strict := newTestVerifyService(t, true, backend)
	err := strict.VerifyInboundPayment(context.Background(), "56", claimedHash, treasury.Hex(), "30000000")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	permissive := newTestVerifyService(t, false, backend)
	err = permissive.VerifyInboundPayment(context.Background(), "56", claimedHash, treasury.Hex(), "30000000")
	assert.NoError(t, err)
}

func TestVerifyInboundPaymentWrongReceiver(t *testing.T) {
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	backend := &fakeChainBackend{receipts: receiptWith(transferLog(other, big.NewInt(30000000)))}
	svc := newTestVerifyService(t, true, backend)

	err := svc.VerifyInboundPayment(context.Background(), "56", claimedHash, treasury.Hex(), "30000000")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerifyInboundPaymentMissingReceipt(t *testing.T) {
	backend := &fakeChainBackend{}
	svc := newTestVerifyService(t, true, backend)

	err := svc.VerifyInboundPayment(context.Background(), "56", claimedHash, treasury.Hex(), "30000000")
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
}

func TestVerifyInboundPaymentRevertedReceipt(t *testing.T) {
	backend := &fakeChainBackend{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(claimedHash): {Status: types.ReceiptStatusFailed},
	}}
	svc := newTestVerifyService(t, true, backend)

	err := svc.VerifyInboundPayment(context.Background(), "56", claimedHash, treasury.Hex(), "30000000")
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
}

func TestVerifyInboundPaymentUnknownNetworkUsesDefault(t *testing.T) {
	amount := big.NewInt(42)
	backend := &fakeChainBackend{receipts: receiptWith(transferLog(treasury, amount))}
	svc := newTestVerifyService(t, true, backend)

	err := svc.VerifyInboundPayment(context.Background(), "unknown-net", claimedHash, treasury.Hex(), "42")
	assert.NoError(t, err)
}
