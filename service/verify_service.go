package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/token_settlement/config"
	"go.uber.org/zap"
)

// Transfer event signature: Transfer(address,address,uint256)
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const transferEventABIJSON = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"value","type":"uint256"}],"name":"Transfer","type":"event"}]`

// VerifyService checks a buyer-claimed inbound payment against chain
// state: the receipt must exist, have succeeded, and carry a Transfer
// log whose receiver and value exactly match what the order expects.
// In strict mode a mismatch aborts settlement; in permissive mode it is
// logged as a security alert and settlement continues.
type VerifyService struct {
	networks  map[string]string
	defaultID string
	strict    bool

	erc20 abi.ABI

	dial     func(url string) (ChainBackend, error)
	mu       sync.Mutex
	backends map[string]ChainBackend

	logger *zap.Logger
}

func NewVerifyService(cfg *config.Config, logger *zap.Logger) (*VerifyService, error) {
	parsed, err := abi.JSON(strings.NewReader(transferEventABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse transfer event abi: %w", err)
	}
	return &VerifyService{
		networks:  cfg.Networks.RPC,
		defaultID: cfg.Networks.DefaultID,
		strict:    cfg.Verification.Strict,
		erc20:     parsed,
		dial: func(url string) (ChainBackend, error) {
			return ethclient.Dial(url)
		},
		backends: make(map[string]ChainBackend),
		logger:   logger,
	}, nil
}

// VerifyInboundPayment validates that txHash carries a token transfer of
// exactly expectedAmount minor units to expectedReceiver. networkID
// selects the RPC endpoint; unknown ids use the default network.
func (s *VerifyService) VerifyInboundPayment(ctx context.Context, networkID, txHash, expectedReceiver, expectedAmount string) error {
	expected, ok := new(big.Int).SetString(expectedAmount, 10)
	if !ok || expected.Sign() <= 0 {
		return fmt.Errorf("%w: bad minor-unit amount %q", ErrInvalidAmount, expectedAmount)
	}
	if !common.IsHexAddress(expectedReceiver) {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, expectedReceiver)
	}

	backend, err := s.backend(networkID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return fmt.Errorf("%w: receipt not found for %s", ErrPaymentNotConfirmed, txHash)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", ErrPaymentNotConfirmed, txHash)
	}

	receiver := common.HexToAddress(expectedReceiver)
	for _, l := range receipt.Logs {
		to, value, err := s.parseTransfer(l)
		if err != nil {
			continue
		}
		if to == receiver && value.Cmp(expected) == 0 {
			return nil
		}
	}

	s.logger.Warn("security alert: no matching transfer in receipt",
		zap.String("txHash", txHash),
		zap.String("expectedReceiver", expectedReceiver),
		zap.String("expectedAmount", expectedAmount),
		zap.Bool("strict", s.strict))
	if s.strict {
		return fmt.Errorf("%w: no transfer of %s to %s in %s", ErrVerificationFailed, expectedAmount, expectedReceiver, txHash)
	}
	return nil
}

// parseTransfer decodes an ERC20 Transfer log: indexed from/to in the
// topics, value in the data segment.
func (s *VerifyService) parseTransfer(l *types.Log) (common.Address, *big.Int, error) {
	if len(l.Topics) < 3 || l.Topics[0] != transferEventSig {
		return common.Address{}, nil, fmt.Errorf("not a transfer event")
	}
	to := common.BytesToAddress(l.Topics[2].Bytes()[12:])

	var out struct{ Value *big.Int }
	if err := s.erc20.UnpackIntoInterface(&out, "Transfer", l.Data); err != nil {
		return common.Address{}, nil, fmt.Errorf("abi unpack: %w", err)
	}
	return to, out.Value, nil
}

func (s *VerifyService) backend(networkID string) (ChainBackend, error) {
	if networkID == "" {
		networkID = s.defaultID
	}
	url, ok := s.networks[networkID]
	if !ok {
		networkID = s.defaultID
		url = s.networks[networkID]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.backends[networkID]; ok {
		return b, nil
	}
	b, err := s.dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial network %s: %w", networkID, err)
	}
	s.backends[networkID] = b
	return b, nil
}
