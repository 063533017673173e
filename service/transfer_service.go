package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/token_settlement/config"
	"go.uber.org/zap"
)

// ChainBackend is the slice of the ethclient surface the settlement
// pipeline touches. Tests substitute a fake.
type ChainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// minimal ERC20 ABI: transfer, balanceOf, decimals
const erc20ABIJSON = `[
 {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
 {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const nativeDecimals = 18

// TransferResult is always returned, never thrown past the settlement
// boundary: the state machine's FAILED transition depends on it.
// Pending marks a submitted transfer whose inclusion wait timed out;
// that is an unknown outcome, not a failure, and must never trigger a
// second transfer.
type TransferResult struct {
	Success bool
	Pending bool
	TxHash  string
	Error   string
}

type tokenRuntime struct {
	cfg    config.TokenConfig
	signer *Signer
}

// TransferService executes outbound value transfers: native coin moves
// for native-flagged tokens, contract transfer calls otherwise. Gas is
// deliberately pinned instead of estimated for predictability.
type TransferService struct {
	tokens map[string]*tokenRuntime

	networks  map[string]string
	defaultID string

	gasPrice       *big.Int
	nativeGasLimit uint64
	tokenGasLimit  uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration

	erc20 abi.ABI

	dial     func(url string) (ChainBackend, error)
	mu       sync.Mutex
	backends map[string]ChainBackend

	logger *zap.Logger
}

// NewTransferService resolves every configured signing credential
// eagerly so a missing key fails at startup rather than at first use.
func NewTransferService(cfg *config.Config, logger *zap.Logger) (*TransferService, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	tokens := make(map[string]*tokenRuntime, len(cfg.Tokens))
	for symbol, tc := range cfg.Tokens {
		signer, err := NewSigner(tc)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", symbol, err)
		}
		tokens[strings.ToUpper(symbol)] = &tokenRuntime{cfg: tc, signer: signer}
	}

	return &TransferService{
		tokens:         tokens,
		networks:       cfg.Networks.RPC,
		defaultID:      cfg.Networks.DefaultID,
		gasPrice:       new(big.Int).Mul(big.NewInt(cfg.Transfer.GasPriceGwei), big.NewInt(1e9)),
		nativeGasLimit: cfg.Transfer.NativeGasLimit,
		tokenGasLimit:  cfg.Transfer.TokenGasLimit,
		receiptTimeout: cfg.Transfer.ReceiptTimeout,
		pollInterval:   cfg.Transfer.PollInterval,
		erc20:          parsed,
		dial: func(url string) (ChainBackend, error) {
			return ethclient.Dial(url)
		},
		backends: make(map[string]ChainBackend),
		logger:   logger,
	}, nil
}

// Transfer moves `amount` of `symbol` to `to` and reports the outcome.
func (s *TransferService) Transfer(ctx context.Context, to, amount, symbol string) TransferResult {
	if !common.IsHexAddress(to) {
		return failure("invalid destination address: " + to)
	}

	token, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		return failure(fmt.Sprintf("no transfer configuration for token %s", symbol))
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil || !amt.IsPositive() {
		return failure("invalid transfer amount: " + amount)
	}

	backend, err := s.backend(token.cfg.NetworkID)
	if err != nil {
		return failure(err.Error())
	}

	s.logger.Info("dispatching transfer",
		zap.String("token", symbol),
		zap.String("to", to),
		zap.String("amount", amount),
		zap.String("from", token.signer.Address().Hex()))

	if token.cfg.Native {
		return s.transferNative(ctx, backend, token.signer, common.HexToAddress(to), amt)
	}
	return s.transferToken(ctx, backend, token, common.HexToAddress(to), amt)
}

// TreasuryAddress reports the signing address configured for a token.
func (s *TransferService) TreasuryAddress(symbol string) (string, error) {
	token, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		return "", ErrUnsupportedToken
	}
	return token.signer.Address().Hex(), nil
}

func (s *TransferService) transferNative(ctx context.Context, backend ChainBackend, signer *Signer, to common.Address, amount decimal.Decimal) TransferResult {
	amountWei := amount.Shift(nativeDecimals).BigInt()
	return s.submit(ctx, backend, signer, &to, amountWei, s.nativeGasLimit, nil)
}

func (s *TransferService) transferToken(ctx context.Context, backend ChainBackend, token *tokenRuntime, to common.Address, amount decimal.Decimal) TransferResult {
	contract := common.HexToAddress(token.cfg.ContractAddress)

	// Cross-network deployments of the same token disagree on decimals
	// (6 on some chains, 18 on others), so ask the contract.
	tokenDecimals, err := s.callDecimals(ctx, backend, contract)
	if err != nil {
		return failure("query token decimals: " + err.Error())
	}
	amountUnits := amount.Shift(int32(tokenDecimals)).BigInt()

	balance, err := s.callBalanceOf(ctx, backend, contract, token.signer.Address())
	if err != nil {
		return failure("query treasury balance: " + err.Error())
	}
	if balance.Cmp(amountUnits) < 0 {
		return failure(fmt.Sprintf("%s: have %s units, need %s", ErrInsufficientBalance, balance, amountUnits))
	}

	data, err := s.erc20.Pack("transfer", to, amountUnits)
	if err != nil {
		return failure("pack transfer call: " + err.Error())
	}
	return s.submit(ctx, backend, token.signer, &contract, big.NewInt(0), s.tokenGasLimit, data)
}

// submit signs and broadcasts a transaction, then polls for inclusion.
// The signer mutex is held across nonce fetch and broadcast.
func (s *TransferService) submit(ctx context.Context, backend ChainBackend, signer *Signer, to *common.Address, value *big.Int, gasLimit uint64, data []byte) TransferResult {
	signer.mu.Lock()
	nonce, err := backend.PendingNonceAt(ctx, signer.address)
	if err != nil {
		signer.mu.Unlock()
		return failure("fetch nonce: " + err.Error())
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		signer.mu.Unlock()
		return failure("fetch chain id: " + err.Error())
	}

	tx := types.NewTransaction(nonce, *to, value, gasLimit, s.gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), signer.key)
	if err != nil {
		signer.mu.Unlock()
		return failure("sign transaction: " + err.Error())
	}

	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		signer.mu.Unlock()
		return failure("broadcast transaction: " + err.Error())
	}
	signer.mu.Unlock()

	hash := signedTx.Hash()
	s.logger.Info("transfer submitted", zap.String("txHash", hash.Hex()))

	receipt, err := s.waitReceipt(ctx, backend, hash)
	if err != nil {
		// Submission outcome unknown: surface the hash for inspection,
		// never retry with a second transfer.
		s.logger.Warn("inclusion wait gave no receipt", zap.String("txHash", hash.Hex()), zap.Error(err))
		return TransferResult{Pending: true, TxHash: hash.Hex(), Error: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TransferResult{TxHash: hash.Hex(), Error: ErrTransferFailed.Error() + ": receipt status 0"}
	}

	s.logger.Info("transfer confirmed", zap.String("txHash", hash.Hex()))
	return TransferResult{Success: true, TxHash: hash.Hex()}
}

func (s *TransferService) waitReceipt(ctx context.Context, backend ChainBackend, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(s.receiptTimeout)
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt after %s", s.receiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *TransferService) callDecimals(ctx context.Context, backend ChainBackend, contract common.Address) (uint8, error) {
	data, err := s.erc20.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	results, err := s.erc20.Unpack("decimals", out)
	if err != nil {
		return 0, err
	}
	return results[0].(uint8), nil
}

func (s *TransferService) callBalanceOf(ctx context.Context, backend ChainBackend, contract, account common.Address) (*big.Int, error) {
	data, err := s.erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	results, err := s.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return results[0].(*big.Int), nil
}

// backend returns the long-lived client for a network id, dialing once.
// Unknown ids fall back to the default network.
func (s *TransferService) backend(networkID string) (ChainBackend, error) {
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

func failure(msg string) TransferResult {
	return TransferResult{Error: msg}
}
