// Package chaintest provides an in-memory ledger that answers the node calls
// used by this module. It mines on submission unless mining is held.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SimulatedGas is the gas estimate returned for every successful simulation.
const SimulatedGas uint64 = 50_000

// Error mimics a JSON-RPC error object returned by a node.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string  { return e.Message }
func (e *Error) ErrorCode() int { return e.Code }

func rpcError(format string, args ...interface{}) error {
	return &Error{Code: -32000, Message: fmt.Sprintf(format, args...)}
}

func revertError(err error) error {
	return &Error{Code: 3, Message: "execution reverted: " + err.Error()}
}

// Contract is a Go stand-in for deployed bytecode.
type Contract interface {
	View(from common.Address, data []byte) ([]byte, error)
	// Apply executes a state-changing call. With commit false only the
	// preconditions are checked and no state changes.
	Apply(env *Env, from common.Address, data []byte, commit bool) ([]*types.Log, error)
}

// Env is handed to Apply and is valid only for the duration of the call.
type Env struct {
	l *Ledger
}

func (e *Env) Deploy(addr common.Address, c Contract) {
	e.l.contracts[addr] = c
}

type Ledger struct {
	mu        sync.Mutex
	chainID   *big.Int
	signer    types.Signer
	gasPrice  *big.Int
	tip       *big.Int
	baseFee   *big.Int
	block     uint64
	nonces    map[common.Address]uint64
	contracts map[common.Address]Contract
	pending   []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	calls     map[string]int
	hold      bool
	sendErrs  []error
	rcptErrs  []error
}

func NewLedger(chainID int64) *Ledger {
	id := big.NewInt(chainID)
	return &Ledger{
		chainID:   id,
		signer:    types.LatestSignerForChainID(id),
		gasPrice:  big.NewInt(1_000_000_000),
		tip:       big.NewInt(100_000_000),
		baseFee:   big.NewInt(500_000_000),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]Contract),
		receipts:  make(map[common.Hash]*types.Receipt),
		calls:     make(map[string]int),
	}
}

func (l *Ledger) Deploy(addr common.Address, c Contract) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contracts[addr] = c
}

// HoldMining keeps submitted transactions pending until Mine is called.
func (l *Ledger) HoldMining(hold bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hold = hold
}

// Mine includes every pending transaction and returns how many were mined.
func (l *Ledger) Mine() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mineLocked()
}

// FailNextSend makes the next submission fail with err before validation.
func (l *Ledger) FailNextSend(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErrs = append(l.sendErrs, err)
}

// FailNextReceipts makes the next len(errs) receipt queries fail.
func (l *Ledger) FailNextReceipts(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rcptErrs = append(l.rcptErrs, errs...)
}

// SetNonce overrides the confirmed transaction count of addr.
func (l *Ledger) SetNonce(addr common.Address, nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonces[addr] = nonce
}

// Calls returns how often the JSON-RPC method was served.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// Sent returns every transaction accepted for inclusion, in order.
func (l *Ledger) Sent() []*types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*types.Transaction(nil), l.sent...)
}

func (l *Ledger) BlockNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

func (l *Ledger) ChainID(context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_chainId"]++
	return new(big.Int).Set(l.chainID), nil
}

func (l *Ledger) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_getTransactionCount"]++
	return l.nonces[account], nil
}

func (l *Ledger) SuggestGasPrice(context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_gasPrice"]++
	return new(big.Int).Set(l.gasPrice), nil
}

func (l *Ledger) SuggestGasTipCap(context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_maxPriorityFeePerGas"]++
	return new(big.Int).Set(l.tip), nil
}

func (l *Ledger) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_getBlockByNumber"]++
	return &types.Header{Number: new(big.Int).SetUint64(l.block), BaseFee: new(big.Int).Set(l.baseFee)}, nil
}

func (l *Ledger) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_estimateGas"]++
	if msg.To == nil {
		return 0, rpcError("contract creation is not supported")
	}
	c, ok := l.contracts[*msg.To]
	if !ok {
		return 21_000, nil
	}
	if _, err := c.Apply(&Env{l: l}, msg.From, msg.Data, false); err != nil {
		return 0, revertError(err)
	}
	return SimulatedGas, nil
}

func (l *Ledger) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_call"]++
	if msg.To == nil {
		return nil, rpcError("missing call target")
	}
	c, ok := l.contracts[*msg.To]
	if !ok {
		return nil, nil
	}
	out, err := c.View(msg.From, msg.Data)
	if err != nil {
		return nil, revertError(err)
	}
	return out, nil
}

func (l *Ledger) SendTransaction(_ context.Context, tx *types.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_sendRawTransaction"]++
	if len(l.sendErrs) > 0 {
		err := l.sendErrs[0]
		l.sendErrs = l.sendErrs[1:]
		return err
	}
	from, err := types.Sender(l.signer, tx)
	if err != nil {
		return rpcError("invalid sender: %v", err)
	}
	if _, ok := l.receipts[tx.Hash()]; ok {
		return rpcError("already known")
	}
	for _, p := range l.pending {
		if p.Hash() == tx.Hash() {
			return rpcError("already known")
		}
	}
	confirmed := l.nonces[from]
	next := confirmed + l.pendingCount(from)
	switch {
	case tx.Nonce() < confirmed:
		return rpcError("nonce too low: next nonce %d, tx nonce %d", confirmed, tx.Nonce())
	case tx.Nonce() < next:
		return rpcError("replacement transaction underpriced")
	case tx.Nonce() > next:
		return rpcError("nonce too high: next nonce %d, tx nonce %d", next, tx.Nonce())
	}
	if tx.Gas() < 21_000 {
		return rpcError("intrinsic gas too low: have %d, want 21000", tx.Gas())
	}
	l.pending = append(l.pending, tx)
	l.sent = append(l.sent, tx)
	if !l.hold {
		l.mineLocked()
	}
	return nil
}

func (l *Ledger) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["eth_getTransactionReceipt"]++
	if len(l.rcptErrs) > 0 {
		err := l.rcptErrs[0]
		l.rcptErrs = l.rcptErrs[1:]
		return nil, err
	}
	r, ok := l.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (l *Ledger) pendingCount(from common.Address) uint64 {
	var n uint64
	for _, p := range l.pending {
		if sender, err := types.Sender(l.signer, p); err == nil && sender == from {
			n++
		}
	}
	return n
}

func (l *Ledger) mineLocked() int {
	mined := 0
	for _, tx := range l.pending {
		from, err := types.Sender(l.signer, tx)
		if err != nil {
			continue
		}
		l.block++
		l.nonces[from]++
		receipt := &types.Receipt{
			Type:        tx.Type(),
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			GasUsed:     21_000,
			BlockNumber: new(big.Int).SetUint64(l.block),
		}
		if c, ok := l.contractAt(tx.To()); ok {
			logs, err := c.Apply(&Env{l: l}, from, tx.Data(), true)
			if err != nil {
				receipt.Status = types.ReceiptStatusFailed
			} else {
				for i, lg := range logs {
					lg.TxHash = tx.Hash()
					lg.BlockNumber = l.block
					lg.Index = uint(i)
				}
				receipt.Logs = logs
			}
			receipt.GasUsed = SimulatedGas
		}
		l.receipts[tx.Hash()] = receipt
		mined++
	}
	l.pending = nil
	return mined
}

func (l *Ledger) contractAt(to *common.Address) (Contract, bool) {
	if to == nil {
		return nil, false
	}
	c, ok := l.contracts[*to]
	return c, ok
}

var errUnknownMethod = errors.New("function selector was not recognized")
