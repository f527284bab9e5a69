// Package confirm polls the node for transaction receipts.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrWaitAborted is returned when the caller cancels the wait. The broadcast
// transaction is unaffected.
var ErrWaitAborted = errors.New("confirmation wait aborted")

type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Receipt is the inclusion record of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
	GasUsed     uint64
	Logs        []*types.Log
}

type ConfirmationTimeoutError struct {
	Hash    common.Hash
	Timeout time.Duration
	Polls   int
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("tx %s not mined after %s (%d polls); final state unknown", e.Hash.Hex(), e.Timeout, e.Polls)
}

// ExecutionRevertedError means the transaction was included but the contract
// rejected it. The fee was still spent.
type ExecutionRevertedError struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

func (e *ExecutionRevertedError) Error() string {
	return fmt.Sprintf("tx %s reverted in block %d (gas used %d)", e.Hash.Hex(), e.BlockNumber, e.GasUsed)
}

type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// RetryCount is the number of consecutive failed receipt queries
	// tolerated before the wait gives up.
	RetryCount int
}

type Waiter struct {
	client ReceiptSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewWaiter(client ReceiptSource, cfg Config, logger *slog.Logger) *Waiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{client: client, cfg: cfg, logger: logger, now: time.Now}
}

func (w *Waiter) Config() Config {
	return w.cfg
}

// Wait awaits with the configured poll interval and timeout.
func (w *Waiter) Wait(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return w.Await(ctx, hash, w.cfg.PollInterval, w.cfg.Timeout)
}

// Await polls until the transaction is mined or timeout elapses. The first
// poll is immediate; a zero timeout yields exactly one poll.
func (w *Waiter) Await(ctx context.Context, hash common.Hash, pollInterval, timeout time.Duration) (*Receipt, error) {
	if w.client == nil {
		return nil, errors.New("receipt client is nil")
	}
	if pollInterval <= 0 {
		pollInterval = w.cfg.PollInterval
	}
	if timeout < 0 {
		timeout = 0
	}
	deadline := w.now().Add(timeout)
	polls := 0
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWaitAborted, err)
		}
		polls++
		raw, err := w.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && raw != nil:
			return w.finish(hash, raw, polls)
		case err == nil, errors.Is(err, ethereum.NotFound):
			failures = 0
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrWaitAborted, ctxErr)
			}
			failures++
			w.logger.Warn("receipt query failed", "hash", hash.Hex(), "attempt", failures, "err", err)
			if failures > w.cfg.RetryCount {
				return nil, fmt.Errorf("receipt for %s: %w", hash.Hex(), err)
			}
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 {
			return nil, &ConfirmationTimeoutError{Hash: hash, Timeout: timeout, Polls: polls}
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrWaitAborted, ctx.Err())
		case <-timer.C:
		}
	}
}

func (w *Waiter) finish(hash common.Hash, raw *types.Receipt, polls int) (*Receipt, error) {
	r := &Receipt{
		TxHash:      hash,
		BlockNumber: blockNumber(raw.BlockNumber),
		Success:     raw.Status == types.ReceiptStatusSuccessful,
		GasUsed:     raw.GasUsed,
		Logs:        raw.Logs,
	}
	if !r.Success {
		w.logger.Warn("tx reverted", "hash", hash.Hex(), "block", r.BlockNumber, "gas_used", r.GasUsed)
		return r, &ExecutionRevertedError{Hash: hash, BlockNumber: r.BlockNumber, GasUsed: r.GasUsed}
	}
	w.logger.Info("tx confirmed", "hash", hash.Hex(), "block", r.BlockNumber, "gas_used", r.GasUsed, "polls", polls)
	return r, nil
}

func blockNumber(n *big.Int) uint64 {
	if n == nil || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
