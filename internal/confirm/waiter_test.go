package confirm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type scriptedReceipts struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	receipt *types.Receipt
	err     error
}

func (s *scriptedReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return nil, ethereum.NotFound
	}
	next := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return next.receipt, next.err
}

func (s *scriptedReceipts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func mined(status uint64) *types.Receipt {
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(42), GasUsed: 46000}
}

var txHash = common.HexToHash("0x01")

func TestAwaitZeroTimeoutPollsOnce(t *testing.T) {
	src := &scriptedReceipts{}
	w := NewWaiter(src, Config{PollInterval: time.Millisecond}, nil)

	_, err := w.Await(context.Background(), txHash, time.Millisecond, 0)
	var timeout *ConfirmationTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, 1, timeout.Polls)
	require.Equal(t, 1, src.count())
}

func TestAwaitPollsUntilMined(t *testing.T) {
	src := &scriptedReceipts{steps: []step{{err: ethereum.NotFound}, {err: ethereum.NotFound}, {receipt: mined(types.ReceiptStatusSuccessful)}}}
	w := NewWaiter(src, Config{}, nil)

	r, err := w.Await(context.Background(), txHash, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.True(t, r.Success)
	require.Equal(t, uint64(42), r.BlockNumber)
	require.Equal(t, txHash, r.TxHash)
	require.Equal(t, 3, src.count())
}

func TestAwaitReverted(t *testing.T) {
	src := &scriptedReceipts{steps: []step{{receipt: mined(types.ReceiptStatusFailed)}}}
	r, err := NewWaiter(src, Config{}, nil).Await(context.Background(), txHash, time.Millisecond, time.Second)
	var reverted *ExecutionRevertedError
	require.ErrorAs(t, err, &reverted)
	require.Equal(t, uint64(42), reverted.BlockNumber)
	require.NotNil(t, r)
	require.False(t, r.Success)
}

func TestAwaitToleratesTransientFailures(t *testing.T) {
	flaky := errors.New("503 service unavailable")
	src := &scriptedReceipts{steps: []step{{err: flaky}, {err: flaky}, {receipt: mined(types.ReceiptStatusSuccessful)}}}
	_, err := NewWaiter(src, Config{RetryCount: 2}, nil).Await(context.Background(), txHash, time.Millisecond, time.Second)
	require.NoError(t, err)

	src = &scriptedReceipts{steps: []step{{err: flaky}}}
	_, err = NewWaiter(src, Config{RetryCount: 1}, nil).Await(context.Background(), txHash, time.Millisecond, time.Second)
	require.ErrorIs(t, err, flaky)
	require.Equal(t, 2, src.count())
}

func TestAwaitCancel(t *testing.T) {
	src := &scriptedReceipts{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewWaiter(src, Config{}, nil).Await(ctx, txHash, time.Hour, time.Hour)
		done <- err
	}()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrWaitAborted)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not abort")
	}
}

func TestWaitUsesConfig(t *testing.T) {
	src := &scriptedReceipts{steps: []step{{receipt: mined(types.ReceiptStatusSuccessful)}}}
	w := NewWaiter(src, Config{PollInterval: time.Millisecond, Timeout: time.Second}, nil)
	r, err := w.Wait(context.Background(), txHash)
	require.NoError(t, err)
	require.Equal(t, uint64(46000), r.GasUsed)
}
