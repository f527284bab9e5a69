package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnsettledTransaction is returned when an identity still has a broadcast
// transaction whose final state is unknown.
var ErrUnsettledTransaction = errors.New("previous transaction has no known final state")

type NonceSource interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Sequencer hands out nonces straight from the node and serializes
// submissions per identity. It keeps no local nonce counter: two calls to
// Next without a confirmed transaction in between return the same value.
type Sequencer struct {
	client NonceSource

	mu        sync.Mutex
	gates     map[common.Address]chan struct{}
	unsettled map[common.Address]Unsettled
}

// Unsettled is a broadcast transaction whose final state is unknown.
type Unsettled struct {
	Hash  common.Hash
	Nonce uint64
}

func NewSequencer(client NonceSource) *Sequencer {
	return &Sequencer{
		client:    client,
		gates:     make(map[common.Address]chan struct{}),
		unsettled: make(map[common.Address]Unsettled),
	}
}

// Next returns the confirmed transaction count of addr.
func (s *Sequencer) Next(ctx context.Context, addr common.Address) (uint64, error) {
	if s.client == nil {
		return 0, errors.New("sequencer client is nil")
	}
	nonce, err := s.client.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("transaction count for %s: %w", addr.Hex(), err)
	}
	return nonce, nil
}

// Acquire blocks until addr has no other transaction in flight through this
// Sequencer. The returned release func is idempotent.
func (s *Sequencer) Acquire(ctx context.Context, addr common.Address) (func(), error) {
	gate := s.gate(addr)
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-gate })
	}, nil
}

func (s *Sequencer) gate(addr common.Address) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[addr]
	if !ok {
		g = make(chan struct{}, 1)
		s.gates[addr] = g
	}
	return g
}

// MarkUnsettled records a broadcast transaction that did not reach a final
// state before its confirmation deadline.
func (s *Sequencer) MarkUnsettled(addr common.Address, hash common.Hash, nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsettled[addr] = Unsettled{Hash: hash, Nonce: nonce}
}

func (s *Sequencer) Unsettled(addr common.Address) (Unsettled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.unsettled[addr]
	return h, ok
}

func (s *Sequencer) Settle(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unsettled, addr)
}
