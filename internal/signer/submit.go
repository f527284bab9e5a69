package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type RejectReason string

const (
	ReasonNonceTooLow       RejectReason = "nonce_too_low"
	ReasonInsufficientFunds RejectReason = "insufficient_funds"
	ReasonUnderpriced       RejectReason = "underpriced"
	ReasonRejected          RejectReason = "rejected"
	// ReasonTransport means the node never answered. The transaction may or
	// may not have reached the mempool.
	ReasonTransport RejectReason = "transport"
)

// BroadcastRejectedError is returned when the node refuses a signed
// transaction. It is never retried here; callers rebuild with a fresh nonce.
type BroadcastRejectedError struct {
	Hash   common.Hash
	Nonce  uint64
	Reason RejectReason
	Err    error
}

func (e *BroadcastRejectedError) Error() string {
	if e == nil {
		return "broadcast rejected"
	}
	msg := fmt.Sprintf("broadcast rejected (%s) tx=%s nonce=%d", e.Reason, e.Hash.Hex(), e.Nonce)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BroadcastRejectedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StaleNonce reports whether a rebuild with a freshly queried nonce can
// succeed.
func (e *BroadcastRejectedError) StaleNonce() bool {
	return e != nil && (e.Reason == ReasonNonceTooLow || e.Reason == ReasonUnderpriced)
}

// Ambiguous reports whether the broadcast may have been accepted anyway.
func (e *BroadcastRejectedError) Ambiguous() bool {
	return e != nil && e.Reason == ReasonTransport
}

type Submitter struct {
	client Broadcaster
	logger *slog.Logger
}

func NewSubmitter(client Broadcaster, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{client: client, logger: logger}
}

// Submit broadcasts the signed bytes once. Resubmitting an identical
// transaction returns the same hash.
func (s *Submitter) Submit(ctx context.Context, signed *SignedTransaction) (common.Hash, error) {
	if s.client == nil {
		return common.Hash{}, errors.New("broadcast client is nil")
	}
	if signed == nil {
		return common.Hash{}, errors.New("signed transaction is nil")
	}
	hash := signed.Hash()
	err := s.client.SendTransaction(ctx, signed.Transaction())
	if err == nil {
		s.logger.Info("tx submitted", "hash", hash.Hex(), "method", signed.Method(), "nonce", signed.Nonce())
		return hash, nil
	}
	if alreadyKnown(err) {
		s.logger.Info("tx already known", "hash", hash.Hex(), "nonce", signed.Nonce())
		return hash, nil
	}
	rejected := &BroadcastRejectedError{Hash: hash, Nonce: signed.Nonce(), Reason: classify(err), Err: err}
	s.logger.Warn("tx rejected", "hash", hash.Hex(), "nonce", signed.Nonce(), "reason", rejected.Reason, "err", err)
	return common.Hash{}, rejected
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func classify(err error) RejectReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce has already been used"):
		return ReasonNonceTooLow
	case strings.Contains(msg, "insufficient funds"):
		return ReasonInsufficientFunds
	case strings.Contains(msg, "underpriced"):
		return ReasonUnderpriced
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return ReasonRejected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTransport
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return ReasonTransport
	}
	return ReasonRejected
}
