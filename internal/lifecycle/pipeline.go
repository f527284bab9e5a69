// Package lifecycle drives a contract call through estimation, building,
// signing, broadcast and confirmation, and coordinates approve-then-act
// operations across two such runs.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flyingMooncake/nft-Chess/internal/confirm"
	"github.com/flyingMooncake/nft-Chess/internal/contract"
	"github.com/flyingMooncake/nft-Chess/internal/metrics"
	"github.com/flyingMooncake/nft-Chess/internal/signer"
	"github.com/flyingMooncake/nft-Chess/internal/txbuilder"
)

// Node is everything the pipeline needs from the remote ledger.
type Node interface {
	txbuilder.ChainClient
	contract.Caller
	signer.Broadcaster
	confirm.ReceiptSource
}

type Stage string

const (
	StageBuilt     Stage = "built"
	StageSubmitted Stage = "submitted"
	StageConfirmed Stage = "confirmed"
)

// Observer is told about each completed stage. A non-nil error stops the
// run before the next stage starts.
type Observer func(stage Stage, res *Result) error

type Result struct {
	Estimate txbuilder.Estimate
	Unsigned *txbuilder.UnsignedTransaction
	Signed   *signer.SignedTransaction
	Hash     common.Hash
	Receipt  *confirm.Receipt
	// DryRun is set when the transaction was signed but not broadcast.
	DryRun bool
}

type Options struct {
	Sequencer *txbuilder.Sequencer
	Estimator *txbuilder.Estimator
	Builder   *txbuilder.Builder
	Submitter *signer.Submitter
	Waiter    *confirm.Waiter
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	DryRun    bool
}

type Pipeline struct {
	seq       *txbuilder.Sequencer
	estimator *txbuilder.Estimator
	builder   *txbuilder.Builder
	submitter *signer.Submitter
	waiter    *confirm.Waiter
	metrics   *metrics.Recorder
	logger    *slog.Logger
	dryRun    bool
	now       func() time.Time
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Sequencer == nil || opts.Estimator == nil || opts.Builder == nil || opts.Submitter == nil || opts.Waiter == nil {
		return nil, errors.New("pipeline requires sequencer, estimator, builder, submitter and waiter")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		seq:       opts.Sequencer,
		estimator: opts.Estimator,
		builder:   opts.Builder,
		submitter: opts.Submitter,
		waiter:    opts.Waiter,
		metrics:   opts.Metrics,
		logger:    logger,
		dryRun:    opts.DryRun,
		now:       time.Now,
	}, nil
}

func (p *Pipeline) DryRun() bool {
	return p.dryRun
}

// Execute runs one transaction to a final state. The identity's gate is
// held from the nonce query until the transaction is mined, known to have
// failed to broadcast, or recorded as unsettled.
func (p *Pipeline) Execute(ctx context.Context, id *signer.Identity, call *contract.PendingCall, observe Observer) (*Result, error) {
	if id == nil {
		return nil, errors.New("identity is nil")
	}
	if call == nil {
		return nil, errors.New("pending call is nil")
	}
	from := id.Address()
	release, err := p.seq.Acquire(ctx, from)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := p.settle(ctx, from); err != nil {
		return nil, err
	}

	log := p.logger.With("from", from.Hex(), "method", call.ContractName+"."+call.Method)
	res := &Result{}

	est, err := p.estimator.Estimate(ctx, call, from)
	if err != nil {
		var estErr *txbuilder.EstimationError
		if errors.As(err, &estErr) {
			p.metrics.EstimationFailed(string(estErr.Stage))
		}
		return nil, err
	}
	res.Estimate = est

	nonce, err := p.seq.Next(ctx, from)
	if err != nil {
		return nil, err
	}
	unsigned, err := p.builder.Build(call, from, nonce, est)
	if err != nil {
		return nil, err
	}
	res.Unsigned = unsigned
	signed, err := signer.Sign(unsigned, id)
	if err != nil {
		return nil, err
	}
	res.Signed = signed
	log.Debug("tx built", "nonce", nonce, "gas", unsigned.Gas(), "fee_ceiling", unsigned.FeeCeiling().String())
	if err := notify(observe, StageBuilt, res); err != nil {
		return res, err
	}

	if p.dryRun {
		res.DryRun = true
		res.Hash = signed.Hash()
		log.Info("dry run, not broadcasting", "hash", res.Hash.Hex(), "nonce", nonce)
		return res, nil
	}

	sentAt := p.now()
	hash, err := p.submitter.Submit(ctx, signed)
	if err != nil {
		var rejected *signer.BroadcastRejectedError
		if errors.As(err, &rejected) {
			p.metrics.Rejected(string(rejected.Reason))
			if rejected.Ambiguous() {
				p.seq.MarkUnsettled(from, signed.Hash(), nonce)
			}
		}
		return res, err
	}
	res.Hash = hash
	p.metrics.Submitted(unsigned.Method())
	if err := notify(observe, StageSubmitted, res); err != nil {
		p.seq.MarkUnsettled(from, hash, nonce)
		return res, err
	}

	receipt, err := p.waiter.Wait(ctx, hash)
	res.Receipt = receipt
	if receipt != nil {
		p.metrics.Mined(unsigned.Method(), receipt.Success, p.now().Sub(sentAt))
	}
	if err != nil {
		var timeout *confirm.ConfirmationTimeoutError
		if errors.As(err, &timeout) || receipt == nil {
			p.seq.MarkUnsettled(from, hash, nonce)
			log.Warn("tx final state unknown", "hash", hash.Hex(), "err", err)
		}
		return res, err
	}
	if err := notify(observe, StageConfirmed, res); err != nil {
		return res, err
	}
	return res, nil
}

// settle resolves a transaction left without a known final state by a
// previous run. It polls once and refuses to continue while the
// transaction's nonce is still unused on chain.
func (p *Pipeline) settle(ctx context.Context, from common.Address) error {
	prev, ok := p.seq.Unsettled(from)
	if !ok {
		return nil
	}
	receipt, err := p.waiter.Await(ctx, prev.Hash, p.waiter.Config().PollInterval, 0)
	if receipt != nil {
		p.seq.Settle(from)
		p.logger.Info("previous tx settled", "hash", prev.Hash.Hex(), "block", receipt.BlockNumber, "success", receipt.Success)
		return nil
	}
	var timeout *confirm.ConfirmationTimeoutError
	if !errors.As(err, &timeout) {
		return err
	}
	confirmed, err := p.seq.Next(ctx, from)
	if err != nil {
		return err
	}
	if confirmed > prev.Nonce {
		p.seq.Settle(from)
		p.logger.Warn("previous tx nonce consumed by another transaction", "hash", prev.Hash.Hex(), "nonce", prev.Nonce)
		return nil
	}
	return fmt.Errorf("%w: %s (nonce %d)", txbuilder.ErrUnsettledTransaction, prev.Hash.Hex(), prev.Nonce)
}

func notify(observe Observer, stage Stage, res *Result) error {
	if observe == nil {
		return nil
	}
	return observe(stage, res)
}
