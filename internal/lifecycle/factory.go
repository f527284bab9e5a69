package lifecycle

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/confirm"
	"github.com/flyingMooncake/nft-Chess/internal/metrics"
	"github.com/flyingMooncake/nft-Chess/internal/signer"
	"github.com/flyingMooncake/nft-Chess/internal/txbuilder"
)

// NewPipelineFromConfig wires the lifecycle components against node.
func NewPipelineFromConfig(cfg *config.Config, node Node, chainID *big.Int, m *metrics.Recorder, logger *slog.Logger, dryRun bool) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if node == nil {
		return nil, fmt.Errorf("node client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	minTip, err := txbuilder.GweiToWei(cfg.Tx.MinPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	estimator := txbuilder.NewEstimator(node, txbuilder.EstimatorConfig{
		Mode:               txbuilder.FeeMode(cfg.Tx.FeeMode),
		GasLimitMultiplier: cfg.Tx.GasLimitMultiplier,
		MaxFeeMultiplier:   cfg.Tx.MaxFeeMultiplier,
		MinPriorityFeeWei:  minTip,
	})
	waiter := confirm.NewWaiter(node, confirm.Config{
		PollInterval: cfg.Tx.ConfirmPollInterval.Duration,
		Timeout:      cfg.Tx.ConfirmTimeout.Duration,
		RetryCount:   cfg.Tx.ConfirmRetryMax,
	}, logger)
	return NewPipeline(Options{
		Sequencer: txbuilder.NewSequencer(node),
		Estimator: estimator,
		Builder:   txbuilder.NewBuilder(chainID),
		Submitter: signer.NewSubmitter(node, logger),
		Waiter:    waiter,
		Metrics:   m,
		Logger:    logger,
		DryRun:    dryRun,
	})
}
