// Package app wires configuration, the node connection and the chess
// services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flyingMooncake/nft-Chess/internal/api"
	"github.com/flyingMooncake/nft-Chess/internal/chess"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/journal"
	"github.com/flyingMooncake/nft-Chess/internal/lifecycle"
	"github.com/flyingMooncake/nft-Chess/internal/metrics"
	"github.com/flyingMooncake/nft-Chess/internal/util"
)

type Options struct {
	// DryRun signs transactions without broadcasting them.
	DryRun bool
}

type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	rpc      *rpc.Client
	node     lifecycle.Node
	chainID  *big.Int
	registry *prometheus.Registry
	journal  *journal.Store
	pipeline *lifecycle.Pipeline
	chess    *chess.Service
}

// New dials the configured node and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	rpcClient, ethClient, err := dialHTTP(cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithNode(ctx, cfg, logger, ethClient, opts)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	a.rpc = rpcClient
	return a, nil
}

// NewWithNode builds the services against an existing node client.
func NewWithNode(ctx context.Context, cfg *config.Config, logger *slog.Logger, node lifecycle.Node, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chainID, err := resolveChainID(ctx, cfg, node)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	pipe, err := lifecycle.NewPipelineFromConfig(cfg, node, chainID, recorder, logger, opts.DryRun)
	if err != nil {
		return nil, err
	}
	contracts, err := chess.LoadContracts(cfg)
	if err != nil {
		return nil, err
	}
	store := journal.New(cfg.Journal.Path)
	coord := lifecycle.NewCoordinator(pipe, store, recorder, logger)
	svc := chess.NewService(contracts, node, pipe, coord, chess.RetryConfig{
		Max:     cfg.RPC.RetryMax,
		Backoff: cfg.RPC.RetryBackoff.Duration,
	}, logger)

	logger.Debug("services ready", "chain_id", chainID.String(), "token", cfg.TokenAddress().Hex(), "factory", cfg.FactoryAddress().Hex())
	return &App{
		cfg:      cfg,
		logger:   logger,
		node:     node,
		chainID:  chainID,
		registry: registry,
		journal:  store,
		pipeline: pipe,
		chess:    svc,
	}, nil
}

func (a *App) Chess() *chess.Service { return a.chess }

func (a *App) Journal() *journal.Store { return a.journal }

func (a *App) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

func (a *App) DryRun() bool { return a.pipeline.DryRun() }

func (a *App) Registry() *prometheus.Registry { return a.registry }

// Serve runs the read-only API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := api.NewServer(a.cfg, a.logger, a.chess, a.journal, a.registry)
	return srv.Start(ctx)
}

func (a *App) Close() {
	if a.rpc != nil {
		a.rpc.Close()
	}
}

func resolveChainID(ctx context.Context, cfg *config.Config, node lifecycle.Node) (*big.Int, error) {
	if cfg.ChainID != 0 {
		return new(big.Int).SetUint64(cfg.ChainID), nil
	}
	var id *big.Int
	err := util.Retry(ctx, cfg.RPC.RetryMax, cfg.RPC.RetryBackoff.Duration, func() error {
		cctx, cancel := withTimeout(ctx, cfg.RPC.RequestTimeout.Duration)
		defer cancel()
		var err error
		id, err = node.ChainID(cctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if id == nil || id.Sign() <= 0 {
		return nil, errors.New("node returned an invalid chain id")
	}
	return id, nil
}

func dialHTTP(cfg *config.Config, logger *slog.Logger) (*rpc.Client, *ethclient.Client, error) {
	httpClient := &http.Client{
		Timeout: cfg.RPC.RequestTimeout.Duration,
	}
	rpcClient, err := rpc.DialHTTPWithClient(cfg.RPC.HTTP, httpClient)
	if err != nil {
		return nil, nil, err
	}
	rpcClient.SetHeader("User-Agent", "chessctl")
	logger.Debug("rpc http connected", "url", cfg.RPC.HTTP)
	return rpcClient, ethclient.NewClient(rpcClient), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
