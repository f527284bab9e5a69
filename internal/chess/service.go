// Package chess implements the token and game operations on top of the
// transaction lifecycle.
package chess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/flyingMooncake/nft-Chess/internal/contract"
	"github.com/flyingMooncake/nft-Chess/internal/lifecycle"
	"github.com/flyingMooncake/nft-Chess/internal/signer"
	"github.com/flyingMooncake/nft-Chess/internal/util"
)

var ErrZeroBet = errors.New("bet amount must be positive")

type RetryConfig struct {
	Max     int
	Backoff time.Duration
}

type GameInfo struct {
	Address   common.Address `json:"address"`
	BetAmount *big.Int       `json:"bet_amount"`
	Player1   common.Address `json:"player1"`
	Player2   common.Address `json:"player2"`
}

// GameResult is the outcome of creating or joining a game.
type GameResult struct {
	Game    common.Address
	Bet     *big.Int
	Outcome *lifecycle.Outcome
}

type Service struct {
	contracts *Contracts
	caller    contract.Caller
	exec      lifecycle.Executor
	coord     *lifecycle.Coordinator
	retry     RetryConfig
	logger    *slog.Logger
	// fetchLimit bounds concurrent view calls when listing games.
	fetchLimit int
}

func NewService(contracts *Contracts, caller contract.Caller, exec lifecycle.Executor, coord *lifecycle.Coordinator, retry RetryConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		contracts:  contracts,
		caller:     caller,
		exec:       exec,
		coord:      coord,
		retry:      retry,
		logger:     logger,
		fetchLimit: 8,
	}
}

func (s *Service) Contracts() *Contracts {
	return s.contracts
}

func (s *Service) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return s.viewBig(ctx, s.contracts.Token, "balanceOf", owner)
}

func (s *Service) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return s.viewBig(ctx, s.contracts.Token, "allowance", owner, spender)
}

func (s *Service) Decimals(ctx context.Context) (uint8, error) {
	out, err := s.view(ctx, s.contracts.Token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("token.decimals: unexpected type %T", out[0])
	}
	return d, nil
}

// Approve lets spender move up to amount of the identity's tokens.
func (s *Service) Approve(ctx context.Context, id *signer.Identity, spender common.Address, amount *big.Int) (*lifecycle.Result, error) {
	call, err := s.contracts.Token.Prepare("approve", spender, amount)
	if err != nil {
		return nil, err
	}
	return s.exec.Execute(ctx, id, call, nil)
}

func (s *Service) Transfer(ctx context.Context, id *signer.Identity, to common.Address, amount *big.Int) (*lifecycle.Result, error) {
	call, err := s.contracts.Token.Prepare("transfer", to, amount)
	if err != nil {
		return nil, err
	}
	return s.exec.Execute(ctx, id, call, nil)
}

// CreateGame approves the factory for bet and, once that is mined, creates
// the game.
func (s *Service) CreateGame(ctx context.Context, id *signer.Identity, bet *big.Int) (*GameResult, error) {
	if bet == nil || bet.Sign() <= 0 {
		return nil, ErrZeroBet
	}
	factory := s.contracts.Factory
	req, err := s.custodyRequest("create-game", id, factory.Address(), bet)
	if err != nil {
		return nil, err
	}
	req.Action = func(context.Context) (*contract.PendingCall, error) {
		return factory.Prepare("createGame", bet)
	}
	out, err := s.coord.Run(ctx, id, req)
	res := &GameResult{Bet: bet, Outcome: out}
	if err != nil {
		return res, err
	}
	res.Game = s.createdGame(out, id.Address())
	return res, nil
}

// JoinGame reads the game's bet, approves the game for it and then joins.
func (s *Service) JoinGame(ctx context.Context, id *signer.Identity, game common.Address) (*GameResult, error) {
	handle := s.contracts.Game(game)
	bet, err := s.viewBig(ctx, handle, "betAmount")
	if err != nil {
		return nil, err
	}
	s.logger.Info("bet amount required to join", "game", game.Hex(), "bet", bet.String())
	req, err := s.custodyRequest("join-game", id, game, bet)
	if err != nil {
		return nil, err
	}
	req.Action = func(context.Context) (*contract.PendingCall, error) {
		return handle.Prepare("joinGame")
	}
	out, err := s.coord.Run(ctx, id, req)
	return &GameResult{Game: game, Bet: bet, Outcome: out}, err
}

func (s *Service) custodyRequest(name string, id *signer.Identity, spender common.Address, amount *big.Int) (lifecycle.Request, error) {
	if id == nil {
		return lifecycle.Request{}, errors.New("identity is nil")
	}
	approval, err := s.contracts.Token.Prepare("approve", spender, amount)
	if err != nil {
		return lifecycle.Request{}, err
	}
	owner := id.Address()
	return lifecycle.Request{
		Name:     name,
		Approval: approval,
		Spender:  spender,
		Amount:   amount.String(),
		Verify: func(ctx context.Context) error {
			allowed, err := s.Allowance(ctx, owner, spender)
			if err != nil {
				return err
			}
			if allowed.Cmp(amount) < 0 {
				return fmt.Errorf("confirmed allowance %s is below required %s", allowed, amount)
			}
			return nil
		},
	}, nil
}

func (s *Service) createdGame(out *lifecycle.Outcome, creator common.Address) common.Address {
	if out == nil || out.Action == nil || out.Action.Receipt == nil {
		return common.Address{}
	}
	logs, err := s.contracts.Factory.DecodeLogs(out.Action.Receipt.Logs)
	if err != nil {
		s.logger.Warn("decode factory logs", "err", err)
		return common.Address{}
	}
	for _, l := range logs {
		if l.Event != "GameCreated" {
			continue
		}
		if c, _ := l.Args["creator"].(string); c != "" && common.HexToAddress(c) != creator {
			continue
		}
		if g, ok := l.Args["game"].(string); ok {
			return common.HexToAddress(g)
		}
	}
	return common.Address{}
}

// ActiveGames lists open games with their bets, fetched concurrently.
func (s *Service) ActiveGames(ctx context.Context) ([]GameInfo, error) {
	out, err := s.view(ctx, s.contracts.Factory, "getActiveGames")
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("factory.getActiveGames: unexpected type %T", out[0])
	}
	games := make([]GameInfo, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			info, err := s.Game(gctx, addr)
			if err != nil {
				return err
			}
			games[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return games, nil
}

func (s *Service) Game(ctx context.Context, addr common.Address) (GameInfo, error) {
	h := s.contracts.Game(addr)
	bet, err := s.viewBig(ctx, h, "betAmount")
	if err != nil {
		return GameInfo{}, err
	}
	p1, err := s.viewAddress(ctx, h, "player1")
	if err != nil {
		return GameInfo{}, err
	}
	p2, err := s.viewAddress(ctx, h, "player2")
	if err != nil {
		return GameInfo{}, err
	}
	return GameInfo{Address: addr, BetAmount: bet, Player1: p1, Player2: p2}, nil
}

func (s *Service) view(ctx context.Context, h *contract.Handle, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := util.Retry(ctx, s.retry.Max, s.retry.Backoff, func() error {
		var err error
		out, err = h.Call(ctx, s.caller, method, args...)
		if err != nil && !transient(err) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s returned no values", h.Name(), method)
	}
	return out, nil
}

func (s *Service) viewBig(ctx context.Context, h *contract.Handle, method string, args ...interface{}) (*big.Int, error) {
	out, err := s.view(ctx, h, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unexpected type %T", h.Name(), method, out[0])
	}
	return v, nil
}

func (s *Service) viewAddress(ctx context.Context, h *contract.Handle, method string) (common.Address, error) {
	out, err := s.view(ctx, h, method)
	if err != nil {
		return common.Address{}, err
	}
	a, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s.%s: unexpected type %T", h.Name(), method, out[0])
	}
	return a, nil
}

// transient reports whether a failed view call may succeed on retry. Errors
// the node answered with, and local encoding errors, are final.
func transient(err error) bool {
	var mismatch *contract.InterfaceMismatchError
	if errors.As(err, &mismatch) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
