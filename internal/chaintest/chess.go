package chaintest

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flyingMooncake/nft-Chess/internal/chessabi"
)

var (
	errInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	errInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	errZeroBet               = errors.New("bet amount must be positive")
	errGameFull              = errors.New("game already has two players")
	errOwnGame               = errors.New("creator cannot join own game")
)

// Token is an ERC20 with the chess token's interface.
type Token struct {
	mu         sync.Mutex
	abi        abi.ABI
	address    common.Address
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken(address common.Address, decimals uint8) *Token {
	return &Token{
		abi:        chessabi.Token(),
		address:    address,
		decimals:   decimals,
		supply:     big.NewInt(0),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	t.supply.Add(t.supply, amount)
}

func (t *Token) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner))
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender))
}

func (t *Token) View(_ common.Address, data []byte) ([]byte, error) {
	m, args, err := unpackCall(t.abi, data)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch m.Name {
	case "name":
		return m.Outputs.Pack("Chess Token")
	case "symbol":
		return m.Outputs.Pack("CHS")
	case "decimals":
		return m.Outputs.Pack(t.decimals)
	case "totalSupply":
		return m.Outputs.Pack(new(big.Int).Set(t.supply))
	case "balanceOf":
		return m.Outputs.Pack(new(big.Int).Set(t.balanceLocked(args[0].(common.Address))))
	case "allowance":
		return m.Outputs.Pack(new(big.Int).Set(t.allowanceLocked(args[0].(common.Address), args[1].(common.Address))))
	}
	return nil, errUnknownMethod
}

func (t *Token) Apply(_ *Env, from common.Address, data []byte, commit bool) ([]*types.Log, error) {
	m, args, err := unpackCall(t.abi, data)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "approve":
		spender, value := args[0].(common.Address), args[1].(*big.Int)
		if commit {
			t.mu.Lock()
			t.setAllowanceLocked(from, spender, value)
			t.mu.Unlock()
		}
		return []*types.Log{t.event("Approval", from, spender, value)}, nil
	case "transfer":
		to, value := args[0].(common.Address), args[1].(*big.Int)
		if err := t.move(from, to, value, commit); err != nil {
			return nil, err
		}
		return []*types.Log{t.event("Transfer", from, to, value)}, nil
	case "transferFrom":
		owner, to, value := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := t.Pull(from, owner, to, value, commit); err != nil {
			return nil, err
		}
		return []*types.Log{t.event("Transfer", owner, to, value)}, nil
	}
	return nil, errUnknownMethod
}

// Pull moves value from owner to to on behalf of spender, consuming
// allowance.
func (t *Token) Pull(spender, owner, to common.Address, value *big.Int, commit bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowanceLocked(owner, spender)
	if allowed.Cmp(value) < 0 {
		return errInsufficientAllowance
	}
	if t.balanceLocked(owner).Cmp(value) < 0 {
		return errInsufficientBalance
	}
	if !commit {
		return nil
	}
	t.setAllowanceLocked(owner, spender, new(big.Int).Sub(allowed, value))
	t.transferLocked(owner, to, value)
	return nil
}

func (t *Token) move(from, to common.Address, value *big.Int, commit bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balanceLocked(from).Cmp(value) < 0 {
		return errInsufficientBalance
	}
	if commit {
		t.transferLocked(from, to, value)
	}
	return nil
}

func (t *Token) transferLocked(from, to common.Address, value *big.Int) {
	t.balances[from] = new(big.Int).Sub(t.balanceLocked(from), value)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), value)
}

func (t *Token) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return big.NewInt(0)
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return big.NewInt(0)
}

func (t *Token) setAllowanceLocked(owner, spender common.Address, value *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(value)
}

func (t *Token) event(name string, a, b common.Address, value *big.Int) *types.Log {
	return buildLog(t.abi.Events[name], t.address, []common.Address{a, b}, value)
}

// Factory creates games and escrows the creator's bet in the new game.
type Factory struct {
	mu      sync.Mutex
	abi     abi.ABI
	address common.Address
	token   *Token
	games   []*Game
	created uint64
}

func NewFactory(address common.Address, token *Token) *Factory {
	return &Factory{abi: chessabi.Factory(), address: address, token: token}
}

func (f *Factory) Address() common.Address { return f.address }

func (f *Factory) Games() []*Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Game(nil), f.games...)
}

func (f *Factory) View(_ common.Address, data []byte) ([]byte, error) {
	m, _, err := unpackCall(f.abi, data)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "chessToken":
		return m.Outputs.Pack(f.token.Address())
	case "getActiveGames":
		f.mu.Lock()
		defer f.mu.Unlock()
		active := make([]common.Address, 0, len(f.games))
		for _, g := range f.games {
			if !g.Full() {
				active = append(active, g.Address())
			}
		}
		return m.Outputs.Pack(active)
	}
	return nil, errUnknownMethod
}

func (f *Factory) Apply(env *Env, from common.Address, data []byte, commit bool) ([]*types.Log, error) {
	m, args, err := unpackCall(f.abi, data)
	if err != nil {
		return nil, err
	}
	if m.Name != "createGame" {
		return nil, errUnknownMethod
	}
	bet := args[0].(*big.Int)
	if bet.Sign() <= 0 {
		return nil, errZeroBet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	gameAddr := crypto.CreateAddress(f.address, f.created)
	if err := f.token.Pull(f.address, from, gameAddr, bet, commit); err != nil {
		return nil, err
	}
	if !commit {
		return nil, nil
	}
	f.created++
	game := NewGame(gameAddr, f.token, from, bet)
	f.games = append(f.games, game)
	env.Deploy(gameAddr, game)
	return []*types.Log{buildLog(f.abi.Events["GameCreated"], f.address, []common.Address{gameAddr, from}, bet)}, nil
}

type Game struct {
	mu      sync.Mutex
	abi     abi.ABI
	address common.Address
	token   *Token
	bet     *big.Int
	player1 common.Address
	player2 common.Address
}

func NewGame(address common.Address, token *Token, creator common.Address, bet *big.Int) *Game {
	return &Game{abi: chessabi.Game(), address: address, token: token, player1: creator, bet: new(big.Int).Set(bet)}
}

func (g *Game) Address() common.Address { return g.address }

func (g *Game) Full() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.player2 != (common.Address{})
}

func (g *Game) Player2() common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.player2
}

func (g *Game) View(_ common.Address, data []byte) ([]byte, error) {
	m, _, err := unpackCall(g.abi, data)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch m.Name {
	case "betAmount":
		return m.Outputs.Pack(new(big.Int).Set(g.bet))
	case "player1":
		return m.Outputs.Pack(g.player1)
	case "player2":
		return m.Outputs.Pack(g.player2)
	}
	return nil, errUnknownMethod
}

func (g *Game) Apply(_ *Env, from common.Address, data []byte, commit bool) ([]*types.Log, error) {
	m, _, err := unpackCall(g.abi, data)
	if err != nil {
		return nil, err
	}
	if m.Name != "joinGame" {
		return nil, errUnknownMethod
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.player2 != (common.Address{}) {
		return nil, errGameFull
	}
	if from == g.player1 {
		return nil, errOwnGame
	}
	if err := g.token.Pull(g.address, from, g.address, g.bet, commit); err != nil {
		return nil, err
	}
	if !commit {
		return nil, nil
	}
	g.player2 = from
	return []*types.Log{buildLog(g.abi.Events["PlayerJoined"], g.address, []common.Address{from})}, nil
}

func unpackCall(parsed abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errUnknownMethod
	}
	m, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, errUnknownMethod
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

func buildLog(event abi.Event, address common.Address, indexed []common.Address, values ...interface{}) *types.Log {
	topics := []common.Hash{event.ID}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(err)
	}
	return &types.Log{Address: address, Topics: topics, Data: data}
}
