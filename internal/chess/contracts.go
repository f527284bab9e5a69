package chess

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/flyingMooncake/nft-Chess/internal/chessabi"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/contract"
)

// Contracts holds the handles for the deployed token and factory plus the
// game interface used for every game address.
type Contracts struct {
	Token   *contract.Handle
	Factory *contract.Handle
	game    *contract.Handle
}

// LoadContracts uses the interface files named in cfg, falling back to the
// bundled ones.
func LoadContracts(cfg *config.Config) (*Contracts, error) {
	tokenABI, err := loadABI(cfg.ABI.Token, chessabi.TokenFile)
	if err != nil {
		return nil, err
	}
	factoryABI, err := loadABI(cfg.ABI.Factory, chessabi.FactoryFile)
	if err != nil {
		return nil, err
	}
	gameABI, err := loadABI(cfg.ABI.Game, chessabi.GameFile)
	if err != nil {
		return nil, err
	}
	return NewContracts(cfg.TokenAddress(), cfg.FactoryAddress(), tokenABI, factoryABI, gameABI), nil
}

func NewContracts(token, factory common.Address, tokenABI, factoryABI, gameABI abi.ABI) *Contracts {
	return &Contracts{
		Token:   contract.New("token", token, tokenABI),
		Factory: contract.New("factory", factory, factoryABI),
		game:    contract.New("game", common.Address{}, gameABI),
	}
}

func (c *Contracts) Game(addr common.Address) *contract.Handle {
	return c.game.At(addr)
}

func loadABI(path, bundled string) (abi.ABI, error) {
	if path != "" {
		return contract.LoadABI(path)
	}
	return chessabi.Parse(bundled)
}
