// Package chessabi bundles the interface descriptions of the chess token,
// the game factory and the game contracts.
package chessabi

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	TokenFile   = "ChessToken_abi.json"
	FactoryFile = "ChessGameFactory_abi.json"
	GameFile    = "ChessGame_abi.json"
)

//go:embed *.json
var files embed.FS

// Raw returns the bundled JSON for one of the file names above.
func Raw(name string) ([]byte, error) {
	return files.ReadFile(name)
}

func Parse(name string) (abi.ABI, error) {
	b, err := Raw(name)
	if err != nil {
		return abi.ABI{}, err
	}
	parsed, err := abi.JSON(bytes.NewReader(b))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}

func Token() abi.ABI   { return mustParse(TokenFile) }
func Factory() abi.ABI { return mustParse(FactoryFile) }
func Game() abi.ABI    { return mustParse(GameFile) }

func mustParse(name string) abi.ABI {
	parsed, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return parsed
}
