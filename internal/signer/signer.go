// Package signer signs assembled transactions locally and broadcasts them to
// the node.
package signer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/flyingMooncake/nft-Chess/internal/txbuilder"
)

var ErrSenderMismatch = errors.New("signing key does not match transaction sender")

// SignedTransaction is frozen: changing any field requires building and
// signing a new transaction.
type SignedTransaction struct {
	tx     *types.Transaction
	raw    []byte
	from   common.Address
	method string
}

// Hash is the transaction identifier, derived from the signed bytes.
func (s *SignedTransaction) Hash() common.Hash { return s.tx.Hash() }

func (s *SignedTransaction) From() common.Address { return s.from }

func (s *SignedTransaction) Nonce() uint64 { return s.tx.Nonce() }

func (s *SignedTransaction) Method() string { return s.method }

// RawBytes returns a copy of the encoding sent with eth_sendRawTransaction.
func (s *SignedTransaction) RawBytes() []byte {
	return common.CopyBytes(s.raw)
}

func (s *SignedTransaction) Transaction() *types.Transaction { return s.tx }

// Sign produces a deterministic signature over the unsigned transaction. The
// key is used only for the duration of the call.
func Sign(unsigned *txbuilder.UnsignedTransaction, id *Identity) (*SignedTransaction, error) {
	if unsigned == nil {
		return nil, errors.New("unsigned transaction is nil")
	}
	if id == nil {
		return nil, errors.New("identity is nil")
	}
	if id.Address() != unsigned.From() {
		return nil, fmt.Errorf("%w: key %s, sender %s", ErrSenderMismatch, id.Address().Hex(), unsigned.From().Hex())
	}
	s := types.LatestSignerForChainID(unsigned.ChainID())
	tx, err := types.SignTx(unsigned.Transaction(), s, id.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", unsigned.Method(), err)
	}
	sender, err := types.Sender(s, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if sender != unsigned.From() {
		return nil, ErrSenderMismatch
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed transaction: %w", err)
	}
	return &SignedTransaction{tx: tx, raw: raw, from: sender, method: unsigned.Method()}, nil
}
