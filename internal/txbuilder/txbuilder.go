package txbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/flyingMooncake/nft-Chess/internal/contract"
)

// UnsignedTransaction is an assembled transaction awaiting a signature. The
// wrapped go-ethereum transaction is immutable.
type UnsignedTransaction struct {
	from     common.Address
	chainID  *big.Int
	contract string
	method   string
	tx       *types.Transaction
}

func (u *UnsignedTransaction) From() common.Address { return u.from }

// Method is the contract method the call data encodes, e.g. "token.approve".
func (u *UnsignedTransaction) Method() string {
	if u.contract == "" {
		return u.method
	}
	return u.contract + "." + u.method
}

// ChainID is the replay-protection domain the transaction must be signed
// for. Legacy transactions do not carry it until they are signed.
func (u *UnsignedTransaction) ChainID() *big.Int { return new(big.Int).Set(u.chainID) }
func (u *UnsignedTransaction) Nonce() uint64 { return u.tx.Nonce() }
func (u *UnsignedTransaction) Gas() uint64 { return u.tx.Gas() }
func (u *UnsignedTransaction) To() *common.Address { return u.tx.To() }
func (u *UnsignedTransaction) Data() []byte { return u.tx.Data() }
func (u *UnsignedTransaction) Value() *big.Int { return u.tx.Value() }

// GasPrice is the legacy gas price or the max fee per gas.
func (u *UnsignedTransaction) GasPrice() *big.Int { return u.tx.GasFeeCap() }
func (u *UnsignedTransaction) TipCap() *big.Int { return u.tx.GasTipCap() }

func (u *UnsignedTransaction) FeeCeiling() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(u.tx.Gas()), u.tx.GasFeeCap())
}

// Transaction returns the unsigned go-ethereum transaction.
func (u *UnsignedTransaction) Transaction() *types.Transaction { return u.tx }

type Builder struct {
	ChainID *big.Int
}

func NewBuilder(chainID *big.Int) *Builder {
	if chainID == nil {
		return &Builder{}
	}
	return &Builder{ChainID: new(big.Int).Set(chainID)}
}

// Build assembles the transaction. It performs no I/O and no signing.
func (b *Builder) Build(call *contract.PendingCall, from common.Address, nonce uint64, est Estimate) (*UnsignedTransaction, error) {
	if call == nil {
		return nil, errors.New("pending call is nil")
	}
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx, err := buildTx(b.ChainID, call.Contract, value, call.Data, nonce, est)
	if err != nil {
		return nil, err
	}
	return &UnsignedTransaction{from: from, chainID: new(big.Int).Set(b.ChainID), contract: call.ContractName, method: call.Method, tx: tx}, nil
}

func buildTx(chainID *big.Int, to common.Address, value *big.Int, data []byte, nonce uint64, est Estimate) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chainID is required")
	}
	if value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	if est.GasLimit == 0 {
		return nil, errors.New("gasLimit is required")
	}
	if est.GasPrice == nil {
		return nil, errors.New("gas price is required")
	}
	if est.GasPrice.Sign() < 0 || (est.TipCap != nil && est.TipCap.Sign() < 0) {
		return nil, errors.New("fee values must be non-negative")
	}
	if est.TipCap != nil && est.TipCap.Cmp(est.GasPrice) > 0 {
		return nil, errors.New("priority fee exceeds max fee")
	}
	if !est.Dynamic() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: new(big.Int).Set(est.GasPrice),
			Gas:      est.GasLimit,
			To:       &to,
			Value:    new(big.Int).Set(value),
			Data:     common.CopyBytes(data),
		}), nil
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(chainID),
		Nonce:     nonce,
		Gas:       est.GasLimit,
		GasFeeCap: new(big.Int).Set(est.GasPrice),
		GasTipCap: new(big.Int).Set(est.TipCap),
		To:        &to,
		Value:     new(big.Int).Set(value),
		Data:      common.CopyBytes(data),
	}), nil
}
