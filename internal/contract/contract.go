// Package contract binds a deployed contract address to its interface
// description and exposes typed view calls and pure preparation of
// state-changing calls.
package contract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read side of the node needed for view calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PendingCall is a state-changing call that has been validated and encoded
// against the interface description but not yet turned into a transaction.
type PendingCall struct {
	Contract     common.Address
	ContractName string
	Method       string
	Args         []interface{}
	Data         []byte
	Value        *big.Int
}

// Handle is immutable after New and safe for concurrent use.
type Handle struct {
	name    string
	address common.Address
	abi     abi.ABI
}

func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, err
	}
	defer f.Close()
	return ParseABI(f)
}

func ParseABI(r io.Reader) (abi.ABI, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

func New(name string, address common.Address, parsed abi.ABI) *Handle {
	return &Handle{name: name, address: address, abi: parsed}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Address() common.Address {
	return h.address
}

func (h *Handle) ABI() abi.ABI {
	return h.abi
}

// At returns a handle for another deployment sharing the same interface.
func (h *Handle) At(address common.Address) *Handle {
	return &Handle{name: h.name, address: address, abi: h.abi}
}

// Call runs a view method against the latest state and returns its decoded
// outputs.
func (h *Handle) Call(ctx context.Context, caller Caller, method string, args ...interface{}) ([]interface{}, error) {
	if caller == nil {
		return nil, errors.New("contract caller is nil")
	}
	m, err := h.method(method, true)
	if err != nil {
		return nil, err
	}
	data, err := h.pack(m, args)
	if err != nil {
		return nil, err
	}
	to := h.address
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s.%s call: %w", h.name, method, err)
	}
	values, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, &InterfaceMismatchError{Contract: h.name, Method: method, Reason: "returned data does not match declared outputs", Err: err}
	}
	return values, nil
}

// Prepare encodes a state-changing call. It performs no I/O.
func (h *Handle) Prepare(method string, args ...interface{}) (*PendingCall, error) {
	return h.PrepareWithValue(big.NewInt(0), method, args...)
}

func (h *Handle) PrepareWithValue(value *big.Int, method string, args ...interface{}) (*PendingCall, error) {
	if value == nil || value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	m, err := h.method(method, false)
	if err != nil {
		return nil, err
	}
	if value.Sign() > 0 && !m.Payable {
		return nil, &InterfaceMismatchError{Contract: h.name, Method: method, Reason: "method is not payable"}
	}
	data, err := h.pack(m, args)
	if err != nil {
		return nil, err
	}
	copied := make([]interface{}, len(args))
	copy(copied, args)
	return &PendingCall{
		Contract:     h.address,
		ContractName: h.name,
		Method:       m.Name,
		Args:         copied,
		Data:         data,
		Value:        new(big.Int).Set(value),
	}, nil
}

func (h *Handle) method(name string, view bool) (abi.Method, error) {
	m, ok := h.abi.Methods[name]
	if !ok {
		return abi.Method{}, &InterfaceMismatchError{Contract: h.name, Method: name, Reason: "method not found in interface"}
	}
	if view && !m.IsConstant() {
		return abi.Method{}, &InterfaceMismatchError{Contract: h.name, Method: name, Reason: "method is state-changing, use Prepare"}
	}
	if !view && m.IsConstant() {
		return abi.Method{}, &InterfaceMismatchError{Contract: h.name, Method: name, Reason: "method is read-only, use Call"}
	}
	return m, nil
}

func (h *Handle) pack(m abi.Method, args []interface{}) ([]byte, error) {
	if len(args) != len(m.Inputs) {
		return nil, &InterfaceMismatchError{
			Contract: h.name,
			Method:   m.Name,
			Reason:   fmt.Sprintf("expected %d arguments, got %d", len(m.Inputs), len(args)),
		}
	}
	for i, in := range m.Inputs {
		if reason := outOfRange(in.Type, args[i]); reason != "" {
			return nil, &InterfaceMismatchError{
				Contract: h.name,
				Method:   m.Name,
				Reason:   fmt.Sprintf("argument %d (%s %s) %s", i, in.Name, in.Type.String(), reason),
			}
		}
	}
	encoded, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, &InterfaceMismatchError{Contract: h.name, Method: m.Name, Reason: "argument types do not match signature", Err: err}
	}
	data := make([]byte, 0, len(m.ID)+len(encoded))
	data = append(data, m.ID...)
	data = append(data, encoded...)
	return data, nil
}

// outOfRange reports integer arguments that the ABI encoder would wrap
// instead of reject.
func outOfRange(t abi.Type, arg interface{}) string {
	v, ok := arg.(*big.Int)
	if !ok || v == nil {
		return ""
	}
	switch t.T {
	case abi.UintTy:
		if v.Sign() < 0 {
			return "is negative"
		}
		if v.BitLen() > t.Size {
			return fmt.Sprintf("does not fit in %d bits", t.Size)
		}
	case abi.IntTy:
		lim := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if v.Cmp(lim) >= 0 || v.Cmp(new(big.Int).Neg(lim)) < 0 {
			return fmt.Sprintf("does not fit in %d bits", t.Size)
		}
	}
	return ""
}
