package contract

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type DecodedCall struct {
	Method string
	Args   []interface{}
}

type DecodedLog struct {
	Event   string                 `json:"event"`
	Address string                 `json:"address"`
	Args    map[string]interface{} `json:"args"`
}

// DecodeCall reverses Prepare: it resolves the selector and unpacks the
// arguments with the same interface description.
func (h *Handle) DecodeCall(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, errors.New("call data shorter than selector")
	}
	method, err := h.abi.MethodById(data[:4])
	if err != nil {
		return nil, &InterfaceMismatchError{Contract: h.name, Method: hex.EncodeToString(data[:4]), Reason: "unknown selector", Err: err}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%s.%s unpack: %w", h.name, method.Name, err)
	}
	return &DecodedCall{Method: method.Name, Args: args}, nil
}

// DecodeLogs decodes the logs emitted by this contract. Logs from other
// addresses or with unknown topics are skipped.
func (h *Handle) DecodeLogs(logs []*types.Log) ([]DecodedLog, error) {
	decoded := make([]DecodedLog, 0)
	for _, l := range logs {
		if l == nil || l.Address != h.address || len(l.Topics) == 0 {
			continue
		}
		event, err := h.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		args := map[string]interface{}{}
		if err := event.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			return decoded, err
		}
		if err := abi.ParseTopicsIntoMap(args, indexed(event.Inputs), l.Topics[1:]); err != nil {
			return decoded, err
		}
		decoded = append(decoded, DecodedLog{
			Event:   event.Name,
			Address: l.Address.Hex(),
			Args:    NormalizeMap(args),
		})
	}
	return decoded, nil
}

func indexed(args abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, 0, len(args))
	for _, a := range args {
		if a.Indexed {
			out = append(out, a)
		}
	}
	return out
}

// NormalizeMap converts decoded ABI values into JSON friendly strings.
func NormalizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = NormalizeValue(v)
	}
	return out
}

func NormalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case common.Address:
		return t.Hex()
	case *common.Address:
		if t == nil {
			return ""
		}
		return t.Hex()
	case common.Hash:
		return t.Hex()
	case *big.Int:
		if t == nil {
			return "0"
		}
		return t.String()
	case []byte:
		return "0x" + hex.EncodeToString(t)
	case [32]byte:
		return "0x" + hex.EncodeToString(t[:])
	case []common.Address:
		out := make([]string, 0, len(t))
		for _, a := range t {
			out = append(out, a.Hex())
		}
		return out
	case []*big.Int:
		out := make([]string, 0, len(t))
		for _, n := range t {
			if n == nil {
				out = append(out, "0")
				continue
			}
			out = append(out, n.String())
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, v := range t {
			out = append(out, NormalizeValue(v))
		}
		return out
	default:
		return t
	}
}
