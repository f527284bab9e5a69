package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

type fakeCaller struct {
	msgs []ethereum.CallMsg
	out  []byte
	err  error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.msgs = append(f.msgs, msg)
	return f.out, f.err
}

func newToken(t *testing.T) *Handle {
	t.Helper()
	parsed, err := ParseABI(strings.NewReader(tokenABI))
	require.NoError(t, err)
	return New("token", common.HexToAddress("0x3333333333333333333333333333333333333333"), parsed)
}

func TestPrepareApproveCalldata(t *testing.T) {
	h := newToken(t)
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := big.NewInt(1000000)

	call, err := h.Prepare("approve", spender, amount)
	require.NoError(t, err)
	require.Equal(t, h.Address(), call.Contract)
	require.Equal(t, "approve", call.Method)
	require.Equal(t, int64(0), call.Value.Int64())

	expected := "0x095ea7b3" +
		hexutil.Encode(common.LeftPadBytes(spender.Bytes(), 32))[2:] +
		hexutil.Encode(common.LeftPadBytes(amount.Bytes(), 32))[2:]
	require.Equal(t, expected, hexutil.Encode(call.Data))
}

func TestPrepareRoundTrip(t *testing.T) {
	h := newToken(t)
	spender := common.HexToAddress("0x5555555555555555555555555555555555555555")
	call, err := h.Prepare("approve", spender, big.NewInt(100))
	require.NoError(t, err)

	decoded, err := h.DecodeCall(call.Data)
	require.NoError(t, err)
	require.Equal(t, "approve", decoded.Method)
	require.Len(t, decoded.Args, 2)
	require.Equal(t, spender, decoded.Args[0])
	require.Equal(t, 0, big.NewInt(100).Cmp(decoded.Args[1].(*big.Int)))
}

func TestPrepareInterfaceMismatch(t *testing.T) {
	h := newToken(t)
	spender := common.HexToAddress("0x5555555555555555555555555555555555555555")

	cases := map[string]func() error{
		"unknown method": func() error { _, err := h.Prepare("burn", big.NewInt(1)); return err },
		"view method":    func() error { _, err := h.Prepare("balanceOf", spender); return err },
		"arg count":      func() error { _, err := h.Prepare("approve", spender); return err },
		"arg type":       func() error { _, err := h.Prepare("approve", "spender", big.NewInt(1)); return err },
		"negative uint":  func() error { _, err := h.Prepare("approve", spender, big.NewInt(-5)); return err },
		"uint overflow": func() error {
			_, err := h.Prepare("approve", spender, new(big.Int).Lsh(big.NewInt(1), 256))
			return err
		},
		"not payable": func() error {
			_, err := h.PrepareWithValue(big.NewInt(1), "approve", spender, big.NewInt(1))
			return err
		},
	}
	for name, fn := range cases {
		var mismatch *InterfaceMismatchError
		require.True(t, errors.As(fn(), &mismatch), name)
	}

	_, err := h.PrepareWithValue(big.NewInt(5), "deposit")
	require.NoError(t, err)
}

func TestCallDecodesView(t *testing.T) {
	h := newToken(t)
	owner := common.HexToAddress("0xABC0000000000000000000000000000000000001")
	caller := &fakeCaller{out: common.LeftPadBytes(big.NewInt(0).Bytes(), 32)}

	out, err := h.Call(context.Background(), caller, "balanceOf", owner)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(0), out[0].(*big.Int).Int64())

	require.Len(t, caller.msgs, 1)
	require.Equal(t, h.Address(), *caller.msgs[0].To)
	require.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, caller.msgs[0].Data[:4])
}

func TestCallRejectsMutatingMethod(t *testing.T) {
	h := newToken(t)
	caller := &fakeCaller{}
	_, err := h.Call(context.Background(), caller, "approve", common.Address{}, big.NewInt(1))
	var mismatch *InterfaceMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Empty(t, caller.msgs)
}

func TestCallPropagatesNodeError(t *testing.T) {
	h := newToken(t)
	nodeErr := errors.New("execution reverted")
	_, err := h.Call(context.Background(), &fakeCaller{err: nodeErr}, "balanceOf", common.Address{})
	require.ErrorIs(t, err, nodeErr)
}

func TestDecodeLogs(t *testing.T) {
	h := newToken(t)
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	event := h.ABI().Events["Approval"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(42))
	require.NoError(t, err)

	logs := []*types.Log{
		{
			Address: h.Address(),
			Topics:  []common.Hash{event.ID, common.BytesToHash(owner.Bytes()), common.BytesToHash(spender.Bytes())},
			Data:    data,
		},
		{Address: common.HexToAddress("0x9999999999999999999999999999999999999999"), Topics: []common.Hash{event.ID}},
	}
	decoded, err := h.DecodeLogs(logs)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, "Approval", decoded[0].Event)
	require.Equal(t, owner.Hex(), decoded[0].Args["owner"])
	require.Equal(t, spender.Hex(), decoded[0].Args["spender"])
	require.Equal(t, "42", decoded[0].Args["value"])
}

func TestParseABIError(t *testing.T) {
	_, err := ParseABI(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestCallEmptyResultIsMismatch(t *testing.T) {
	h := newToken(t)
	_, err := h.Call(context.Background(), &fakeCaller{}, "balanceOf", common.Address{})
	var mismatch *InterfaceMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestPrepareUintBounds(t *testing.T) {
	h := newToken(t)
	spender := common.HexToAddress("0x5555555555555555555555555555555555555555")
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	call, err := h.Prepare("approve", spender, max)
	require.NoError(t, err)
	decoded, err := h.DecodeCall(call.Data)
	require.NoError(t, err)
	require.Equal(t, 0, max.Cmp(decoded.Args[1].(*big.Int)))

	_, err = h.Prepare("approve", spender, big.NewInt(-5))
	var mismatch *InterfaceMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Contains(t, mismatch.Reason, "negative")
}
