package signer

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/flyingMooncake/nft-Chess/internal/contract"
	"github.com/flyingMooncake/nft-Chess/internal/txbuilder"
)

const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := IdentityFromHex("0x" + testKeyHex)
	require.NoError(t, err)
	return id
}

func unsignedFor(t *testing.T, from common.Address, nonce uint64, est txbuilder.Estimate) *txbuilder.UnsignedTransaction {
	t.Helper()
	call := &contract.PendingCall{
		Contract:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		ContractName: "token",
		Method:       "approve",
		Data:         []byte{0x09, 0x5e, 0xa7, 0xb3},
		Value:        big.NewInt(0),
	}
	unsigned, err := txbuilder.NewBuilder(big.NewInt(1337)).Build(call, from, nonce, est)
	require.NoError(t, err)
	return unsigned
}

func legacyEstimate() txbuilder.Estimate {
	return txbuilder.Estimate{GasLimit: 60000, GasPrice: big.NewInt(1000000000)}
}

func TestIdentityFromHex(t *testing.T) {
	id := testIdentity(t)
	require.Equal(t, testAddress, id.Address().Hex())
	require.Equal(t, testAddress, id.String())
	require.NotContains(t, id.String(), testKeyHex)

	_, err := IdentityFromHex("")
	require.Error(t, err)
	_, err = IdentityFromHex("0xzz")
	require.Error(t, err)
}

func TestIdentityFromKeystore(t *testing.T) {
	id := testIdentity(t)
	keyJSON, err := keystore.EncryptKey(&keystore.Key{Address: id.Address(), PrivateKey: id.key}, "secret", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, keyJSON, 0o600))

	loaded, err := IdentityFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, id.Address(), loaded.Address())

	_, err = IdentityFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestSignIsDeterministic(t *testing.T) {
	id := testIdentity(t)
	unsigned := unsignedFor(t, id.Address(), 3, legacyEstimate())

	a, err := Sign(unsigned, id)
	require.NoError(t, err)
	b, err := Sign(unsigned, id)
	require.NoError(t, err)

	require.Equal(t, a.RawBytes(), b.RawBytes())
	require.Equal(t, a.Hash(), b.Hash())
	require.Equal(t, id.Address(), a.From())
	require.Equal(t, uint64(3), a.Nonce())
	require.Equal(t, "token.approve", a.Method())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), a.Transaction())
	require.NoError(t, err)
	require.Equal(t, id.Address(), sender)
	require.Equal(t, int64(1337), a.Transaction().ChainId().Int64())
}

func TestSignDynamicFee(t *testing.T) {
	id := testIdentity(t)
	est := txbuilder.Estimate{GasLimit: 60000, GasPrice: big.NewInt(3), TipCap: big.NewInt(1)}
	signed, err := Sign(unsignedFor(t, id.Address(), 0, est), id)
	require.NoError(t, err)
	require.Equal(t, uint8(types.DynamicFeeTxType), signed.Transaction().Type())

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(signed.RawBytes()))
	require.Equal(t, signed.Hash(), decoded.Hash())
}

func TestSignRejectsWrongKey(t *testing.T) {
	id := testIdentity(t)
	unsigned := unsignedFor(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), 0, legacyEstimate())
	_, err := Sign(unsigned, id)
	require.ErrorIs(t, err, ErrSenderMismatch)
}

type fakeBroadcaster struct {
	sent []*types.Transaction
	err  error
}

func (f *fakeBroadcaster) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return f.err
}

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

var _ rpc.Error = rpcError{}

func TestSubmitReturnsSignedHash(t *testing.T) {
	id := testIdentity(t)
	signed, err := Sign(unsignedFor(t, id.Address(), 0, legacyEstimate()), id)
	require.NoError(t, err)

	b := &fakeBroadcaster{}
	hash, err := NewSubmitter(b, nil).Submit(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, signed.Hash(), hash)
	require.Len(t, b.sent, 1)

	b.err = rpcError{code: -32000, msg: "already known"}
	again, err := NewSubmitter(b, nil).Submit(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, hash, again)
}

func TestSubmitClassifiesRejections(t *testing.T) {
	id := testIdentity(t)
	signed, err := Sign(unsignedFor(t, id.Address(), 4, legacyEstimate()), id)
	require.NoError(t, err)

	cases := []struct {
		err    error
		reason RejectReason
		stale  bool
	}{
		{rpcError{-32000, "nonce too low: next nonce 5, tx nonce 4"}, ReasonNonceTooLow, true},
		{rpcError{-32000, "insufficient funds for gas * price + value"}, ReasonInsufficientFunds, false},
		{rpcError{-32000, "replacement transaction underpriced"}, ReasonUnderpriced, true},
		{rpcError{-32602, "rlp: expected input list"}, ReasonRejected, false},
		{context.DeadlineExceeded, ReasonTransport, false},
	}
	for _, tc := range cases {
		_, err := NewSubmitter(&fakeBroadcaster{err: tc.err}, nil).Submit(context.Background(), signed)
		var rejected *BroadcastRejectedError
		require.True(t, errors.As(err, &rejected), tc.err.Error())
		require.Equal(t, tc.reason, rejected.Reason, tc.err.Error())
		require.Equal(t, tc.stale, rejected.StaleNonce())
		require.Equal(t, uint64(4), rejected.Nonce)
		require.Equal(t, signed.Hash(), rejected.Hash)
		require.True(t, errors.Is(err, tc.err))
		require.True(t, strings.Contains(err.Error(), string(tc.reason)))
	}
}
