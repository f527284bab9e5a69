package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/flyingMooncake/nft-Chess/internal/chess"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/journal"
	"github.com/flyingMooncake/nft-Chess/internal/metrics"
)

type fakeReader struct {
	balances map[common.Address]*big.Int
	games    []chess.GameInfo
	err      error
}

func (f *fakeReader) Balance(_ context.Context, owner common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[owner]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeReader) Allowance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(7), f.err
}

func (f *fakeReader) Decimals(context.Context) (uint8, error) { return 2, nil }

func (f *fakeReader) ActiveGames(context.Context) ([]chess.GameInfo, error) { return f.games, f.err }

func (f *fakeReader) Game(_ context.Context, addr common.Address) (chess.GameInfo, error) {
	for _, g := range f.games {
		if g.Address == addr {
			return g, nil
		}
	}
	return chess.GameInfo{}, errors.New("execution reverted")
}

type fakeJournal struct{ entries []journal.Entry }

func (f *fakeJournal) List(bool) ([]journal.Entry, error) { return f.entries, nil }

var holder = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestServer(t *testing.T, token string) (*Server, *fakeReader) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.API.AuthToken = token
	reader := &fakeReader{
		balances: map[common.Address]*big.Int{holder: big.NewInt(1234)},
		games:    []chess.GameInfo{{Address: common.HexToAddress("0x2222222222222222222222222222222222222222"), BetAmount: big.NewInt(100), Player1: holder}},
	}
	reg := prometheus.NewRegistry()
	metrics.New(reg).Submitted("token.approve")
	j := &fakeJournal{entries: []journal.Entry{{ID: "1", Operation: "create-game"}}}
	return NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), reader, j, reg), reader
}

func get(t *testing.T, h http.Handler, path string, header ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestBalances(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec, body := get(t, s.Handler(), "/balances?address="+holder.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1234", body["balance_wei"])
	require.Equal(t, "12.34", body["balance"])

	rec, body = get(t, s.Handler(), "/balances?address=0xABC0000000000000000000000000000000000000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", body["balance_wei"])

	rec, _ = get(t, s.Handler(), "/balances?address=nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGamesAndJournal(t *testing.T) {
	s, reader := newTestServer(t, "")
	rec, body := get(t, s.Handler(), "/games")
	require.Equal(t, http.StatusOK, rec.Code)
	games := body["games"].([]interface{})
	require.Len(t, games, 1)
	require.Equal(t, "100", games[0].(map[string]interface{})["bet_amount_wei"])

	rec, body = get(t, s.Handler(), "/games/"+reader.games[0].Address.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, holder.Hex(), body["player1"])

	rec, _ = get(t, s.Handler(), "/games/0x3333333333333333333333333333333333333333")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec, body = get(t, s.Handler(), "/journal")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["entries"], 1)

	rec, body = get(t, s.Handler(), "/allowance?owner="+holder.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", body["allowance_wei"])
}

func TestNodeErrorIsBadGateway(t *testing.T) {
	s, reader := newTestServer(t, "")
	reader.err = errors.New("connection refused")
	rec, body := get(t, s.Handler(), "/games")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "connection refused", body["error"])
}

func TestAuthAndMethods(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rec, _ := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, s.Handler(), "/health", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = get(t, s.Handler(), "/health", "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	s.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusMethodNotAllowed, out.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec, _ := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chessctl_tx_submitted_total")
}
