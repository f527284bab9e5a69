// Package api serves read-only chess token and game state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flyingMooncake/nft-Chess/internal/chess"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/journal"
)

// Reader is the view side of chess.Service.
type Reader interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
	ActiveGames(ctx context.Context) ([]chess.GameInfo, error)
	Game(ctx context.Context, addr common.Address) (chess.GameInfo, error)
}

type JournalLister interface {
	List(all bool) ([]journal.Entry, error)
}

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	reader   Reader
	journal  JournalLister
	gatherer prometheus.Gatherer
}

func NewServer(cfg *config.Config, logger *slog.Logger, reader Reader, j JournalLister, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, reader: reader, journal: j, gatherer: gatherer}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withAuth(s.handleHealth))
	mux.HandleFunc("/balances", s.withAuth(s.handleBalances))
	mux.HandleFunc("/allowance", s.withAuth(s.handleAllowance))
	mux.HandleFunc("/games", s.withAuth(s.handleGames))
	mux.HandleFunc("/games/", s.withAuth(s.handleGame))
	mux.HandleFunc("/journal", s.withAuth(s.handleJournal))
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxTimeout)
	}()
	s.logger.Info("api listening", "addr", s.cfg.API.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.AuthToken != "" {
			token := r.Header.Get("X-API-Key")
			if token == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					token = strings.TrimSpace(auth[7:])
				}
			}
			if token != s.cfg.API.AuthToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := s.reader.Balance(r.Context(), addr)
	if err != nil {
		s.nodeError(w, "balance", err)
		return
	}
	decimals, err := s.reader.Decimals(r.Context())
	if err != nil {
		s.nodeError(w, "decimals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr.Hex(),
		"token":       s.cfg.TokenAddress().Hex(),
		"balance_wei": bal.String(),
		"balance":     chess.FormatUnits(bal, decimals),
		"decimals":    decimals,
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}
	spender := s.cfg.FactoryAddress()
	if v := r.URL.Query().Get("spender"); v != "" {
		if spender, err = parseAddress(v); err != nil {
			writeError(w, http.StatusBadRequest, "spender: "+err.Error())
			return
		}
	}
	allowed, err := s.reader.Allowance(r.Context(), owner, spender)
	if err != nil {
		s.nodeError(w, "allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":         owner.Hex(),
		"spender":       spender.Hex(),
		"allowance_wei": allowed.String(),
	})
}

type gameView struct {
	Address   string `json:"address"`
	BetAmount string `json:"bet_amount_wei"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2,omitempty"`
}

func toGameView(g chess.GameInfo) gameView {
	v := gameView{Address: g.Address.Hex(), BetAmount: "0", Player1: g.Player1.Hex()}
	if g.BetAmount != nil {
		v.BetAmount = g.BetAmount.String()
	}
	if g.Player2 != (common.Address{}) {
		v.Player2 = g.Player2.Hex()
	}
	return v
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.reader.ActiveGames(r.Context())
	if err != nil {
		s.nodeError(w, "active games", err)
		return
	}
	out := make([]gameView, 0, len(games))
	for _, g := range games {
		out = append(out, toGameView(g))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"games": out})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(strings.TrimPrefix(r.URL.Path, "/games/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.reader.Game(r.Context(), addr)
	if err != nil {
		s.nodeError(w, "game", err)
		return
	}
	writeJSON(w, http.StatusOK, toGameView(g))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []journal.Entry{}})
		return
	}
	entries, err := s.journal.List(r.URL.Query().Get("all") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) nodeError(w http.ResponseWriter, what string, err error) {
	s.logger.Warn("api read failed", "what", what, "err", err)
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, errors.New("address is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(value), nil
}
