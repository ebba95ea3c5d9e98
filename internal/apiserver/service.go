// Package apiserver serves indexed TWAMM state, live pool reads and unsigned
// wallet transactions over HTTP and websockets.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/cache"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/config"
	"github.com/twamm-labs/twamm/backend/internal/indexer"
	"github.com/twamm-labs/twamm/backend/internal/intervals"
	"github.com/twamm-labs/twamm/backend/internal/methods"
	"github.com/twamm-labs/twamm/backend/internal/txrunner"
	"golang.org/x/sync/errgroup"
)

// Store is the indexed view written by the indexer.
type Store interface {
	ListTokenPairs(ctx context.Context, page indexer.Page) ([]indexer.TokenPairRecord, int, int, error)
	ListPools(ctx context.Context, filter indexer.PoolFilter) ([]indexer.PoolRecord, int, int, error)
	ListOrders(ctx context.Context, filter indexer.OrderFilter) ([]indexer.OrderRecord, int, int, error)
	ListOrderHistory(ctx context.Context, filter indexer.OrderHistoryFilter) ([]indexer.OrderHistoryRecord, int, int, error)
	GetSyncState(ctx context.Context) (indexer.SyncState, error)
	GetLatestMarketPrice(ctx context.Context, market string) (indexer.MarketPriceRecord, error)
	GetMarketCandles(ctx context.Context, market string, intervalSec int64, limit int) ([]indexer.CandleRecord, error)
}

// Chain reads live program accounts.
type Chain interface {
	GetTokenPair(ctx context.Context, address solana.PublicKey) (*twamm.TokenPair, error)
	PoolWithPair(ctx context.Context, poolAddress solana.PublicKey) (*chain.PoolWithPair, error)
	IndexedTIFs(ctx context.Context, pairAddress solana.PublicKey, pair *twamm.TokenPair) ([]intervals.IndexedTIF, error)
}

// Builder turns order requests into transactions for a wallet to sign.
type Builder interface {
	PlaceOrderInstruction(ctx context.Context, in methods.PlaceOrderInput) (methods.PlacedOrder, error)
	CancelOrderInstruction(ctx context.Context, in methods.CancelOrderInput) (solana.Instruction, error)
	BuildUnsigned(ctx context.Context, payer solana.PublicKey, instructions ...solana.Instruction) (*solana.Transaction, error)
}

type txBuilder struct {
	*methods.Client
	*txrunner.Runner
}

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	store            Store
	chain            Chain
	builder          Builder
	cache            *cache.Cache
	closers          []func() error
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(ctx context.Context, cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	twamm.ProgramID = cfg.ProgramID

	store, err := indexer.NewStore(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	c, closeCache, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	client := rpc.New(cfg.RPCURL)
	reader := chain.NewReader(client, cfg.ProgramID, cfg.Commitment, cfg.FetchMultipleMax, logger)
	runner := txrunner.New(client, nil, cfg.Commitment, cfg.Tx, logger)
	builder := txBuilder{
		Client: methods.New(cfg.ProgramID, reader, runner, logger),
		Runner: runner,
	}

	svc := newService(cfg, logger, store, reader, builder, c)
	svc.closers = []func() error{store.Close, closeCache, client.Close}
	return svc, nil
}

func newService(cfg config.APIServerConfig, logger *slog.Logger, store Store, reader Chain, builder Builder, c *cache.Cache) *Service {
	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		store:            store,
		chain:            reader,
		builder:          builder,
		cache:            c,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
}

// Handler routes every endpoint behind request ids and CORS.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/token-pairs", s.handleTokenPairs)
	mux.HandleFunc("/api/v1/pools", s.handlePools)
	mux.HandleFunc("/api/v1/pool", s.handlePool)
	mux.HandleFunc("/api/v1/orders", s.handleOrders)
	mux.HandleFunc("/api/v1/order-history", s.handleOrderHistory)
	mux.HandleFunc("/api/v1/intervals", s.handleIntervals)
	mux.HandleFunc("/api/v1/chart/candles", s.handleChartCandles)
	mux.HandleFunc("/api/v1/price", s.handlePrice)
	mux.HandleFunc("/api/v1/tx/place-order", s.handlePlaceOrder)
	mux.HandleFunc("/api/v1/tx/cancel-order", s.handleCancelOrder)
	mux.HandleFunc("/ws", s.handleWebsocket)

	return s.withRequestID(s.withCORS(mux))
}

func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"program_id", s.cfg.ProgramID.String(),
		"cache_backend", s.cfg.Cache.Backend,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("api-server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Service) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Error("failed to release resource", "err", err)
		}
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK       bool   `json:"ok"`
	LastSlot uint64 `json:"last_slot,omitempty"`
	SyncedAt int64  `json:"synced_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && s.isOriginAllowed(origin) {
			if s.allowAllOrigins {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
			w.Header().Set("Access-Control-Max-Age", "300")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" || s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

func parsePage(r *http.Request) (indexer.Page, error) {
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		return indexer.Page{}, err
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		return indexer.Page{}, err
	}
	return indexer.Page{Limit: limit, Offset: offset}, nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalInt64(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

// parseOptionalPubkey returns the canonical base58 form, or "" when the
// parameter is absent.
func parseOptionalPubkey(r *http.Request, key string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", nil
	}
	key58, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", key, err)
	}
	return key58.String(), nil
}

func parseRequiredPubkey(r *http.Request, key string) (solana.PublicKey, error) {
	raw, err := parseOptionalPubkey(r, key)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	return solana.MustPublicKeyFromBase58(raw), nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
