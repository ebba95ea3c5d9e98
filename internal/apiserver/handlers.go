package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/cache"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/indexer"
	"github.com/twamm-labs/twamm/backend/internal/intervals"
)

type chartCandlesResponse struct {
	Market      string                 `json:"market"`
	Timeframe   string                 `json:"timeframe"`
	IntervalSec int64                  `json:"interval_sec"`
	Candles     []indexer.CandleRecord `json:"candles"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	state, err := s.store.GetSyncState(r.Context())
	switch {
	case errors.Is(err, indexer.ErrNotFound):
		s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
	case err != nil:
		s.requestLogger(r).Error("get sync state failed", "err", err)
		s.respondJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false})
	default:
		s.respondJSON(w, http.StatusOK, healthResponse{OK: true, LastSlot: state.LastSlot, SyncedAt: state.UpdatedAt})
	}
}

func (s *Service) handleTokenPairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListTokenPairs(r.Context(), page)
	if err != nil {
		s.requestLogger(r).Error("list token pairs failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list token pairs")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.TokenPairRecord]{Items: items, Limit: limit, Offset: offset})
}

func (s *Service) handlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := parseOptionalPubkey(r, "token_pair")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListPools(r.Context(), indexer.PoolFilter{
		TokenPair: pair,
		Status:    strings.TrimSpace(r.URL.Query().Get("status")),
		Page:      page,
	})
	if err != nil {
		s.requestLogger(r).Error("list pools failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.PoolRecord]{Items: items, Limit: limit, Offset: offset})
}

func (s *Service) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := indexer.OrderFilter{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Page:   page,
	}
	for key, dst := range map[string]*string{
		"owner":      &filter.Owner,
		"token_pair": &filter.TokenPair,
		"pool":       &filter.Pool,
	} {
		if *dst, err = parseOptionalPubkey(r, key); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items, limit, offset, err := s.store.ListOrders(r.Context(), filter)
	if err != nil {
		s.requestLogger(r).Error("list orders failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.OrderRecord]{Items: items, Limit: limit, Offset: offset})
}

func (s *Service) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseOptionalPubkey(r, "owner")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOptionalPubkey(r, "order")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListOrderHistory(r.Context(), indexer.OrderHistoryFilter{
		Owner: owner,
		Order: order,
		Page:  page,
	})
	if err != nil {
		s.requestLogger(r).Error("list order history failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list order history")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.OrderHistoryRecord]{Items: items, Limit: limit, Offset: offset})
}

// handlePool reads a pool and its pair from the chain through the cache.
func (s *Service) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	address, err := parseRequiredPubkey(r, "address")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := cache.Get(r.Context(), s.cache, "pool:"+address.String(), 0, func(ctx context.Context) (*chain.PoolWithPair, error) {
		return s.chain.PoolWithPair(ctx, address)
	})
	if err != nil {
		s.respondChainError(w, r, "load pool", err)
		return
	}
	s.respondJSON(w, http.StatusOK, pool)
}

// handleIntervals runs the interval reducer against the pair's live slots and
// applies the optional schedule and period choices in that order.
func (s *Service) handleIntervals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	address, err := parseRequiredPubkey(r, "pair")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule, err := parseOptionalInt64(r, "schedule")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := parseOptionalInt64(r, "period")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := s.tokenPair(r.Context(), address)
	if err != nil {
		s.respondChainError(w, r, "load token pair", err)
		return
	}
	tifs, err := cache.Get(r.Context(), s.cache, "tifs:"+address.String(), 0, func(ctx context.Context) ([]intervals.IndexedTIF, error) {
		return s.chain.IndexedTIFs(ctx, address, pair)
	})
	if err != nil {
		s.respondChainError(w, r, "index intervals", err)
		return
	}

	state := intervals.Reduce(intervals.InitialState(), intervals.SetTifs{
		IndexedTifs:           tifs,
		MinTimeTillExpiration: &pair.MinTimeTillExpiration,
	})
	if schedule != nil {
		state = intervals.Reduce(state, intervals.SetSchedule{TIF: *schedule})
	}
	if period != nil {
		state = intervals.Reduce(state, intervals.SetPeriod{TIF: *period})
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Service) tokenPair(ctx context.Context, address solana.PublicKey) (*twamm.TokenPair, error) {
	return cache.Get(ctx, s.cache, "pair:"+address.String(), 0, func(ctx context.Context) (*twamm.TokenPair, error) {
		return s.chain.GetTokenPair(ctx, address)
	})
}

func (s *Service) handleChartCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	market := indexer.NormalizeMarketSymbol(r.URL.Query().Get("market"))
	if market == "" {
		market = indexer.DefaultMarket
	}
	timeframe, intervalSec, err := indexer.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 120)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.store.GetMarketCandles(r.Context(), market, intervalSec, limit)
	if err != nil {
		s.requestLogger(r).Error("get market candles failed", "market", market, "timeframe", timeframe, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load candles")
		return
	}
	s.respondJSON(w, http.StatusOK, chartCandlesResponse{
		Market:      market,
		Timeframe:   timeframe,
		IntervalSec: intervalSec,
		Candles:     candles,
	})
}

func (s *Service) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	market := indexer.NormalizeMarketSymbol(r.URL.Query().Get("market"))
	if market == "" {
		market = indexer.DefaultMarket
	}

	price, err := s.store.GetLatestMarketPrice(r.Context(), market)
	if errors.Is(err, indexer.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no price for market "+market)
		return
	}
	if err != nil {
		s.requestLogger(r).Error("get latest market price failed", "market", market, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load price")
		return
	}
	s.respondJSON(w, http.StatusOK, price)
}

// respondChainError maps errors from chain reads and instruction builders.
func (s *Service) respondChainError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, chain.ErrAccountNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, twamm.ErrInvalidDiscriminator):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.requestLogger(r).Error(action+" failed", "err", err)
		s.respondError(w, http.StatusBadGateway, "failed to "+action)
	}
}
