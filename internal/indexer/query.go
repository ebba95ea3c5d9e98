package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type Page struct {
	Limit  int
	Offset int
}

type TokenPairRecord struct {
	Pubkey           string   `json:"pubkey"`
	MintA            string   `json:"mint_a"`
	MintB            string   `json:"mint_b"`
	DecimalsA        uint8    `json:"decimals_a"`
	DecimalsB        uint8    `json:"decimals_b"`
	Fee              float64  `json:"fee"`
	OrderVolumeUSD   float64  `json:"order_volume_usd"`
	SettleVolumeUSD  float64  `json:"settle_volume_usd"`
	TradeVolumeUSD   float64  `json:"trade_volume_usd"`
	AllowDeposits    bool     `json:"allow_deposits"`
	AllowWithdrawals bool     `json:"allow_withdrawals"`
	AllowCranks      bool     `json:"allow_cranks"`
	AllowSettlements bool     `json:"allow_settlements"`
	CrankAuthority   string   `json:"crank_authority"`
	Tifs             []uint32 `json:"tifs"`
	Slot             uint64   `json:"slot"`
	UpdatedAt        int64    `json:"updated_at"`
}

type PoolFilter struct {
	TokenPair string
	Status    string
	Page
}

type PoolRecord struct {
	Pubkey          string  `json:"pubkey"`
	TokenPair       string  `json:"token_pair"`
	TimeInForce     uint32  `json:"time_in_force"`
	Counter         string  `json:"counter"`
	ExpirationTime  int64   `json:"expiration_time"`
	Status          string  `json:"status"`
	BuyLpSupply     string  `json:"buy_lp_supply"`
	SellLpSupply    string  `json:"sell_lp_supply"`
	BuyFillsVolume  float64 `json:"buy_fills_volume"`
	SellFillsVolume float64 `json:"sell_fills_volume"`
	Slot            uint64  `json:"slot"`
	UpdatedAt       int64   `json:"updated_at"`
}

type OrderFilter struct {
	Owner     string
	TokenPair string
	Pool      string
	Status    string
	Page
}

type OrderRecord struct {
	Pubkey           string `json:"pubkey"`
	Owner            string `json:"owner"`
	Pool             string `json:"pool"`
	TokenPair        string `json:"token_pair"`
	Side             string `json:"side"`
	TimeInForce      uint32 `json:"time_in_force"`
	LpBalance        string `json:"lp_balance"`
	TokenDebt        string `json:"token_debt"`
	UnsettledBalance string `json:"unsettled_balance"`
	SettlementDebt   string `json:"settlement_debt"`
	OrderTime        int64  `json:"order_time"`
	ExpirationTime   int64  `json:"expiration_time"`
	Status           string `json:"status"`
	Slot             uint64 `json:"slot"`
	UpdatedAt        int64  `json:"updated_at"`
}

type OrderHistoryFilter struct {
	Owner string
	Order string
	Page
}

type OrderHistoryRecord struct {
	ID                   int64  `json:"id"`
	OrderPubkey          string `json:"order_pubkey"`
	Owner                string `json:"owner"`
	Pool                 string `json:"pool"`
	EventType            string `json:"event_type"`
	PrevLpBalance        string `json:"prev_lp_balance"`
	NextLpBalance        string `json:"next_lp_balance"`
	PrevUnsettledBalance string `json:"prev_unsettled_balance"`
	NextUnsettledBalance string `json:"next_unsettled_balance"`
	PrevSettlementDebt   string `json:"prev_settlement_debt"`
	NextSettlementDebt   string `json:"next_settlement_debt"`
	Slot                 uint64 `json:"slot"`
	RecordedAt           int64  `json:"recorded_at"`
}

type SyncState struct {
	LastSlot  uint64 `json:"last_slot"`
	UpdatedAt int64  `json:"updated_at"`
}

// filters collects "column = ?" clauses for the non-empty values.
type filters struct {
	clauses []string
	args    []any
}

func (f *filters) eq(column, value string) {
	if value == "" {
		return
	}
	f.clauses = append(f.clauses, column+" = ?")
	f.args = append(f.args, value)
}

func (f *filters) where() string {
	if len(f.clauses) == 0 {
		return "1 = 1"
	}
	return strings.Join(f.clauses, " AND ")
}

func (s *Store) ListTokenPairs(ctx context.Context, page Page) ([]TokenPairRecord, int, int, error) {
	limit, offset := normalizePagination(page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			pubkey, mint_a, mint_b, decimals_a, decimals_b,
			fee, order_volume_usd, settle_volume_usd, trade_volume_usd,
			allow_deposits, allow_withdrawals, allow_cranks, allow_settlements,
			crank_authority, tifs, slot, updated_at
		FROM token_pairs
		ORDER BY trade_volume_usd DESC, pubkey ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]TokenPairRecord, 0, limit)
	for rows.Next() {
		var item TokenPairRecord
		var decimalsA, decimalsB int64
		var deposits, withdrawals, cranks, settlements int
		var tifs string
		var slot int64
		if err := rows.Scan(
			&item.Pubkey,
			&item.MintA,
			&item.MintB,
			&decimalsA,
			&decimalsB,
			&item.Fee,
			&item.OrderVolumeUSD,
			&item.SettleVolumeUSD,
			&item.TradeVolumeUSD,
			&deposits,
			&withdrawals,
			&cranks,
			&settlements,
			&item.CrankAuthority,
			&tifs,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.DecimalsA = uint8(decimalsA)
		item.DecimalsB = uint8(decimalsB)
		item.AllowDeposits = deposits != 0
		item.AllowWithdrawals = withdrawals != 0
		item.AllowCranks = cranks != 0
		item.AllowSettlements = settlements != 0
		item.Tifs = configuredTifs(tifs)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

// configuredTifs drops the empty slots of a stored tifs array.
func configuredTifs(raw string) []uint32 {
	var all []uint32
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return []uint32{}
	}
	out := make([]uint32, 0, len(all))
	for _, tif := range all {
		if tif != 0 {
			out = append(out, tif)
		}
	}
	return out
}

func (s *Store) ListPools(ctx context.Context, filter PoolFilter) ([]PoolRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	var where filters
	where.eq("token_pair", filter.TokenPair)
	where.eq("status", filter.Status)

	query := fmt.Sprintf(`
		SELECT
			pubkey, token_pair, time_in_force, counter, expiration_time, status,
			buy_lp_supply, sell_lp_supply, buy_fills_volume, sell_fills_volume,
			slot, updated_at
		FROM pools
		WHERE %s
		ORDER BY expiration_time DESC, pubkey ASC
		LIMIT ? OFFSET ?
	`, where.where())
	args := append(where.args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PoolRecord, 0, limit)
	for rows.Next() {
		var item PoolRecord
		var tif, slot int64
		if err := rows.Scan(
			&item.Pubkey,
			&item.TokenPair,
			&tif,
			&item.Counter,
			&item.ExpirationTime,
			&item.Status,
			&item.BuyLpSupply,
			&item.SellLpSupply,
			&item.BuyFillsVolume,
			&item.SellFillsVolume,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.TimeInForce = uint32(tif)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]OrderRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	var where filters
	where.eq("owner", filter.Owner)
	where.eq("token_pair", filter.TokenPair)
	where.eq("pool", filter.Pool)
	where.eq("status", filter.Status)

	query := fmt.Sprintf(`
		SELECT
			pubkey, owner, pool, token_pair, side, time_in_force,
			lp_balance, token_debt, unsettled_balance, settlement_debt,
			order_time, expiration_time, status, slot, updated_at
		FROM orders
		WHERE %s
		ORDER BY order_time DESC, pubkey ASC
		LIMIT ? OFFSET ?
	`, where.where())
	args := append(where.args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]OrderRecord, 0, limit)
	for rows.Next() {
		var item OrderRecord
		var tif, slot int64
		if err := rows.Scan(
			&item.Pubkey,
			&item.Owner,
			&item.Pool,
			&item.TokenPair,
			&item.Side,
			&tif,
			&item.LpBalance,
			&item.TokenDebt,
			&item.UnsettledBalance,
			&item.SettlementDebt,
			&item.OrderTime,
			&item.ExpirationTime,
			&item.Status,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.TimeInForce = uint32(tif)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) ListOrderHistory(ctx context.Context, filter OrderHistoryFilter) ([]OrderHistoryRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	var where filters
	where.eq("owner", filter.Owner)
	where.eq("order_pubkey", filter.Order)

	query := fmt.Sprintf(`
		SELECT
			id, order_pubkey, owner, pool, event_type,
			prev_lp_balance, next_lp_balance,
			prev_unsettled_balance, next_unsettled_balance,
			prev_settlement_debt, next_settlement_debt,
			slot, recorded_at
		FROM order_history
		WHERE %s
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, where.where())
	args := append(where.args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]OrderHistoryRecord, 0, limit)
	for rows.Next() {
		var item OrderHistoryRecord
		var slot int64
		if err := rows.Scan(
			&item.ID,
			&item.OrderPubkey,
			&item.Owner,
			&item.Pool,
			&item.EventType,
			&item.PrevLpBalance,
			&item.NextLpBalance,
			&item.PrevUnsettledBalance,
			&item.NextUnsettledBalance,
			&item.PrevSettlementDebt,
			&item.NextSettlementDebt,
			&slot,
			&item.RecordedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) GetSyncState(ctx context.Context) (SyncState, error) {
	var state SyncState
	var slot int64
	err := s.db.QueryRowContext(ctx, `SELECT last_slot, updated_at FROM sync_state WHERE id = 1`).Scan(&slot, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, ErrNotFound
	}
	if err != nil {
		return SyncState{}, err
	}
	state.LastSlot = uint64(slot)
	return state, nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
