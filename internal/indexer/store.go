package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("not found")

// StatusClosed marks an order or pool whose account no longer exists on
// chain.
const StatusClosed = "closed"

const (
	OrderEventOpened    = "opened"
	OrderEventDeposited = "deposited"
	OrderEventWithdrawn = "withdrawn"
	OrderEventSettled   = "settled"
	OrderEventClosed    = "closed"
)

type Store struct {
	db *DB
}

func NewStore(ctx context.Context, dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			last_slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS token_pairs (
			pubkey TEXT PRIMARY KEY,
			mint_a TEXT NOT NULL,
			mint_b TEXT NOT NULL,
			custody_a TEXT NOT NULL,
			custody_b TEXT NOT NULL,
			decimals_a INTEGER NOT NULL,
			decimals_b INTEGER NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			order_volume_usd DOUBLE PRECISION NOT NULL,
			settle_volume_usd DOUBLE PRECISION NOT NULL,
			trade_volume_usd DOUBLE PRECISION NOT NULL,
			allow_deposits INTEGER NOT NULL,
			allow_withdrawals INTEGER NOT NULL,
			allow_cranks INTEGER NOT NULL,
			allow_settlements INTEGER NOT NULL,
			crank_authority TEXT NOT NULL,
			tifs TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_pairs_mints ON token_pairs(mint_a, mint_b);`,
		`CREATE TABLE IF NOT EXISTS pools (
			pubkey TEXT PRIMARY KEY,
			token_pair TEXT NOT NULL,
			time_in_force BIGINT NOT NULL,
			counter TEXT NOT NULL,
			expiration_time BIGINT NOT NULL,
			status TEXT NOT NULL,
			buy_lp_supply TEXT NOT NULL,
			sell_lp_supply TEXT NOT NULL,
			buy_fills_volume DOUBLE PRECISION NOT NULL,
			sell_fills_volume DOUBLE PRECISION NOT NULL,
			raw_json TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pools_pair_tif ON pools(token_pair, time_in_force, expiration_time DESC);`,
		`CREATE TABLE IF NOT EXISTS orders (
			pubkey TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			pool TEXT NOT NULL,
			token_pair TEXT NOT NULL,
			side TEXT NOT NULL,
			time_in_force BIGINT NOT NULL,
			lp_balance TEXT NOT NULL,
			token_debt TEXT NOT NULL,
			unsettled_balance TEXT NOT NULL,
			settlement_debt TEXT NOT NULL,
			order_time BIGINT NOT NULL,
			expiration_time BIGINT NOT NULL,
			status TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders(owner, updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pair_status ON orders(token_pair, status);`,
		`CREATE TABLE IF NOT EXISTS order_history (
			id BIGSERIAL PRIMARY KEY,
			order_pubkey TEXT NOT NULL,
			owner TEXT NOT NULL,
			pool TEXT NOT NULL,
			event_type TEXT NOT NULL,
			prev_lp_balance TEXT NOT NULL,
			next_lp_balance TEXT NOT NULL,
			prev_unsettled_balance TEXT NOT NULL,
			next_unsettled_balance TEXT NOT NULL,
			prev_settlement_debt TEXT NOT NULL,
			next_settlement_debt TEXT NOT NULL,
			slot BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_owner_time ON order_history(owner, recorded_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_order_slot ON order_history(order_pubkey, slot DESC);`,
		`CREATE TABLE IF NOT EXISTS resources (
			pubkey TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			account_type TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_program_type ON resources(program_id, account_type);`,
		`CREATE TABLE IF NOT EXISTS market_price_ticks (
			id BIGSERIAL PRIMARY KEY,
			market TEXT NOT NULL,
			source TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			slot BIGINT NOT NULL,
			publish_time BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			conf DOUBLE PRECISION NOT NULL,
			expo INTEGER NOT NULL,
			received_at BIGINT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_market_price_ticks_dedupe ON market_price_ticks(market, source, publish_time, slot);`,
		`CREATE INDEX IF NOT EXISTS idx_market_price_ticks_market_time ON market_price_ticks(market, publish_time DESC, slot DESC, id DESC);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, slot uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_slot, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_slot = excluded.last_slot,
			updated_at = excluded.updated_at
	`, int64(slot), time.Now().Unix())
	return err
}

func (s *Store) UpsertTokenPairTx(ctx context.Context, tx *Tx, item chain.Keyed[twamm.TokenPair], slot uint64) error {
	pair := item.Account
	raw, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	tifs, err := json.Marshal(pair.Tifs)
	if err != nil {
		return err
	}
	stats := chain.NewPairStats(pair)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_pairs (
			pubkey, mint_a, mint_b, custody_a, custody_b, decimals_a, decimals_b,
			fee, order_volume_usd, settle_volume_usd, trade_volume_usd,
			allow_deposits, allow_withdrawals, allow_cranks, allow_settlements,
			crank_authority, tifs, raw_json, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			mint_a = excluded.mint_a,
			mint_b = excluded.mint_b,
			custody_a = excluded.custody_a,
			custody_b = excluded.custody_b,
			decimals_a = excluded.decimals_a,
			decimals_b = excluded.decimals_b,
			fee = excluded.fee,
			order_volume_usd = excluded.order_volume_usd,
			settle_volume_usd = excluded.settle_volume_usd,
			trade_volume_usd = excluded.trade_volume_usd,
			allow_deposits = excluded.allow_deposits,
			allow_withdrawals = excluded.allow_withdrawals,
			allow_cranks = excluded.allow_cranks,
			allow_settlements = excluded.allow_settlements,
			crank_authority = excluded.crank_authority,
			tifs = excluded.tifs,
			raw_json = excluded.raw_json,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		item.Address.String(),
		pair.ConfigA.Mint.String(),
		pair.ConfigB.Mint.String(),
		pair.ConfigA.Custody.String(),
		pair.ConfigB.Custody.String(),
		int64(pair.ConfigA.Decimals),
		int64(pair.ConfigB.Decimals),
		stats.Fee,
		stats.OrderVolume,
		stats.SettleVolume,
		stats.TradeVolume,
		boolToInt(pair.AllowDeposits),
		boolToInt(pair.AllowWithdrawals),
		boolToInt(pair.AllowCranks),
		boolToInt(pair.AllowSettlements),
		pair.CrankAuthority.String(),
		string(tifs),
		string(raw),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertPoolTx(ctx context.Context, tx *Tx, item chain.Keyed[twamm.Pool], slot uint64) error {
	pool := item.Account
	raw, err := json.Marshal(pool)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pools (
			pubkey, token_pair, time_in_force, counter, expiration_time, status,
			buy_lp_supply, sell_lp_supply, buy_fills_volume, sell_fills_volume,
			raw_json, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			token_pair = excluded.token_pair,
			time_in_force = excluded.time_in_force,
			counter = excluded.counter,
			expiration_time = excluded.expiration_time,
			status = excluded.status,
			buy_lp_supply = excluded.buy_lp_supply,
			sell_lp_supply = excluded.sell_lp_supply,
			buy_fills_volume = excluded.buy_fills_volume,
			sell_fills_volume = excluded.sell_fills_volume,
			raw_json = excluded.raw_json,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		item.Address.String(),
		pool.TokenPair.String(),
		int64(pool.TimeInForce),
		strconv.FormatUint(pool.Counter, 10),
		pool.ExpirationTime,
		pool.Status.String(),
		strconv.FormatUint(pool.BuySide.LpSupply, 10),
		strconv.FormatUint(pool.SellSide.LpSupply, 10),
		pool.BuySide.FillsVolume,
		pool.SellSide.FillsVolume,
		string(raw),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

// orderBalances is the part of an order whose changes are recorded in
// order_history.
type orderBalances struct {
	LpBalance        uint64
	TokenDebt        uint64
	UnsettledBalance uint64
	SettlementDebt   uint64
}

func balancesOf(order *twamm.Order) orderBalances {
	return orderBalances{
		LpBalance:        order.LpBalance,
		TokenDebt:        order.TokenDebt,
		UnsettledBalance: order.UnsettledBalance,
		SettlementDebt:   order.SettlementDebt,
	}
}

// classifyOrderChange names the history event between two observations of
// an order, or returns "" when nothing worth recording changed. A nil prev
// means the order was not tracked before.
func classifyOrderChange(prev *orderBalances, next orderBalances) string {
	switch {
	case prev == nil:
		return OrderEventOpened
	case next.LpBalance > prev.LpBalance:
		return OrderEventDeposited
	case next.LpBalance < prev.LpBalance:
		return OrderEventWithdrawn
	case next != *prev:
		return OrderEventSettled
	default:
		return ""
	}
}

// UpsertOrderTx stores the order and appends a history row when its balances
// moved. It returns the recorded event, if any.
func (s *Store) UpsertOrderTx(ctx context.Context, tx *Tx, view chain.OrderView, order *twamm.Order, slot uint64) (string, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	pubkey := view.Address.String()
	prev, err := s.getOrderBalancesTx(ctx, tx, pubkey)
	if err != nil {
		return "", err
	}
	next := balancesOf(order)
	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			pubkey, owner, pool, token_pair, side, time_in_force,
			lp_balance, token_debt, unsettled_balance, settlement_debt,
			order_time, expiration_time, status, raw_json, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			owner = excluded.owner,
			pool = excluded.pool,
			token_pair = excluded.token_pair,
			side = excluded.side,
			time_in_force = excluded.time_in_force,
			lp_balance = excluded.lp_balance,
			token_debt = excluded.token_debt,
			unsettled_balance = excluded.unsettled_balance,
			settlement_debt = excluded.settlement_debt,
			order_time = excluded.order_time,
			expiration_time = excluded.expiration_time,
			status = excluded.status,
			raw_json = excluded.raw_json,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey,
		view.Owner.String(),
		view.Pool.String(),
		keyOrEmpty(view.TokenPair),
		view.Side.String(),
		int64(view.TimeInForce),
		strconv.FormatUint(next.LpBalance, 10),
		strconv.FormatUint(next.TokenDebt, 10),
		strconv.FormatUint(next.UnsettledBalance, 10),
		strconv.FormatUint(next.SettlementDebt, 10),
		view.OrderTime,
		view.ExpirationTime,
		view.Status,
		string(raw),
		int64(slot),
		now,
	)
	if err != nil {
		return "", err
	}

	event := classifyOrderChange(prev, next)
	if event == "" {
		return "", nil
	}
	var from orderBalances
	if prev != nil {
		from = *prev
	}
	if err := s.insertOrderHistoryTx(ctx, tx, pubkey, view.Owner.String(), view.Pool.String(), event, from, next, slot, now); err != nil {
		return "", err
	}
	return event, nil
}

// CloseMissingOrdersTx marks every open order not refreshed at slot as
// closed and records the closing in order_history.
func (s *Store) CloseMissingOrdersTx(ctx context.Context, tx *Tx, slot uint64) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT pubkey, owner, pool, lp_balance, token_debt, unsettled_balance, settlement_debt
		FROM orders
		WHERE status <> ? AND slot < ?
	`, StatusClosed, int64(slot))
	if err != nil {
		return 0, err
	}

	type missing struct {
		pubkey, owner, pool string
		balances            orderBalances
	}
	var gone []missing
	for rows.Next() {
		var item missing
		var lp, debt, unsettled, settlement string
		if err := rows.Scan(&item.pubkey, &item.owner, &item.pool, &lp, &debt, &unsettled, &settlement); err != nil {
			rows.Close()
			return 0, err
		}
		item.balances, err = parseBalances(lp, debt, unsettled, settlement)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("order %s: %w", item.pubkey, err)
		}
		gone = append(gone, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	now := time.Now().Unix()
	for _, item := range gone {
		if err := s.insertOrderHistoryTx(ctx, tx, item.pubkey, item.owner, item.pool, OrderEventClosed, item.balances, orderBalances{}, slot, now); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE pubkey = ?`, StatusClosed, now, item.pubkey); err != nil {
			return 0, err
		}
	}
	return len(gone), nil
}

// CloseMissingPoolsTx marks pools that were not refreshed at slot as closed.
func (s *Store) CloseMissingPoolsTx(ctx context.Context, tx *Tx, slot uint64) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE pools SET status = ?, updated_at = ?
		WHERE status <> ? AND slot < ?
	`, StatusClosed, time.Now().Unix(), StatusClosed, int64(slot))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) UpsertResourceTx(ctx context.Context, tx *Tx, pubkey, programID solana.PublicKey, accountType string, slot uint64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (pubkey, program_id, account_type, raw_json, slot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			program_id = excluded.program_id,
			account_type = excluded.account_type,
			raw_json = excluded.raw_json,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey.String(),
		programID.String(),
		accountType,
		string(raw),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) getOrderBalancesTx(ctx context.Context, tx *Tx, pubkey string) (*orderBalances, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT status, lp_balance, token_debt, unsettled_balance, settlement_debt
		FROM orders
		WHERE pubkey = ?
	`, pubkey)

	var status, lp, debt, unsettled, settlement string
	err := row.Scan(&status, &lp, &debt, &unsettled, &settlement)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// A closed order that shows up again was placed anew at the same address.
	if status == StatusClosed {
		return nil, nil
	}
	balances, err := parseBalances(lp, debt, unsettled, settlement)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", pubkey, err)
	}
	return &balances, nil
}

func (s *Store) insertOrderHistoryTx(
	ctx context.Context,
	tx *Tx,
	orderPubkey string,
	owner string,
	pool string,
	eventType string,
	prev orderBalances,
	next orderBalances,
	slot uint64,
	recordedAt int64,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_history (
			order_pubkey, owner, pool, event_type,
			prev_lp_balance, next_lp_balance,
			prev_unsettled_balance, next_unsettled_balance,
			prev_settlement_debt, next_settlement_debt,
			slot, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		orderPubkey,
		owner,
		pool,
		eventType,
		strconv.FormatUint(prev.LpBalance, 10),
		strconv.FormatUint(next.LpBalance, 10),
		strconv.FormatUint(prev.UnsettledBalance, 10),
		strconv.FormatUint(next.UnsettledBalance, 10),
		strconv.FormatUint(prev.SettlementDebt, 10),
		strconv.FormatUint(next.SettlementDebt, 10),
		int64(slot),
		recordedAt,
	)
	return err
}

func parseBalances(lp, debt, unsettled, settlement string) (orderBalances, error) {
	var out orderBalances
	fields := []struct {
		name string
		raw  string
		dst  *uint64
	}{
		{"lp_balance", lp, &out.LpBalance},
		{"token_debt", debt, &out.TokenDebt},
		{"unsettled_balance", unsettled, &out.UnsettledBalance},
		{"settlement_debt", settlement, &out.SettlementDebt},
	}
	for _, field := range fields {
		value, err := strconv.ParseUint(field.raw, 10, 64)
		if err != nil {
			return orderBalances{}, fmt.Errorf("parse %s %q: %w", field.name, field.raw, err)
		}
		*field.dst = value
	}
	return out, nil
}

func keyOrEmpty(key solana.PublicKey) string {
	if key.IsZero() {
		return ""
	}
	return key.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
