package indexer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
)

func TestClassifyOrderChange(t *testing.T) {
	base := orderBalances{LpBalance: 100, TokenDebt: 5, UnsettledBalance: 10, SettlementDebt: 2}

	withLp := base
	withLp.LpBalance = 150
	withdrawn := base
	withdrawn.LpBalance = 40
	settled := base
	settled.UnsettledBalance = 0
	settled.SettlementDebt = 0

	tests := []struct {
		name string
		prev *orderBalances
		next orderBalances
		want string
	}{
		{"first sighting", nil, base, OrderEventOpened},
		{"lp increased", &base, withLp, OrderEventDeposited},
		{"lp decreased", &base, withdrawn, OrderEventWithdrawn},
		{"settlement moved", &base, settled, OrderEventSettled},
		{"unchanged", &base, base, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyOrderChange(tc.prev, tc.next))
		})
	}
}

func TestParseBalances(t *testing.T) {
	got, err := parseBalances("18446744073709551615", "1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, orderBalances{LpBalance: 18446744073709551615, TokenDebt: 1, UnsettledBalance: 2, SettlementDebt: 3}, got)

	_, err = parseBalances("1", "x", "2", "3")
	assert.ErrorContains(t, err, "token_debt")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TWAMM_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TWAMM_TEST_DB_DSN not set")
	}
	store, err := NewStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreOrderLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	poolAddr := solana.NewWallet().PublicKey()
	pairAddr := solana.NewWallet().PublicKey()
	orderAddr := solana.NewWallet().PublicKey()
	pool := &twamm.Pool{TimeInForce: 300, ExpirationTime: time.Now().Unix() + 300, TokenPair: pairAddr, Counter: 1}
	order := &twamm.Order{Owner: owner, Pool: poolAddr, Side: twamm.OrderSide_Sell, LpBalance: 1_000, Time: time.Now().Unix()}

	slot := uint64(time.Now().UnixNano())
	upsert := func(slot uint64) string {
		var event string
		require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
			require.NoError(t, store.UpsertPoolTx(ctx, tx, chain.Keyed[twamm.Pool]{Address: poolAddr, Account: pool}, slot))
			view := chain.NewOrderView(orderAddr, order, pool, nil, time.Now().Unix())
			var err error
			event, err = store.UpsertOrderTx(ctx, tx, view, order, slot)
			return err
		}))
		return event
	}

	assert.Equal(t, OrderEventOpened, upsert(slot))
	assert.Equal(t, "", upsert(slot+1))
	order.LpBalance = 400
	assert.Equal(t, OrderEventWithdrawn, upsert(slot+2))

	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		closed, err := store.CloseMissingOrdersTx(ctx, tx, slot+3)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, closed, 1)
		return nil
	}))

	orders, _, _, err := store.ListOrders(ctx, OrderFilter{Owner: owner.String()})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, StatusClosed, orders[0].Status)
	assert.Equal(t, "400", orders[0].LpBalance)
	assert.Equal(t, pairAddr.String(), orders[0].TokenPair)

	history, _, _, err := store.ListOrderHistory(ctx, OrderHistoryFilter{Order: orderAddr.String()})
	require.NoError(t, err)
	events := make([]string, 0, len(history))
	for _, item := range history {
		events = append(events, item.EventType)
	}
	assert.ElementsMatch(t, []string{OrderEventOpened, OrderEventWithdrawn, OrderEventClosed}, events)
}

func TestStoreMarketPrices(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	market := "TEST" + solana.NewWallet().PublicKey().String()[:6]
	now := time.Now().Unix()
	for i, price := range []float64{10, 12, 9, 11} {
		inserted, err := store.InsertMarketPriceTick(ctx, MarketPriceTickInput{
			Market:      market,
			FeedID:      "feed",
			Slot:        int64(i),
			PublishTime: now - now%60 + int64(i),
			Price:       price,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	latest, err := store.GetLatestMarketPrice(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 11.0, latest.Price)

	candles, err := store.GetMarketCandles(ctx, market, 60, 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, CandleRecord{TS: now - now%60, Open: 10, High: 12, Low: 9, Close: 11, Volume: 4}, candles[0])

	_, err = store.GetLatestMarketPrice(ctx, market+"X")
	assert.ErrorIs(t, err, ErrNotFound)
}
