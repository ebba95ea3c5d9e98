package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
)

type fakeSource struct {
	slot      uint64
	now       int64
	pairs     []chain.Keyed[twamm.TokenPair]
	pools     []chain.Keyed[twamm.Pool]
	orders    []chain.Keyed[twamm.Order]
	multisigs []chain.Keyed[twamm.Multisig]
	ordersErr error
}

func (f *fakeSource) Slot(context.Context) (uint64, error) { return f.slot, nil }
func (f *fakeSource) ClusterTime(context.Context) int64    { return f.now }

func (f *fakeSource) ListTokenPairs(context.Context) ([]chain.Keyed[twamm.TokenPair], error) {
	return f.pairs, nil
}

func (f *fakeSource) ListPools(context.Context, solana.PublicKey) ([]chain.Keyed[twamm.Pool], error) {
	return f.pools, nil
}

func (f *fakeSource) ListOrders(context.Context, solana.PublicKey) ([]chain.Keyed[twamm.Order], error) {
	return f.orders, f.ordersErr
}

func (f *fakeSource) ListMultisigs(context.Context) ([]chain.Keyed[twamm.Multisig], error) {
	return f.multisigs, nil
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func TestCollectJoinsOrdersWithPoolsAndPairs(t *testing.T) {
	pairAddr, livePool, expiredPool := newKey(), newKey(), newKey()
	mintA, mintB := newKey(), newKey()
	pair := &twamm.TokenPair{}
	pair.ConfigA.Mint = mintA
	pair.ConfigB.Mint = mintB

	owner := newKey()
	source := &fakeSource{
		slot: 99,
		now:  1_000,
		pairs: []chain.Keyed[twamm.TokenPair]{
			{Address: pairAddr, Account: pair},
		},
		pools: []chain.Keyed[twamm.Pool]{
			{Address: livePool, Account: &twamm.Pool{TokenPair: pairAddr, TimeInForce: 300, ExpirationTime: 1_200}},
			{Address: expiredPool, Account: &twamm.Pool{TokenPair: pairAddr, TimeInForce: 900, ExpirationTime: 900}},
		},
		orders: []chain.Keyed[twamm.Order]{
			{Address: newKey(), Account: &twamm.Order{Owner: owner, Pool: livePool, LpBalance: 5}},
			{Address: newKey(), Account: &twamm.Order{Owner: owner, Pool: expiredPool, LpBalance: 6}},
			{Address: newKey(), Account: &twamm.Order{Owner: owner, Pool: newKey(), LpBalance: 7}},
		},
	}

	snap, err := collect(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), snap.slot)

	views := snap.orderViews()
	require.Len(t, views, 3)

	assert.Equal(t, chain.OrderStatusActive, views[0].Status)
	assert.Equal(t, pairAddr, views[0].TokenPair)
	assert.Equal(t, mintA, views[0].MintA)
	assert.Equal(t, uint32(300), views[0].TimeInForce)

	assert.Equal(t, chain.OrderStatusExpired, views[1].Status)
	assert.Equal(t, chain.OrderStatusInactive, views[2].Status)
	assert.True(t, views[2].TokenPair.IsZero())
	for i, view := range views {
		assert.Equal(t, source.orders[i].Address, view.Address, "views keep order positions")
	}
}

func TestCollectStopsOnListError(t *testing.T) {
	source := &fakeSource{ordersErr: errors.New("rpc down")}
	_, err := collect(context.Background(), source)
	assert.ErrorContains(t, err, "rpc down")
}
