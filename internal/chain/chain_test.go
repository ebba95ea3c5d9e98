package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/dex"
	"github.com/twamm-labs/twamm/backend/internal/intervals"
)

type fakeRPC struct {
	accounts  map[solana.PublicKey][]byte
	batches   [][]solana.PublicKey
	filters   []rpc.RPCFilter
	blockTime int64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{accounts: make(map[solana.PublicKey][]byte)}
}

func (f *fakeRPC) store(t *testing.T, address solana.PublicKey, data []byte, err error) {
	t.Helper()
	require.NoError(t, err)
	f.accounts[address] = data
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeRPC) GetMultipleAccountsWithOpts(_ context.Context, accounts []solana.PublicKey, _ *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	f.batches = append(f.batches, accounts)
	out := &rpc.GetMultipleAccountsResult{Value: make([]*rpc.Account, len(accounts))}
	for i, key := range accounts {
		if data, ok := f.accounts[key]; ok {
			out.Value[i] = &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}
		}
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccountsWithOpts(_ context.Context, _ solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	f.filters = opts.Filters
	var out rpc.GetProgramAccountsResult
	for key, data := range f.accounts {
		if !matches(data, opts.Filters) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{Pubkey: key, Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}})
	}
	return out, nil
}

func matches(data []byte, filters []rpc.RPCFilter) bool {
	for _, filter := range filters {
		if filter.Memcmp == nil {
			continue
		}
		want := []byte(filter.Memcmp.Bytes)
		offset := int(filter.Memcmp.Offset)
		if len(data) < offset+len(want) || string(data[offset:offset+len(want)]) != string(want) {
			return false
		}
	}
	return true
}

func (f *fakeRPC) GetSlot(context.Context, rpc.CommitmentType) (uint64, error) {
	return 100, nil
}

func (f *fakeRPC) GetBlockTime(context.Context, uint64) (*solana.UnixTimeSeconds, error) {
	if f.blockTime == 0 {
		return nil, errors.New("block time unavailable")
	}
	ts := solana.UnixTimeSeconds(f.blockTime)
	return &ts, nil
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func TestFetchMultipleAddressesChunksUniqueKeys(t *testing.T) {
	keys := make([]solana.PublicKey, 7)
	for i := range keys {
		keys[i] = newKey()
	}
	input := append([]solana.PublicKey{}, keys...)
	input = append(input, keys[0], keys[3])

	var batches [][]solana.PublicKey
	fetch := func(_ context.Context, addrs []solana.PublicKey) ([]*string, error) {
		batches = append(batches, addrs)
		out := make([]*string, len(addrs))
		for i, addr := range addrs {
			if addr == keys[2] {
				continue
			}
			value := addr.String()
			out[i] = &value
		}
		return out, nil
	}

	got, err := FetchMultipleAddresses(context.Background(), fetch, input, 3)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[2], 1)

	require.Len(t, got, len(input))
	assert.Nil(t, got[2])
	assert.Equal(t, keys[0].String(), *got[7])
	assert.Equal(t, keys[3].String(), *got[8])
	assert.Equal(t, keys[6].String(), *got[6])
}

func TestFetchMultipleAddressesRejectsShortBatch(t *testing.T) {
	fetch := func(context.Context, []solana.PublicKey) ([]*int, error) {
		return nil, nil
	}
	_, err := FetchMultipleAddresses(context.Background(), fetch, []solana.PublicKey{newKey()}, 0)
	assert.Error(t, err)
}

func TestFetchMultipleAddressesEmptyInput(t *testing.T) {
	called := false
	fetch := func(context.Context, []solana.PublicKey) ([]*int, error) {
		called = true
		return nil, nil
	}
	got, err := FetchMultipleAddresses(context.Background(), fetch, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestReaderPoolWithPair(t *testing.T) {
	client := newFakeRPC()
	reader := NewReader(client, twamm.ProgramID, rpc.CommitmentConfirmed, 5, nil)

	pairAddr, poolAddr := newKey(), newKey()
	pair := &twamm.TokenPair{ConfigA: twamm.TokenConfig{Mint: newKey()}, ConfigB: twamm.TokenConfig{Mint: newKey()}}
	pool := &twamm.Pool{TimeInForce: 300, TokenPair: pairAddr}
	data, err := twamm.EncodeAccount(pair)
	client.store(t, pairAddr, data, err)
	data, err = twamm.EncodeAccount(pool)
	client.store(t, poolAddr, data, err)

	got, err := reader.PoolWithPair(context.Background(), poolAddr)
	require.NoError(t, err)
	assert.Equal(t, uint32(300), got.Pool.TimeInForce)
	assert.Equal(t, pair.ConfigA.Mint, got.Pair.ConfigA.Mint)

	_, err = reader.PoolWithPair(context.Background(), newKey())
	assert.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestReaderListOrdersFiltersByOwner(t *testing.T) {
	client := newFakeRPC()
	reader := NewReader(client, twamm.ProgramID, rpc.CommitmentConfirmed, 5, nil)

	owner := newKey()
	mine := &twamm.Order{Owner: owner, LpBalance: 10}
	theirs := &twamm.Order{Owner: newKey(), LpBalance: 20}
	data, err := twamm.EncodeAccount(mine)
	client.store(t, newKey(), data, err)
	data, err = twamm.EncodeAccount(theirs)
	client.store(t, newKey(), data, err)
	data, err = twamm.EncodeAccount(&twamm.Pool{})
	client.store(t, newKey(), data, err)

	all, err := reader.ListOrders(context.Background(), solana.PublicKey{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := reader.ListOrders(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, uint64(10), filtered[0].Account.LpBalance)
	require.Len(t, client.filters, 2)
	assert.Equal(t, uint64(twamm.OrderOwnerOffset), client.filters[1].Memcmp.Offset)
}

func TestReaderIndexedTIFs(t *testing.T) {
	client := newFakeRPC()
	client.blockTime = 10_000
	reader := NewReader(client, twamm.ProgramID, rpc.CommitmentConfirmed, 5, nil)

	pairAddr := newKey()
	pair := &twamm.TokenPair{
		Tifs:               [twamm.TimeInForceSlots]uint32{300, 900},
		PoolCounters:       [twamm.TimeInForceSlots]uint64{4, 0},
		CurrentPoolPresent: [twamm.TimeInForceSlots]bool{true, false},
	}
	poolAddr := dex.MustDerivePoolPDA(twamm.ProgramID, pairAddr, 300, 4)
	data, err := twamm.EncodeAccount(&twamm.Pool{TimeInForce: 300, ExpirationTime: 10_120, TokenPair: pairAddr, Counter: 4})
	client.store(t, poolAddr, data, err)

	got, err := reader.IndexedTIFs(context.Background(), pairAddr, pair)
	require.NoError(t, err)
	assert.Equal(t, []intervals.IndexedTIF{
		{Index: 0, Left: 120, TIF: 300},
		{Index: 1, Left: 900, TIF: 900},
	}, got)
	require.Len(t, client.batches, 1)
	assert.Equal(t, []solana.PublicKey{poolAddr}, client.batches[0])
}

func TestPairStats(t *testing.T) {
	pair := &twamm.TokenPair{
		FeeNumerator:   3,
		FeeDenominator: 1000,
		ConfigA:        twamm.TokenConfig{Mint: solana.SolMint},
		ConfigB:        twamm.TokenConfig{Mint: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")},
		StatsA:         twamm.TokenStats{OrderVolumeUsd: 10, RoutedVolumeUsd: 1, SettleVolumeUsd: 2},
		StatsB:         twamm.TokenStats{OrderVolumeUsd: 5, RoutedVolumeUsd: 3, SettleVolumeUsd: 4},
	}

	stats := NewPairStats(pair)
	assert.Equal(t, solana.SolMint.String()+"-EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", stats.ID)
	assert.InDelta(t, 0.003, stats.Fee, 1e-12)
	assert.Equal(t, 15.0, stats.OrderVolume)
	assert.Equal(t, 6.0, stats.SettleVolume)
	assert.Equal(t, 10.0, stats.TradeVolume)

	assert.Zero(t, NewPairStats(&twamm.TokenPair{}).Fee)
}

func TestNewOrderViewStatus(t *testing.T) {
	order := &twamm.Order{Owner: newKey(), Pool: newKey(), LpBalance: 50, Time: 900}
	tests := []struct {
		name   string
		pool   *twamm.Pool
		status string
	}{
		{name: "active", pool: &twamm.Pool{ExpirationTime: 2_000}, status: OrderStatusActive},
		{name: "expired", pool: &twamm.Pool{ExpirationTime: 1_000}, status: OrderStatusExpired},
		{name: "inactive pool", pool: &twamm.Pool{ExpirationTime: 2_000, Status: twamm.PoolStatus_Expired}, status: OrderStatusInactive},
		{name: "closed pool", pool: nil, status: OrderStatusInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := NewOrderView(newKey(), order, tt.pool, nil, 1_000)
			assert.Equal(t, tt.status, view.Status)
			assert.Equal(t, uint64(50), view.Supply)
			assert.Equal(t, tt.status != OrderStatusActive, view.Withdrawable())
		})
	}
}
