// Package chain reads and decodes TWAMM program accounts over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/dex"
	"github.com/twamm-labs/twamm/backend/internal/intervals"
)

var ErrAccountNotFound = errors.New("account not found")

// RPC is the subset of *rpc.Client the reader needs.
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, block uint64) (*solana.UnixTimeSeconds, error)
}

// Keyed pairs a decoded account with its address.
type Keyed[T any] struct {
	Address solana.PublicKey `json:"address"`
	Account *T               `json:"account"`
}

type Reader struct {
	client     RPC
	programID  solana.PublicKey
	commitment rpc.CommitmentType
	fetchMax   int
	logger     *slog.Logger
}

func NewReader(client RPC, programID solana.PublicKey, commitment rpc.CommitmentType, fetchMax int, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if fetchMax <= 0 {
		fetchMax = DefaultFetchMultipleMax
	}
	return &Reader{
		client:     client,
		programID:  programID,
		commitment: commitment,
		fetchMax:   fetchMax,
		logger:     logger,
	}
}

func (r *Reader) ProgramID() solana.PublicKey {
	return r.programID
}

func (r *Reader) accountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	resp, err := r.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{Commitment: r.commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if resp == nil || resp.Value == nil || resp.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return resp.Value.Data.GetBinary(), nil
}

func fetchOne[T any](ctx context.Context, r *Reader, address solana.PublicKey, parse func([]byte) (*T, error)) (*T, error) {
	data, err := r.accountData(ctx, address)
	if err != nil {
		return nil, err
	}
	acc, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", address, err)
	}
	return acc, nil
}

func (r *Reader) GetMultisig(ctx context.Context) (solana.PublicKey, *twamm.Multisig, error) {
	address, _, err := dex.DeriveMultisigPDA(r.programID)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("derive multisig PDA: %w", err)
	}
	multisig, err := fetchOne(ctx, r, address, twamm.ParseAccount_Multisig)
	return address, multisig, err
}

func (r *Reader) GetTokenPair(ctx context.Context, address solana.PublicKey) (*twamm.TokenPair, error) {
	return fetchOne(ctx, r, address, twamm.ParseAccount_TokenPair)
}

func (r *Reader) GetPool(ctx context.Context, address solana.PublicKey) (*twamm.Pool, error) {
	return fetchOne(ctx, r, address, twamm.ParseAccount_Pool)
}

func (r *Reader) GetOrder(ctx context.Context, address solana.PublicKey) (*twamm.Order, error) {
	return fetchOne(ctx, r, address, twamm.ParseAccount_Order)
}

func batchFetcher[T any](r *Reader, parse func([]byte) (*T, error)) BatchFetcher[T] {
	return func(ctx context.Context, addrs []solana.PublicKey) ([]*T, error) {
		resp, err := r.client.GetMultipleAccountsWithOpts(ctx, addrs, &rpc.GetMultipleAccountsOpts{Commitment: r.commitment})
		if err != nil {
			return nil, err
		}
		out := make([]*T, len(resp.Value))
		for i, account := range resp.Value {
			if account == nil || account.Data == nil {
				continue
			}
			decoded, err := parse(account.Data.GetBinary())
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", addrs[i], err)
			}
			out[i] = decoded
		}
		return out, nil
	}
}

// Pools loads pools aligned with addrs; missing accounts are nil.
func (r *Reader) Pools(ctx context.Context, addrs []solana.PublicKey) ([]*twamm.Pool, error) {
	return FetchMultipleAddresses(ctx, batchFetcher(r, twamm.ParseAccount_Pool), addrs, r.fetchMax)
}

// TokenPairs loads token pairs aligned with addrs; missing accounts are nil.
func (r *Reader) TokenPairs(ctx context.Context, addrs []solana.PublicKey) ([]*twamm.TokenPair, error) {
	return FetchMultipleAddresses(ctx, batchFetcher(r, twamm.ParseAccount_TokenPair), addrs, r.fetchMax)
}

// Orders loads orders aligned with addrs; missing accounts are nil.
func (r *Reader) Orders(ctx context.Context, addrs []solana.PublicKey) ([]*twamm.Order, error) {
	return FetchMultipleAddresses(ctx, batchFetcher(r, twamm.ParseAccount_Order), addrs, r.fetchMax)
}

func listByDiscriminator[T any](ctx context.Context, r *Reader, disc [8]byte, name string, parse func([]byte) (*T, error), extra ...rpc.RPCFilter) ([]Keyed[T], error) {
	filters := append([]rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])}},
	}, extra...)

	accounts, err := r.client.GetProgramAccountsWithOpts(ctx, r.programID, &rpc.GetProgramAccountsOpts{
		Commitment: r.commitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts %s: %w", name, err)
	}

	out := make([]Keyed[T], 0, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil || item.Account.Data == nil {
			continue
		}
		decoded, err := parse(item.Account.Data.GetBinary())
		if err != nil {
			r.logger.Warn("failed to parse program account", "type", name, "pubkey", item.Pubkey, "err", err)
			continue
		}
		out = append(out, Keyed[T]{Address: item.Pubkey, Account: decoded})
	}
	return out, nil
}

func (r *Reader) ListTokenPairs(ctx context.Context) ([]Keyed[twamm.TokenPair], error) {
	return listByDiscriminator(ctx, r, twamm.Account_TokenPair, "TokenPair", twamm.ParseAccount_TokenPair)
}

// ListPools returns every pool, or only those of tokenPair when it is set.
func (r *Reader) ListPools(ctx context.Context, tokenPair solana.PublicKey) ([]Keyed[twamm.Pool], error) {
	var filters []rpc.RPCFilter
	if !tokenPair.IsZero() {
		filters = append(filters, rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: twamm.PoolTokenPairOffset, Bytes: solana.Base58(tokenPair.Bytes())}})
	}
	return listByDiscriminator(ctx, r, twamm.Account_Pool, "Pool", twamm.ParseAccount_Pool, filters...)
}

// ListOrders returns every order, or only those of owner when it is set.
func (r *Reader) ListOrders(ctx context.Context, owner solana.PublicKey) ([]Keyed[twamm.Order], error) {
	var filters []rpc.RPCFilter
	if !owner.IsZero() {
		filters = append(filters, rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: twamm.OrderOwnerOffset, Bytes: solana.Base58(owner.Bytes())}})
	}
	return listByDiscriminator(ctx, r, twamm.Account_Order, "Order", twamm.ParseAccount_Order, filters...)
}

func (r *Reader) ListMultisigs(ctx context.Context) ([]Keyed[twamm.Multisig], error) {
	return listByDiscriminator(ctx, r, twamm.Account_Multisig, "Multisig", twamm.ParseAccount_Multisig)
}

type PoolWithPair struct {
	PoolAddress solana.PublicKey `json:"poolAddress"`
	Pool        *twamm.Pool      `json:"pool"`
	Pair        *twamm.TokenPair `json:"pair"`
}

func (r *Reader) PoolWithPair(ctx context.Context, poolAddress solana.PublicKey) (*PoolWithPair, error) {
	pool, err := r.GetPool(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	pair, err := r.GetTokenPair(ctx, pool.TokenPair)
	if err != nil {
		return nil, fmt.Errorf("token pair of pool %s: %w", poolAddress, err)
	}
	return &PoolWithPair{PoolAddress: poolAddress, Pool: pool, Pair: pair}, nil
}

// CurrentPools loads the running pool of every slot flagged present. Both
// arrays are aligned with the pair's slots.
func (r *Reader) CurrentPools(ctx context.Context, pairAddress solana.PublicKey, pair *twamm.TokenPair) ([twamm.TimeInForceSlots]solana.PublicKey, [twamm.TimeInForceSlots]*twamm.Pool, error) {
	var addrs [twamm.TimeInForceSlots]solana.PublicKey
	var pools [twamm.TimeInForceSlots]*twamm.Pool

	slots := make([]int, 0, twamm.TimeInForceSlots)
	keys := make([]solana.PublicKey, 0, twamm.TimeInForceSlots)
	for i, tif := range pair.Tifs {
		if tif == 0 || !pair.CurrentPoolPresent[i] {
			continue
		}
		address, _, err := dex.DerivePoolPDA(r.programID, pairAddress, tif, pair.PoolCounters[i])
		if err != nil {
			return addrs, pools, fmt.Errorf("derive pool PDA for slot %d: %w", i, err)
		}
		addrs[i] = address
		slots = append(slots, i)
		keys = append(keys, address)
	}
	if len(keys) == 0 {
		return addrs, pools, nil
	}

	loaded, err := r.Pools(ctx, keys)
	if err != nil {
		return addrs, pools, err
	}
	for j, slot := range slots {
		pools[slot] = loaded[j]
	}
	return addrs, pools, nil
}

// IndexedTIFs derives the pair's interval choices against cluster time.
func (r *Reader) IndexedTIFs(ctx context.Context, pairAddress solana.PublicKey, pair *twamm.TokenPair) ([]intervals.IndexedTIF, error) {
	_, pools, err := r.CurrentPools(ctx, pairAddress, pair)
	if err != nil {
		return nil, err
	}
	return intervals.Index(pair, pools, r.ClusterTime(ctx)), nil
}

// Slot is the cluster's latest slot at the reader's commitment.
func (r *Reader) Slot(ctx context.Context) (uint64, error) {
	slot, err := r.client.GetSlot(ctx, r.commitment)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// ClusterTime returns the block time of the latest slot, or the local clock
// when the cluster cannot answer.
func (r *Reader) ClusterTime(ctx context.Context) int64 {
	slot, err := r.client.GetSlot(ctx, r.commitment)
	if err != nil {
		r.logger.Warn("using local clock because getSlot failed", "err", err)
		return time.Now().Unix()
	}
	blockTime, err := r.client.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		r.logger.Warn("using local clock because getBlockTime unavailable", "slot", slot, "err", err)
		return time.Now().Unix()
	}
	return int64(*blockTime)
}
