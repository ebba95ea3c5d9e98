package methods

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/dex"
)

// WithdrawAll as an lp amount cancels the whole order; the program clamps it
// to the order's balance.
const WithdrawAll = math.MaxUint64

var (
	ErrUnknownTimeInForce = errors.New("time in force is not configured for the pair")
	ErrNotOrderOwner      = errors.New("order belongs to another owner")
)

type PlaceOrderInput struct {
	Owner       solana.PublicKey `json:"owner"`
	TokenPair   solana.PublicKey `json:"tokenPair"`
	Side        twamm.OrderSide  `json:"side"`
	TimeInForce uint32           `json:"tif"`
	// Scheduled places the order in the pool after the running one.
	Scheduled bool   `json:"scheduled"`
	Amount    uint64 `json:"amount"`
}

// PlacedOrder is an unsigned place_order instruction plus the accounts it
// resolved.
type PlacedOrder struct {
	Instruction solana.Instruction `json:"-"`
	Order       solana.PublicKey   `json:"order"`
	CurrentPool solana.PublicKey   `json:"currentPool"`
	TargetPool  solana.PublicKey   `json:"targetPool"`
}

func tifSlot(pair *twamm.TokenPair, tif uint32) (int, error) {
	if tif == 0 {
		return 0, fmt.Errorf("%w: 0", ErrUnknownTimeInForce)
	}
	for i, value := range pair.Tifs {
		if value == tif {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownTimeInForce, tif)
}

// PlaceOrderInstruction builds place_order for a wallet to sign. The target
// pool is the running pool, or the next one when the order is scheduled.
func (c *Client) PlaceOrderInstruction(ctx context.Context, in PlaceOrderInput) (PlacedOrder, error) {
	if in.Owner.IsZero() {
		return PlacedOrder{}, errors.New("owner is required")
	}
	pair, err := c.state.GetTokenPair(ctx, in.TokenPair)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("load token pair: %w", err)
	}
	slot, err := tifSlot(pair, in.TimeInForce)
	if err != nil {
		return PlacedOrder{}, err
	}

	counter := pair.PoolCounters[slot]
	currentPool, _, err := dex.DerivePoolPDA(c.programID, in.TokenPair, in.TimeInForce, counter)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("derive current pool PDA: %w", err)
	}
	targetPool := currentPool
	if in.Scheduled {
		targetPool, _, err = dex.DerivePoolPDA(c.programID, in.TokenPair, in.TimeInForce, counter+1)
		if err != nil {
			return PlacedOrder{}, fmt.Errorf("derive target pool PDA: %w", err)
		}
	}
	order, _, err := dex.DeriveOrderPDA(c.programID, in.Owner, targetPool)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("derive order PDA: %w", err)
	}
	userA, userB, err := userTokenAccounts(in.Owner, pair)
	if err != nil {
		return PlacedOrder{}, err
	}

	ix, err := twamm.NewPlaceOrderInstruction(twamm.PlaceOrderParams{
		Side:        in.Side,
		TimeInForce: in.TimeInForce,
		Amount:      in.Amount,
	}, twamm.PlaceOrderAccounts{
		Owner:             in.Owner,
		UserAccountTokenA: userA,
		UserAccountTokenB: userB,
		TokenPair:         in.TokenPair,
		CustodyTokenA:     pair.ConfigA.Custody,
		CustodyTokenB:     pair.ConfigB.Custody,
		Order:             order,
		CurrentPool:       currentPool,
		TargetPool:        targetPool,
		MintTokenA:        pair.ConfigA.Mint,
		MintTokenB:        pair.ConfigB.Mint,
	})
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{Instruction: ix, Order: order, CurrentPool: currentPool, TargetPool: targetPool}, nil
}

type CancelOrderInput struct {
	// Payer defaults to Owner.
	Payer solana.PublicKey `json:"payer"`
	Owner solana.PublicKey `json:"owner"`
	Order solana.PublicKey `json:"order"`
	// LpAmount zero withdraws the whole order.
	LpAmount uint64 `json:"lpAmount"`
}

// CancelOrderInstruction builds cancel_order for a wallet to sign.
func (c *Client) CancelOrderInstruction(ctx context.Context, in CancelOrderInput) (solana.Instruction, error) {
	order, err := c.state.GetOrder(ctx, in.Order)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if in.Owner.IsZero() {
		in.Owner = order.Owner
	}
	if !order.Owner.Equals(in.Owner) {
		return nil, fmt.Errorf("%w: order %s belongs to %s", ErrNotOrderOwner, in.Order, order.Owner)
	}
	pool, err := c.state.GetPool(ctx, order.Pool)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	pair, err := c.state.GetTokenPair(ctx, pool.TokenPair)
	if err != nil {
		return nil, fmt.Errorf("load token pair: %w", err)
	}
	payer := in.Payer
	if payer.IsZero() {
		payer = in.Owner
	}
	lpAmount := in.LpAmount
	if lpAmount == 0 {
		lpAmount = WithdrawAll
	}
	return c.cancelInstruction(payer, in.Order, order, pool, pair, lpAmount)
}

func (c *Client) cancelInstruction(payer, orderAddress solana.PublicKey, order *twamm.Order, pool *twamm.Pool, pair *twamm.TokenPair, lpAmount uint64) (solana.Instruction, error) {
	transferAuthority, _, err := dex.DeriveTransferAuthorityPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("derive transfer authority PDA: %w", err)
	}
	userA, userB, err := userTokenAccounts(order.Owner, pair)
	if err != nil {
		return nil, err
	}
	return twamm.NewCancelOrderInstruction(twamm.CancelOrderParams{LpAmount: lpAmount}, twamm.CancelOrderAccounts{
		Payer:             payer,
		Owner:             order.Owner,
		UserAccountTokenA: userA,
		UserAccountTokenB: userB,
		TokenPair:         pool.TokenPair,
		TransferAuthority: transferAuthority,
		CustodyTokenA:     pair.ConfigA.Custody,
		CustodyTokenB:     pair.ConfigB.Custody,
		Order:             orderAddress,
		Pool:              order.Pool,
	})
}

type CancelResult struct {
	Order     solana.PublicKey `json:"order"`
	Signature solana.Signature `json:"signature"`
}

// CancelWithdrawals withdraws every order the payer holds in tokenPair whose
// pool has expired or stopped. includeActive also cancels running orders.
// Orders are cancelled one transaction at a time; the first failure stops
// the run and the completed cancellations are returned with the error.
func (c *Client) CancelWithdrawals(ctx context.Context, tokenPair solana.PublicKey, includeActive bool) ([]CancelResult, error) {
	payer, err := c.payer()
	if err != nil {
		return nil, err
	}
	pair, err := c.state.GetTokenPair(ctx, tokenPair)
	if err != nil {
		return nil, fmt.Errorf("load token pair: %w", err)
	}
	orders, err := c.state.ListOrders(ctx, payer)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	poolAddrs := make([]solana.PublicKey, len(orders))
	for i, order := range orders {
		poolAddrs[i] = order.Account.Pool
	}
	pools, err := c.state.Pools(ctx, poolAddrs)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	now := c.state.ClusterTime(ctx)

	var out []CancelResult
	for i, order := range orders {
		pool := pools[i]
		if pool == nil {
			c.logger.Warn("skipping order whose pool is closed", "order", order.Address, "pool", order.Account.Pool)
			continue
		}
		if !pool.TokenPair.Equals(tokenPair) {
			continue
		}
		view := chain.NewOrderView(order.Address, order.Account, pool, pair, now)
		if !includeActive && !view.Withdrawable() {
			continue
		}

		ix, err := c.cancelInstruction(payer, order.Address, order.Account, pool, pair, WithdrawAll)
		if err != nil {
			return out, fmt.Errorf("cancel order %s: %w", order.Address, err)
		}
		result, err := c.run(ctx, "cancel-order", ix)
		if err != nil {
			return out, fmt.Errorf("cancel order %s: %w", order.Address, err)
		}
		out = append(out, CancelResult{Order: order.Address, Signature: result.Signature})
	}
	return out, nil
}

// Settle crosses the pair's running pools against the payer's token
// accounts.
func (c *Client) Settle(ctx context.Context, tokenPair solana.PublicKey, params twamm.SettleParams) (Result, error) {
	payer, err := c.payer()
	if err != nil {
		return Result{}, err
	}
	pair, err := c.state.GetTokenPair(ctx, tokenPair)
	if err != nil {
		return Result{}, fmt.Errorf("load token pair: %w", err)
	}
	addrs, pools, err := c.state.CurrentPools(ctx, tokenPair, pair)
	if err != nil {
		return Result{}, fmt.Errorf("load current pools: %w", err)
	}
	var poolKeys []solana.PublicKey
	for i, pool := range pools {
		if pool != nil {
			poolKeys = append(poolKeys, addrs[i])
		}
	}
	transferAuthority, _, err := dex.DeriveTransferAuthorityPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive transfer authority PDA: %w", err)
	}
	userA, userB, err := userTokenAccounts(payer, pair)
	if err != nil {
		return Result{}, err
	}

	ix, err := twamm.NewSettleInstruction(params, twamm.SettleAccounts{
		Owner:             payer,
		UserAccountTokenA: userA,
		UserAccountTokenB: userB,
		TokenPair:         tokenPair,
		TransferAuthority: transferAuthority,
		CustodyTokenA:     pair.ConfigA.Custody,
		CustodyTokenB:     pair.ConfigB.Custody,
		OracleTokenA:      pair.OraclePriceAccountTokenA,
		OracleTokenB:      pair.OraclePriceAccountTokenB,
		Pools:             poolKeys,
	})
	if err != nil {
		return Result{}, err
	}
	return c.run(ctx, "settle", ix)
}

func userTokenAccounts(owner solana.PublicKey, pair *twamm.TokenPair) (solana.PublicKey, solana.PublicKey, error) {
	a, _, err := solana.FindAssociatedTokenAddress(owner, pair.ConfigA.Mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", pair.ConfigA.Mint, err)
	}
	b, _, err := solana.FindAssociatedTokenAddress(owner, pair.ConfigB.Mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", pair.ConfigB.Mint, err)
	}
	return a, b, nil
}
