package chain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
)

// PairStats summarizes a token pair for the pair cards.
type PairStats struct {
	ID           string           `json:"id"`
	MintA        solana.PublicKey `json:"aMint"`
	MintB        solana.PublicKey `json:"bMint"`
	Fee          float64          `json:"fee"`
	OrderVolume  float64          `json:"orderVolume"`
	SettleVolume float64          `json:"settleVolume"`
	TradeVolume  float64          `json:"tradeVolume"`
}

// NewPairStats sums both sides' usd volumes. Trade volume is routed plus
// settled volume.
func NewPairStats(pair *twamm.TokenPair) PairStats {
	a, b := pair.ConfigA.Mint, pair.ConfigB.Mint

	var fee float64
	if pair.FeeDenominator > 0 {
		fee = float64(pair.FeeNumerator) / float64(pair.FeeDenominator)
	}
	settle := pair.StatsA.SettleVolumeUsd + pair.StatsB.SettleVolumeUsd
	routed := pair.StatsA.RoutedVolumeUsd + pair.StatsB.RoutedVolumeUsd

	return PairStats{
		ID:           a.String() + "-" + b.String(),
		MintA:        a,
		MintB:        b,
		Fee:          fee,
		OrderVolume:  pair.StatsA.OrderVolumeUsd + pair.StatsB.OrderVolumeUsd,
		SettleVolume: settle,
		TradeVolume:  routed + settle,
	}
}

const (
	OrderStatusActive   = "active"
	OrderStatusExpired  = "expired"
	OrderStatusInactive = "inactive"
)

// OrderView is one row of an account's order list.
type OrderView struct {
	Address        solana.PublicKey `json:"address"`
	Owner          solana.PublicKey `json:"owner"`
	Pool           solana.PublicKey `json:"pool"`
	TokenPair      solana.PublicKey `json:"tokenPair,omitempty"`
	MintA          solana.PublicKey `json:"aMint,omitempty"`
	MintB          solana.PublicKey `json:"bMint,omitempty"`
	Side           twamm.OrderSide  `json:"side"`
	TimeInForce    uint32           `json:"tif"`
	Supply         uint64           `json:"supply"`
	OrderTime      int64            `json:"orderTime"`
	ExpirationTime int64            `json:"expirationTime"`
	Expired        bool             `json:"expired"`
	Inactive       bool             `json:"inactive"`
	Status         string           `json:"status"`
}

// NewOrderView joins an order with its pool and pair. pool and pair may be
// nil when the accounts are gone; such orders are inactive.
func NewOrderView(address solana.PublicKey, order *twamm.Order, pool *twamm.Pool, pair *twamm.TokenPair, now int64) OrderView {
	view := OrderView{
		Address:   address,
		Owner:     order.Owner,
		Pool:      order.Pool,
		Side:      order.Side,
		Supply:    order.LpBalance,
		OrderTime: order.Time,
	}
	if pool == nil {
		view.Inactive = true
	} else {
		view.TokenPair = pool.TokenPair
		view.TimeInForce = pool.TimeInForce
		view.ExpirationTime = pool.ExpirationTime
		view.Expired = pool.ExpirationTime <= now
		view.Inactive = pool.Status != twamm.PoolStatus_Active
	}
	if pair != nil {
		view.MintA = pair.ConfigA.Mint
		view.MintB = pair.ConfigB.Mint
	}

	switch {
	case view.Inactive:
		view.Status = OrderStatusInactive
	case view.Expired:
		view.Status = OrderStatusExpired
	default:
		view.Status = OrderStatusActive
	}
	return view
}

// Withdrawable reports whether the order can be withdrawn in full without
// confirmation: its pool has expired or stopped.
func (v OrderView) Withdrawable() bool {
	return v.Inactive || v.Expired
}
