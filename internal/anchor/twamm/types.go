package twamm

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

type OrderSide uint8

const (
	OrderSide_Buy OrderSide = iota
	OrderSide_Sell
)

func (value OrderSide) String() string {
	switch value {
	case OrderSide_Buy:
		return "Buy"
	case OrderSide_Sell:
		return "Sell"
	default:
		return ""
	}
}

func (value OrderSide) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(value.String())), nil
}

func (value *OrderSide) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderSide(string(text))
	if err != nil {
		return err
	}
	*value = parsed
	return nil
}

func ParseOrderSide(raw string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return OrderSide_Buy, nil
	case "sell":
		return OrderSide_Sell, nil
	default:
		return 0, fmt.Errorf("unknown order side %q (expected buy|sell)", raw)
	}
}

type PoolStatus uint8

const (
	PoolStatus_Active PoolStatus = iota
	PoolStatus_Expired
)

func (value PoolStatus) String() string {
	switch value {
	case PoolStatus_Active:
		return "Active"
	case PoolStatus_Expired:
		return "Expired"
	default:
		return ""
	}
}

func (value PoolStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(value.String())), nil
}

func (value *PoolStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "active":
		*value = PoolStatus_Active
	case "expired":
		*value = PoolStatus_Expired
	default:
		return fmt.Errorf("unknown pool status %q", text)
	}
	return nil
}

type OracleType uint8

const (
	OracleType_None OracleType = iota
	OracleType_Test
	OracleType_Pyth
)

func (value OracleType) String() string {
	switch value {
	case OracleType_None:
		return "None"
	case OracleType_Test:
		return "Test"
	case OracleType_Pyth:
		return "Pyth"
	default:
		return ""
	}
}

func (value OracleType) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(value.String())), nil
}

func (value *OracleType) UnmarshalText(text []byte) error {
	parsed, err := ParseOracleType(string(text))
	if err != nil {
		return err
	}
	*value = parsed
	return nil
}

func ParseOracleType(raw string) (OracleType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none":
		return OracleType_None, nil
	case "test":
		return OracleType_Test, nil
	case "pyth":
		return OracleType_Pyth, nil
	default:
		return 0, fmt.Errorf("unknown oracle type %q (expected none|test|pyth)", raw)
	}
}

type TokenConfig struct {
	Mint     solana.PublicKey `json:"mint"`
	Custody  solana.PublicKey `json:"custody"`
	Decimals uint8            `json:"decimals"`
}

type TokenStats struct {
	PendingWithdrawals uint64  `json:"pendingWithdrawals"`
	FeesCollected      uint64  `json:"feesCollected"`
	OrderVolumeUsd     float64 `json:"orderVolumeUsd"`
	RoutedVolumeUsd    float64 `json:"routedVolumeUsd"`
	SettleVolumeUsd    float64 `json:"settleVolumeUsd"`
}

type PoolSide struct {
	FillsVolume           float64 `json:"fillsVolume"`
	WeightedFillsSum      float64 `json:"weightedFillsSum"`
	MinFillPrice          float64 `json:"minFillPrice"`
	MaxFillPrice          float64 `json:"maxFillPrice"`
	NumTraders            uint64  `json:"numTraders"`
	SourceBalance         uint64  `json:"sourceBalance"`
	TargetBalance         uint64  `json:"targetBalance"`
	LastBalanceChangeTime int64   `json:"lastBalanceChangeTime"`
	LpSupply              uint64  `json:"lpSupply"`
}
