package twamm

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type Multisig struct {
	NumSigners             uint8                        `json:"numSigners"`
	NumSigned              uint8                        `json:"numSigned"`
	MinSignatures          uint8                        `json:"minSignatures"`
	InstructionAccountsLen uint8                        `json:"instructionAccountsLen"`
	InstructionDataLen     uint16                       `json:"instructionDataLen"`
	InstructionHash        uint64                       `json:"instructionHash"`
	Signers                [MaxSigners]solana.PublicKey `json:"signers"`
	Signed                 [MaxSigners]bool             `json:"signed"`
	Bump                   uint8                        `json:"bump"`
}

// ActiveSigners returns the configured admin keys without empty slots.
func (m *Multisig) ActiveSigners() []solana.PublicKey {
	count := int(m.NumSigners)
	if count > MaxSigners {
		count = MaxSigners
	}
	out := make([]solana.PublicKey, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, m.Signers[i])
	}
	return out
}

func (m *Multisig) MarshalWithEncoder(encoder *bin.Encoder) error {
	type fields Multisig
	if err := encoder.WriteBytes(Account_Multisig[:], false); err != nil {
		return err
	}
	return encoder.Encode(fields(*m))
}

func (m *Multisig) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	type fields Multisig
	if err := readDiscriminator(decoder, Account_Multisig, "Multisig"); err != nil {
		return err
	}
	return decoder.Decode((*fields)(m))
}

type TokenPair struct {
	AllowDeposits            bool                     `json:"allowDeposits"`
	AllowWithdrawals         bool                     `json:"allowWithdrawals"`
	AllowCranks              bool                     `json:"allowCranks"`
	AllowSettlements         bool                     `json:"allowSettlements"`
	FeeNumerator             uint64                   `json:"feeNumerator"`
	FeeDenominator           uint64                   `json:"feeDenominator"`
	SettleFeeNumerator       uint64                   `json:"settleFeeNumerator"`
	SettleFeeDenominator     uint64                   `json:"settleFeeDenominator"`
	CrankRewardTokenA        uint64                   `json:"crankRewardTokenA"`
	CrankRewardTokenB        uint64                   `json:"crankRewardTokenB"`
	MinSwapAmountTokenA      uint64                   `json:"minSwapAmountTokenA"`
	MinSwapAmountTokenB      uint64                   `json:"minSwapAmountTokenB"`
	MaxSwapPriceDiff         float64                  `json:"maxSwapPriceDiff"`
	MaxUnsettledAmount       float64                  `json:"maxUnsettledAmount"`
	MinTimeTillExpiration    float64                  `json:"minTimeTillExpiration"`
	MaxOraclePriceError      float64                  `json:"maxOraclePriceError"`
	MaxOraclePriceAgeSec     uint32                   `json:"maxOraclePriceAgeSec"`
	OraclePriceTypeTokenA    OracleType               `json:"oraclePriceTypeTokenA"`
	OraclePriceTypeTokenB    OracleType               `json:"oraclePriceTypeTokenB"`
	OraclePriceAccountTokenA solana.PublicKey         `json:"oraclePriceAccountTokenA"`
	OraclePriceAccountTokenB solana.PublicKey         `json:"oraclePriceAccountTokenB"`
	CrankAuthority           solana.PublicKey         `json:"crankAuthority"`
	ConfigA                  TokenConfig              `json:"configA"`
	ConfigB                  TokenConfig              `json:"configB"`
	StatsA                   TokenStats               `json:"statsA"`
	StatsB                   TokenStats               `json:"statsB"`
	Tifs                     [TimeInForceSlots]uint32 `json:"tifs"`
	PoolCounters             [TimeInForceSlots]uint64 `json:"poolCounters"`
	CurrentPoolPresent       [TimeInForceSlots]bool   `json:"currentPoolPresent"`
	FuturePoolPresent        [TimeInForceSlots]bool   `json:"futurePoolPresent"`
	TokenPairBump            uint8                    `json:"tokenPairBump"`
	TransferAuthorityBump    uint8                    `json:"transferAuthorityBump"`
	InceptionTime            int64                    `json:"inceptionTime"`
}

func (p *TokenPair) MarshalWithEncoder(encoder *bin.Encoder) error {
	type fields TokenPair
	if err := encoder.WriteBytes(Account_TokenPair[:], false); err != nil {
		return err
	}
	return encoder.Encode(fields(*p))
}

func (p *TokenPair) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	type fields TokenPair
	if err := readDiscriminator(decoder, Account_TokenPair, "TokenPair"); err != nil {
		return err
	}
	return decoder.Decode((*fields)(p))
}

type Pool struct {
	TimeInForce    uint32           `json:"timeInForce"`
	ExpirationTime int64            `json:"expirationTime"`
	TokenPair      solana.PublicKey `json:"tokenPair"`
	Counter        uint64           `json:"counter"`
	BuySide        PoolSide         `json:"buySide"`
	SellSide       PoolSide         `json:"sellSide"`
	Status         PoolStatus       `json:"status"`
	Bump           uint8            `json:"bump"`
}

func (p *Pool) MarshalWithEncoder(encoder *bin.Encoder) error {
	type fields Pool
	if err := encoder.WriteBytes(Account_Pool[:], false); err != nil {
		return err
	}
	return encoder.Encode(fields(*p))
}

func (p *Pool) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	type fields Pool
	if err := readDiscriminator(decoder, Account_Pool, "Pool"); err != nil {
		return err
	}
	return decoder.Decode((*fields)(p))
}

type Order struct {
	Owner                 solana.PublicKey `json:"owner"`
	Time                  int64            `json:"time"`
	Side                  OrderSide        `json:"side"`
	Pool                  solana.PublicKey `json:"pool"`
	LpBalance             uint64           `json:"lpBalance"`
	TokenDebt             uint64           `json:"tokenDebt"`
	UnsettledBalance      uint64           `json:"unsettledBalance"`
	SettlementDebt        uint64           `json:"settlementDebt"`
	LastBalanceChangeTime int64            `json:"lastBalanceChangeTime"`
	Bump                  uint8            `json:"bump"`
}

func (o *Order) MarshalWithEncoder(encoder *bin.Encoder) error {
	type fields Order
	if err := encoder.WriteBytes(Account_Order[:], false); err != nil {
		return err
	}
	return encoder.Encode(fields(*o))
}

func (o *Order) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	type fields Order
	if err := readDiscriminator(decoder, Account_Order, "Order"); err != nil {
		return err
	}
	return decoder.Decode((*fields)(o))
}

func ParseAccount_Multisig(data []byte) (*Multisig, error) {
	acc := new(Multisig)
	if err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("unmarshal Multisig: %w", err)
	}
	return acc, nil
}

func ParseAccount_TokenPair(data []byte) (*TokenPair, error) {
	acc := new(TokenPair)
	if err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("unmarshal TokenPair: %w", err)
	}
	return acc, nil
}

func ParseAccount_Pool(data []byte) (*Pool, error) {
	acc := new(Pool)
	if err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("unmarshal Pool: %w", err)
	}
	return acc, nil
}

func ParseAccount_Order(data []byte) (*Order, error) {
	acc := new(Order)
	if err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("unmarshal Order: %w", err)
	}
	return acc, nil
}
