package twamm

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type InitParams struct {
	MinSignatures    uint8
	AllowDeposits    bool
	AllowWithdrawals bool
	AllowCranks      bool
	AllowSettlements bool
}

type SetAdminSignersParams struct {
	MinSignatures uint8
}

type SetFeesParams struct {
	FeeNumerator         uint64
	FeeDenominator       uint64
	SettleFeeNumerator   uint64
	SettleFeeDenominator uint64
	CrankRewardTokenA    uint64
	CrankRewardTokenB    uint64
}

type SetPermissionsParams struct {
	AllowDeposits    bool
	AllowWithdrawals bool
	AllowCranks      bool
	AllowSettlements bool
}

type SetCrankAuthorityParams struct {
	CrankAuthority solana.PublicKey
}

type SetTimeInForceParams struct {
	TimeInForceIndex uint8
	NewTimeInForce   uint32
}

type SetLimitsParams struct {
	MinSwapAmountTokenA   uint64
	MinSwapAmountTokenB   uint64
	MaxSwapPriceDiff      float64
	MaxUnsettledAmount    float64
	MinTimeTillExpiration float64
}

type SetOracleConfigParams struct {
	MaxOraclePriceError      float64
	MaxOraclePriceAgeSec     uint32
	OraclePriceTypeTokenA    OracleType
	OraclePriceTypeTokenB    OracleType
	OraclePriceAccountTokenA solana.PublicKey
	OraclePriceAccountTokenB solana.PublicKey
}

type InitTokenPairParams struct {
	AllowDeposits            bool
	AllowWithdrawals         bool
	AllowCranks              bool
	AllowSettlements         bool
	FeeNumerator             uint64
	FeeDenominator           uint64
	SettleFeeNumerator       uint64
	SettleFeeDenominator     uint64
	CrankRewardTokenA        uint64
	CrankRewardTokenB        uint64
	MinSwapAmountTokenA      uint64
	MinSwapAmountTokenB      uint64
	MaxSwapPriceDiff         float64
	MaxUnsettledAmount       float64
	MinTimeTillExpiration    float64
	MaxOraclePriceError      float64
	MaxOraclePriceAgeSec     uint32
	OraclePriceTypeTokenA    OracleType
	OraclePriceTypeTokenB    OracleType
	OraclePriceAccountTokenA solana.PublicKey
	OraclePriceAccountTokenB solana.PublicKey
	CrankAuthority           solana.PublicKey
	TimeInForceIntervals     [TimeInForceSlots]uint32
}

type WithdrawFeesParams struct {
	AmountTokenA uint64
	AmountTokenB uint64
	AmountSol    uint64
}

type PlaceOrderParams struct {
	Side        OrderSide
	TimeInForce uint32
	Amount      uint64
}

type CancelOrderParams struct {
	LpAmount uint64
}

type SettleParams struct {
	SupplySide        OrderSide
	MinTokenAmountIn  uint64
	MaxTokenAmountIn  uint64
	WorstExchangeRate uint64
}

var errMissingAccount = errors.New("missing required account")

func encodeInstructionData(disc [8]byte, params any) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buf)
	if err := encoder.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if params != nil {
		if err := encoder.Encode(params); err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func requireAccounts(named map[string]solana.PublicKey) error {
	for name, key := range named {
		if key.IsZero() {
			return fmt.Errorf("%w: %s", errMissingAccount, name)
		}
	}
	return nil
}

func newInstruction(disc [8]byte, params any, accounts solana.AccountMetaSlice) (solana.Instruction, error) {
	data, err := encodeInstructionData(disc, params)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

func readonlyMetas(keys []solana.PublicKey) solana.AccountMetaSlice {
	out := make(solana.AccountMetaSlice, 0, len(keys))
	for _, key := range keys {
		out = append(out, solana.NewAccountMeta(key, false, false))
	}
	return out
}

type InitAccounts struct {
	UpgradeAuthority  solana.PublicKey
	Multisig          solana.PublicKey
	TransferAuthority solana.PublicKey
	ProgramData       solana.PublicKey
	AdminSigners      []solana.PublicKey
}

func NewInitInstruction(params InitParams, accounts InitAccounts) (solana.Instruction, error) {
	if err := requireAccounts(map[string]solana.PublicKey{
		"upgrade_authority":  accounts.UpgradeAuthority,
		"multisig":           accounts.Multisig,
		"transfer_authority": accounts.TransferAuthority,
		"program_data":       accounts.ProgramData,
	}); err != nil {
		return nil, err
	}
	if len(accounts.AdminSigners) == 0 || len(accounts.AdminSigners) > MaxSigners {
		return nil, fmt.Errorf("admin signers must be between 1 and %d, got %d", MaxSigners, len(accounts.AdminSigners))
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.UpgradeAuthority, true, true),
		solana.NewAccountMeta(accounts.Multisig, true, false),
		solana.NewAccountMeta(accounts.TransferAuthority, true, false),
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(accounts.ProgramData, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	metas = append(metas, readonlyMetas(accounts.AdminSigners)...)
	return newInstruction(Instruction_Init, params, metas)
}

type SetAdminSignersAccounts struct {
	Admin        solana.PublicKey
	Multisig     solana.PublicKey
	AdminSigners []solana.PublicKey
}

func NewSetAdminSignersInstruction(params SetAdminSignersParams, accounts SetAdminSignersAccounts) (solana.Instruction, error) {
	if err := requireAccounts(map[string]solana.PublicKey{
		"admin":    accounts.Admin,
		"multisig": accounts.Multisig,
	}); err != nil {
		return nil, err
	}
	if len(accounts.AdminSigners) == 0 || len(accounts.AdminSigners) > MaxSigners {
		return nil, fmt.Errorf("admin signers must be between 1 and %d, got %d", MaxSigners, len(accounts.AdminSigners))
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Admin, false, true),
		solana.NewAccountMeta(accounts.Multisig, true, false),
	}
	metas = append(metas, readonlyMetas(accounts.AdminSigners)...)
	return newInstruction(Instruction_SetAdminSigners, params, metas)
}

// PairAdminAccounts are shared by every instruction that edits a token pair
// under multisig control.
type PairAdminAccounts struct {
	Admin     solana.PublicKey
	Multisig  solana.PublicKey
	TokenPair solana.PublicKey
}

func (a PairAdminAccounts) metas() (solana.AccountMetaSlice, error) {
	if err := requireAccounts(map[string]solana.PublicKey{
		"admin":      a.Admin,
		"multisig":   a.Multisig,
		"token_pair": a.TokenPair,
	}); err != nil {
		return nil, err
	}
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Admin, false, true),
		solana.NewAccountMeta(a.Multisig, true, false),
		solana.NewAccountMeta(a.TokenPair, true, false),
	}, nil
}

func NewSetFeesInstruction(params SetFeesParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	if params.FeeDenominator == 0 || params.SettleFeeDenominator == 0 {
		return nil, errors.New("fee denominators must be greater than zero")
	}
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetFees, params, metas)
}

func NewSetPermissionsInstruction(params SetPermissionsParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetPermissions, params, metas)
}

func NewSetCrankAuthorityInstruction(params SetCrankAuthorityParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetCrankAuthority, params, metas)
}

func NewSetTimeInForceInstruction(params SetTimeInForceParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	if int(params.TimeInForceIndex) >= TimeInForceSlots {
		return nil, fmt.Errorf("time in force index %d out of range [0, %d)", params.TimeInForceIndex, TimeInForceSlots)
	}
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetTimeInForce, params, metas)
}

func NewSetLimitsInstruction(params SetLimitsParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetLimits, params, metas)
}

func NewSetOracleConfigInstruction(params SetOracleConfigParams, accounts PairAdminAccounts) (solana.Instruction, error) {
	metas, err := accounts.metas()
	if err != nil {
		return nil, err
	}
	return newInstruction(Instruction_SetOracleConfig, params, metas)
}

type InitTokenPairAccounts struct {
	Admin             solana.PublicKey
	Multisig          solana.PublicKey
	TransferAuthority solana.PublicKey
	TokenPair         solana.PublicKey
	CustodyTokenA     solana.PublicKey
	CustodyTokenB     solana.PublicKey
	MintTokenA        solana.PublicKey
	MintTokenB        solana.PublicKey
}

func NewInitTokenPairInstruction(params InitTokenPairParams, accounts InitTokenPairAccounts) (solana.Instruction, error) {
	if err := requireAccounts(map[string]solana.PublicKey{
		"admin":              accounts.Admin,
		"multisig":           accounts.Multisig,
		"transfer_authority": accounts.TransferAuthority,
		"token_pair":         accounts.TokenPair,
		"custody_token_a":    accounts.CustodyTokenA,
		"custody_token_b":    accounts.CustodyTokenB,
		"mint_token_a":       accounts.MintTokenA,
		"mint_token_b":       accounts.MintTokenB,
	}); err != nil {
		return nil, err
	}
	if accounts.MintTokenA.Equals(accounts.MintTokenB) {
		return nil, errors.New("token pair mints must differ")
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Admin, true, true),
		solana.NewAccountMeta(accounts.Multisig, true, false),
		solana.NewAccountMeta(accounts.TransferAuthority, false, false),
		solana.NewAccountMeta(accounts.TokenPair, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenA, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenB, true, false),
		solana.NewAccountMeta(accounts.MintTokenA, false, false),
		solana.NewAccountMeta(accounts.MintTokenB, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return newInstruction(Instruction_InitTokenPair, params, metas)
}

type WithdrawFeesAccounts struct {
	Admin             solana.PublicKey
	Multisig          solana.PublicKey
	TokenPair         solana.PublicKey
	TransferAuthority solana.PublicKey
	CustodyTokenA     solana.PublicKey
	CustodyTokenB     solana.PublicKey
	ReceiverTokenA    solana.PublicKey
	ReceiverTokenB    solana.PublicKey
	ReceiverSol       solana.PublicKey
}

func NewWithdrawFeesInstruction(params WithdrawFeesParams, accounts WithdrawFeesAccounts) (solana.Instruction, error) {
	if err := requireAccounts(map[string]solana.PublicKey{
		"admin":              accounts.Admin,
		"multisig":           accounts.Multisig,
		"token_pair":         accounts.TokenPair,
		"transfer_authority": accounts.TransferAuthority,
		"custody_token_a":    accounts.CustodyTokenA,
		"custody_token_b":    accounts.CustodyTokenB,
		"receiver_token_a":   accounts.ReceiverTokenA,
		"receiver_token_b":   accounts.ReceiverTokenB,
		"receiver_sol":       accounts.ReceiverSol,
	}); err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Admin, false, true),
		solana.NewAccountMeta(accounts.Multisig, true, false),
		solana.NewAccountMeta(accounts.TokenPair, true, false),
		solana.NewAccountMeta(accounts.TransferAuthority, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenA, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenB, true, false),
		solana.NewAccountMeta(accounts.ReceiverTokenA, true, false),
		solana.NewAccountMeta(accounts.ReceiverTokenB, true, false),
		solana.NewAccountMeta(accounts.ReceiverSol, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return newInstruction(Instruction_WithdrawFees, params, metas)
}

type PlaceOrderAccounts struct {
	Owner             solana.PublicKey
	UserAccountTokenA solana.PublicKey
	UserAccountTokenB solana.PublicKey
	TokenPair         solana.PublicKey
	CustodyTokenA     solana.PublicKey
	CustodyTokenB     solana.PublicKey
	Order             solana.PublicKey
	CurrentPool       solana.PublicKey
	TargetPool        solana.PublicKey
	MintTokenA        solana.PublicKey
	MintTokenB        solana.PublicKey
}

func NewPlaceOrderInstruction(params PlaceOrderParams, accounts PlaceOrderAccounts) (solana.Instruction, error) {
	if params.Amount == 0 {
		return nil, errors.New("order amount must be greater than zero")
	}
	if err := requireAccounts(map[string]solana.PublicKey{
		"owner":                accounts.Owner,
		"user_account_token_a": accounts.UserAccountTokenA,
		"user_account_token_b": accounts.UserAccountTokenB,
		"token_pair":           accounts.TokenPair,
		"custody_token_a":      accounts.CustodyTokenA,
		"custody_token_b":      accounts.CustodyTokenB,
		"order":                accounts.Order,
		"current_pool":         accounts.CurrentPool,
		"target_pool":          accounts.TargetPool,
		"mint_token_a":         accounts.MintTokenA,
		"mint_token_b":         accounts.MintTokenB,
	}); err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, true, true),
		solana.NewAccountMeta(accounts.UserAccountTokenA, true, false),
		solana.NewAccountMeta(accounts.UserAccountTokenB, true, false),
		solana.NewAccountMeta(accounts.TokenPair, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenA, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenB, true, false),
		solana.NewAccountMeta(accounts.Order, true, false),
		solana.NewAccountMeta(accounts.CurrentPool, true, false),
		solana.NewAccountMeta(accounts.TargetPool, true, false),
		solana.NewAccountMeta(accounts.MintTokenA, false, false),
		solana.NewAccountMeta(accounts.MintTokenB, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return newInstruction(Instruction_PlaceOrder, params, metas)
}

type CancelOrderAccounts struct {
	Payer             solana.PublicKey
	Owner             solana.PublicKey
	UserAccountTokenA solana.PublicKey
	UserAccountTokenB solana.PublicKey
	TokenPair         solana.PublicKey
	TransferAuthority solana.PublicKey
	CustodyTokenA     solana.PublicKey
	CustodyTokenB     solana.PublicKey
	Order             solana.PublicKey
	Pool              solana.PublicKey
}

func NewCancelOrderInstruction(params CancelOrderParams, accounts CancelOrderAccounts) (solana.Instruction, error) {
	if params.LpAmount == 0 {
		return nil, errors.New("lp amount must be greater than zero")
	}
	if err := requireAccounts(map[string]solana.PublicKey{
		"payer":                accounts.Payer,
		"owner":                accounts.Owner,
		"user_account_token_a": accounts.UserAccountTokenA,
		"user_account_token_b": accounts.UserAccountTokenB,
		"token_pair":           accounts.TokenPair,
		"transfer_authority":   accounts.TransferAuthority,
		"custody_token_a":      accounts.CustodyTokenA,
		"custody_token_b":      accounts.CustodyTokenB,
		"order":                accounts.Order,
		"pool":                 accounts.Pool,
	}); err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Payer, true, true),
		solana.NewAccountMeta(accounts.Owner, true, false),
		solana.NewAccountMeta(accounts.UserAccountTokenA, true, false),
		solana.NewAccountMeta(accounts.UserAccountTokenB, true, false),
		solana.NewAccountMeta(accounts.TokenPair, true, false),
		solana.NewAccountMeta(accounts.TransferAuthority, false, false),
		solana.NewAccountMeta(accounts.CustodyTokenA, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenB, true, false),
		solana.NewAccountMeta(accounts.Order, true, false),
		solana.NewAccountMeta(accounts.Pool, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return newInstruction(Instruction_CancelOrder, params, metas)
}

type SettleAccounts struct {
	Owner             solana.PublicKey
	UserAccountTokenA solana.PublicKey
	UserAccountTokenB solana.PublicKey
	TokenPair         solana.PublicKey
	TransferAuthority solana.PublicKey
	CustodyTokenA     solana.PublicKey
	CustodyTokenB     solana.PublicKey
	OracleTokenA      solana.PublicKey
	OracleTokenB      solana.PublicKey
	Pools             []solana.PublicKey
}

func NewSettleInstruction(params SettleParams, accounts SettleAccounts) (solana.Instruction, error) {
	if params.MaxTokenAmountIn < params.MinTokenAmountIn {
		return nil, fmt.Errorf("max token amount in %d is below min %d", params.MaxTokenAmountIn, params.MinTokenAmountIn)
	}
	if err := requireAccounts(map[string]solana.PublicKey{
		"owner":                accounts.Owner,
		"user_account_token_a": accounts.UserAccountTokenA,
		"user_account_token_b": accounts.UserAccountTokenB,
		"token_pair":           accounts.TokenPair,
		"transfer_authority":   accounts.TransferAuthority,
		"custody_token_a":      accounts.CustodyTokenA,
		"custody_token_b":      accounts.CustodyTokenB,
	}); err != nil {
		return nil, err
	}
	if len(accounts.Pools) == 0 {
		return nil, errors.New("settle requires at least one pool")
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Owner, false, true),
		solana.NewAccountMeta(accounts.UserAccountTokenA, true, false),
		solana.NewAccountMeta(accounts.UserAccountTokenB, true, false),
		solana.NewAccountMeta(accounts.TokenPair, true, false),
		solana.NewAccountMeta(accounts.TransferAuthority, false, false),
		solana.NewAccountMeta(accounts.CustodyTokenA, true, false),
		solana.NewAccountMeta(accounts.CustodyTokenB, true, false),
		solana.NewAccountMeta(accounts.OracleTokenA, false, false),
		solana.NewAccountMeta(accounts.OracleTokenB, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	for _, pool := range accounts.Pools {
		metas = append(metas, solana.NewAccountMeta(pool, true, false))
	}
	return newInstruction(Instruction_Settle, params, metas)
}

// EncodeAccount serializes an account with its discriminator.
func EncodeAccount(account bin.BinaryMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := account.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
