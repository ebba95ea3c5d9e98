package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/methods"
	"github.com/twamm-labs/twamm/backend/internal/txrunner"
)

func (a *App) printResult(s *Session, result methods.Result) {
	fmt.Fprintf(a.out, "signature: %s\n", result.Signature)
	fmt.Fprintf(a.out, "explorer:  %s\n", txrunner.ExplorerURL(result.Signature.String(), s.ExplorerCluster))
	if result.Multisig != nil {
		fmt.Fprintf(a.out, "multisig:  %s\n", result.Multisig)
	}
}

func addPermissionFlags(fs *flag.FlagSet, fallback bool) *methods.Permissions {
	perms := &methods.Permissions{}
	fs.BoolVar(&perms.AllowDeposits, "allow-deposits", fallback, "Allow deposits")
	fs.BoolVar(&perms.AllowWithdrawals, "allow-withdrawals", fallback, "Allow withdrawals")
	fs.BoolVar(&perms.AllowCranks, "allow-cranks", fallback, "Allow cranks")
	fs.BoolVar(&perms.AllowSettlements, "allow-settlements", fallback, "Allow settlements")
	return perms
}

func (a *App) parseInit(fs *flag.FlagSet, args []string) (action, error) {
	perms := addPermissionFlags(fs, true)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	minSignatures, signers, err := parseSigners(fs.Args())
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		result, err := s.Backend.Init(ctx, minSignatures, signers, *perms)
		if err != nil {
			return err
		}
		a.printResult(s, result)
		return nil
	}, nil
}

func (a *App) parseSetAdminSigners(fs *flag.FlagSet, args []string) (action, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	minSignatures, signers, err := parseSigners(fs.Args())
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		result, err := s.Backend.SetAdminSigners(ctx, minSignatures, signers)
		if err != nil {
			return err
		}
		a.printResult(s, result)
		return nil
	}, nil
}

// pairAction parses the pair flags and wraps a call that needs the resolved
// pair address.
func (a *App) pairAction(fs *flag.FlagSet, args []string, pair *pairFlags, validate func() error, call func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error)) (action, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	if err := pair.validate(true); err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return func(ctx context.Context, s *Session) error {
		tokenPair, err := pair.resolve(s.ProgramID)
		if err != nil {
			return err
		}
		result, err := call(ctx, s, tokenPair)
		if err != nil {
			return err
		}
		a.printResult(s, result)
		return nil
	}, nil
}

func (a *App) parseSetFees(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	var params twamm.SetFeesParams
	fs.Uint64Var(&params.FeeNumerator, "fee-numerator", 0, "Fee numerator")
	fs.Uint64Var(&params.FeeDenominator, "fee-denominator", 0, "Fee denominator")
	fs.Uint64Var(&params.SettleFeeNumerator, "settle-fee-numerator", 0, "Settle fee numerator")
	fs.Uint64Var(&params.SettleFeeDenominator, "settle-fee-denominator", 0, "Settle fee denominator")
	fs.Uint64Var(&params.CrankRewardTokenA, "crank-reward-token-a", 0, "Crank reward in token A")
	fs.Uint64Var(&params.CrankRewardTokenB, "crank-reward-token-b", 0, "Crank reward in token B")
	validate := func() error {
		if params.FeeDenominator == 0 || params.SettleFeeDenominator == 0 {
			return errors.New("--fee-denominator and --settle-fee-denominator must be greater than zero")
		}
		if params.FeeNumerator > params.FeeDenominator || params.SettleFeeNumerator > params.SettleFeeDenominator {
			return errors.New("fee numerators must not exceed their denominators")
		}
		return nil
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.SetFees(ctx, tokenPair, params)
	})
}

func (a *App) parseSetPermissions(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	perms := addPermissionFlags(fs, false)
	return a.pairAction(fs, args, pair, nil, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.SetPermissions(ctx, tokenPair, *perms)
	})
}

func (a *App) parseSetCrankAuthority(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("expected exactly one crank authority pubkey")
	}
	authority, err := parsePubkey("crank authority", fs.Arg(0))
	if err != nil {
		return nil, err
	}
	if err := pair.validate(true); err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		tokenPair, err := pair.resolve(s.ProgramID)
		if err != nil {
			return err
		}
		result, err := s.Backend.SetCrankAuthority(ctx, tokenPair, authority)
		if err != nil {
			return err
		}
		a.printResult(s, result)
		return nil
	}, nil
}

func (a *App) parseSetTimeInForce(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	index := fs.Int("index", -1, "Slot index 0-9")
	tif := fs.Uint("tif", 0, "Time in force in seconds")
	var value uint32
	validate := func() error {
		if *index < 0 || *index >= twamm.TimeInForceSlots {
			return fmt.Errorf("--index must be between 0 and %d", twamm.TimeInForceSlots-1)
		}
		var err error
		value, err = toUint32("--tif", *tif)
		return err
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.SetTimeInForce(ctx, tokenPair, uint8(*index), value)
	})
}

func (a *App) parseSetLimits(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	var params twamm.SetLimitsParams
	fs.Uint64Var(&params.MinSwapAmountTokenA, "min-swap-amount-token-a", 0, "Minimum swap amount in token A")
	fs.Uint64Var(&params.MinSwapAmountTokenB, "min-swap-amount-token-b", 0, "Minimum swap amount in token B")
	fs.Float64Var(&params.MaxSwapPriceDiff, "max-swap-price-diff", 0, "Maximum swap price difference")
	fs.Float64Var(&params.MaxUnsettledAmount, "max-unsettled-amount", 0, "Maximum unsettled amount")
	fs.Float64Var(&params.MinTimeTillExpiration, "min-time-till-expiration", 0, "Minimum fraction of the tif left before a pool stops accepting orders")
	validate := func() error {
		if params.MaxSwapPriceDiff < 0 || params.MaxUnsettledAmount < 0 {
			return errors.New("limits must not be negative")
		}
		if params.MinTimeTillExpiration < 0 || params.MinTimeTillExpiration > 1 {
			return errors.New("--min-time-till-expiration must be between 0 and 1")
		}
		return nil
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.SetLimits(ctx, tokenPair, params)
	})
}

type oracleFlags struct {
	priceError float64
	maxAge     uint
	typeA      string
	typeB      string
	accountA   string
	accountB   string
}

func addOracleFlags(fs *flag.FlagSet) *oracleFlags {
	o := &oracleFlags{}
	fs.Float64Var(&o.priceError, "max-oracle-price-error", 0, "Maximum oracle price error")
	fs.UintVar(&o.maxAge, "max-oracle-price-age-sec", 0, "Maximum oracle price age in seconds")
	fs.StringVar(&o.typeA, "oracle-type-token-a", "none", "Oracle type for token A: none|test|pyth")
	fs.StringVar(&o.typeB, "oracle-type-token-b", "none", "Oracle type for token B: none|test|pyth")
	fs.StringVar(&o.accountA, "oracle-account-token-a", "", "Oracle price account for token A")
	fs.StringVar(&o.accountB, "oracle-account-token-b", "", "Oracle price account for token B")
	return o
}

func (o *oracleFlags) params() (twamm.SetOracleConfigParams, error) {
	var out twamm.SetOracleConfigParams
	var err error
	if o.priceError < 0 {
		return out, errors.New("--max-oracle-price-error must not be negative")
	}
	out.MaxOraclePriceError = o.priceError
	if out.MaxOraclePriceAgeSec, err = toUint32("--max-oracle-price-age-sec", o.maxAge); err != nil {
		return out, err
	}
	if out.OraclePriceTypeTokenA, err = twamm.ParseOracleType(o.typeA); err != nil {
		return out, err
	}
	if out.OraclePriceTypeTokenB, err = twamm.ParseOracleType(o.typeB); err != nil {
		return out, err
	}
	if out.OraclePriceAccountTokenA, err = parseOptionalPubkey("oracle-account-token-a", o.accountA); err != nil {
		return out, err
	}
	if out.OraclePriceAccountTokenB, err = parseOptionalPubkey("oracle-account-token-b", o.accountB); err != nil {
		return out, err
	}
	if out.OraclePriceTypeTokenA != twamm.OracleType_None && out.OraclePriceAccountTokenA.IsZero() {
		return out, errors.New("--oracle-account-token-a is required unless the oracle type is none")
	}
	if out.OraclePriceTypeTokenB != twamm.OracleType_None && out.OraclePriceAccountTokenB.IsZero() {
		return out, errors.New("--oracle-account-token-b is required unless the oracle type is none")
	}
	return out, nil
}

func (a *App) parseSetOracleConfig(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	oracle := addOracleFlags(fs)
	var params twamm.SetOracleConfigParams
	validate := func() error {
		var err error
		params, err = oracle.params()
		return err
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.SetOracleConfig(ctx, tokenPair, params)
	})
}

func (a *App) parseInitTokenPair(fs *flag.FlagSet, args []string) (action, error) {
	var params twamm.InitTokenPairParams
	perms := addPermissionFlags(fs, true)
	fs.Uint64Var(&params.FeeNumerator, "fee-numerator", 0, "Fee numerator")
	fs.Uint64Var(&params.FeeDenominator, "fee-denominator", 1, "Fee denominator")
	fs.Uint64Var(&params.SettleFeeNumerator, "settle-fee-numerator", 0, "Settle fee numerator")
	fs.Uint64Var(&params.SettleFeeDenominator, "settle-fee-denominator", 1, "Settle fee denominator")
	fs.Uint64Var(&params.CrankRewardTokenA, "crank-reward-token-a", 0, "Crank reward in token A")
	fs.Uint64Var(&params.CrankRewardTokenB, "crank-reward-token-b", 0, "Crank reward in token B")
	fs.Uint64Var(&params.MinSwapAmountTokenA, "min-swap-amount-token-a", 0, "Minimum swap amount in token A")
	fs.Uint64Var(&params.MinSwapAmountTokenB, "min-swap-amount-token-b", 0, "Minimum swap amount in token B")
	fs.Float64Var(&params.MaxSwapPriceDiff, "max-swap-price-diff", 0, "Maximum swap price difference")
	fs.Float64Var(&params.MaxUnsettledAmount, "max-unsettled-amount", 0, "Maximum unsettled amount")
	fs.Float64Var(&params.MinTimeTillExpiration, "min-time-till-expiration", 0, "Minimum fraction of the tif left before a pool stops accepting orders")
	oracle := addOracleFlags(fs)
	crank := fs.String("crank-authority", "", "Crank authority (defaults to the payer)")
	tifs := fs.String("tifs", "", "Comma separated time in force intervals in seconds")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 2 {
		return nil, errors.New("expected <mint-a> <mint-b>")
	}
	mintA, err := parsePubkey("mint-a", fs.Arg(0))
	if err != nil {
		return nil, err
	}
	mintB, err := parsePubkey("mint-b", fs.Arg(1))
	if err != nil {
		return nil, err
	}
	if mintA.Equals(mintB) {
		return nil, errors.New("mints must differ")
	}
	if params.FeeDenominator == 0 || params.SettleFeeDenominator == 0 {
		return nil, errors.New("fee denominators must be greater than zero")
	}
	if params.TimeInForceIntervals, err = parseTifs(*tifs); err != nil {
		return nil, err
	}
	oracleParams, err := oracle.params()
	if err != nil {
		return nil, err
	}
	params.MaxOraclePriceError = oracleParams.MaxOraclePriceError
	params.MaxOraclePriceAgeSec = oracleParams.MaxOraclePriceAgeSec
	params.OraclePriceTypeTokenA = oracleParams.OraclePriceTypeTokenA
	params.OraclePriceTypeTokenB = oracleParams.OraclePriceTypeTokenB
	params.OraclePriceAccountTokenA = oracleParams.OraclePriceAccountTokenA
	params.OraclePriceAccountTokenB = oracleParams.OraclePriceAccountTokenB
	if params.CrankAuthority, err = parseOptionalPubkey("crank-authority", *crank); err != nil {
		return nil, err
	}

	return func(ctx context.Context, s *Session) error {
		params.AllowDeposits = perms.AllowDeposits
		params.AllowWithdrawals = perms.AllowWithdrawals
		params.AllowCranks = perms.AllowCranks
		params.AllowSettlements = perms.AllowSettlements
		tokenPair, result, err := s.Backend.InitTokenPair(ctx, mintA, mintB, params)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "token pair: %s\n", tokenPair)
		a.printResult(s, result)
		return nil
	}, nil
}

func (a *App) parseWithdrawFees(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	var params twamm.WithdrawFeesParams
	fs.Uint64Var(&params.AmountTokenA, "amount-token-a", 0, "Token A fees to withdraw")
	fs.Uint64Var(&params.AmountTokenB, "amount-token-b", 0, "Token B fees to withdraw")
	fs.Uint64Var(&params.AmountSol, "amount-sol", 0, "Lamports to withdraw")
	receiverRaw := fs.String("receiver", "", "Receiver wallet (defaults to the payer)")
	var receiver solana.PublicKey
	validate := func() error {
		if params.AmountTokenA == 0 && params.AmountTokenB == 0 && params.AmountSol == 0 {
			return errors.New("nothing to withdraw")
		}
		var err error
		receiver, err = parseOptionalPubkey("receiver", *receiverRaw)
		return err
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.WithdrawFees(ctx, tokenPair, receiver, params)
	})
}

func (a *App) parseCancelWithdrawals(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	all := fs.Bool("all", false, "Also cancel orders in running pools")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	if err := pair.validate(true); err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		tokenPair, err := pair.resolve(s.ProgramID)
		if err != nil {
			return err
		}
		results, err := s.Backend.CancelWithdrawals(ctx, tokenPair, *all)
		for _, result := range results {
			fmt.Fprintf(a.out, "cancelled %s: %s\n", result.Order, txrunner.ExplorerURL(result.Signature.String(), s.ExplorerCluster))
		}
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(a.out, "no orders to cancel")
		}
		return nil
	}, nil
}

func (a *App) parseSettle(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	var params twamm.SettleParams
	side := fs.String("side", "", "Supply side: buy|sell")
	fs.Uint64Var(&params.MinTokenAmountIn, "min-token-amount-in", 0, "Minimum input amount")
	fs.Uint64Var(&params.MaxTokenAmountIn, "max-token-amount-in", 0, "Maximum input amount")
	fs.Uint64Var(&params.WorstExchangeRate, "worst-exchange-rate", 0, "Worst acceptable exchange rate")
	validate := func() error {
		var err error
		if params.SupplySide, err = twamm.ParseOrderSide(*side); err != nil {
			return err
		}
		if params.MaxTokenAmountIn == 0 || params.MaxTokenAmountIn < params.MinTokenAmountIn {
			return errors.New("--max-token-amount-in must be positive and not below --min-token-amount-in")
		}
		return nil
	}
	return a.pairAction(fs, args, pair, validate, func(ctx context.Context, s *Session, tokenPair solana.PublicKey) (methods.Result, error) {
		return s.Backend.Settle(ctx, tokenPair, params)
	})
}
