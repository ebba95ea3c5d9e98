// Package cli implements the twamm-cli admin commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/config"
	"github.com/twamm-labs/twamm/backend/internal/methods"
)

const defaultKeypairPath = "~/.config/solana/id.json"

// Backend is everything the commands call on chain.
type Backend interface {
	Init(ctx context.Context, minSignatures uint8, signers []solana.PublicKey, perms methods.Permissions) (methods.Result, error)
	SetAdminSigners(ctx context.Context, minSignatures uint8, signers []solana.PublicKey) (methods.Result, error)
	SetFees(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetFeesParams) (methods.Result, error)
	SetPermissions(ctx context.Context, tokenPair solana.PublicKey, perms methods.Permissions) (methods.Result, error)
	SetCrankAuthority(ctx context.Context, tokenPair, crankAuthority solana.PublicKey) (methods.Result, error)
	SetTimeInForce(ctx context.Context, tokenPair solana.PublicKey, index uint8, tif uint32) (methods.Result, error)
	SetLimits(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetLimitsParams) (methods.Result, error)
	SetOracleConfig(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetOracleConfigParams) (methods.Result, error)
	InitTokenPair(ctx context.Context, mintA, mintB solana.PublicKey, params twamm.InitTokenPairParams) (solana.PublicKey, methods.Result, error)
	WithdrawFees(ctx context.Context, tokenPair, receiver solana.PublicKey, params twamm.WithdrawFeesParams) (methods.Result, error)
	CancelWithdrawals(ctx context.Context, tokenPair solana.PublicKey, includeActive bool) ([]methods.CancelResult, error)
	Settle(ctx context.Context, tokenPair solana.PublicKey, params twamm.SettleParams) (methods.Result, error)

	GetMultisig(ctx context.Context) (solana.PublicKey, *twamm.Multisig, error)
	ListTokenPairs(ctx context.Context) ([]chain.Keyed[twamm.TokenPair], error)
	ListPools(ctx context.Context, tokenPair solana.PublicKey) ([]chain.Keyed[twamm.Pool], error)
	ListOrders(ctx context.Context, owner solana.PublicKey) ([]chain.Keyed[twamm.Order], error)
	Pools(ctx context.Context, addrs []solana.PublicKey) ([]*twamm.Pool, error)
	ClusterTime(ctx context.Context) int64
}

// Session is an opened connection for one command.
type Session struct {
	Backend         Backend
	ProgramID       solana.PublicKey
	ExplorerCluster string
	Close           func()
}

// Options are the global flags that precede the subcommand.
type Options struct {
	KeypairPath string
	RPCURL      string
	NeedSigner  bool
}

type Opener func(ctx context.Context, opts Options) (*Session, error)

type App struct {
	open   Opener
	out    io.Writer
	errOut io.Writer
}

func New(open Opener, out, errOut io.Writer) *App {
	return &App{open: open, out: out, errOut: errOut}
}

// action runs a parsed command against an open session.
type action func(ctx context.Context, s *Session) error

type command struct {
	usage  string
	signer bool
	parse  func(fs *flag.FlagSet, args []string) (action, error)
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"init": {
			usage:  "init [--allow-deposits=bool] [--allow-withdrawals=bool] [--allow-cranks=bool] [--allow-settlements=bool] <min-signatures> <signer>...",
			signer: true,
			parse:  a.parseInit,
		},
		"set-admin-signers": {
			usage:  "set-admin-signers <min-signatures> <signer>...",
			signer: true,
			parse:  a.parseSetAdminSigners,
		},
		"set-fees": {
			usage:  "set-fees " + pairUsage + " --fee-numerator n --fee-denominator d --settle-fee-numerator n --settle-fee-denominator d [--crank-reward-token-a n] [--crank-reward-token-b n]",
			signer: true,
			parse:  a.parseSetFees,
		},
		"set-permissions": {
			usage:  "set-permissions " + pairUsage + " [--allow-deposits] [--allow-withdrawals] [--allow-cranks] [--allow-settlements]",
			signer: true,
			parse:  a.parseSetPermissions,
		},
		"set-crank-authority": {
			usage:  "set-crank-authority " + pairUsage + " <pubkey>",
			signer: true,
			parse:  a.parseSetCrankAuthority,
		},
		"set-time-in-force": {
			usage:  "set-time-in-force " + pairUsage + " --index 0-9 --tif seconds",
			signer: true,
			parse:  a.parseSetTimeInForce,
		},
		"set-limits": {
			usage:  "set-limits " + pairUsage + " [--min-swap-amount-token-a n] [--min-swap-amount-token-b n] [--max-swap-price-diff f] [--max-unsettled-amount f] [--min-time-till-expiration f]",
			signer: true,
			parse:  a.parseSetLimits,
		},
		"set-oracle-config": {
			usage:  "set-oracle-config " + pairUsage + " [--max-oracle-price-error f] [--max-oracle-price-age-sec n] [--oracle-type-token-a none|test|pyth] [--oracle-type-token-b none|test|pyth] [--oracle-account-token-a pubkey] [--oracle-account-token-b pubkey]",
			signer: true,
			parse:  a.parseSetOracleConfig,
		},
		"init-token-pair": {
			usage:  "init-token-pair [--tifs 300,900,...] [--fee-denominator d ...] <mint-a> <mint-b>",
			signer: true,
			parse:  a.parseInitTokenPair,
		},
		"withdraw-fees": {
			usage:  "withdraw-fees " + pairUsage + " [--amount-token-a n] [--amount-token-b n] [--amount-sol n] [--receiver pubkey]",
			signer: true,
			parse:  a.parseWithdrawFees,
		},
		"cancel-withdrawals": {
			usage:  "cancel-withdrawals " + pairUsage + " [--all]",
			signer: true,
			parse:  a.parseCancelWithdrawals,
		},
		"settle": {
			usage:  "settle " + pairUsage + " --side buy|sell --min-token-amount-in n --max-token-amount-in n [--worst-exchange-rate n]",
			signer: true,
			parse:  a.parseSettle,
		},
		"list-token-pairs": {
			usage: "list-token-pairs [--json]",
			parse: a.parseListTokenPairs,
		},
		"list-pools": {
			usage: "list-pools [" + pairUsage + "] [--json]",
			parse: a.parseListPools,
		},
		"list-orders": {
			usage: "list-orders [--owner pubkey] [--json]",
			parse: a.parseListOrders,
		},
		"get-multisig": {
			usage: "get-multisig [--json]",
			parse: a.parseGetMultisig,
		},
	}
}

func (a *App) printUsage(w io.Writer) {
	fmt.Fprintln(w, "twamm-cli: TWAMM program admin CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  twamm-cli [-k|--keypair <path>] [-u|--url <rpc-url>] <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	cmds := a.commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  twamm-cli %s\n", cmds[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - the keypair defaults to "+defaultKeypairPath+" and is exported as ANCHOR_WALLET")
	fmt.Fprintln(w, "  - the pair is given by address (--token-pair) or by its two mints (--mint-a, --mint-b)")
}

// Run executes one command line and returns the process exit code: 0 on
// success, 2 on usage errors and 1 when the command fails.
func (a *App) Run(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("twamm-cli", flag.ContinueOnError)
	global.SetOutput(a.errOut)
	var opts Options
	global.StringVar(&opts.KeypairPath, "k", "", "Keypair file")
	global.StringVar(&opts.KeypairPath, "keypair", "", "Keypair file")
	global.StringVar(&opts.RPCURL, "u", "", "RPC URL")
	global.StringVar(&opts.RPCURL, "url", "", "RPC URL")
	global.Usage = func() { a.printUsage(a.errOut) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		a.printUsage(a.errOut)
		return 2
	}
	name := rest[0]
	if name == "help" {
		a.printUsage(a.out)
		return 0
	}
	cmd, ok := a.commands()[name]
	if !ok {
		fmt.Fprintf(a.errOut, "unknown command: %s\n\n", name)
		a.printUsage(a.errOut)
		return 2
	}

	keypair, err := resolveKeypairPath(opts.KeypairPath)
	if err != nil {
		fmt.Fprintf(a.errOut, "keypair: %v\n", err)
		return 2
	}
	opts.KeypairPath = keypair
	if err := os.Setenv("ANCHOR_WALLET", keypair); err != nil {
		fmt.Fprintf(a.errOut, "set ANCHOR_WALLET: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	run, err := cmd.parse(fs, rest[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(a.errOut, "%s: %v\n", name, err)
		fmt.Fprintf(a.errOut, "usage: twamm-cli %s\n", cmd.usage)
		return 2
	}

	opts.NeedSigner = cmd.signer
	session, err := a.open(ctx, opts)
	if err != nil {
		fmt.Fprintf(a.errOut, "%s: %v\n", name, err)
		return 1
	}
	if session.Close != nil {
		defer session.Close()
	}

	if err := run(ctx, session); err != nil {
		fmt.Fprintf(a.errOut, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

// resolveKeypairPath picks the flag value, then ANCHOR_WALLET, then the
// solana CLI default.
func resolveKeypairPath(flagValue string) (string, error) {
	path := strings.TrimSpace(flagValue)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ANCHOR_WALLET"))
	}
	if path == "" {
		path = defaultKeypairPath
	}
	return config.ExpandHomePath(path)
}
