// Package methods wraps each TWAMM program instruction in a typed call that
// derives its accounts, builds the instruction and sends it.
package methods

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/dex"
)

// Runner submits instructions signed by its payer.
type Runner interface {
	Payer() solana.PublicKey
	Run(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error)
}

// State is the read side the methods consult before building instructions.
type State interface {
	GetMultisig(ctx context.Context) (solana.PublicKey, *twamm.Multisig, error)
	GetTokenPair(ctx context.Context, address solana.PublicKey) (*twamm.TokenPair, error)
	GetPool(ctx context.Context, address solana.PublicKey) (*twamm.Pool, error)
	GetOrder(ctx context.Context, address solana.PublicKey) (*twamm.Order, error)
	Pools(ctx context.Context, addrs []solana.PublicKey) ([]*twamm.Pool, error)
	ListOrders(ctx context.Context, owner solana.PublicKey) ([]chain.Keyed[twamm.Order], error)
	CurrentPools(ctx context.Context, pairAddress solana.PublicKey, pair *twamm.TokenPair) ([twamm.TimeInForceSlots]solana.PublicKey, [twamm.TimeInForceSlots]*twamm.Pool, error)
	ClusterTime(ctx context.Context) int64
}

type Client struct {
	programID solana.PublicKey
	state     State
	runner    Runner
	logger    *slog.Logger
}

// New returns a client. runner may be nil when only instruction builders are
// used.
func New(programID solana.PublicKey, state State, runner Runner, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		programID: programID,
		state:     state,
		runner:    runner,
		logger:    logger,
	}
}

// MultisigProgress is the approval count of the pending admin instruction.
// NumSigned drops back to zero once an instruction has executed.
type MultisigProgress struct {
	NumSigned     uint8 `json:"numSigned"`
	MinSignatures uint8 `json:"minSignatures"`
}

func (p MultisigProgress) String() string {
	if p.NumSigned == 0 {
		return "executed"
	}
	return fmt.Sprintf("%d/%d signatures", p.NumSigned, p.MinSignatures)
}

// Result is the outcome of one submitted transaction.
type Result struct {
	Signature solana.Signature  `json:"signature"`
	Multisig  *MultisigProgress `json:"multisig,omitempty"`
}

func (c *Client) payer() (solana.PublicKey, error) {
	if c.runner == nil || c.runner.Payer().IsZero() {
		return solana.PublicKey{}, fmt.Errorf("methods: no signer configured")
	}
	return c.runner.Payer(), nil
}

func (c *Client) run(ctx context.Context, name string, instructions ...solana.Instruction) (Result, error) {
	sig, err := c.runner.Run(ctx, instructions...)
	if err != nil {
		return Result{Signature: sig}, fmt.Errorf("%s: %w", name, err)
	}
	c.logger.Info("transaction confirmed", "method", name, "signature", sig)
	return Result{Signature: sig}, nil
}

// runAdmin sends a multisig-guarded instruction and attaches the approval
// progress read back after confirmation.
func (c *Client) runAdmin(ctx context.Context, name string, instruction solana.Instruction) (Result, error) {
	result, err := c.run(ctx, name, instruction)
	if err != nil {
		return result, err
	}
	_, multisig, err := c.state.GetMultisig(ctx)
	if err != nil {
		c.logger.Warn("failed to read multisig progress", "method", name, "err", err)
		return result, nil
	}
	result.Multisig = &MultisigProgress{NumSigned: multisig.NumSigned, MinSignatures: multisig.MinSignatures}
	return result, nil
}

func (c *Client) pairAdminAccounts(admin, tokenPair solana.PublicKey) (twamm.PairAdminAccounts, error) {
	multisig, _, err := dex.DeriveMultisigPDA(c.programID)
	if err != nil {
		return twamm.PairAdminAccounts{}, fmt.Errorf("derive multisig PDA: %w", err)
	}
	return twamm.PairAdminAccounts{Admin: admin, Multisig: multisig, TokenPair: tokenPair}, nil
}

// Permissions are the four toggles shared by init and set-permissions.
type Permissions struct {
	AllowDeposits    bool `json:"allowDeposits"`
	AllowWithdrawals bool `json:"allowWithdrawals"`
	AllowCranks      bool `json:"allowCranks"`
	AllowSettlements bool `json:"allowSettlements"`
}

// Init creates the multisig and transfer authority. The payer must be the
// program's upgrade authority.
func (c *Client) Init(ctx context.Context, minSignatures uint8, signers []solana.PublicKey, perms Permissions) (Result, error) {
	payer, err := c.payer()
	if err != nil {
		return Result{}, err
	}
	if minSignatures == 0 || int(minSignatures) > len(signers) {
		return Result{}, fmt.Errorf("min signatures %d must be between 1 and %d", minSignatures, len(signers))
	}
	multisig, _, err := dex.DeriveMultisigPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive multisig PDA: %w", err)
	}
	transferAuthority, _, err := dex.DeriveTransferAuthorityPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive transfer authority PDA: %w", err)
	}
	programData, _, err := dex.DeriveProgramDataPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive program data PDA: %w", err)
	}

	ix, err := twamm.NewInitInstruction(twamm.InitParams{
		MinSignatures:    minSignatures,
		AllowDeposits:    perms.AllowDeposits,
		AllowWithdrawals: perms.AllowWithdrawals,
		AllowCranks:      perms.AllowCranks,
		AllowSettlements: perms.AllowSettlements,
	}, twamm.InitAccounts{
		UpgradeAuthority:  payer,
		Multisig:          multisig,
		TransferAuthority: transferAuthority,
		ProgramData:       programData,
		AdminSigners:      signers,
	})
	if err != nil {
		return Result{}, err
	}
	return c.runAdmin(ctx, "init", ix)
}

func (c *Client) SetAdminSigners(ctx context.Context, minSignatures uint8, signers []solana.PublicKey) (Result, error) {
	payer, err := c.payer()
	if err != nil {
		return Result{}, err
	}
	if minSignatures == 0 || int(minSignatures) > len(signers) {
		return Result{}, fmt.Errorf("min signatures %d must be between 1 and %d", minSignatures, len(signers))
	}
	multisig, _, err := dex.DeriveMultisigPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive multisig PDA: %w", err)
	}
	ix, err := twamm.NewSetAdminSignersInstruction(
		twamm.SetAdminSignersParams{MinSignatures: minSignatures},
		twamm.SetAdminSignersAccounts{Admin: payer, Multisig: multisig, AdminSigners: signers},
	)
	if err != nil {
		return Result{}, err
	}
	return c.runAdmin(ctx, "set-admin-signers", ix)
}

// pairAdmin builds and sends one of the instructions that take
// PairAdminAccounts.
func pairAdmin[P any](ctx context.Context, c *Client, name string, tokenPair solana.PublicKey, params P, build func(P, twamm.PairAdminAccounts) (solana.Instruction, error)) (Result, error) {
	payer, err := c.payer()
	if err != nil {
		return Result{}, err
	}
	accounts, err := c.pairAdminAccounts(payer, tokenPair)
	if err != nil {
		return Result{}, err
	}
	ix, err := build(params, accounts)
	if err != nil {
		return Result{}, err
	}
	return c.runAdmin(ctx, name, ix)
}

func (c *Client) SetFees(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetFeesParams) (Result, error) {
	return pairAdmin(ctx, c, "set-fees", tokenPair, params, twamm.NewSetFeesInstruction)
}

func (c *Client) SetPermissions(ctx context.Context, tokenPair solana.PublicKey, perms Permissions) (Result, error) {
	return pairAdmin(ctx, c, "set-permissions", tokenPair, twamm.SetPermissionsParams(perms), twamm.NewSetPermissionsInstruction)
}

func (c *Client) SetCrankAuthority(ctx context.Context, tokenPair, crankAuthority solana.PublicKey) (Result, error) {
	return pairAdmin(ctx, c, "set-crank-authority", tokenPair, twamm.SetCrankAuthorityParams{CrankAuthority: crankAuthority}, twamm.NewSetCrankAuthorityInstruction)
}

func (c *Client) SetTimeInForce(ctx context.Context, tokenPair solana.PublicKey, index uint8, tif uint32) (Result, error) {
	params := twamm.SetTimeInForceParams{TimeInForceIndex: index, NewTimeInForce: tif}
	return pairAdmin(ctx, c, "set-time-in-force", tokenPair, params, twamm.NewSetTimeInForceInstruction)
}

func (c *Client) SetLimits(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetLimitsParams) (Result, error) {
	return pairAdmin(ctx, c, "set-limits", tokenPair, params, twamm.NewSetLimitsInstruction)
}

func (c *Client) SetOracleConfig(ctx context.Context, tokenPair solana.PublicKey, params twamm.SetOracleConfigParams) (Result, error) {
	return pairAdmin(ctx, c, "set-oracle-config", tokenPair, params, twamm.NewSetOracleConfigInstruction)
}

// InitTokenPair creates the pair account for mintA/mintB and its two
// custodies. The returned address is the new pair.
func (c *Client) InitTokenPair(ctx context.Context, mintA, mintB solana.PublicKey, params twamm.InitTokenPairParams) (solana.PublicKey, Result, error) {
	payer, err := c.payer()
	if err != nil {
		return solana.PublicKey{}, Result{}, err
	}
	tokenPair, _, err := dex.DeriveTokenPairPDA(c.programID, mintA, mintB)
	if err != nil {
		return solana.PublicKey{}, Result{}, fmt.Errorf("derive token pair PDA: %w", err)
	}
	accounts, err := c.pairAdminAccounts(payer, tokenPair)
	if err != nil {
		return tokenPair, Result{}, err
	}
	transferAuthority, _, err := dex.DeriveTransferAuthorityPDA(c.programID)
	if err != nil {
		return tokenPair, Result{}, fmt.Errorf("derive transfer authority PDA: %w", err)
	}
	custodyA, err := dex.DeriveCustody(c.programID, mintA)
	if err != nil {
		return tokenPair, Result{}, err
	}
	custodyB, err := dex.DeriveCustody(c.programID, mintB)
	if err != nil {
		return tokenPair, Result{}, err
	}

	ix, err := twamm.NewInitTokenPairInstruction(params, twamm.InitTokenPairAccounts{
		Admin:             accounts.Admin,
		Multisig:          accounts.Multisig,
		TransferAuthority: transferAuthority,
		TokenPair:         tokenPair,
		CustodyTokenA:     custodyA,
		CustodyTokenB:     custodyB,
		MintTokenA:        mintA,
		MintTokenB:        mintB,
	})
	if err != nil {
		return tokenPair, Result{}, err
	}
	result, err := c.runAdmin(ctx, "init-token-pair", ix)
	return tokenPair, result, err
}

// WithdrawFees moves collected fees to receiver's associated token accounts
// and lamports to receiver itself. A zero receiver means the payer.
func (c *Client) WithdrawFees(ctx context.Context, tokenPair, receiver solana.PublicKey, params twamm.WithdrawFeesParams) (Result, error) {
	payer, err := c.payer()
	if err != nil {
		return Result{}, err
	}
	if receiver.IsZero() {
		receiver = payer
	}
	pair, err := c.state.GetTokenPair(ctx, tokenPair)
	if err != nil {
		return Result{}, fmt.Errorf("load token pair: %w", err)
	}
	accounts, err := c.pairAdminAccounts(payer, tokenPair)
	if err != nil {
		return Result{}, err
	}
	transferAuthority, _, err := dex.DeriveTransferAuthorityPDA(c.programID)
	if err != nil {
		return Result{}, fmt.Errorf("derive transfer authority PDA: %w", err)
	}
	receiverA, _, err := solana.FindAssociatedTokenAddress(receiver, pair.ConfigA.Mint)
	if err != nil {
		return Result{}, fmt.Errorf("derive receiver token account: %w", err)
	}
	receiverB, _, err := solana.FindAssociatedTokenAddress(receiver, pair.ConfigB.Mint)
	if err != nil {
		return Result{}, fmt.Errorf("derive receiver token account: %w", err)
	}

	ix, err := twamm.NewWithdrawFeesInstruction(params, twamm.WithdrawFeesAccounts{
		Admin:             accounts.Admin,
		Multisig:          accounts.Multisig,
		TokenPair:         tokenPair,
		TransferAuthority: transferAuthority,
		CustodyTokenA:     pair.ConfigA.Custody,
		CustodyTokenB:     pair.ConfigB.Custody,
		ReceiverTokenA:    receiverA,
		ReceiverTokenB:    receiverB,
		ReceiverSol:       receiver,
	})
	if err != nil {
		return Result{}, err
	}
	return c.runAdmin(ctx, "withdraw-fees", ix)
}
