// Package txrunner signs, submits and confirms program transactions.
package txrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/twamm-labs/twamm/backend/internal/config"
)

const defaultPollInterval = 700 * time.Millisecond

var ErrNoSigner = errors.New("transaction runner has no signer")

// RPC is the subset of *rpc.Client the runner needs.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type Runner struct {
	client       RPC
	signer       solana.PrivateKey
	commitment   rpc.CommitmentType
	cfg          config.TxConfig
	pollInterval time.Duration
	logger       *slog.Logger
}

// New returns a runner. signer may be nil when only unsigned transactions
// are built.
func New(client RPC, signer solana.PrivateKey, commitment rpc.CommitmentType, cfg config.TxConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:       client,
		signer:       signer,
		commitment:   commitment,
		cfg:          cfg,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

func (r *Runner) Payer() solana.PublicKey {
	if len(r.signer) == 0 {
		return solana.PublicKey{}
	}
	return r.signer.PublicKey()
}

// Run submits instructions in one transaction paid and signed by the runner's
// signer and blocks until the cluster reports it confirmed.
func (r *Runner) Run(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error) {
	if len(r.signer) == 0 {
		return solana.Signature{}, ErrNoSigner
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	tx, err := r.build(ctx, r.signer.PublicKey(), instructions)
	if err != nil {
		return solana.Signature{}, err
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if r.signer.PublicKey().Equals(key) {
			return &r.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       r.cfg.SkipPreflight,
		PreflightCommitment: r.commitment,
	}
	if r.cfg.MaxRetries != nil {
		retries := *r.cfg.MaxRetries
		opts.MaxRetries = &retries
	}

	sig, err := r.client.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	r.logger.Debug("transaction sent", "signature", sig)

	if err := r.waitForConfirmation(ctx, sig); err != nil {
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}
	return sig, nil
}

// BuildUnsigned returns a transaction for payer to sign in an external wallet.
func (r *Runner) BuildUnsigned(ctx context.Context, payer solana.PublicKey, instructions ...solana.Instruction) (*solana.Transaction, error) {
	if payer.IsZero() {
		return nil, errors.New("payer is required")
	}
	return r.build(ctx, payer, instructions)
}

func (r *Runner) build(ctx context.Context, payer solana.PublicKey, instructions []solana.Instruction) (*solana.Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("no instructions to run")
	}
	all, err := r.withComputeBudget(instructions)
	if err != nil {
		return nil, err
	}

	recent, err := r.client.GetLatestBlockhash(ctx, r.commitment)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return nil, errors.New("get latest blockhash: empty response")
	}

	tx, err := solana.NewTransaction(all, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

func (r *Runner) withComputeBudget(instructions []solana.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(instructions)+2)
	if r.cfg.ComputeUnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(r.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, ix)
	}
	if r.cfg.ComputeUnitPriceMicroLamports > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(r.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, ix)
	}
	return append(out, instructions...), nil
}

func (r *Runner) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := r.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				r.logger.Debug("signature status lookup failed", "signature", sig, "err", err)
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// ExplorerURL links a signature on solscan. An empty or mainnet cluster
// yields the bare URL.
func ExplorerURL(sig string, cluster string) string {
	link := "https://solscan.io/tx/" + sig
	switch cluster {
	case "", "mainnet", "mainnet-beta":
		return link
	default:
		return link + "?cluster=" + url.QueryEscape(cluster)
	}
}
