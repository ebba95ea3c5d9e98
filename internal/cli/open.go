package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/config"
	"github.com/twamm-labs/twamm/backend/internal/logging"
	"github.com/twamm-labs/twamm/backend/internal/methods"
	"github.com/twamm-labs/twamm/backend/internal/txrunner"
)

type backend struct {
	*methods.Client
	*chain.Reader
}

// Open connects to the cluster described by the CLI config, with the global
// flags taking precedence.
func Open(_ context.Context, opts Options) (*Session, error) {
	cfg, err := config.LoadCLIConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.RPCURL != "" {
		cfg.RPCURL = opts.RPCURL
	}
	if opts.KeypairPath != "" {
		cfg.KeypairPath = opts.KeypairPath
	}

	logger, closeLogger, err := logging.NewCLI("twamm-cli", cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var signer solana.PrivateKey
	if opts.NeedSigner {
		signer, err = solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			_ = closeLogger()
			return nil, fmt.Errorf("load keypair %s: %w", cfg.KeypairPath, err)
		}
	}

	twamm.ProgramID = cfg.ProgramID
	client := rpc.New(cfg.RPCURL)
	reader := chain.NewReader(client, cfg.ProgramID, cfg.Commitment, chain.DefaultFetchMultipleMax, logger)
	runner := txrunner.New(client, signer, cfg.Commitment, cfg.Tx, logger)

	logger.Debug("cli session opened",
		"rpc_url", cfg.RPCURL,
		"program_id", cfg.ProgramID,
		"payer", runner.Payer(),
	)

	return &Session{
		Backend:         backend{Client: methods.New(cfg.ProgramID, reader, runner, logger), Reader: reader},
		ProgramID:       cfg.ProgramID,
		ExplorerCluster: cfg.ExplorerCluster,
		Close: func() {
			if err := client.Close(); err != nil {
				logger.Debug("close rpc client", slog.Any("err", err))
			}
			_ = closeLogger()
		},
	}, nil
}
