package txrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/config"
)

type fakeRPC struct {
	sent      []*solana.Transaction
	sendErr   error
	statuses  []*rpc.SignatureStatusesResult
	statusIdx int
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}},
	}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if f.statusIdx >= len(f.statuses) {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	status := f.statuses[f.statusIdx]
	f.statusIdx++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func testInstruction(signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte("twamm"),
	)
}

func newTestRunner(client RPC, signer solana.PrivateKey, cfg config.TxConfig) *Runner {
	runner := New(client, signer, rpc.CommitmentConfirmed, cfg, nil)
	runner.pollInterval = time.Millisecond
	return runner
}

func TestRunSignsAndWaitsForConfirmation(t *testing.T) {
	signer := solana.NewWallet().PrivateKey
	client := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}
	runner := newTestRunner(client, signer, config.TxConfig{Timeout: time.Second, ComputeUnitLimit: 300_000, ComputeUnitPriceMicroLamports: 10})

	sig, err := runner.Run(context.Background(), testInstruction(signer.PublicKey()))
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, sig, tx.Signatures[0])
	assert.Equal(t, signer.PublicKey(), tx.Message.AccountKeys[0])
	assert.Len(t, tx.Message.Instructions, 3)
	assert.Equal(t, 2, client.statusIdx)
}

func TestRunReportsOnChainFailure(t *testing.T) {
	signer := solana.NewWallet().PrivateKey
	client := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		{Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
	}}
	runner := newTestRunner(client, signer, config.TxConfig{Timeout: time.Second})

	_, err := runner.Run(context.Background(), testInstruction(signer.PublicKey()))
	assert.ErrorContains(t, err, "transaction failed")
}

func TestRunFailsOnForeignSigner(t *testing.T) {
	signer := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PublicKey()
	runner := newTestRunner(&fakeRPC{}, signer, config.TxConfig{})

	_, err := runner.Run(context.Background(), testInstruction(other))
	assert.ErrorContains(t, err, "sign transaction")
}

func TestRunWithoutSigner(t *testing.T) {
	runner := newTestRunner(&fakeRPC{}, nil, config.TxConfig{})
	_, err := runner.Run(context.Background(), testInstruction(solana.NewWallet().PublicKey()))
	assert.True(t, errors.Is(err, ErrNoSigner))
}

func TestRunTimesOutWithoutConfirmation(t *testing.T) {
	signer := solana.NewWallet().PrivateKey
	runner := newTestRunner(&fakeRPC{}, signer, config.TxConfig{Timeout: 20 * time.Millisecond})

	_, err := runner.Run(context.Background(), testInstruction(signer.PublicKey()))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBuildUnsignedLeavesSignaturesEmpty(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	runner := newTestRunner(&fakeRPC{}, nil, config.TxConfig{})

	tx, err := runner.BuildUnsigned(context.Background(), payer, testInstruction(payer))
	require.NoError(t, err)
	assert.Empty(t, tx.Signatures)
	assert.Equal(t, payer, tx.Message.AccountKeys[0])
	assert.Equal(t, solana.Hash{1, 2, 3}, tx.Message.RecentBlockhash)

	_, err = runner.BuildUnsigned(context.Background(), solana.PublicKey{})
	assert.Error(t, err)
}

func TestExplorerURL(t *testing.T) {
	tests := []struct {
		cluster string
		want    string
	}{
		{cluster: "", want: "https://solscan.io/tx/abc"},
		{cluster: "mainnet-beta", want: "https://solscan.io/tx/abc"},
		{cluster: "devnet", want: "https://solscan.io/tx/abc?cluster=devnet"},
	}
	for _, tt := range tests {
		t.Run(tt.cluster, func(t *testing.T) {
			assert.Equal(t, tt.want, ExplorerURL("abc", tt.cluster))
		})
	}
}
