package dex

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("TWAMdUxafgDN2BJNFaC6pND63tjdLz4AmEKBzuxtbe9")

func TestDerivePoolPDAUsesLittleEndianSeeds(t *testing.T) {
	pair := solana.NewWallet().PublicKey()

	got, bump, err := DerivePoolPDA(testProgramID, pair, 300, 7)
	require.NoError(t, err)

	want, wantBump, err := solana.FindProgramAddress([][]byte{
		[]byte("pool"),
		pair.Bytes(),
		{0x2c, 0x01, 0x00, 0x00},
		{0x07, 0, 0, 0, 0, 0, 0, 0},
	}, testProgramID)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, wantBump, bump)
	assert.Equal(t, want, MustDerivePoolPDA(testProgramID, pair, 300, 7))
}

func TestDeriveTokenPairPDAIsOrderSensitive(t *testing.T) {
	mintA := solana.NewWallet().PublicKey()
	mintB := solana.NewWallet().PublicKey()

	ab, _, err := DeriveTokenPairPDA(testProgramID, mintA, mintB)
	require.NoError(t, err)
	ba, _, err := DeriveTokenPairPDA(testProgramID, mintB, mintA)
	require.NoError(t, err)

	assert.NotEqual(t, ab, ba)
}

func TestDeriveCustodyIsTransferAuthorityATA(t *testing.T) {
	mint := solana.SolMint

	custody, err := DeriveCustody(testProgramID, mint)
	require.NoError(t, err)

	authority := MustDeriveTransferAuthorityPDA(testProgramID)
	want, _, err := solana.FindAssociatedTokenAddress(authority, mint)
	require.NoError(t, err)
	assert.Equal(t, want, custody)
}

func TestDeriveOrderPDADiffersPerOwner(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	first, _, err := DeriveOrderPDA(testProgramID, solana.NewWallet().PublicKey(), pool)
	require.NoError(t, err)
	second, _, err := DeriveOrderPDA(testProgramID, solana.NewWallet().PublicKey(), pool)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLittleEndianHelpers(t *testing.T) {
	assert.Equal(t, []byte{1, 0, 0, 0}, U32LEToBytes(1))
	assert.Equal(t, []byte{0, 1, 0, 0, 0, 0, 0, 0}, U64LEToBytes(256))
}
