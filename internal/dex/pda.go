package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func DeriveMultisigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("multisig")}, programID)
}

func DeriveTransferAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("transfer_authority")}, programID)
}

func DeriveTokenPairPDA(programID, mintA, mintB solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("token_pair"), mintA.Bytes(), mintB.Bytes()}, programID)
}

func DerivePoolPDA(programID, tokenPair solana.PublicKey, timeInForce uint32, counter uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("pool"), tokenPair.Bytes(), u32LE(timeInForce), u64LE(counter)}, programID)
}

func DeriveOrderPDA(programID, owner, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("order"), owner.Bytes(), pool.Bytes()}, programID)
}

// DeriveProgramDataPDA returns the upgradeable loader's program data account.
func DeriveProgramDataPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{programID.Bytes()}, solana.BPFLoaderUpgradeableProgramID)
}

// DeriveCustody returns the token account the transfer authority holds for mint.
func DeriveCustody(programID, mint solana.PublicKey) (solana.PublicKey, error) {
	authority, _, err := DeriveTransferAuthorityPDA(programID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	custody, _, err := solana.FindAssociatedTokenAddress(authority, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive custody for %s: %w", mint, err)
	}
	return custody, nil
}

func MustDeriveMultisigPDA(programID solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveMultisigPDA(programID)
	if err != nil {
		panic(fmt.Errorf("derive multisig PDA: %w", err))
	}
	return pk
}

func MustDeriveTransferAuthorityPDA(programID solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveTransferAuthorityPDA(programID)
	if err != nil {
		panic(fmt.Errorf("derive transfer authority PDA: %w", err))
	}
	return pk
}

func MustDerivePoolPDA(programID, tokenPair solana.PublicKey, timeInForce uint32, counter uint64) solana.PublicKey {
	pk, _, err := DerivePoolPDA(programID, tokenPair, timeInForce, counter)
	if err != nil {
		panic(fmt.Errorf("derive pool PDA: %w", err))
	}
	return pk
}

func U64LEToBytes(value uint64) []byte {
	return u64LE(value)
}

func U32LEToBytes(value uint32) []byte {
	return u32LE(value)
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}

func u32LE(value uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return buf
}
