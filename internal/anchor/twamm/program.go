// Package twamm binds the TWAMM on-chain program: account layouts,
// instruction encoders and Anchor discriminators.
//
// The bindings follow idl/twamm.json in the layout produced by
// `go tool anchor-go`; idl_test.go keeps the two in step.
package twamm

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is overwritten from configuration at startup.
var ProgramID = solana.MustPublicKeyFromBase58("TWAMdUxafgDN2BJNFaC6pND63tjdLz4AmEKBzuxtbe9")

const (
	MaxSigners       = 6
	TimeInForceSlots = 10

	// Byte offsets used in getProgramAccounts memcmp filters.
	OrderOwnerOffset    = 8
	PoolTokenPairOffset = 8 + 4 + 8
	DiscriminatorLength = 8
)

var ErrInvalidDiscriminator = errors.New("invalid account discriminator")

var (
	Account_Multisig  = accountDiscriminator("Multisig")
	Account_TokenPair = accountDiscriminator("TokenPair")
	Account_Pool      = accountDiscriminator("Pool")
	Account_Order     = accountDiscriminator("Order")
)

var (
	Instruction_Init              = instructionDiscriminator("init")
	Instruction_SetAdminSigners   = instructionDiscriminator("set_admin_signers")
	Instruction_SetFees           = instructionDiscriminator("set_fees")
	Instruction_SetPermissions    = instructionDiscriminator("set_permissions")
	Instruction_SetCrankAuthority = instructionDiscriminator("set_crank_authority")
	Instruction_SetTimeInForce    = instructionDiscriminator("set_time_in_force")
	Instruction_SetLimits         = instructionDiscriminator("set_limits")
	Instruction_SetOracleConfig   = instructionDiscriminator("set_oracle_config")
	Instruction_InitTokenPair     = instructionDiscriminator("init_token_pair")
	Instruction_WithdrawFees      = instructionDiscriminator("withdraw_fees")
	Instruction_PlaceOrder        = instructionDiscriminator("place_order")
	Instruction_CancelOrder       = instructionDiscriminator("cancel_order")
	Instruction_Settle            = instructionDiscriminator("settle")
)

func accountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func instructionDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func readDiscriminator(decoder *bin.Decoder, want [8]byte, name string) error {
	got, err := decoder.ReadNBytes(DiscriminatorLength)
	if err != nil {
		return fmt.Errorf("read %s discriminator: %w", name, err)
	}
	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("%w: expected %s %x, got %x", ErrInvalidDiscriminator, name, want, got)
	}
	return nil
}

// HasDiscriminator reports whether raw account data starts with disc.
func HasDiscriminator(data []byte, disc [8]byte) bool {
	return len(data) >= DiscriminatorLength && bytes.Equal(data[:DiscriminatorLength], disc[:])
}
