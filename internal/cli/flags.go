package cli

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/dex"
)

const pairUsage = "(--token-pair <pubkey> | --mint-a <pubkey> --mint-b <pubkey>)"

// pairFlags selects a token pair by address or by its mints.
type pairFlags struct {
	tokenPair string
	mintA     string
	mintB     string

	address solana.PublicKey
	mints   [2]solana.PublicKey
}

func addPairFlags(fs *flag.FlagSet) *pairFlags {
	p := &pairFlags{}
	fs.StringVar(&p.tokenPair, "token-pair", "", "Token pair address")
	fs.StringVar(&p.mintA, "mint-a", "", "Token A mint")
	fs.StringVar(&p.mintB, "mint-b", "", "Token B mint")
	return p
}

func (p *pairFlags) set() bool {
	return p.tokenPair != "" || p.mintA != "" || p.mintB != ""
}

// validate parses whichever form was given. required rejects neither.
func (p *pairFlags) validate(required bool) error {
	switch {
	case p.tokenPair != "" && (p.mintA != "" || p.mintB != ""):
		return errors.New("use either --token-pair or --mint-a/--mint-b, not both")
	case p.tokenPair != "":
		key, err := parsePubkey("token-pair", p.tokenPair)
		if err != nil {
			return err
		}
		p.address = key
	case p.mintA != "" || p.mintB != "":
		a, err := parsePubkey("mint-a", p.mintA)
		if err != nil {
			return err
		}
		b, err := parsePubkey("mint-b", p.mintB)
		if err != nil {
			return err
		}
		p.mints = [2]solana.PublicKey{a, b}
	case required:
		return errors.New("token pair is required")
	}
	return nil
}

// resolve returns the pair address, deriving it from the mints when needed.
func (p *pairFlags) resolve(programID solana.PublicKey) (solana.PublicKey, error) {
	if !p.address.IsZero() || p.mints[0].IsZero() {
		return p.address, nil
	}
	address, _, err := dex.DeriveTokenPairPDA(programID, p.mints[0], p.mints[1])
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token pair PDA: %w", err)
	}
	return address, nil
}

func parsePubkey(name, raw string) (solana.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", name)
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return key, nil
}

func parseOptionalPubkey(name, raw string) (solana.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return solana.PublicKey{}, nil
	}
	return parsePubkey(name, raw)
}

func parsePubkeys(name string, raws []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(raws))
	seen := make(map[solana.PublicKey]struct{}, len(raws))
	for _, raw := range raws {
		key, err := parsePubkey(name, raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("duplicate %s %s", name, key)
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

// parseSigners reads "<min-signatures> <signer>..." positional arguments.
func parseSigners(args []string) (uint8, []solana.PublicKey, error) {
	if len(args) < 2 {
		return 0, nil, errors.New("expected <min-signatures> and at least one signer")
	}
	minSignatures, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid min-signatures %q", args[0])
	}
	signers, err := parsePubkeys("signer", args[1:])
	if err != nil {
		return 0, nil, err
	}
	if len(signers) > twamm.MaxSigners {
		return 0, nil, fmt.Errorf("at most %d signers are supported, got %d", twamm.MaxSigners, len(signers))
	}
	if minSignatures == 0 || int(minSignatures) > len(signers) {
		return 0, nil, fmt.Errorf("min-signatures must be between 1 and %d", len(signers))
	}
	return uint8(minSignatures), signers, nil
}

func parseTifs(raw string) ([twamm.TimeInForceSlots]uint32, error) {
	var out [twamm.TimeInForceSlots]uint32
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > twamm.TimeInForceSlots {
		return out, fmt.Errorf("at most %d tifs are supported, got %d", twamm.TimeInForceSlots, len(parts))
	}
	for i, part := range parts {
		value, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return out, fmt.Errorf("invalid tif %q", part)
		}
		out[i] = uint32(value)
	}
	return out, nil
}

func toUint32(name string, value uint) (uint32, error) {
	if value > math.MaxUint32 {
		return 0, fmt.Errorf("%s %d overflows u32", name, value)
	}
	return uint32(value), nil
}

// noExtraArgs fails when positional arguments follow the flags.
func noExtraArgs(fs *flag.FlagSet) error {
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}
