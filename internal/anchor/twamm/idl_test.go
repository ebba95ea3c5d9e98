package twamm

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"testing"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idlAccountMeta struct {
	Name     string `json:"name"`
	IsMut    bool   `json:"isMut"`
	IsSigner bool   `json:"isSigner"`
}

type idlDocument struct {
	Instructions []struct {
		Name     string           `json:"name"`
		Accounts []idlAccountMeta `json:"accounts"`
	} `json:"instructions"`
	Accounts []struct {
		Name string `json:"name"`
		Type struct {
			Fields []struct {
				Name string `json:"name"`
			} `json:"fields"`
		} `json:"type"`
	} `json:"accounts"`
}

func loadIDL(t *testing.T) idlDocument {
	t.Helper()
	raw, err := os.ReadFile("idl/twamm.json")
	require.NoError(t, err)
	var doc idlDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func TestIDLInstructionsMatchDiscriminators(t *testing.T) {
	want := map[string][8]byte{
		"init":              Instruction_Init,
		"setAdminSigners":   Instruction_SetAdminSigners,
		"setFees":           Instruction_SetFees,
		"setPermissions":    Instruction_SetPermissions,
		"setCrankAuthority": Instruction_SetCrankAuthority,
		"setTimeInForce":    Instruction_SetTimeInForce,
		"setLimits":         Instruction_SetLimits,
		"setOracleConfig":   Instruction_SetOracleConfig,
		"initTokenPair":     Instruction_InitTokenPair,
		"withdrawFees":      Instruction_WithdrawFees,
		"placeOrder":        Instruction_PlaceOrder,
		"cancelOrder":       Instruction_CancelOrder,
		"settle":            Instruction_Settle,
	}
	doc := loadIDL(t)
	require.Len(t, doc.Instructions, len(want))
	for _, ix := range doc.Instructions {
		disc, ok := want[ix.Name]
		require.True(t, ok, ix.Name)
		assert.Equal(t, disc, instructionDiscriminator(snakeCase(ix.Name)), ix.Name)
	}
}

func TestIDLAccountFieldsMatchLayouts(t *testing.T) {
	layouts := map[string]reflect.Type{
		"Multisig":  reflect.TypeOf(Multisig{}),
		"TokenPair": reflect.TypeOf(TokenPair{}),
		"Pool":      reflect.TypeOf(Pool{}),
		"Order":     reflect.TypeOf(Order{}),
	}
	for _, account := range loadIDL(t).Accounts {
		layout, ok := layouts[account.Name]
		require.True(t, ok, account.Name)
		require.Equal(t, layout.NumField(), len(account.Type.Fields), account.Name)
		for i, field := range account.Type.Fields {
			assert.Equal(t, field.Name, layout.Field(i).Tag.Get("json"), "%s field %d", account.Name, i)
		}
	}
}

func assertMetasFollowIDL(t *testing.T, doc idlDocument, name string, ix solana.Instruction) {
	t.Helper()
	for _, entry := range doc.Instructions {
		if entry.Name != name {
			continue
		}
		metas := ix.Accounts()
		require.Len(t, metas, len(entry.Accounts), name)
		for i, want := range entry.Accounts {
			assert.Equal(t, want.IsMut, metas[i].IsWritable, "%s %s writable", name, want.Name)
			assert.Equal(t, want.IsSigner, metas[i].IsSigner, "%s %s signer", name, want.Name)
		}
		return
	}
	t.Fatalf("instruction %s missing from idl", name)
}

func TestIDLAccountMetasMatchBuilders(t *testing.T) {
	doc := loadIDL(t)

	place, err := NewPlaceOrderInstruction(PlaceOrderParams{Side: OrderSide_Buy, TimeInForce: 300, Amount: 1}, PlaceOrderAccounts{
		Owner:             newKey(),
		UserAccountTokenA: newKey(),
		UserAccountTokenB: newKey(),
		TokenPair:         newKey(),
		CustodyTokenA:     newKey(),
		CustodyTokenB:     newKey(),
		Order:             newKey(),
		CurrentPool:       newKey(),
		TargetPool:        newKey(),
		MintTokenA:        newKey(),
		MintTokenB:        newKey(),
	})
	require.NoError(t, err)
	assertMetasFollowIDL(t, doc, "placeOrder", place)

	cancel, err := NewCancelOrderInstruction(CancelOrderParams{LpAmount: 1}, CancelOrderAccounts{
		Payer:             newKey(),
		Owner:             newKey(),
		UserAccountTokenA: newKey(),
		UserAccountTokenB: newKey(),
		TokenPair:         newKey(),
		TransferAuthority: newKey(),
		CustodyTokenA:     newKey(),
		CustodyTokenB:     newKey(),
		Order:             newKey(),
		Pool:              newKey(),
	})
	require.NoError(t, err)
	assertMetasFollowIDL(t, doc, "cancelOrder", cancel)
}
