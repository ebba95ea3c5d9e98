package apiserver

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/methods"
)

func decodeTransaction(t *testing.T, encoded string) *solana.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestPlaceOrderReturnsUnsignedTransaction(t *testing.T) {
	owner, pair := newKey(), newKey()
	builder := &fakeBuilder{placed: methods.PlacedOrder{Order: newKey(), CurrentPool: newKey(), TargetPool: newKey()}}
	svc := newTestService(&fakeStore{}, &fakeChain{}, builder)

	body := fmt.Sprintf(`{"owner":%q,"tokenPair":%q,"side":"sell","tif":300,"scheduled":true,"amount":1000}`, owner, pair)
	rec := serve(svc, http.MethodPost, "/api/v1/tx/place-order", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, methods.PlaceOrderInput{
		Owner:       owner,
		TokenPair:   pair,
		Side:        twamm.OrderSide_Sell,
		TimeInForce: 300,
		Scheduled:   true,
		Amount:      1000,
	}, builder.placeIn)
	assert.Equal(t, owner, builder.payer)

	type placed struct {
		Transaction string           `json:"transaction"`
		Order       solana.PublicKey `json:"order"`
		TargetPool  solana.PublicKey `json:"targetPool"`
	}
	got := decodeBody[placed](t, rec)
	assert.Equal(t, builder.placed.Order, got.Order)
	assert.Equal(t, builder.placed.TargetPool, got.TargetPool)

	tx := decodeTransaction(t, got.Transaction)
	require.Len(t, tx.Signatures, 1, "one zeroed slot for the owner")
	assert.Equal(t, solana.Signature{}, tx.Signatures[0])
	assert.Equal(t, owner, tx.Message.AccountKeys[0])
}

func TestPlaceOrderRejectsBadRequests(t *testing.T) {
	owner, pair := newKey(), newKey()
	valid := fmt.Sprintf(`{"owner":%q,"tokenPair":%q,"side":"buy","tif":300,"amount":5}`, owner, pair)

	tests := []struct {
		name     string
		body     string
		buildErr error
		wantCode int
	}{
		{"unknown field", fmt.Sprintf(`{"owner":%q,"tokenPair":%q,"amount":5,"slippage":1}`, owner, pair), nil, http.StatusBadRequest},
		{"bad side", fmt.Sprintf(`{"owner":%q,"tokenPair":%q,"side":"long","amount":5}`, owner, pair), nil, http.StatusBadRequest},
		{"zero amount", fmt.Sprintf(`{"owner":%q,"tokenPair":%q,"side":"buy","tif":300}`, owner, pair), nil, http.StatusBadRequest},
		{"missing owner", fmt.Sprintf(`{"tokenPair":%q,"amount":5}`, pair), nil, http.StatusBadRequest},
		{"two values", valid + valid, nil, http.StatusBadRequest},
		{"unknown tif", valid, fmt.Errorf("%w: 300", methods.ErrUnknownTimeInForce), http.StatusBadRequest},
		{"rpc failure", valid, fmt.Errorf("load token pair: %w", assert.AnError), http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(&fakeStore{}, &fakeChain{}, &fakeBuilder{placeErr: tc.buildErr})
			rec := serve(svc, http.MethodPost, "/api/v1/tx/place-order", tc.body)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
		})
	}

	svc := newTestService(&fakeStore{}, &fakeChain{}, &fakeBuilder{})
	assert.Equal(t, http.StatusMethodNotAllowed, serve(svc, http.MethodGet, "/api/v1/tx/place-order", "").Code)
}

func TestCancelOrderDefaultsPayerToOwner(t *testing.T) {
	owner, order := newKey(), newKey()
	builder := &fakeBuilder{}
	svc := newTestService(&fakeStore{}, &fakeChain{}, builder)

	rec := serve(svc, http.MethodPost, "/api/v1/tx/cancel-order", fmt.Sprintf(`{"owner":%q,"order":%q}`, owner, order))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, owner, builder.payer)
	assert.Zero(t, builder.cancelIn.LpAmount, "zero is passed through as withdraw all")

	got := decodeBody[cancelOrderResponse](t, rec)
	assert.Equal(t, order, got.Order)
	assert.Equal(t, owner, got.Payer)
	assert.NotEmpty(t, got.Transaction)
}

func TestCancelOrderMapsErrors(t *testing.T) {
	owner, order := newKey(), newKey()
	body := fmt.Sprintf(`{"owner":%q,"order":%q,"lpAmount":10}`, owner, order)

	builder := &fakeBuilder{cancelErr: fmt.Errorf("%w: order belongs to someone else", methods.ErrNotOrderOwner)}
	svc := newTestService(&fakeStore{}, &fakeChain{}, builder)
	assert.Equal(t, http.StatusForbidden, serve(svc, http.MethodPost, "/api/v1/tx/cancel-order", body).Code)

	assert.Equal(t, http.StatusBadRequest, serve(svc, http.MethodPost, "/api/v1/tx/cancel-order", fmt.Sprintf(`{"owner":%q}`, owner)).Code)
}
