package apiserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/twamm-labs/twamm/backend/internal/methods"
)

type placeOrderResponse struct {
	Transaction string `json:"transaction"`
	methods.PlacedOrder
}

type cancelOrderResponse struct {
	Transaction string           `json:"transaction"`
	Order       solana.PublicKey `json:"order"`
	Payer       solana.PublicKey `json:"payer"`
}

func (s *Service) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	var in methods.PlaceOrderInput
	if err := decodeJSONBody(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case in.Owner.IsZero():
		s.respondError(w, http.StatusBadRequest, "owner is required")
		return
	case in.TokenPair.IsZero():
		s.respondError(w, http.StatusBadRequest, "tokenPair is required")
		return
	case in.Amount == 0:
		s.respondError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	placed, err := s.builder.PlaceOrderInstruction(r.Context(), in)
	if err != nil {
		s.respondBuildError(w, r, "build place order", err)
		return
	}
	encoded, err := s.unsignedTransaction(r, in.Owner, placed.Instruction)
	if err != nil {
		s.respondChainError(w, r, "build transaction", err)
		return
	}
	s.requestLogger(r).Info("place order transaction built", "owner", in.Owner, "order", placed.Order, "target_pool", placed.TargetPool)
	s.respondJSON(w, http.StatusOK, placeOrderResponse{Transaction: encoded, PlacedOrder: placed})
}

func (s *Service) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	var in methods.CancelOrderInput
	if err := decodeJSONBody(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Owner.IsZero() {
		s.respondError(w, http.StatusBadRequest, "owner is required")
		return
	}
	if in.Order.IsZero() {
		s.respondError(w, http.StatusBadRequest, "order is required")
		return
	}
	payer := in.Payer
	if payer.IsZero() {
		payer = in.Owner
	}

	ix, err := s.builder.CancelOrderInstruction(r.Context(), in)
	if err != nil {
		s.respondBuildError(w, r, "build cancel order", err)
		return
	}
	encoded, err := s.unsignedTransaction(r, payer, ix)
	if err != nil {
		s.respondChainError(w, r, "build transaction", err)
		return
	}
	s.requestLogger(r).Info("cancel order transaction built", "owner", in.Owner, "order", in.Order, "lp_amount", in.LpAmount)
	s.respondJSON(w, http.StatusOK, cancelOrderResponse{Transaction: encoded, Order: in.Order, Payer: payer})
}

// unsignedTransaction encodes a transaction with zeroed signature slots, the
// wire form wallets expect to deserialize and sign.
func (s *Service) unsignedTransaction(r *http.Request, payer solana.PublicKey, instructions ...solana.Instruction) (string, error) {
	tx, err := s.builder.BuildUnsigned(r.Context(), payer, instructions...)
	if err != nil {
		return "", err
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (s *Service) respondBuildError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, methods.ErrUnknownTimeInForce):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, methods.ErrNotOrderOwner):
		s.respondError(w, http.StatusForbidden, err.Error())
	default:
		s.respondChainError(w, r, action, err)
	}
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}
