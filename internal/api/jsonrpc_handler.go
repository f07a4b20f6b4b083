package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/auth"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/engine"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const maxRequestBody = 64 << 10

// rpcError is a JSON-RPC failure raised inside a method.
type rpcError struct {
	code    int
	message string
	data    interface{}
}

func (e *rpcError) Error() string { return e.message }

func invalidParams(format string, args ...interface{}) *rpcError {
	return &rpcError{code: JSONRPCInvalidParams, message: "Invalid params", data: fmt.Sprintf(format, args...)}
}

type rpcMethod func(ctx context.Context, params json.RawMessage) (interface{}, error)

// signedMethod receives the verified signer and the raw payload.
type signedMethod func(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error)

func (h *Handler) methods() map[string]rpcMethod {
	return map[string]rpcMethod{
		MethodOriginate:          h.signed(MethodOriginate, h.rpcOriginate),
		MethodAddCollateral:      h.signed(MethodAddCollateral, h.rpcAddCollateral),
		MethodClose:              h.signed(MethodClose, h.rpcClose),
		MethodDeterminePenalty:   h.signed(MethodDeterminePenalty, h.rpcDeterminePenalty),
		MethodHarvestPenalty:     h.signed(MethodHarvestPenalty, h.rpcHarvestPenalty),
		MethodRecordPriceSample:  h.signed(MethodRecordPriceSample, h.rpcRecordPriceSample),
		MethodCreatePriceHistory: h.signed(MethodCreatePriceHistory, h.rpcCreatePriceHistory),
		MethodGetLoan:            h.rpcGetLoan,
		MethodGetPriceHistory:    h.rpcGetPriceHistory,
		MethodGetSystemState:     h.rpcGetSystemState,
	}
}

// HandleJSONRPC handles JSON-RPC 2.0 requests
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.sendJSONRPCError(w, r, nil, &rpcError{code: JSONRPCParseError, message: "Parse error", data: err.Error()})
		return
	}

	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, r, req.ID, &rpcError{code: JSONRPCInvalidRequest, message: "Invalid Request", data: "jsonrpc must be '2.0'"})
		return
	}

	method, ok := h.methods()[req.Method]
	if !ok {
		h.sendJSONRPCError(w, r, req.ID, &rpcError{code: JSONRPCMethodNotFound, message: "Method not found", data: fmt.Sprintf("Method '%s' not found", req.Method)})
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		h.sendJSONRPCError(w, r, req.ID, h.toRPCError(req.Method, err))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	h.record(r, req.Method, http.StatusOK, time.Since(start))
}

func (h *Handler) toRPCError(method string, err error) *rpcError {
	var re *rpcError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, protoerr.AccountNotSigner) {
		data, _ := rejectionData(err)
		return &rpcError{code: JSONRPCUnauthorized, message: "Unauthorized", data: data}
	}
	if data, ok := rejectionData(err); ok {
		return &rpcError{code: JSONRPCInstructionRejected, message: "Instruction rejected", data: data}
	}
	h.logger.Errorw("JSON-RPC method failed", "method", method, "error", err)
	return &rpcError{code: JSONRPCInternalError, message: "Internal error"}
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, r *http.Request, id interface{}, e *rpcError) {
	errorResp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    e.code,
			Message: e.message,
			Data:    e.data,
		},
	}

	w.WriteHeader(http.StatusOK) // JSON-RPC errors are sent with HTTP 200
	json.NewEncoder(w).Encode(errorResp)

	h.record(r, r.URL.Path, http.StatusBadRequest, 0)
}

func (h *Handler) record(r *http.Request, path string, status int, d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, path, status, d)
	}
}

// signed unwraps a SignedParams envelope and verifies it before calling fn.
func (h *Handler) signed(name string, fn signedMethod) rpcMethod {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var env SignedParams
		if err := json.Unmarshal(params, &env); err != nil {
			return nil, invalidParams("%v", err)
		}
		signer, err := address.Parse(env.Signer)
		if err != nil {
			return nil, invalidParams("signer: %v", err)
		}
		if len(env.Payload) == 0 {
			env.Payload = json.RawMessage("{}")
		}
		req := auth.Request{Method: name, Nonce: env.Nonce, ExpiresAt: env.ExpiresAt, Payload: env.Payload}
		if err := h.verifier.Verify(ctx, req, signer, env.Signature); err != nil {
			return nil, err
		}
		return fn(ctx, signer, env.Payload)
	}
}

func decodePayload(payload json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

func parseLoan(s string) (address.Address, error) {
	addr, err := address.Parse(s)
	if err != nil {
		return address.Zero, invalidParams("loan: %v", err)
	}
	return addr, nil
}

func (h *Handler) rpcOriginate(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error) {
	var p OriginateParams
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	lamports, err := calc.ParseAmount(p.Lamports, "originate")
	if err != nil {
		return nil, invalidParams("lamports: %v", err)
	}
	return h.engine.Originate(ctx, engine.OriginateRequest{
		Owner:           signer,
		Loan:            loanAddr,
		Lamports:        lamports,
		WithLockedStake: p.WithLockedStake,
	})
}

func (h *Handler) rpcAddCollateral(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error) {
	var p AddCollateralParams
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	lamports, err := calc.ParseAmount(p.Lamports, "add_collateral")
	if err != nil {
		return nil, invalidParams("lamports: %v", err)
	}
	stake, err := calc.ParseOptionalAmount(p.StakeAmount, "add_collateral")
	if err != nil {
		return nil, invalidParams("stakeAmount: %v", err)
	}
	a, err := h.engine.AddCollateral(ctx, engine.AddCollateralRequest{
		Owner:           signer,
		Loan:            loanAddr,
		Lamports:        lamports,
		StakeAmount:     stake,
		WithLockedStake: p.WithLockedStake,
	})
	if err != nil {
		return nil, err
	}
	return loanDTO(loanAddr, a), nil
}

func (h *Handler) rpcClose(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error) {
	var p CloseParams
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	return h.engine.Close(ctx, engine.CloseRequest{
		Owner:           signer,
		Loan:            loanAddr,
		Unstake:         p.Unstake,
		WithLockedStake: p.WithLockedStake,
	})
}

func (h *Handler) rpcDeterminePenalty(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error) {
	var p LoanParams
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	return h.engine.DeterminePenalty(ctx, engine.DeterminePenaltyRequest{Caller: signer, Loan: loanAddr})
}

func (h *Handler) rpcHarvestPenalty(ctx context.Context, signer address.Address, payload json.RawMessage) (interface{}, error) {
	var p HarvestParams
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	venue, err := oracle.ParseVenue(p.Venue)
	if err != nil {
		return nil, invalidParams("venue: %v", err)
	}
	return h.engine.HarvestPenalty(ctx, engine.HarvestRequest{Caller: signer, Loan: loanAddr, Venue: venue})
}

func (h *Handler) rpcRecordPriceSample(ctx context.Context, signer address.Address, _ json.RawMessage) (interface{}, error) {
	return h.engine.RecordPriceSample(ctx, signer)
}

func (h *Handler) rpcCreatePriceHistory(ctx context.Context, signer address.Address, _ json.RawMessage) (interface{}, error) {
	if err := h.engine.CreatePriceHistory(ctx, signer); err != nil {
		return nil, err
	}
	hist, err := h.engine.History(ctx)
	if err != nil {
		return nil, err
	}
	return PriceHistoryDTO{History: hist, Params: h.engine.HistoryParams(), Entries: hist.Entries()}, nil
}

func (h *Handler) rpcGetLoan(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LoanParams
	if err := decodePayload(params, &p); err != nil {
		return nil, err
	}
	loanAddr, err := parseLoan(p.Loan)
	if err != nil {
		return nil, err
	}
	rec, err := h.engine.Loan(ctx, loanAddr)
	if err != nil {
		return nil, err
	}
	return loanDTO(loanAddr, rec), nil
}

func (h *Handler) rpcGetPriceHistory(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	hist, err := h.engine.History(ctx)
	if err != nil {
		return nil, err
	}
	return PriceHistoryDTO{History: hist, Params: h.engine.HistoryParams(), Entries: hist.Entries()}, nil
}

func (h *Handler) rpcGetSystemState(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	state, err := h.engine.System(ctx)
	if err != nil {
		return nil, err
	}
	return SystemDTO{State: state, AsOf: h.now()}, nil
}
