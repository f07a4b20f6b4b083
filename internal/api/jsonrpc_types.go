package api

import (
	"encoding/json"

	"github.com/lucra/lucra-backend/internal/protoerr"
)

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// JSONRPCInstructionRejected carries a protocol rejection in Data.
	JSONRPCInstructionRejected = -32000
	// JSONRPCUnauthorized is a missing or mismatched request signature.
	JSONRPCUnauthorized = -32001
)

// Method names
const (
	MethodOriginate          = "lcr_originate"
	MethodAddCollateral      = "lcr_addCollateral"
	MethodClose              = "lcr_close"
	MethodDeterminePenalty   = "lcr_determinePenalty"
	MethodHarvestPenalty     = "lcr_harvestPenalty"
	MethodRecordPriceSample  = "lcr_recordPriceSample"
	MethodCreatePriceHistory = "lcr_createPriceHistory"
	MethodGetLoan            = "lcr_getLoan"
	MethodGetPriceHistory    = "lcr_getPriceHistory"
	MethodGetSystemState     = "lcr_getSystemState"
)

// SignedParams wraps every mutating call. Signature covers the method,
// Nonce, ExpiresAt and Payload exactly as sent. Nonce must grow with every
// call a signer makes.
type SignedParams struct {
	Signer    string          `json:"signer"`
	Signature string          `json:"signature"`
	Nonce     uint64          `json:"nonce"`
	ExpiresAt int64           `json:"expiresAt"`
	Payload   json.RawMessage `json:"payload"`
}

type OriginateParams struct {
	Loan            string `json:"loan"`
	Lamports        string `json:"lamports"`
	WithLockedStake bool   `json:"withLockedStake"`
}

type AddCollateralParams struct {
	Loan            string `json:"loan"`
	Lamports        string `json:"lamports"`
	StakeAmount     string `json:"stakeAmount,omitempty"`
	WithLockedStake bool   `json:"withLockedStake"`
}

type CloseParams struct {
	Loan            string `json:"loan"`
	Unstake         bool   `json:"unstake"`
	WithLockedStake bool   `json:"withLockedStake"`
}

type LoanParams struct {
	Loan string `json:"loan"`
}

type HarvestParams struct {
	Loan  string `json:"loan"`
	Venue string `json:"venue"`
}

// RejectionData explains a JSONRPCInstructionRejected error.
type RejectionData struct {
	Kind      string `json:"kind"`
	Component string `json:"component,omitempty"`
	Condition string `json:"condition,omitempty"`
}

func rejectionData(err error) (RejectionData, bool) {
	kind, ok := protoerr.KindOf(err)
	if !ok {
		return RejectionData{}, false
	}
	component, condition := protoerr.Tags(err)
	return RejectionData{Kind: kind.String(), Component: component, Condition: condition}, true
}
