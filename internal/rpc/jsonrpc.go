package rpc

import (
	"encoding/json"
	"errors"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	// Task errors.
	ErrCodeTaskNotFound = -32001
	ErrCodeValidation   = -32002
	ErrCodeConflict     = -32003
)

// Method names.
const (
	MethodSubmitTask     = "tasks/submit"
	MethodGetTask        = "tasks/get"
	MethodListTasks      = "tasks/list"
	MethodRequestSummary = "summary/request"
	MethodAssessImpact   = "graph/impact"
)

// errorCode maps a handler error to its JSON-RPC code.
func errorCode(err error) int {
	var (
		nf *orchestrator.NotFoundError
		ve *orchestrator.ValidationError
		ce *orchestrator.ConflictError
	)
	switch {
	case errors.As(err, &nf):
		return ErrCodeTaskNotFound
	case errors.As(err, &ve):
		return ErrCodeValidation
	case errors.As(err, &ce):
		return ErrCodeConflict
	default:
		return ErrCodeInternal
	}
}
