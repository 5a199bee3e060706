package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/porter/internal/porterr"
)

// JSON-RPC error codes. The standard five are JSON-RPC 2.0's own; Porter's
// custom range (-32000 to -32099) maps 1:1 onto porterr.Kind rather than
// the teacher's MCP-specific set (ServerNotFound/NamespaceNotFound/etc.) —
// Porter has no namespace concept and no on-demand server start, so those
// particular codes have no equivalent here.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	ErrCodeDuplicateSlug         = -32000
	ErrCodeInvalidConfig         = -32001
	ErrCodeInitializationFailed  = -32002
	ErrCodeServerUnhealthy       = -32003
	ErrCodeProtocol              = -32004
	ErrCodeTransport             = -32005
	ErrCodeCallTimeout           = -32006
	ErrCodeShuttingDown          = -32007
	ErrCodeHelpParseFailed       = -32008
	ErrCodeHelpTimeout           = -32009
	ErrCodeAccessDenied          = -32010
	ErrCodeDiscoveryTimeout      = -32011
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError, marshaling data (if non-nil) into Data.
func NewRPCError(code int, message string, data any) *RPCError {
	err := &RPCError{Code: code, Message: message}
	if data != nil {
		if b, marshalErr := json.Marshal(data); marshalErr == nil {
			err.Data = b
		}
	}
	return err
}

func ErrParseError(detail string) *RPCError {
	return NewRPCError(ErrCodeParseError, "Parse error: "+detail, nil)
}

func ErrInvalidRequest(detail string) *RPCError {
	return NewRPCError(ErrCodeInvalidRequest, "Invalid Request: "+detail, nil)
}

func ErrMethodNotFound(method string) *RPCError {
	return NewRPCError(ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), nil)
}

func ErrInvalidParams(detail string) *RPCError {
	return NewRPCError(ErrCodeInvalidParams, "Invalid params: "+detail, nil)
}

func ErrInternalError(detail string) *RPCError {
	return NewRPCError(ErrCodeInternalError, "Internal error: "+detail, nil)
}

// rpcCodeFor maps a porterr.Kind to Porter's custom JSON-RPC code range.
func rpcCodeFor(kind porterr.Kind) int {
	switch kind {
	case porterr.DuplicateSlug:
		return ErrCodeDuplicateSlug
	case porterr.InvalidConfig:
		return ErrCodeInvalidConfig
	case porterr.InitializationFailed:
		return ErrCodeInitializationFailed
	case porterr.ServerUnhealthy:
		return ErrCodeServerUnhealthy
	case porterr.Protocol:
		return ErrCodeProtocol
	case porterr.Transport:
		return ErrCodeTransport
	case porterr.CallTimeout:
		return ErrCodeCallTimeout
	case porterr.ShuttingDown:
		return ErrCodeShuttingDown
	case porterr.HelpParseFailed:
		return ErrCodeHelpParseFailed
	case porterr.HelpTimeout:
		return ErrCodeHelpTimeout
	case porterr.AccessDenied:
		return ErrCodeAccessDenied
	case porterr.DiscoveryTimeout:
		return ErrCodeDiscoveryTimeout
	default:
		return ErrCodeInternalError
	}
}

// errToRPC converts any error returned by the registry into an RPCError.
// A *porterr.Error gets the JSON-RPC code for its Kind and its message
// text, with no Data attached; any other error becomes a bare internal
// error.
func errToRPC(err error) *RPCError {
	kind, ok := porterr.KindOf(err)
	if !ok {
		return ErrInternalError(err.Error())
	}
	return NewRPCError(rpcCodeFor(kind), err.Error(), nil)
}
