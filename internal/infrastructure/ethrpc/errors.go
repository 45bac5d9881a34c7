package ethrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when the forwarder's own deadline elapses before the
// upstream answered.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError wraps a network failure that prevented a response from being obtained.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx HTTP answer from a reachable endpoint.
type UpstreamError struct {
	StatusCode int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("rpc upstream: %d %s", e.StatusCode, e.StatusText)
}

// ProtocolError means the response body was not a decodable JSON-RPC envelope.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RPCError is a JSON-RPC error object returned by the remote method. Raw holds
// the object exactly as received.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
	Raw     json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCError(raw json.RawMessage) *RPCError {
	rpcErr := &RPCError{Raw: append(json.RawMessage(nil), raw...)}
	var decoded struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		rpcErr.Message = string(raw)
		return rpcErr
	}
	rpcErr.Code = decoded.Code
	rpcErr.Message = decoded.Message
	if !isNull(decoded.Data) {
		rpcErr.Data = decoded.Data
	}
	return rpcErr
}

// IsRetryable reports whether err is a timeout or transport failure, the two
// kinds where resending the same request may succeed.
func IsRetryable(err error) bool {
	var timeoutErr *TimeoutError
	var transportErr *TransportError
	return errors.As(err, &timeoutErr) || errors.As(err, &transportErr)
}

// ErrorKind names the taxonomy member of err, for logs and span attributes.
func ErrorKind(err error) string {
	var (
		timeoutErr   *TimeoutError
		transportErr *TransportError
		upstreamErr  *UpstreamError
		protocolErr  *ProtocolError
		rpcErr       *RPCError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &upstreamErr):
		return "upstream"
	case errors.As(err, &protocolErr):
		return "protocol"
	case errors.As(err, &rpcErr):
		return "rpc"
	default:
		return "unknown"
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
