package ethrpc

import (
	"encoding/json"
	"strconv"
)

const jsonRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request envelope. ID and Params are kept raw so a
// proxied request reaches the node byte-for-byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// NewRequest builds a request for method with positional params and no id.
func NewRequest(method string, params ...any) (Request, error) {
	if params == nil {
		params = []any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: jsonRPCVersion, Method: method, Params: encoded}, nil
}

// Normalize fills the envelope fields a caller may omit: the protocol version,
// an empty parameter list and, when absent, the id produced by nextID.
func Normalize(req Request, nextID func() uint64) Request {
	req.JSONRPC = jsonRPCVersion
	if isNull(req.Params) {
		req.Params = json.RawMessage("[]")
	}
	if isNull(req.ID) && nextID != nil {
		req.ID = json.RawMessage(strconv.FormatUint(nextID(), 10))
	}
	return req
}
