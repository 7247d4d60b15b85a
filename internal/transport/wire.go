// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Message is the JSON-RPC 2.0 envelope exchanged with upstreams. It
// deliberately models request, response, and notification shapes in one
// struct (mirroring the wire format exactly) rather than three separate
// Go types, since a Transport must distinguish them by field presence at
// decode time, not by out-of-band context.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the standard JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewRequest builds a request-shaped Message.
func NewRequest(id any, method string, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewResult builds a success-response-shaped Message.
func NewResult(id any, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error-response-shaped Message.
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// IsResponse reports whether a raw decoded Message carries a result or
// error (as opposed to being a request/notification, which carries a
// method instead).
func (m *Message) IsResponse() bool {
	return m.Result != nil || m.Error != nil
}

// hasID does a cheap structural peek at raw JSON-RPC bytes to determine
// whether the frame carries a correlation id. handleInbound checks it
// after the typed decode, so frames without an id never reach the
// pending-table lookup.
func hasID(raw []byte) bool {
	return gjson.GetBytes(raw, "id").Exists()
}

// idKey normalizes a JSON-RPC id (string or number) into a stable map key
// for the pending-request table.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return "s:" + v
	case float64:
		return fmt.Sprintf("n:%v", v)
	case json.Number:
		return "n:" + v.String()
	default:
		return fmt.Sprintf("?:%v", v)
	}
}
