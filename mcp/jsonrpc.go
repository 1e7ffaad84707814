package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spetersoncode/hanabi"
)

const jsonrpcVersion = "2.0"

// JSONRPCMessage is one JSON-RPC 2.0 request, notification or response.
// ID is kept raw so string and numeric ids round-trip unchanged.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *hanabi.RPCError `json:"error,omitempty"`
}

// IsRequest reports whether m expects a response.
func (m JSONRPCMessage) IsRequest() bool { return m.Method != "" && hasID(m.ID) }

// IsNotification reports whether m is a fire-and-forget call.
func (m JSONRPCMessage) IsNotification() bool { return m.Method != "" && !hasID(m.ID) }

// IsResponse reports whether m answers an earlier request.
func (m JSONRPCMessage) IsResponse() bool { return m.Method == "" && hasID(m.ID) }

// IDKey returns a comparable form of the id.
func (m JSONRPCMessage) IDKey() string { return string(bytes.TrimSpace(m.ID)) }

func hasID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// NewRequest builds a request with a numeric id.
func NewRequest(id int64, method string, params any) (JSONRPCMessage, error) {
	msg, err := NewNotification(method, params)
	if err != nil {
		return msg, err
	}
	msg.ID = json.RawMessage(fmt.Sprintf("%d", id))
	return msg, nil
}

// NewNotification builds a notification.
func NewNotification(method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{JSONRPC: jsonrpcVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return msg, fmt.Errorf("marshal %s params: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewResult builds a successful response to the request with the given id.
func NewResult(id json.RawMessage, result any) (JSONRPCMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return JSONRPCMessage{}, err
	}
	return JSONRPCMessage{JSONRPC: jsonrpcVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, code int, message string) JSONRPCMessage {
	return JSONRPCMessage{JSONRPC: jsonrpcVersion, ID: id, Error: &hanabi.RPCError{Code: code, Message: message}}
}

// ParseMessage decodes and shape-checks a single JSON-RPC message.
// Failures are *hanabi.ProtocolError.
func ParseMessage(data []byte) (JSONRPCMessage, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, &hanabi.ProtocolError{Msg: "invalid JSON: " + err.Error(), Raw: data}
	}
	if err := validate(msg); err != nil {
		return msg, &hanabi.ProtocolError{Msg: err.Error(), Raw: data}
	}
	return msg, nil
}

// ParseBatch decodes a body holding one message or an array of them.
// Invalid elements are reported in errs and dropped from msgs.
func ParseBatch(data []byte) (msgs []JSONRPCMessage, errs []error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '[' {
		msg, err := ParseMessage(data)
		if err != nil {
			return nil, []error{err}
		}
		return []JSONRPCMessage{msg}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, []error{&hanabi.ProtocolError{Msg: "invalid JSON batch: " + err.Error(), Raw: data}}
	}
	for _, e := range elems {
		msg, err := ParseMessage(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

func validate(m JSONRPCMessage) error {
	switch {
	case m.JSONRPC == "":
		return fmt.Errorf("missing jsonrpc field")
	case m.JSONRPC != jsonrpcVersion:
		return fmt.Errorf("unsupported jsonrpc version %q", m.JSONRPC)
	case m.Method != "":
		return nil
	case !hasID(m.ID) && m.Error == nil:
		return fmt.Errorf("message has neither method nor id")
	case m.Result == nil && m.Error == nil:
		return fmt.Errorf("response has neither result nor error")
	}
	return nil
}
