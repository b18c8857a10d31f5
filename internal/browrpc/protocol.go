// Package browrpc defines the wire protocol and in-band error vocabulary
// for the framed TCP command protocol: newline-delimited JSON, one object
// per line in each direction.
package browrpc

import "encoding/json"

// Request is one inbound command. Args holds the whole original JSON
// object as a raw message ("token" and "cmd" included), so each feature
// handler unmarshals only the command-specific fields it needs.
type Request struct {
	Token string          `json:"token"`
	Cmd   string          `json:"cmd"`
	Args  json.RawMessage `json:"-"`
	// Raw is the full decoded request object, used by handlers that want
	// named fields (e.g. sessionId on close) without a second pass.
	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes token/cmd normally and keeps the rest of the
// object addressable by field name via Raw.
func (r *Request) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Raw = obj
	if tok, ok := obj["token"]; ok {
		_ = json.Unmarshal(tok, &r.Token)
	}
	if cmd, ok := obj["cmd"]; ok {
		_ = json.Unmarshal(cmd, &r.Cmd)
	}
	r.Args = data
	return nil
}

// Field decodes a named top-level field of the request into v. Returns
// false if the field was absent.
func (r *Request) Field(name string, v any) bool {
	raw, ok := r.Raw[name]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false
	}
	return true
}

// Status values for Response.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is one outbound result. Exactly one line, newline-terminated,
// is ever written per accepted request.
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OK constructs a successful response.
func OK(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

// Errorf constructs an in-band error response carrying the given error
// taxonomy code (see errors.go).
func Errorf(code, message string) Response {
	return Response{Status: StatusError, Message: message, Code: code}
}
