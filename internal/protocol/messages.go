package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire message kinds.
const (
	TypeMethod = "method"
	TypeReply  = "reply"
	TypeEvent  = "event"
)

// PushStyle names the fields a server uses for unsolicited messages.
type PushStyle struct {
	Type         string
	NameField    string
	PayloadField string
}

// ChatPushes is {"type":"event","event":...,"data":{...}}.
var ChatPushes = PushStyle{Type: TypeEvent, NameField: "event", PayloadField: "data"}

// MethodPushes is {"type":"method","method":...,"params":{...}}.
var MethodPushes = PushStyle{Type: TypeMethod, NameField: "method", PayloadField: "params"}

// MethodMessage is an outbound call. Exactly one of Params or Arguments is set.
type MethodMessage struct {
	Type      string        `json:"type"`
	Method    string        `json:"method"`
	Params    interface{}   `json:"params,omitempty"`
	Arguments []interface{} `json:"arguments,omitempty"`
	ID        uint32        `json:"id"`
	Discard   bool          `json:"discard,omitempty"`
}

// Reply is an inbound response to a MethodMessage. Interactive servers carry the
// body in "result", chat servers in "data"; Body returns whichever is present.
type Reply struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// Body returns the reply payload, or nil.
func (r *Reply) Body() json.RawMessage {
	if !IsNull(r.Result) {
		return r.Result
	}
	if !IsNull(r.Data) {
		return r.Data
	}
	return nil
}

// Decode unmarshals the reply body into v. An empty body is not an error.
func (r *Reply) Decode(v interface{}) error {
	body := r.Body()
	if body == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}

// Err returns the reply error as an error, or nil.
func (r *Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// ReplyError is the error part of a reply. Chat servers send a bare string,
// interactive servers send {code, message, path}.
type ReplyError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (e *ReplyError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("reply error %d: %s", e.Code, e.Message)
	}
	return "reply error: " + e.Message
}

func (e *ReplyError) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &e.Message)
	}
	type plain ReplyError
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = ReplyError(p)
	return nil
}

// IsNull reports whether a raw payload is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
