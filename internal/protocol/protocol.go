// ABOUTME: Request/response envelopes and error codes for the daemon socket protocol
// ABOUTME: Responses are flat JSON objects with either success=true or an error string

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Local action names handled by the daemon itself.
const (
	ActionSpawnAgent    = "spawn_agent"
	ActionListAgents    = "list_agents"
	ActionAgentStatus   = "agent_status"
	ActionRegisterAgent = "register_agent"
	ActionSubmitTask    = "submit_task"
	ActionTaskStatus    = "task_status"
	ActionCancelTask    = "cancel_task"
	ActionListTasks     = "list_tasks"
	ActionWaitTask      = "wait_task"
	ActionPing          = "ping"
)

// Code classifies a failed response.
type Code string

const (
	CodeInvalidRequest    Code = "invalid_request"
	CodeInvalidAgent      Code = "invalid_agent"
	CodeUnknownCommand    Code = "unknown_command"
	CodePeerUnreachable   Code = "peer_unreachable"
	CodePeerProtocolError Code = "peer_protocol_error"
	CodeTaskNotFound      Code = "task_not_found"
	CodeInternal          Code = "internal"
)

var (
	// ErrInvalidRequest means the request was malformed or missing parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownCommand means the action or legacy verb is not recognised.
	ErrUnknownCommand = errors.New("unknown command")
)

// Request is one decoded client request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`

	// Legacy is set when the request was parsed from the colon-delimited text form.
	Legacy bool `json:"-"`
}

// Response is a flat result object. Success responses have "success": true
// plus payload keys; failures have "error" and "code".
type Response map[string]any

// Success builds a success response carrying the given payload keys.
// A "success" key in payload is overwritten.
func Success(payload map[string]any) Response {
	resp := make(Response, len(payload)+1)
	for k, v := range payload {
		resp[k] = v
	}
	resp["success"] = true
	return resp
}

// Failure builds an error response.
func Failure(code Code, message string) Response {
	return Response{
		"error": message,
		"code":  string(code),
	}
}

// Failuref builds an error response with a formatted message.
func Failuref(code Code, format string, args ...any) Response {
	return Failure(code, fmt.Sprintf(format, args...))
}

// OK reports whether the response is a success envelope.
func (r Response) OK() bool {
	v, _ := r["success"].(bool)
	return v
}

// Error returns the error message, or "" for success responses.
func (r Response) Error() string {
	v, _ := r["error"].(string)
	return v
}

// Code returns the failure code, or "" when none was set.
func (r Response) Code() Code {
	v, _ := r["code"].(string)
	return Code(v)
}

// WellFormed reports whether r is recognisably a response: it must carry
// either success=true or a non-empty error string.
func (r Response) WellFormed() bool {
	return r.OK() || r.Error() != ""
}

// DecodeRequest parses a structured JSON request. Numbers are kept as
// json.Number so integer parameters survive without float rounding.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := unmarshalNumbers(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Action == "" {
		return Request{}, fmt.Errorf("%w: missing required field: action", ErrInvalidRequest)
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	return req, nil
}

// DecodeResponse parses a response line.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := unmarshalNumbers(data, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("response is null")
	}
	return resp, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
