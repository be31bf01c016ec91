// ABOUTME: Normalizes structured JSON and legacy "verb:arg" text into one Request form
// ABOUTME: Only spawn, list and ask have a legacy spelling

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Legacy verbs accepted in the colon-delimited text form.
const (
	VerbSpawn = "spawn"
	VerbList  = "list"
	VerbAsk   = "ask"
)

// Normalize decodes one message in either syntax. A JSON object is a
// structured request; a JSON string or bare text is the legacy form.
func Normalize(data []byte) (Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Request{}, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}

	switch trimmed[0] {
	case '{':
		return DecodeRequest(trimmed)
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return ParseLegacy(text)
	case '[':
		return Request{}, fmt.Errorf("%w: request must be an object or command string", ErrInvalidRequest)
	default:
		return ParseLegacy(string(trimmed))
	}
}

// ParseLegacy parses "<verb>" or "<verb>:<arg>". Only the first colon
// separates verb from argument, so arguments may contain colons.
func ParseLegacy(text string) (Request, error) {
	text = strings.TrimSpace(text)
	verb, arg, hasArg := strings.Cut(text, ":")
	verb = strings.ToLower(strings.TrimSpace(verb))
	arg = strings.TrimSpace(arg)

	if verb == "" {
		return Request{}, fmt.Errorf("%w: missing command verb", ErrInvalidRequest)
	}

	switch verb {
	case VerbSpawn:
		if arg == "" {
			return Request{}, fmt.Errorf("%w: usage: spawn:<agent_id>", ErrInvalidRequest)
		}
		return Request{
			Action: ActionSpawnAgent,
			Params: map[string]any{"agent_id": arg},
			Legacy: true,
		}, nil

	case VerbList:
		params := map[string]any{}
		if hasArg && arg != "" {
			params["category"] = arg
		}
		return Request{Action: ActionListAgents, Params: params, Legacy: true}, nil

	case VerbAsk:
		if arg == "" {
			return Request{}, fmt.Errorf("%w: usage: ask:<prompt>", ErrInvalidRequest)
		}
		return Request{
			Action: ActionSubmitTask,
			Params: map[string]any{"prompt": arg, "task_type": "ask"},
			Legacy: true,
		}, nil

	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}
}
