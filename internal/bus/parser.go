package bus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultEventName is the routing key assigned to a line that matches
// neither the JSON nor the colon format.
const DefaultEventName EventName = "default"

// jsonIngressForm is the shape accepted by the JSON wire format. Unknown
// fields are ignored by encoding/json's default decode behavior.
type jsonIngressForm struct {
	Msg       *string `json:"msg"`
	EventName *string `json:"event_name"`
}

// ParseIngressLine turns one non-empty ingress line into an IngressMessage,
// trying the JSON format, then the colon format, then falling back to the
// default event. Empty lines must be filtered by the caller before reaching
// here — the Ingress Listener's state machine never presents one.
func ParseIngressLine(line string) (IngressMessage, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONForm(line, trimmed)
	}
	if event, payload, ok := parseColonForm(line); ok {
		return IngressMessage{EventName: event, Payload: payload}, nil
	}
	return IngressMessage{EventName: DefaultEventName, Payload: line}, nil
}

func parseJSONForm(original, trimmed string) (IngressMessage, error) {
	var form jsonIngressForm
	if err := json.Unmarshal([]byte(trimmed), &form); err != nil {
		return IngressMessage{}, fmt.Errorf("%w: invalid JSON: %s", ErrParse, err)
	}
	if form.Msg == nil || form.EventName == nil {
		return IngressMessage{}, fmt.Errorf("%w: JSON message missing required field(s) \"msg\"/\"event_name\": %q", ErrParse, original)
	}
	event := EventName(*form.EventName)
	if err := event.Validate(); err != nil {
		return IngressMessage{}, fmt.Errorf("%w: %s", ErrParse, err)
	}
	return IngressMessage{EventName: event, Payload: *form.Msg}, nil
}

// parseColonForm splits "event_name:payload" on the first ':'. The payload
// may contain further ':' characters. Returns ok=false if there is no ':'
// or the candidate event name is invalid, so the caller falls through to
// the default format rather than erroring.
func parseColonForm(line string) (event EventName, payload string, ok bool) {
	name, rest, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	candidate := EventName(name)
	if candidate.Validate() != nil {
		return "", "", false
	}
	return candidate, rest, true
}
