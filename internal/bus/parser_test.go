package bus_test

import (
	"errors"
	"testing"

	"github.com/busline/busd/internal/bus"
)

func TestParseIngressLineColonForm(t *testing.T) {
	msg, err := bus.ParseIngressLine("greet:hello world")
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "greet" || msg.Payload != "hello world" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineColonFormEmptyPayload(t *testing.T) {
	msg, err := bus.ParseIngressLine("e:")
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "e" || msg.Payload != "" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineColonFormPayloadWithColons(t *testing.T) {
	msg, err := bus.ParseIngressLine("e:a:b:c")
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "e" || msg.Payload != "a:b:c" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineJSONForm(t *testing.T) {
	msg, err := bus.ParseIngressLine(`{"msg":"payload","event_name":"event_name"}`)
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "event_name" || msg.Payload != "payload" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineJSONAndColonFormsAgree(t *testing.T) {
	colon, err := bus.ParseIngressLine("event_name:payload")
	if err != nil {
		t.Fatal(err)
	}
	jsonForm, err := bus.ParseIngressLine(`{"msg":"payload","event_name":"event_name"}`)
	if err != nil {
		t.Fatal(err)
	}
	if colon != jsonForm {
		t.Fatalf("colon = %+v, json = %+v", colon, jsonForm)
	}
}

func TestParseIngressLineJSONWithExtraFields(t *testing.T) {
	msg, err := bus.ParseIngressLine(`{"msg":"payload","event_name":"e","extra":42,"nested":{"a":1}}`)
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "e" || msg.Payload != "payload" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineJSONMissingField(t *testing.T) {
	_, err := bus.ParseIngressLine(`{"msg":"payload"}`)
	if !errors.Is(err, bus.ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestParseIngressLineJSONInvalid(t *testing.T) {
	_, err := bus.ParseIngressLine(`{not valid json`)
	if !errors.Is(err, bus.ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestParseIngressLineColonFormWithBracePayloadIsNotJSON(t *testing.T) {
	// §9's resolved ambiguity: JSON is tried only when the *trimmed line*
	// starts with '{', so "e:{...}" is colon-form with a literal payload.
	msg, err := bus.ParseIngressLine(`e:{"msg":"x"}`)
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != "e" || msg.Payload != `{"msg":"x"}` {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineDefaultFormat(t *testing.T) {
	msg, err := bus.ParseIngressLine("hello")
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != bus.DefaultEventName || msg.Payload != "hello" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseIngressLineInvalidColonEventFallsThroughToDefault(t *testing.T) {
	// "has space:rest" has a ':' but the candidate event name "has space" is
	// invalid, so it falls through to the default format on the whole line.
	msg, err := bus.ParseIngressLine("has space:rest")
	if err != nil {
		t.Fatalf("ParseIngressLine: %v", err)
	}
	if msg.EventName != bus.DefaultEventName || msg.Payload != "has space:rest" {
		t.Fatalf("got %+v", msg)
	}
}
