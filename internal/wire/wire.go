// Package wire encodes and classifies the payloads carried on the live and
// history topics.
//
// The history topic carries both data messages and the history request
// trigger. Payloads are classified by shape, never by topic:
//
//	{"plate_text": "1-ABC-234", "timestamp": 1773478800.0}   data
//	request_history                                          control (plain text)
//	{"type": "control", "command": "request_history"}        control (envelope)
//	{"type": "data", "payload": {...}}                       data (envelope)
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/crimson-sun/platewatch/internal/model"
)

// RequestHistory is the control command asking for a full ledger replay.
const RequestHistory = "request_history"

const (
	envelopeData    = "data"
	envelopeControl = "control"
)

// Kind classifies a decoded payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindData
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Message is a classified payload. For data messages RawTimestamp holds the
// timestamp as it appeared on the wire and TimestampOK reports whether it
// parsed as seconds since epoch.
type Message struct {
	Kind         Kind
	Event        model.TransitionEvent
	RawTimestamp string
	TimestampOK  bool
	Command      string
}

// Envelope is the tagged form of a message.
type Envelope struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent returns the JSON data message for e.
func EncodeEvent(e model.TransitionEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wire: encode event: %w", err)
	}
	return data, nil
}

// EncodeControl returns a control payload. Plain payloads are the bare
// command string; tagged payloads use the envelope.
func EncodeControl(command string, tagged bool) []byte {
	if !tagged {
		return []byte(command)
	}
	data, _ := json.Marshal(Envelope{Type: envelopeControl, Command: command})
	return data
}

// Decode classifies payload. It never fails: anything unrecognized is
// KindUnknown.
func Decode(payload []byte) Message {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Message{}
	}
	if trimmed[0] != '{' {
		cmd := string(trimmed)
		if cmd == RequestHistory {
			return Message{Kind: KindControl, Command: cmd}
		}
		return Message{}
	}

	var shape struct {
		Type      string          `json:"type"`
		Command   string          `json:"command"`
		Payload   json.RawMessage `json:"payload"`
		Plate     *string         `json:"plate_text"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(trimmed, &shape); err != nil {
		return Message{}
	}

	switch shape.Type {
	case envelopeControl:
		if shape.Command == "" {
			return Message{}
		}
		return Message{Kind: KindControl, Command: shape.Command}
	case envelopeData:
		if len(shape.Payload) == 0 {
			return Message{}
		}
		inner := Decode(shape.Payload)
		if inner.Kind != KindData {
			return Message{}
		}
		return inner
	}

	if shape.Plate == nil || len(shape.Timestamp) == 0 {
		return Message{}
	}
	msg := Message{
		Kind:  KindData,
		Event: model.TransitionEvent{Plate: model.Plate(*shape.Plate)},
	}
	msg.RawTimestamp, msg.Event.Timestamp, msg.TimestampOK = parseTimestamp(shape.Timestamp)
	return msg
}

// parseTimestamp accepts a JSON number or a string holding one.
func parseTimestamp(raw json.RawMessage) (string, float64, bool) {
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return text, 0, false
	}
	return text, f, true
}
