package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

// Envelope is the {type, payload} frame exchanged between host and engine.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(msgType string, payload any) (Envelope, error) {
	msgType = strings.TrimSpace(msgType)
	if msgType == "" {
		return Envelope{}, fmt.Errorf("bridge: envelope type is required")
	}
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: encode %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// EncodeEvent frames an outbound engine event.
func EncodeEvent(event core.Event) (Envelope, error) {
	if event == nil {
		return Envelope{}, fmt.Errorf("bridge: event is required")
	}
	return Encode(event.Type(), event)
}

// Decode unmarshals the payload into target. An empty or null payload leaves
// target untouched.
func (e Envelope) Decode(target any) error {
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("bridge: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DecodeEvent turns an outbound envelope back into its typed event.
func DecodeEvent(env Envelope) (core.Event, error) {
	var event core.Event
	switch env.Type {
	case core.EventPong:
		event = &core.PongEvent{}
	case core.EventKeyStatusUpdate:
		event = &core.KeyStatusUpdate{}
	case core.EventLog:
		event = &core.LogEvent{}
	case core.EventTestingComplete:
		event = &core.TestingComplete{}
	case core.EventEngineError:
		event = &core.EngineError{}
	case core.EventCommandRejected:
		event = &core.CommandRejected{}
	case core.EventLogs:
		event = &core.LogsSnapshot{}
	case core.EventModels:
		event = &core.ModelsListed{}
	case core.EventCounters:
		event = &core.CountersSnapshot{}
	default:
		return nil, fmt.Errorf("bridge: unknown event type %q", env.Type)
	}
	if err := env.Decode(event); err != nil {
		return nil, err
	}
	return deref(event), nil
}

func deref(event core.Event) core.Event {
	switch typed := event.(type) {
	case *core.PongEvent:
		return *typed
	case *core.KeyStatusUpdate:
		return *typed
	case *core.LogEvent:
		return *typed
	case *core.TestingComplete:
		return *typed
	case *core.EngineError:
		return *typed
	case *core.CommandRejected:
		return *typed
	case *core.LogsSnapshot:
		return *typed
	case *core.ModelsListed:
		return *typed
	case *core.CountersSnapshot:
		return *typed
	default:
		return event
	}
}
