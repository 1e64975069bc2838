package gateway

import (
	"encoding/json"
	"fmt"
)

// Event is the envelope for every message in both directions
type Event struct {
	Event string          `json:"event"` // Event or command name
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server -> client event names
const (
	EventSetState       = "setState"
	EventSetLeaderboard = "setLeaderboard"
	EventShowNewScore   = "showNewScore"
	EventSerialData     = "serialData"
	EventTimesync       = "timesync"
	EventExportComplete = "exportComplete"
	EventError          = "error"
)

// SerialDataPayload carries one raw sensor line for diagnostics
type SerialDataPayload struct {
	Port string `json:"port"`
	Line string `json:"line"`
}

// NewEvent encodes data into an event envelope
func NewEvent(name string, data any) (*Event, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return &Event{Event: name, Data: raw}, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return &Event{Event: name, Data: payload}, nil
}

// ParseEvent decodes a client message
func ParseEvent(message []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(message, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if evt.Event == "" {
		return nil, ErrMissingEventName
	}
	return &evt, nil
}
