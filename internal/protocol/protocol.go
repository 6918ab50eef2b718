// Package protocol defines the websocket wire format. Every frame is a JSON
// envelope {"event": name, "data": payload}; inbound payloads are validated
// against embedded JSON schemas before they are decoded into typed requests.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clbarrell/cube-builder/internal/game"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound keeps "data": null for signal-only events.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CommandRequest is the server:command payload.
type CommandRequest struct {
	Command string `json:"command"`
}

// Message is a decoded inbound frame. Payload is one of game.JoinRequest,
// game.MoveRequest, game.AddCubeRequest, game.RemoveCubeRequest or
// CommandRequest.
type Message struct {
	Event   string
	Payload any
}

var (
	// ErrMalformed is a frame that is not a JSON envelope.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownEvent is an envelope naming an event the server does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// PayloadError is a known event whose payload failed validation.
type PayloadError struct {
	Event string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Event, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Encode marshals an outbound event into a frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// Decode parses and validates one inbound frame.
func Decode(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Message{}, ErrMalformed
	}

	schema, ok := schemas[env.Event]
	if !ok {
		return Message{Event: env.Event}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	var doc any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &doc); err != nil {
			return Message{Event: env.Event}, &PayloadError{Event: env.Event, Err: err}
		}
	}
	if err := schema.Validate(doc); err != nil {
		return Message{Event: env.Event}, &PayloadError{Event: env.Event, Err: err}
	}

	payload, err := decodePayload(env.Event, env.Data)
	if err != nil {
		return Message{Event: env.Event}, &PayloadError{Event: env.Event, Err: err}
	}
	return Message{Event: env.Event, Payload: payload}, nil
}

func decodePayload(event string, data json.RawMessage) (any, error) {
	switch event {
	case game.EventPlayerJoin:
		var req game.JoinRequest
		err := json.Unmarshal(data, &req)
		return req, err
	case game.EventPlayerMove:
		var req game.MoveRequest
		err := json.Unmarshal(data, &req)
		return req, err
	case game.EventCubeAdd:
		var req game.AddCubeRequest
		err := json.Unmarshal(data, &req)
		return req, err
	case game.EventCubeRemove:
		var req game.RemoveCubeRequest
		err := json.Unmarshal(data, &req)
		return req, err
	case game.EventCommand:
		var req CommandRequest
		err := json.Unmarshal(data, &req)
		return req, err
	default:
		return nil, ErrUnknownEvent
	}
}
