package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/clbarrell/cube-builder/internal/game"
)

// TestDecodeValid covers every inbound event with a well-formed payload
func TestDecodeValid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, payload any)
	}{
		{
			"join",
			`{"event":"player:join","data":{"name":"Alice","position":{"x":0,"y":1.5,"z":-2}}}`,
			func(t *testing.T, payload any) {
				req := payload.(game.JoinRequest)
				if req.Name != "Alice" || req.Position == nil || req.Position.Y != 1.5 {
					t.Errorf("Unexpected join %+v", req)
				}
			},
		},
		{
			"move without rotation",
			`{"event":"player:move","data":{"position":{"x":1,"y":2,"z":3}}}`,
			func(t *testing.T, payload any) {
				req := payload.(game.MoveRequest)
				if req.Rotation != nil || req.Position.Z != 3 {
					t.Errorf("Unexpected move %+v", req)
				}
			},
		},
		{
			"move with rotation",
			`{"event":"player:move","data":{"position":{"x":1,"y":2,"z":3},"rotation":{"x":0.1,"y":-0.4}}}`,
			func(t *testing.T, payload any) {
				req := payload.(game.MoveRequest)
				if req.Rotation == nil || req.Rotation.Y != -0.4 {
					t.Errorf("Unexpected rotation %+v", req.Rotation)
				}
			},
		},
		{
			"cube add",
			`{"event":"cube:add","data":{"position":{"x":0.5,"y":0.5,"z":0.5},"playerName":"Alice"}}`,
			func(t *testing.T, payload any) {
				req := payload.(game.AddCubeRequest)
				if req.PlayerName != "Alice" || req.Position.X != 0.5 {
					t.Errorf("Unexpected add %+v", req)
				}
			},
		},
		{
			"cube remove",
			`{"event":"cube:remove","data":{"position":{"x":0.5,"y":0.5,"z":0.5}}}`,
			func(t *testing.T, payload any) {
				if req := payload.(game.RemoveCubeRequest); req.Position == nil {
					t.Error("Position not decoded")
				}
			},
		},
		{
			"command",
			`{"event":"server:command","data":{"command":"timer 5"}}`,
			func(t *testing.T, payload any) {
				if req := payload.(CommandRequest); req.Command != "timer 5" {
					t.Errorf("Unexpected command %q", req.Command)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			tt.check(t, msg.Payload)
		})
	}
}

// TestDecodeRejects covers malformed frames and invalid payloads
func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantEvent string
		want      error
	}{
		{"not json", `hello`, "", ErrMalformed},
		{"no event", `{"data":{}}`, "", ErrMalformed},
		{"unknown event", `{"event":"player:fly","data":{}}`, "player:fly", ErrUnknownEvent},
		{"join missing position", `{"event":"player:join","data":{"name":"Alice"}}`, game.EventPlayerJoin, nil},
		{"join empty name", `{"event":"player:join","data":{"name":"","position":{"x":0,"y":0,"z":0}}}`, game.EventPlayerJoin, nil},
		{"join missing data", `{"event":"player:join"}`, game.EventPlayerJoin, nil},
		{"join string coordinate", `{"event":"player:join","data":{"name":"A","position":{"x":"0","y":0,"z":0}}}`, game.EventPlayerJoin, nil},
		{"add missing name", `{"event":"cube:add","data":{"position":{"x":0,"y":0,"z":0}}}`, game.EventCubeAdd, nil},
		{"remove missing z", `{"event":"cube:remove","data":{"position":{"x":0,"y":0}}}`, game.EventCubeRemove, nil},
		{"command missing", `{"event":"server:command","data":{}}`, game.EventCommand, nil},
		{"command empty", `{"event":"server:command","data":{"command":""}}`, game.EventCommand, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if msg.Event != tt.wantEvent {
				t.Errorf("Expected event %q, got %q", tt.wantEvent, msg.Event)
			}
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("Expected %v, got %v", tt.want, err)
				}
				return
			}
			var pe *PayloadError
			if !errors.As(err, &pe) {
				t.Errorf("Expected PayloadError, got %T: %v", err, err)
			}
		})
	}
}

// TestEncode verifies the outbound envelope shape
func TestEncode(t *testing.T) {
	frame, err := Encode(game.EventCubeRemove, game.CubeRemoved{Position: game.Vec3{X: 0.5, Y: 1.5, Z: 2.5}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"event":"cube:remove","data":{"position":{"x":0.5,"y":1.5,"z":2.5}}}`
	if string(frame) != want {
		t.Errorf("Expected %s, got %s", want, frame)
	}

	frame, _ = Encode(game.EventTimerEnd, nil)
	if string(frame) != `{"event":"timer:end","data":null}` {
		t.Errorf("Signal event encoded as %s", frame)
	}
}

// TestEncodeState verifies state:sync carries null timer fields
func TestEncodeState(t *testing.T) {
	state := game.EmptySnapshot().State
	frame, err := Encode(game.EventStateSync, state)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var env struct {
		Event string `json:"event"`
		Data  struct {
			Players   map[string]any `json:"players"`
			Cubes     []any          `json:"cubes"`
			GamePhase string         `json:"gamePhase"`
			Timer     map[string]any `json:"timer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Data.GamePhase != "LOBBY" || env.Data.Cubes == nil || env.Data.Players == nil {
		t.Errorf("Unexpected state %s", frame)
	}
	for _, k := range []string{"startTime", "duration", "endTime"} {
		v, ok := env.Data.Timer[k]
		if !ok || v != nil {
			t.Errorf("Timer field %s should be null, got %v", k, v)
		}
	}
}
