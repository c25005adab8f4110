package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_SetState(t *testing.T) {
	input := []byte(`{"type":"set_state","key":"graph","value":"{\"nodes\":3}"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSetState {
		t.Fatalf("expected type %q, got %q", TypeSetState, msgType)
	}
	m, ok := msg.(SetStateMsg)
	if !ok {
		t.Fatalf("expected SetStateMsg, got %T", msg)
	}
	if m.Key != "graph" || m.Value != `{"nodes":3}` {
		t.Errorf("unexpected payload: %+v", m)
	}
}

func TestParseClientMessage_SetStateRequiresKey(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"set_state","value":"x"}`)); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestParseClientMessage_PingAndGetState(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{`{"type":"ping"}`, TypePing},
		{`{"type":"get_state"}`, TypeGetState},
	} {
		msgType, _, err := ParseClientMessage([]byte(tc.input))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.input, err)
		}
		if msgType != tc.want {
			t.Errorf("expected %q, got %q", tc.want, msgType)
		}
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	cases := map[string]string{
		"invalid json":   `{not json`,
		"missing type":   `{"key":"x"}`,
		"empty type":     `{"type":""}`,
		"unknown type":   `{"type":"launch_rockets"}`,
		"server only":    `{"type":"session_bound"}`,
		"bad field type": `{"type":"set_state","key":5}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(input)); err == nil {
				t.Fatalf("expected error for %s", input)
			}
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeState, StateMsg{Values: map[string]string{"a": "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded StateMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeState {
		t.Errorf("expected type %q, got %q", TypeState, decoded.Type)
	}
	if decoded.Values["a"] != "1" {
		t.Errorf("unexpected values: %v", decoded.Values)
	}
}

func TestNewServerMessage_OverridesPayloadType(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{Type: "something_else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	if m["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, m["type"])
	}
}
