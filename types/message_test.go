package types

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestMessage_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Content: []Part{
			TextPart{Text: "hello"},
			ImagePart{URL: "https://example.com/a.png", MediaType: "image/png"},
			ToolInvocationPart{ID: "t1", Name: "search", Input: json.RawMessage(`{"q":"go"}`), Output: "3 hits", IsError: true},
			ReasoningPart{Text: "thinking"},
		},
		Timestamp: ts,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("round trip = %+v, want %+v", got, msg)
	}
}

func TestMessage_UnknownPartPreserved(t *testing.T) {
	raw := `{"id":"m1","role":"user","content":[{"type":"audio","url":"x.wav","seconds":3},{"type":"text","text":"hi"}]}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("len(Content) = %d, want 2", len(msg.Content))
	}

	unknown, ok := msg.Content[0].(UnknownPart)
	if !ok {
		t.Fatalf("Content[0] = %T, want UnknownPart", msg.Content[0])
	}
	if unknown.PartType() != "audio" {
		t.Errorf("PartType() = %q, want audio", unknown.PartType())
	}
	if msg.HasTimestamp() {
		t.Error("HasTimestamp() = true for message without timestamp")
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	first := back["content"].([]any)[0].(map[string]any)
	if first["seconds"] != float64(3) {
		t.Errorf("unknown part fields lost: %v", first)
	}
}

func TestMessage_InvalidPart(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"role":"user","content":[42]}`), &msg)
	if err == nil {
		t.Error("Unmarshal() error = nil, want error for non-object part")
	}
}
