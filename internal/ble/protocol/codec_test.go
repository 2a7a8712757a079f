package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeChunkSizeBound(t *testing.T) {
	contents := []string{
		"",
		"hi",
		"Hello",
		strings.Repeat("word ", 100),
		"\U0001F600 emoji éè mixed",
		`quotes " and \ backslashes`,
	}
	for _, content := range contents {
		msg := NewMessage("tester", content)
		chunks, err := Encode(msg, DefaultChunkSize)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", content, err)
		}
		if len(chunks) == 0 {
			t.Fatalf("Encode(%q) returned zero chunks", content)
		}
		last := len(chunks) - 1
		for i, c := range chunks {
			if i < last && len(c) != DefaultChunkSize {
				t.Errorf("Encode(%q) chunk[%d] len=%d, want %d", content, i, len(c), DefaultChunkSize)
			}
			if len(c) < 1 || len(c) > DefaultChunkSize {
				t.Errorf("Encode(%q) chunk[%d] len=%d out of range", content, i, len(c))
			}
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, size := range []int{1, 7, DefaultChunkSize, 512} {
		msg := NewMessage("PythonScript", "Hello, world! ☃")
		chunks, err := Encode(msg, size)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		got, err := Decode(Join(chunks))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if *got != *msg {
			t.Errorf("size=%d: Decode(Encode(m)) = %+v, want %+v", size, got, msg)
		}
	}
}

func TestEncodeWireFields(t *testing.T) {
	msg := &Message{ID: "abc", Timestamp: 1700000000000, Sender: "me", Content: "hi", Kind: KindText}
	chunks, err := Encode(msg, DefaultChunkSize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(Join(chunks), &fields); err != nil {
		t.Fatalf("encoded payload is not JSON: %v", err)
	}
	for _, key := range []string{"id", "timestamp", "sender", "content", "type"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("encoded payload missing %q", key)
		}
	}
	if fields["type"] != "text" {
		t.Errorf("type = %v, want text", fields["type"])
	}
	if fields["timestamp"] != float64(1700000000000) {
		t.Errorf("timestamp = %v, want 1700000000000", fields["timestamp"])
	}
}

func TestEncodeInvalidArgs(t *testing.T) {
	if _, err := Encode(nil, DefaultChunkSize); err == nil {
		t.Error("Encode(nil) should fail")
	}
	if _, err := Encode(NewMessage("a", "b"), 0); err == nil {
		t.Error("Encode with chunk size 0 should fail")
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"truncated", `{"id":"a","timestamp":1`},
		{"array", `["id"]`},
		{"missing id", `{"timestamp":1,"sender":"s","content":"c","type":"text"}`},
		{"missing timestamp", `{"id":"a","sender":"s","content":"c","type":"text"}`},
		{"missing sender", `{"id":"a","timestamp":1,"content":"c","type":"text"}`},
		{"missing content", `{"id":"a","timestamp":1,"sender":"s","type":"text"}`},
		{"missing type", `{"id":"a","timestamp":1,"sender":"s","content":"c"}`},
		{"empty type", `{"id":"a","timestamp":1,"sender":"s","content":"c","type":""}`},
		{"id wrong type", `{"id":5,"timestamp":1,"sender":"s","content":"c","type":"text"}`},
		{"timestamp string", `{"id":"a","timestamp":"1","sender":"s","content":"c","type":"text"}`},
		{"timestamp float", `{"id":"a","timestamp":1.5,"sender":"s","content":"c","type":"text"}`},
		{"null content", `{"id":"a","timestamp":1,"sender":"s","content":null,"type":"text"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.input, err)
			}
		})
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	_, err := Decode([]byte{'{', 0xff, '}'})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(invalid utf8) error = %v, want ErrMalformed", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"a","timestamp":1,"sender":"s","content":"c","type":"image"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Kind != "image" {
		t.Errorf("Kind = %q, want image", msg.Kind)
	}
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	_, err := Decode([]byte(`{"id":"a","timestamp":1,"sender":"s","content":"c","type":"text","extra":true}`))
	if err != nil {
		t.Errorf("Decode() with extra field error = %v", err)
	}
}
