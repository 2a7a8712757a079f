package protocol

import (
	"errors"
	"testing"
)

func encodeForTest(t *testing.T, msg *Message) [][]byte {
	t.Helper()
	chunks, err := Encode(msg, DefaultChunkSize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return chunks
}

func TestReassemblerSingleMessage(t *testing.T) {
	msg := NewMessage("peer", `tricky {content} with "quotes" and \}`)
	r := NewReassembler(0)

	chunks := encodeForTest(t, msg)
	for i, c := range chunks {
		got, err := r.Feed(c)
		if err != nil {
			t.Fatalf("Feed(chunk %d) error = %v", i, err)
		}
		if i < len(chunks)-1 && len(got) != 0 {
			t.Fatalf("Feed(chunk %d) emitted %d messages before the last chunk", i, len(got))
		}
		if i == len(chunks)-1 {
			if len(got) != 1 {
				t.Fatalf("last Feed emitted %d messages, want 1", len(got))
			}
			if *got[0] != *msg {
				t.Errorf("reassembled = %+v, want %+v", got[0], msg)
			}
		}
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after complete message, want 0", r.Buffered())
	}
}

func TestReassemblerBackToBackMessages(t *testing.T) {
	first := NewMessage("peer", "one")
	second := NewMessage("peer", "two")

	// Concatenate both payloads and re-split so a chunk straddles the boundary.
	payload := append(Join(encodeForTest(t, first)), Join(encodeForTest(t, second))...)
	r := NewReassembler(0)

	var got []*Message
	for _, c := range Split(payload, 13) {
		msgs, err := r.Feed(c)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Content != "one" || got[1].Content != "two" {
		t.Errorf("contents = %q, %q, want one, two", got[0].Content, got[1].Content)
	}
}

func TestReassemblerGarbageResets(t *testing.T) {
	r := NewReassembler(0)
	_, err := r.Feed([]byte("garbage"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Feed(garbage) error = %v, want ErrMalformed", err)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after garbage, want 0", r.Buffered())
	}

	// A valid message afterwards still decodes.
	msg := NewMessage("peer", "after")
	var got []*Message
	for _, c := range encodeForTest(t, msg) {
		msgs, err := r.Feed(c)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 || got[0].Content != "after" {
		t.Errorf("got %v, want one message with content %q", got, "after")
	}
}

func TestReassemblerInvalidObject(t *testing.T) {
	r := NewReassembler(0)
	_, err := r.Feed([]byte(`{"id":"missing-everything-else"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Feed(incomplete message) error = %v, want ErrMalformed", err)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", r.Buffered())
	}
}

func TestReassemblerOverflow(t *testing.T) {
	r := NewReassembler(16)
	_, err := r.Feed([]byte(`{"content":"this never closes`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Feed(oversized) error = %v, want ErrMalformed", err)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after overflow, want 0", r.Buffered())
	}
}

func TestReassemblerLeadingWhitespace(t *testing.T) {
	r := NewReassembler(0)
	payload := append([]byte("\n  "), Join(encodeForTest(t, NewMessage("p", "ws")))...)
	msgs, err := r.Feed(payload)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestReassemblerValidMessageAfterInvalidObject(t *testing.T) {
	msg := NewMessage("peer", "still delivered")
	data := append([]byte(`{"x":1}`), Join(encodeForTest(t, msg))...)
	r := NewReassembler(0)

	got, err := r.Feed(data)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Feed() error = %v, want ErrMalformed", err)
	}
	if len(got) != 1 {
		t.Fatalf("Feed() emitted %d messages, want 1", len(got))
	}
	if *got[0] != *msg {
		t.Errorf("reassembled = %+v, want %+v", got[0], msg)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", r.Buffered())
	}
}
