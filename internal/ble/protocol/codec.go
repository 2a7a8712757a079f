package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed is returned (wrapped) by Decode for any payload that is not
// a valid message.
var ErrMalformed = errors.New("protocol: malformed message")

// Encode serializes msg to JSON and splits it into chunks of at most
// chunkSize bytes. The result always has at least one chunk.
func Encode(msg *Message, chunkSize int) ([][]byte, error) {
	if msg == nil {
		return nil, errors.New("protocol: nil message")
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("protocol: chunk size must be > 0, got %d", chunkSize)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	return Split(data, chunkSize), nil
}

// wireMessage mirrors Message with pointer fields so missing keys can be
// told apart from zero values.
type wireMessage struct {
	ID        *string `json:"id"`
	Timestamp *int64  `json:"timestamp"`
	Sender    *string `json:"sender"`
	Content   *string `json:"content"`
	Kind      *string `json:"type"`
}

// Decode parses a complete (reassembled) payload into a Message. Every
// field must be present and of the right JSON type.
func Decode(data []byte) (*Message, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case w.ID == nil:
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	case w.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	case w.Sender == nil:
		return nil, fmt.Errorf("%w: missing sender", ErrMalformed)
	case w.Content == nil:
		return nil, fmt.Errorf("%w: missing content", ErrMalformed)
	case w.Kind == nil || *w.Kind == "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &Message{
		ID:        *w.ID,
		Timestamp: *w.Timestamp,
		Sender:    *w.Sender,
		Content:   *w.Content,
		Kind:      Kind(*w.Kind),
	}, nil
}
