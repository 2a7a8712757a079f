// Package protocol implements the JSON wire format for the messaging
// service: message construction, encoding into MTU-sized fragments and
// decoding of reassembled payloads.
package protocol

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the message type carried in the "type" field.
type Kind string

const (
	KindText Kind = "text"
)

// Message is a single text message exchanged with a peer.
type Message struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // ms since Unix epoch
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Kind      Kind   `json:"type"`
}

// Time returns the message timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// NewMessage builds a text message with a fresh id and the current
// timestamp.
func NewMessage(sender, content string) *Message {
	return NewMessageAt(Now(), sender, content)
}

// NewMessageAt builds a text message with a fresh id and the given
// timestamp. Broadcast uses it to stamp every recipient's copy alike.
func NewMessageAt(ts int64, sender, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Sender:    sender,
		Content:   content,
		Kind:      KindText,
	}
}

var clock struct {
	mu   sync.Mutex
	last int64
}

// Now returns the current time in epoch milliseconds. Values never go
// backwards within a process even if the wall clock does.
func Now() int64 {
	now := time.Now().UnixMilli()
	clock.mu.Lock()
	defer clock.mu.Unlock()
	if now < clock.last {
		now = clock.last
	}
	clock.last = now
	return now
}
