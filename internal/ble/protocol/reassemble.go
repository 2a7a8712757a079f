package protocol

import (
	"fmt"
)

// MaxMessageBytes bounds the reassembly buffer for one inbound message.
const MaxMessageBytes = 64 * 1024

// Reassembler rebuilds messages from notification chunks. The wire format
// carries no framing header, so a message ends where its top-level JSON
// object closes. Not safe for concurrent use; keep one per peer.
type Reassembler struct {
	max int
	buf []byte

	// scanner state over buf[:scanned]
	scanned  int
	depth    int
	inString bool
	escaped  bool
}

// NewReassembler returns a Reassembler whose buffer is capped at maxBytes
// (MaxMessageBytes if maxBytes <= 0).
func NewReassembler(maxBytes int) *Reassembler {
	if maxBytes <= 0 {
		maxBytes = MaxMessageBytes
	}
	return &Reassembler{max: maxBytes}
}

// Feed appends chunk and returns every message completed by it. A complete
// object that fails to decode is skipped and scanning continues, so valid
// messages behind it are still returned. Bytes outside an object or an
// oversized payload drop the buffer. The first error is returned alongside
// the decoded messages.
func (r *Reassembler) Feed(chunk []byte) ([]*Message, error) {
	r.buf = append(r.buf, chunk...)

	var (
		msgs     []*Message
		firstErr error
	)
	for {
		end, err := r.scan()
		if err != nil {
			r.Reset()
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if end < 0 {
			break
		}
		msg, err := Decode(r.buf[:end])
		r.consume(end)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(r.buf) > r.max {
		n := len(r.buf)
		r.Reset()
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: message exceeds %d bytes (buffered %d)", ErrMalformed, r.max, n)
		}
	}
	return msgs, firstErr
}

// Buffered returns the number of bytes waiting for the rest of a message.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops any partial message.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.scanned = 0
	r.depth = 0
	r.inString = false
	r.escaped = false
}

// scan advances over unscanned bytes and returns the end offset of the
// first complete top-level object, or -1 if none is complete yet.
func (r *Reassembler) scan() (int, error) {
	for ; r.scanned < len(r.buf); r.scanned++ {
		c := r.buf[r.scanned]
		if r.depth == 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{':
				r.depth = 1
				continue
			default:
				return -1, fmt.Errorf("%w: unexpected byte 0x%02x outside object", ErrMalformed, c)
			}
		}
		if r.inString {
			switch {
			case r.escaped:
				r.escaped = false
			case c == '\\':
				r.escaped = true
			case c == '"':
				r.inString = false
			}
			continue
		}
		switch c {
		case '"':
			r.inString = true
		case '{', '[':
			r.depth++
		case '}', ']':
			r.depth--
			if r.depth == 0 {
				r.scanned++
				return r.scanned, nil
			}
		}
	}
	return -1, nil
}

// consume drops buf[:n] and resets the scanner to the remaining bytes.
func (r *Reassembler) consume(n int) {
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
	r.scanned = 0
	r.depth = 0
	r.inString = false
	r.escaped = false
}
