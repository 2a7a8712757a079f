package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/blemsg/internal/ble"
	"github.com/chaz8081/blemsg/internal/ble/protocol"
)

// ErrPeerClosed is wrapped in the TransportError returned when writing to a
// peer that is no longer connected.
var ErrPeerClosed = errors.New("session: peer closed")

// State is the lifecycle state of a Peer.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// PeerOptions configures a Peer.
type PeerOptions struct {
	InterChunkDelay time.Duration // minimum spacing between writes (default 50ms)
	Logger          *slog.Logger
}

// DefaultPeerOptions returns sensible defaults.
func DefaultPeerOptions() PeerOptions {
	return PeerOptions{
		InterChunkDelay: 50 * time.Millisecond,
	}
}

// Peer wraps one established link. It exclusively owns the connection
// handle and serializes writes so chunks of concurrent sends never
// interleave.
type Peer struct {
	id   string
	conn ble.Connection
	tx   ble.Characteristic
	log  *slog.Logger

	state atomic.Int32

	sendMu sync.Mutex
	pacer  *rate.Limiter

	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	onLost func(*Peer)

	subMu      sync.Mutex
	subscribed bool
	inbound    atomic.Pointer[InboundFunc]
}

// InboundFunc receives a message reassembled from a peer's notifications.
type InboundFunc func(peerID string, msg *protocol.Message)

// NewPeer wraps conn, discovering the TX characteristic. On failure the
// link is disconnected before returning, so the caller never holds a
// half-built peer.
func NewPeer(id string, conn ble.Connection, opts PeerOptions) (*Peer, error) {
	if opts.InterChunkDelay < 0 {
		opts.InterChunkDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.InterChunkDelay > 0 {
		limit = rate.Every(opts.InterChunkDelay)
	}

	p := &Peer{
		id:    id,
		conn:  conn,
		log:   opts.Logger.With("device", id),
		pacer: rate.NewLimiter(limit, 1),
	}
	p.state.Store(int32(StateConnecting))

	tx, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.TXCharUUID)
	if err != nil {
		p.state.Store(int32(StateDisconnected))
		_ = conn.Disconnect()
		return nil, fmt.Errorf("session: discover TX characteristic: %w", err)
	}
	p.tx = tx

	conn.OnDisconnect(p.markLost)
	p.state.Store(int32(StateConnected))
	return p, nil
}

// ID returns the device identifier.
func (p *Peer) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Peer) State() State { return State(p.state.Load()) }

// OnLost registers fn to run once if the adapter reports link loss.
// It is not called for an explicit Close.
func (p *Peer) OnLost(fn func(*Peer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLost = fn
}

// Services enumerates the peer's GATT services.
func (p *Peer) Services() ([]ble.Service, error) {
	return p.conn.DiscoverServices()
}

// SendChunks writes chunks in order, one at a time, pacing successive
// writes by the configured inter-chunk delay. It stops at the first failed
// write; chunks already written are not rolled back.
func (p *Peer) SendChunks(ctx context.Context, chunks [][]byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for i, chunk := range chunks {
		if p.State() != StateConnected {
			return &ble.TransportError{Op: "write", DeviceID: p.id, Err: ErrPeerClosed}
		}
		if err := p.pacer.Wait(ctx); err != nil {
			return &ble.TransportError{Op: "write", DeviceID: p.id, Err: err}
		}
		if err := p.tx.Write(chunk); err != nil {
			p.log.Warn("[BLE] chunk write failed", "chunk", i+1, "of", len(chunks), "error", err)
			return &ble.TransportError{Op: "write", DeviceID: p.id, Err: err}
		}
	}
	p.log.Debug("[BLE] message written", "chunks", len(chunks))
	return nil
}

// Close disconnects the link. The peer ends Disconnected even when the
// adapter reports an error; that error is returned as a TransportError.
// Subsequent calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		for {
			s := p.State()
			if s == StateDisconnected {
				// Link already lost; the platform has released it.
				return
			}
			if p.state.CompareAndSwap(int32(s), int32(StateDisconnecting)) {
				break
			}
		}
		err := p.conn.Disconnect()
		p.state.Store(int32(StateDisconnected))
		if err != nil {
			p.closeErr = &ble.TransportError{Op: "disconnect", DeviceID: p.id, Err: err}
		}
	})
	return p.closeErr
}

// markLost handles adapter-reported link loss: Connected -> Disconnected.
func (p *Peer) markLost() {
	for {
		s := p.State()
		if s == StateDisconnected || s == StateDisconnecting {
			return
		}
		if p.state.CompareAndSwap(int32(s), int32(StateDisconnected)) {
			break
		}
	}
	p.log.Warn("[BLE] link lost")

	p.mu.Lock()
	fn := p.onLost
	p.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// Subscribe routes every reassembled inbound message to fn. The RX
// characteristic is subscribed on the first call only; later calls replace
// the handler, so each message is delivered once. A nil fn stops delivery.
// Malformed payloads are logged and dropped.
func (p *Peer) Subscribe(fn InboundFunc) error {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.inbound.Store(&fn)
	if p.subscribed || fn == nil {
		return nil
	}

	rx, err := p.conn.DiscoverCharacteristic(ble.ServiceUUID, ble.RXCharUUID)
	if err != nil {
		return fmt.Errorf("session: discover RX characteristic: %w", err)
	}

	var mu sync.Mutex
	r := protocol.NewReassembler(protocol.MaxMessageBytes)
	err = rx.Subscribe(func(data []byte) {
		mu.Lock()
		msgs, err := r.Feed(data)
		mu.Unlock()
		if err != nil {
			p.log.Warn("[BLE] dropping malformed inbound data", "error", err)
		}
		h := p.inbound.Load()
		if h == nil || *h == nil {
			return
		}
		for _, msg := range msgs {
			(*h)(p.id, msg)
		}
	})
	if err != nil {
		return fmt.Errorf("session: subscribe RX: %w", err)
	}
	p.subscribed = true
	return nil
}
