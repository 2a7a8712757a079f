// Package messenger exchanges JSON text messages with nearby BLE peers,
// tying the session registry to the wire codec and the adapter.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/blemsg/internal/ble"
	"github.com/chaz8081/blemsg/internal/ble/protocol"
	"github.com/chaz8081/blemsg/internal/session"
)

// ConnectPolicy decides what Connect does for an id that is already
// connected.
type ConnectPolicy string

const (
	ConnectPolicyReuse  ConnectPolicy = "reuse"  // succeed without reconnecting
	ConnectPolicyReject ConnectPolicy = "reject" // fail with ErrAlreadyConnected
)

// Options configures a Messenger.
type Options struct {
	Sender               string        // identity label stamped on outbound messages
	ChunkSize            int           // bytes per write (default 20)
	InterChunkDelay      time.Duration // pacing between writes to one peer (default 50ms)
	ScanDuration         time.Duration // used when Scan gets a non-positive duration (default 10s)
	ConnectTimeout       time.Duration // 0 leaves the bound to the adapter
	ConnectPolicy        ConnectPolicy
	BroadcastConcurrency int // max concurrent sends during Broadcast/Cleanup; 0 = unbounded
	Logger               *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Sender:               "blemsg",
		ChunkSize:            protocol.DefaultChunkSize,
		InterChunkDelay:      50 * time.Millisecond,
		ScanDuration:         10 * time.Second,
		ConnectPolicy:        ConnectPolicyReuse,
		BroadcastConcurrency: 8,
	}
}

// InboundHandler receives messages reassembled from a peer's notifications.
type InboundHandler = session.InboundFunc

// Messenger exchanges messages with connected peers. Safe for concurrent use.
type Messenger struct {
	adapter  ble.Adapter
	registry *session.Registry
	opts     Options
	log      *slog.Logger

	scanning atomic.Bool

	// mu orders handler installation against subscription of new peers.
	mu      sync.Mutex
	inbound InboundHandler
}

// New enables the adapter and returns a Messenger tracking connections in
// registry (a fresh one if nil). An adapter that cannot be enabled yields
// ErrAdapterUnavailable.
func New(adapter ble.Adapter, registry *session.Registry, opts Options) (*Messenger, error) {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.InterChunkDelay < 0 {
		opts.InterChunkDelay = 0
	}
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = def.ScanDuration
	}
	if opts.ConnectPolicy == "" {
		opts.ConnectPolicy = def.ConnectPolicy
	}
	if opts.Sender == "" {
		opts.Sender = def.Sender
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if registry == nil {
		registry = session.NewRegistry()
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	return &Messenger{
		adapter:  adapter,
		registry: registry,
		opts:     opts,
		log:      opts.Logger,
	}, nil
}

// Scan discovers peers advertising the messaging service for duration
// (the configured default if duration <= 0). A scan already in flight makes
// this call fail with ErrScanInProgress instead of queueing.
func (m *Messenger) Scan(ctx context.Context, duration time.Duration) ([]ble.Device, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer m.scanning.Store(false)

	if duration <= 0 {
		duration = m.opts.ScanDuration
	}
	m.log.Info("[BLE] scanning", "duration", duration)
	devices, err := ble.ScanForDevices(ctx, m.adapter, ble.ServiceUUID, duration)
	if err != nil {
		return nil, err
	}
	m.log.Info("[BLE] scan complete", "found", len(devices))
	return devices, nil
}

// Connect establishes a link to id and registers it. Connecting to an id
// that is already registered follows the ConnectPolicy. Service
// enumeration runs as a liveness check; its failure is only logged.
func (m *Messenger) Connect(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("messenger: empty device id")
	}
	if _, ok := m.registry.Lookup(id); ok {
		return m.alreadyConnected(id)
	}

	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	m.log.Info("[BLE] connecting", "device", id)
	conn, err := m.adapter.Connect(ctx, id)
	if err != nil {
		return &ConnectError{DeviceID: id, Err: err}
	}

	p, err := session.NewPeer(id, conn, session.PeerOptions{
		InterChunkDelay: m.opts.InterChunkDelay,
		Logger:          m.log,
	})
	if err != nil {
		return &ConnectError{DeviceID: id, Err: err}
	}
	p.OnLost(m.handleLost)

	if err := m.registry.Register(id, p); err != nil {
		// A concurrent Connect for the same id won; drop our link.
		if cerr := p.Close(); cerr != nil {
			m.log.Warn("[BLE] closing duplicate link failed", "device", id, "error", cerr)
		}
		return m.alreadyConnected(id)
	}
	if p.State() == session.StateDisconnected {
		m.registry.Remove(id, p)
		return &ConnectError{DeviceID: id, Err: errors.New("link lost during setup")}
	}

	services, err := p.Services()
	if err != nil {
		m.log.Warn("[BLE] service discovery failed", "device", id, "error", err)
	} else {
		m.log.Info("[BLE] connected", "device", id, "services", len(services))
	}

	m.mu.Lock()
	if m.inbound != nil {
		if err := p.Subscribe(m.inbound); err != nil {
			m.log.Warn("[BLE] inbound subscription failed", "device", id, "error", err)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Messenger) alreadyConnected(id string) error {
	if m.opts.ConnectPolicy == ConnectPolicyReject {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, id)
	}
	m.log.Debug("[BLE] already connected", "device", id)
	return nil
}

// handleLost drops a peer whose link the adapter reported lost.
func (m *Messenger) handleLost(p *session.Peer) {
	if m.registry.Remove(p.ID(), p) {
		m.log.Warn("[BLE] device removed after link loss", "device", p.ID())
	}
}

// Send delivers content to one connected peer.
func (m *Messenger) Send(ctx context.Context, id, content string) error {
	p, ok := m.registry.Lookup(id)
	if !ok {
		return notConnected(id)
	}
	return m.deliver(ctx, p, protocol.NewMessage(m.opts.Sender, content))
}

func (m *Messenger) deliver(ctx context.Context, p *session.Peer, msg *protocol.Message) error {
	chunks, err := protocol.Encode(msg, m.opts.ChunkSize)
	if err != nil {
		return fmt.Errorf("messenger: encode: %w", err)
	}
	m.log.Debug("[BLE] sending message", "device", p.ID(), "id", msg.ID, "chunks", len(chunks))
	return p.SendChunks(ctx, chunks)
}

// Broadcast sends content to every connected peer concurrently and returns
// how many deliveries succeeded. Every recipient gets its own message id;
// all share one timestamp. Per-peer failures are logged, never returned.
func (m *Messenger) Broadcast(ctx context.Context, content string) int {
	ids := m.registry.IDs()
	if len(ids) == 0 {
		m.log.Info("[BLE] broadcast skipped, no devices connected")
		return 0
	}

	ts := protocol.Now()
	var delivered atomic.Int32
	var g errgroup.Group
	if m.opts.BroadcastConcurrency > 0 {
		g.SetLimit(m.opts.BroadcastConcurrency)
	}
	for _, id := range ids {
		p, ok := m.registry.Lookup(id)
		if !ok {
			continue
		}
		id := id
		g.Go(func() error {
			msg := protocol.NewMessageAt(ts, m.opts.Sender, content)
			if err := m.deliver(ctx, p, msg); err != nil {
				m.log.Warn("[BLE] broadcast delivery failed", "device", id, "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(delivered.Load())
	m.log.Info("[BLE] broadcast complete", "delivered", n, "devices", len(ids))
	return n
}

// Disconnect closes and unregisters id. The peer is removed even when the
// adapter fails to disconnect; that failure is only logged.
func (m *Messenger) Disconnect(id string) error {
	p, ok := m.registry.Unregister(id)
	if !ok {
		return notConnected(id)
	}
	if err := p.Close(); err != nil {
		m.log.Warn("[BLE] disconnect reported an error", "device", id, "error", err)
	} else {
		m.log.Info("[BLE] disconnected", "device", id)
	}
	return nil
}

// List returns connected device ids in connection order.
func (m *Messenger) List() []string {
	return m.registry.IDs()
}

// Cleanup drains the registry and closes every peer concurrently. Close
// errors are logged so every reachable link is still released.
func (m *Messenger) Cleanup() {
	entries := m.registry.Drain()
	if len(entries) == 0 {
		return
	}
	m.log.Info("[BLE] disconnecting from all devices", "count", len(entries))

	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	if m.opts.BroadcastConcurrency > 0 {
		g.SetLimit(m.opts.BroadcastConcurrency)
	}
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := e.Peer.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		m.log.Warn("[BLE] cleanup finished with errors", "failed", len(errs), "error", errors.Join(errs...))
	}
}

// OnMessage installs fn as the handler for inbound messages on every
// connected peer and on peers connected later. Calling it again replaces
// the handler and nil stops delivery; a peer's notifications are
// subscribed only once.
func (m *Messenger) OnMessage(fn InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = fn
	for _, id := range m.registry.IDs() {
		p, ok := m.registry.Lookup(id)
		if !ok {
			continue
		}
		if err := p.Subscribe(fn); err != nil {
			m.log.Warn("[BLE] inbound subscription failed", "device", id, "error", err)
		}
	}
}
