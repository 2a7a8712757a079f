// Package bletest provides an in-memory ble.Adapter for tests.
package bletest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/blemsg/internal/ble"
)

// Characteristic records writes and allows simulated notifications.
type Characteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	err      error
	allow    int // successful writes left before err applies
	callback func([]byte)
	subs     int

	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

// Write records a copy of data, or fails with the configured error.
func (c *Characteristic) Write(data []byte) error {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)

	c.mu.Lock()
	err, delay := c.err, c.delay
	if err != nil && c.allow > 0 {
		c.allow--
		err = nil
	}
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	c.mu.Lock()
	c.writes = append(c.writes, cp)
	c.mu.Unlock()
	return nil
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.subs++
	return nil
}

// Subscriptions returns how many times Subscribe was called.
func (c *Characteristic) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

// FailWrites makes every later Write return err (nil restores success).
func (c *Characteristic) FailWrites(err error) {
	c.FailWritesAfter(0, err)
}

// FailWritesAfter lets n more writes succeed, then fails with err.
func (c *Characteristic) FailWritesAfter(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.allow = n
}

// SetWriteDelay makes each Write block for d.
func (c *Characteristic) SetWriteDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Writes returns the successfully written chunks in order.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Overlapped reports whether two Writes were ever in flight at once.
func (c *Characteristic) Overlapped() bool {
	return c.overlap.Load()
}

// Subscribed reports whether a notification callback is registered.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Notify delivers data to the subscriber, if any.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Connection simulates one BLE link.
type Connection struct {
	ID string
	TX *Characteristic
	RX *Characteristic

	mu            sync.Mutex
	servicesErr   error
	missingTX     bool
	disconnectErr error
	disconnects   int
	disconnectCb  func()
}

func newConnection(id string) *Connection {
	return &Connection{
		ID: id,
		TX: &Characteristic{},
		RX: &Characteristic{},
	}
}

func (c *Connection) DiscoverServices() ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.servicesErr != nil {
		return nil, c.servicesErr
	}
	return []ble.Service{{UUID: ble.ServiceUUID}}, nil
}

func (c *Connection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if serviceUUID != ble.ServiceUUID {
		return nil, fmt.Errorf("bletest: unknown service UUID %q", serviceUUID)
	}
	switch charUUID {
	case ble.TXCharUUID:
		if c.missingTX {
			return nil, fmt.Errorf("bletest: characteristic %s not found", charUUID)
		}
		return c.TX, nil
	case ble.RXCharUUID:
		return c.RX, nil
	default:
		return nil, fmt.Errorf("bletest: unknown characteristic UUID %q", charUUID)
	}
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnectErr
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// FailServices makes DiscoverServices return err.
func (c *Connection) FailServices(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servicesErr = err
}

// HideTX makes the TX characteristic undiscoverable.
func (c *Connection) HideTX() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missingTX = true
}

// FailDisconnect makes Disconnect return err (after counting the call).
func (c *Connection) FailDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectErr = err
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// SimulateLinkLoss fires the OnDisconnect callback as the platform would.
func (c *Connection) SimulateLinkLoss() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Adapter simulates the host BLE adapter.
type Adapter struct {
	// Configure, if set, is called on every new connection before Connect
	// returns it.
	Configure func(*Connection)

	mu           sync.Mutex
	devices      []ble.Device
	enableErr    error
	connectErr   map[string]error
	connectDelay time.Duration
	scanDelay    time.Duration
	conns        map[string][]*Connection

	scans    atomic.Int32
	connects atomic.Int32
}

// NewAdapter returns an Adapter that reports devices on every scan.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{
		devices:    devices,
		connectErr: make(map[string]error),
		conns:      make(map[string][]*Connection),
	}
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enableErr
}

// Scan returns the configured devices. With a scan delay it blocks until
// the delay elapses or ctx is done, like a real radio scan window.
func (a *Adapter) Scan(ctx context.Context, _ string) ([]ble.Device, error) {
	a.scans.Add(1)
	a.mu.Lock()
	delay := a.scanDelay
	devices := make([]ble.Device, len(a.devices))
	copy(devices, a.devices)
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	return devices, nil
}

func (a *Adapter) Connect(ctx context.Context, id string) (ble.Connection, error) {
	a.connects.Add(1)
	a.mu.Lock()
	err := a.connectErr[id]
	delay := a.connectDelay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bletest: connect to %s: %w", id, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newConnection(id)
	if a.Configure != nil {
		a.Configure(conn)
	}
	a.mu.Lock()
	a.conns[id] = append(a.conns[id], conn)
	a.mu.Unlock()
	return conn, nil
}

// FailEnable makes Enable return err.
func (a *Adapter) FailEnable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableErr = err
}

// FailConnect makes Connect(id) return err.
func (a *Adapter) FailConnect(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr[id] = err
}

// SetScanDelay makes Scan block for d (or until its ctx is done).
func (a *Adapter) SetScanDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanDelay = d
}

// SetConnectDelay makes Connect block for d (or until its ctx is done).
func (a *Adapter) SetConnectDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectDelay = d
}

// Conn returns the most recent connection made to id, or nil.
func (a *Adapter) Conn(id string) *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	conns := a.conns[id]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Conns returns every connection made to id, oldest first.
func (a *Adapter) Conns(id string) []*Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Connection, len(a.conns[id]))
	copy(out, a.conns[id])
	return out
}

// Scans returns how many times Scan was called.
func (a *Adapter) Scans() int { return int(a.scans.Load()) }

// Connects returns how many times Connect was called.
func (a *Adapter) Connects() int { return int(a.connects.Load()) }

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
