package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter implements Adapter on top of tinygo-org/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
// On macOS device ids are CoreBluetooth UUIDs rather than MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	links   *linkTable
}

// NewTinyGoAdapter creates a BLE adapter backed by the default host adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter: bluetooth.DefaultAdapter,
		links:   newLinkTable(),
	}
}

func normalizeID(id string) string {
	return strings.ToUpper(id)
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports link loss through the adapter-level
	// connect handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if conn := a.links.lost(normalizeID(device.Address.String())); conn != nil {
			conn.fireDisconnect()
		}
	})

	return nil
}

// Scan listens for advertisements of serviceUUID until ctx is done and
// returns one Device per advertiser, unordered.
func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	want, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	if ctx.Err() != nil {
		return []Device{}, nil
	}

	seen := newSightings()
	stop := context.AfterFunc(ctx, func() { _ = a.adapter.StopScan() })
	defer stop()

	err = a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		if r.HasServiceUUID(want) {
			seen.add(r.Address.String(), r.LocalName(), int(r.RSSI))
		}
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return seen.list(), nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks with its own timeout; ctx only
	// bounds how long we wait for it.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A late success is torn down so the link is not leaked.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinyGoConnection{
			id:       normalizeID(id),
			device:   result.device,
			links:    a.links,
			services: make(map[bluetooth.UUID]bluetooth.DeviceService),
		}
		a.links.add(conn.id, conn)
		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	id     string
	device bluetooth.Device
	links  *linkTable

	svcMu    sync.Mutex
	services map[bluetooth.UUID]bluetooth.DeviceService // discovered by UUID

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverServices() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	out := make([]Service, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, Service{UUID: s.UUID().String()})
	}
	return out, nil
}

// service returns the GATT service with uuid, discovering it once per link.
func (c *tinyGoConnection) service(uuid bluetooth.UUID) (bluetooth.DeviceService, error) {
	c.svcMu.Lock()
	defer c.svcMu.Unlock()
	if svc, ok := c.services[uuid]; ok {
		return svc, nil
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: service %s not found", uuid)
	}
	c.services[uuid] = svcs[0]
	return svcs[0], nil
}

// DiscoverCharacteristic resolves charUUID inside serviceUUID. TX and RX
// lookups on one link share a single service discovery.
func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	charID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	svc, err := c.service(svcID)
	if err != nil {
		return nil, err
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	for i := range chars {
		if chars[i].UUID() == charID {
			return &tinyGoCharacteristic{char: chars[i]}, nil
		}
	}
	return nil, fmt.Errorf("ble: characteristic %s not found in service %s", charUUID, serviceUUID)
}

// Disconnect closes the link and stops routing loss events for this id to
// it.
func (c *tinyGoConnection) Disconnect() error {
	c.links.closed(c.id, c)
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The platform reuses buf between notifications.
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
