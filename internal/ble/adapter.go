// Package ble defines the narrow BLE adapter boundary used by the messenger
// and its tinygo-bluetooth implementation. Peers are reached through the
// Nordic UART Service: one write characteristic for outbound messages and
// one notify characteristic for inbound ones.
package ble

import (
	"context"
	"fmt"
)

// Nordic UART Service UUIDs
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // central -> peer (write)
	RXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // peer -> central (notify)
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	ID   string // platform address (MAC on Linux/Windows, CoreBluetooth UUID on macOS)
	Name string
	RSSI int
}

// Service describes a GATT service found on a connected peer.
type Service struct {
	UUID string
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverServices lists every GATT service on the peer.
	DiscoverServices() ([]Service, error)
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices once ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given id.
	Connect(ctx context.Context, id string) (Connection, error)
}

// TransportError reports a failed write or disconnect on an established link.
type TransportError struct {
	Op       string // "write" or "disconnect"
	DeviceID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ble: %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
