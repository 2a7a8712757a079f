package messenger

import (
	"errors"
	"fmt"

	"github.com/chaz8081/blemsg/internal/session"
)

var (
	// ErrAdapterUnavailable means the BLE adapter could not be enabled.
	// Nothing else can proceed.
	ErrAdapterUnavailable = errors.New("messenger: BLE adapter unavailable")
	// ErrScanInProgress is returned by Scan while another scan is running.
	ErrScanInProgress = errors.New("messenger: scan already in progress")
	// ErrNotConnected is returned for ids with no registered connection.
	ErrNotConnected = errors.New("messenger: device not connected")
	// ErrAlreadyConnected is returned by Connect under ConnectPolicyReject.
	ErrAlreadyConnected = session.ErrAlreadyConnected
)

// ConnectError reports an adapter-level connect failure (timeout, refusal,
// missing messaging characteristic).
type ConnectError struct {
	DeviceID string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("messenger: connect %s: %v", e.DeviceID, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func notConnected(id string) error {
	return fmt.Errorf("%w: %s", ErrNotConnected, id)
}
