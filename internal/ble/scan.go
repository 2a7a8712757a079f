package ble

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// ScanForDevices scans for peers advertising serviceUUID for at most
// timeout. Results are ordered strongest signal first. Finding nothing is
// not an error.
func ScanForDevices(ctx context.Context, adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	if devices == nil {
		devices = []Device{}
	}
	slices.SortStableFunc(devices, func(a, b Device) int {
		return cmp.Compare(b.RSSI, a.RSSI)
	})
	return devices, nil
}
