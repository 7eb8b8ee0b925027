package progressor

import (
	"context"
	"io"
	"strings"
)

// Beacon is an advertisement seen while scanning
type Beacon struct {
	Address   string
	LocalName string
	RSSI      int16
}

// Adapter is the BLE central used to find and connect to a device.  ScanBeacon blocks until a beacon
// accepted by match is seen or the context ends.
type Adapter interface {
	ScanBeacon(ctx context.Context, match NameFilter) (*Beacon, error)
	Connect(ctx context.Context, beacon *Beacon) (Device, error)
}

// Device is a connected peripheral
type Device interface {
	Service(ctx context.Context, uuid string) (Service, error)
	Close() error
}

// Service is a resolved GATT service.  Rx subscribes to notifications of a characteristic and Tx returns a
// writer for a characteristic.
type Service interface {
	Rx(uuid string, callback func(buf []byte)) error
	Tx(uuid string) (io.Writer, error)
}

// NameFilter decides whether an advertised local name belongs to a Progressor
type NameFilter func(name string) bool

// NamePrefix accepts names starting with prefix
func NamePrefix(prefix string) NameFilter {
	return func(name string) bool {
		return strings.HasPrefix(name, prefix)
	}
}

// NameContains accepts names containing s, ignoring case
func NameContains(s string) NameFilter {
	s = strings.ToLower(s)
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), s)
	}
}
