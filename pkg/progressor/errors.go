package progressor

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when no advertising device matches the name filter before the scan
	// timeout
	ErrDeviceNotFound = errors.New("progressor: device not found")
	// ErrConnectionFailed is returned when the link, the service or one of its characteristics could not be
	// established
	ErrConnectionFailed = errors.New("progressor: connection failed")
	// ErrCommandInFlight is returned when a reply-bearing command is sent while another is still awaiting
	// its reply
	ErrCommandInFlight = errors.New("progressor: command already awaiting reply")
	// ErrNoSamples is returned when a soft tare window closes without receiving any samples
	ErrNoSamples = errors.New("progressor: no samples received during tare")
	// ErrTareInProgress is returned when a soft tare is already running
	ErrTareInProgress = errors.New("progressor: tare in progress")
	// ErrNotConnected is returned for commands on a disconnected session
	ErrNotConnected = errors.New("progressor: not connected")

	// ErrUnknownFrameKind is wrapped by ProtocolError for frames with an unrecognised kind byte
	ErrUnknownFrameKind = errors.New("unknown frame kind")
	// ErrMalformedPayload is wrapped by ProtocolError for frames whose payload cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")
)

// ProtocolError is a notification frame that could not be decoded.  The session logs and skips these.
type ProtocolError struct {
	Kind FrameKind
	Len  int
	Err  error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("progressor: protocol error in %s frame of %d bytes: %v", e.Kind, e.Len, e.Err)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}
