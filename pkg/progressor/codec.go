package progressor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Sample is one force measurement.  Time is the device clock in seconds and Load is in kg.
type Sample struct {
	Time float64
	Load float64
}

// Event is the decoded content of a notification frame: a SampleBatch, a CommandReply or a
// LowPowerWarning.
type Event interface {
	event()
}

// SampleBatch holds the weight records of a single notification in device order
type SampleBatch struct {
	Samples []Sample
}

// CommandReply is the device answer to the pending command.  Only the field matching Opcode is set; Raw
// always holds the payload.
type CommandReply struct {
	Opcode            Opcode
	FirmwareVersion   string
	BatteryMillivolts uint32
	ErrorInfo         string
	Raw               []byte
}

// LowPowerWarning is sent by the device when its battery is nearly exhausted
type LowPowerWarning struct{}

func (SampleBatch) event()     {}
func (CommandReply) event()    {}
func (LowPowerWarning) event() {}

// Codec decodes notification frames.  It holds no state, the pending command is passed in by the caller.
type Codec struct {
	LowPowerKind FrameKind
}

// NewCodec returns a codec for current firmware
func NewCodec() Codec {
	return Codec{LowPowerKind: KindLowPower}
}

// Decode interprets a notification frame.  Command responses are decoded according to the pending opcode.
// Errors are always a ProtocolError.
func (c Codec) Decode(frame []byte, pending Opcode) (Event, error) {
	if len(frame) < headerSize {
		return nil, ProtocolError{Kind: FrameKind(-1), Len: len(frame), Err: fmt.Errorf("%w: frame shorter than header", ErrMalformedPayload)}
	}
	kind := FrameKind(int8(frame[0]))
	payload := frame[headerSize:]

	switch kind {
	case KindWeightMeasure:
		samples, err := decodeWeights(payload)
		if err != nil {
			return nil, ProtocolError{Kind: kind, Len: len(frame), Err: err}
		}
		return SampleBatch{Samples: samples}, nil
	case KindCommandResponse:
		reply, err := decodeReply(payload, pending)
		if err != nil {
			return nil, ProtocolError{Kind: kind, Len: len(frame), Err: err}
		}
		return reply, nil
	case c.lowPowerKind():
		return LowPowerWarning{}, nil
	default:
		return nil, ProtocolError{Kind: kind, Len: len(frame), Err: ErrUnknownFrameKind}
	}
}

func (c Codec) lowPowerKind() FrameKind {
	if c.LowPowerKind == KindCommandResponse || c.LowPowerKind == KindWeightMeasure {
		return KindLowPower
	}
	return c.LowPowerKind
}

func decodeWeights(payload []byte) ([]Sample, error) {
	if len(payload)%recordSize != 0 {
		return nil, fmt.Errorf("%w: weight payload of %d bytes is not a multiple of %d", ErrMalformedPayload, len(payload), recordSize)
	}
	samples := make([]Sample, 0, len(payload)/recordSize)
	for off := 0; off < len(payload); off += recordSize {
		load := math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4]))
		micros := int32(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
		samples = append(samples, Sample{
			Time: float64(micros) / 1e6,
			Load: float64(load),
		})
	}
	return samples, nil
}

func decodeReply(payload []byte, pending Opcode) (CommandReply, error) {
	reply := CommandReply{Opcode: pending, Raw: append([]byte{}, payload...)}
	switch pending {
	case GetAppVersion:
		reply.FirmwareVersion = string(bytes.TrimRight(payload, "\x00"))
	case GetBatteryVoltage:
		if len(payload) != 4 {
			return reply, fmt.Errorf("%w: battery payload of %d bytes, expected 4", ErrMalformedPayload, len(payload))
		}
		reply.BatteryMillivolts = binary.LittleEndian.Uint32(payload)
	case GetErrorInfo:
		reply.ErrorInfo = strings.TrimRight(validUTF8(payload), "\x00")
	}
	return reply, nil
}

// validUTF8 drops any bytes that are not part of a valid UTF-8 sequence
func validUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}

// EncodeWeightBatch builds a weight measurement notification frame.  Times are truncated to whole
// microseconds.
func EncodeWeightBatch(samples []Sample) []byte {
	frame := make([]byte, headerSize, headerSize+recordSize*len(samples))
	frame[0] = byte(KindWeightMeasure)
	frame[1] = byte(recordSize * len(samples))
	rec := make([]byte, recordSize)
	for _, s := range samples {
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(float32(s.Load)))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(int32(s.Time*1e6)))
		frame = append(frame, rec...)
	}
	return frame
}

// EncodeFrame builds a notification frame of any kind around a payload
func EncodeFrame(kind FrameKind, payload []byte) []byte {
	frame := make([]byte, headerSize, headerSize+len(payload))
	frame[0] = byte(kind)
	frame[1] = byte(len(payload))
	return append(frame, payload...)
}
