// Package progressor implements the client side of the Progressor force sensor protocol over BLE: commands
// are single opcodes written to a control characteristic and everything the device says comes back as
// notification frames on a data characteristic.
package progressor

import (
	"encoding/binary"
	"fmt"
)

// GATT identifiers of the Progressor service
const (
	ServiceUUID = "7e4e1701-1ea6-40c9-9dcc-13d34ffead57"
	WriteUUID   = "7e4e1703-1ea6-40c9-9dcc-13d34ffead57"
	NotifyUUID  = "7e4e1702-1ea6-40c9-9dcc-13d34ffead57"
)

// DefaultNamePrefix is the advertised name prefix of every Progressor
const DefaultNamePrefix = "Progressor"

// Opcode is a single byte device command
type Opcode uint8

const (
	// OpNone marks the absence of a pending command
	OpNone              Opcode = 0x00
	TareScale           Opcode = 0x64
	StartWeightMeas     Opcode = 0x65
	StopWeightMeas      Opcode = 0x66
	StartPeakRFDMeas    Opcode = 0x67
	StartPeakRFDSeries  Opcode = 0x68
	AddCalibrationPoint Opcode = 0x69
	SaveCalibration     Opcode = 0x6A
	GetAppVersion       Opcode = 0x6B
	GetErrorInfo        Opcode = 0x6C
	ClearErrorInfo      Opcode = 0x6D
	Sleep               Opcode = 0x6E
	GetBatteryVoltage   Opcode = 0x6F
)

func (o Opcode) String() string {
	switch o {
	case OpNone:
		return "NONE"
	case TareScale:
		return "TARE_SCALE"
	case StartWeightMeas:
		return "START_WEIGHT_MEAS"
	case StopWeightMeas:
		return "STOP_WEIGHT_MEAS"
	case StartPeakRFDMeas:
		return "START_PEAK_RFD_MEAS"
	case StartPeakRFDSeries:
		return "START_PEAK_RFD_MEAS_SERIES"
	case AddCalibrationPoint:
		return "ADD_CALIB_POINT"
	case SaveCalibration:
		return "SAVE_CALIB"
	case GetAppVersion:
		return "GET_APP_VERSION"
	case GetErrorInfo:
		return "GET_ERR_INFO"
	case ClearErrorInfo:
		return "CLR_ERR_INFO"
	case Sleep:
		return "SLEEP"
	case GetBatteryVoltage:
		return "GET_BATT_VLTG"
	default:
		return fmt.Sprintf("OPCODE(0x%02x)", uint8(o))
	}
}

// HasReply reports whether the device answers the command with a command response frame
func (o Opcode) HasReply() bool {
	switch o {
	case GetAppVersion, GetErrorInfo, GetBatteryVoltage:
		return true
	default:
		return false
	}
}

// EncodeCommand returns the 2 byte little endian frame for an opcode
func EncodeCommand(op Opcode) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(op))
	return b
}

// FrameKind is the first byte of every notification frame
type FrameKind int8

const (
	KindCommandResponse FrameKind = 0
	KindWeightMeasure   FrameKind = 1

	// KindLowPower is the low battery warning of current firmware.  Some firmware revisions send 2 instead,
	// see WithLowPowerKind.
	KindLowPower FrameKind = 4
)

func (k FrameKind) String() string {
	switch k {
	case KindCommandResponse:
		return "cmd_resp"
	case KindWeightMeasure:
		return "weight_measure"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

const (
	headerSize = 2
	recordSize = 8
)
