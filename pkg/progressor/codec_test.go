package progressor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tt := []struct {
		op  Opcode
		exp []byte
	}{
		{op: TareScale, exp: []byte{0x64, 0x00}},
		{op: StartWeightMeas, exp: []byte{0x65, 0x00}},
		{op: StopWeightMeas, exp: []byte{0x66, 0x00}},
		{op: Sleep, exp: []byte{0x6E, 0x00}},
		{op: GetBatteryVoltage, exp: []byte{0x6F, 0x00}},
	}
	for _, tc := range tt {
		t.Run(tc.op.String(), func(t *testing.T) {
			assert.Equal(t, tc.exp, EncodeCommand(tc.op))
		})
	}
}

func TestOpcodeHasReply(t *testing.T) {
	for op := TareScale; op <= GetBatteryVoltage; op++ {
		switch op {
		case GetAppVersion, GetErrorInfo, GetBatteryVoltage:
			assert.True(t, op.HasReply(), op.String())
		default:
			assert.False(t, op.HasReply(), op.String())
		}
	}
	assert.Equal(t, "OPCODE(0x01)", Opcode(1).String())
}

func TestDecodeWeightRoundTrip(t *testing.T) {
	frame := EncodeWeightBatch([]Sample{{Time: 1.0, Load: 1.0}})
	evt, err := NewCodec().Decode(frame, OpNone)
	require.NoError(t, err)
	assert.Equal(t, SampleBatch{Samples: []Sample{{Time: 1.0, Load: 1.0}}}, evt)
}

func TestDecodeMultipleRecords(t *testing.T) {
	in := []Sample{{Time: 0.125, Load: 10.5}, {Time: 0.25, Load: 11.25}, {Time: 0.5, Load: -0.5}}
	evt, err := NewCodec().Decode(EncodeWeightBatch(in), GetBatteryVoltage)
	require.NoError(t, err)

	batch, ok := evt.(SampleBatch)
	require.True(t, ok)
	require.Len(t, batch.Samples, 3)
	for i := range in {
		assert.InDelta(t, in[i].Time, batch.Samples[i].Time, 1e-6)
		assert.Equal(t, in[i].Load, batch.Samples[i].Load)
	}
}

func TestDecodeCommandResponse(t *testing.T) {
	battery := make([]byte, 4)
	binary.LittleEndian.PutUint32(battery, 3712)

	tt := []struct {
		Name    string
		Pending Opcode
		Payload []byte
		Expect  CommandReply
	}{
		{Name: "firmware", Pending: GetAppVersion, Payload: []byte("1.2.3\x00"), Expect: CommandReply{Opcode: GetAppVersion, FirmwareVersion: "1.2.3", Raw: []byte("1.2.3\x00")}},
		{Name: "battery", Pending: GetBatteryVoltage, Payload: battery, Expect: CommandReply{Opcode: GetBatteryVoltage, BatteryMillivolts: 3712, Raw: battery}},
		{Name: "error info drops invalid bytes", Pending: GetErrorInfo, Payload: []byte("ab\xffc"), Expect: CommandReply{Opcode: GetErrorInfo, ErrorInfo: "abc", Raw: []byte("ab\xffc")}},
		{Name: "no pending command", Pending: OpNone, Payload: []byte{1, 2}, Expect: CommandReply{Opcode: OpNone, Raw: []byte{1, 2}}},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			evt, err := NewCodec().Decode(EncodeFrame(KindCommandResponse, tc.Payload), tc.Pending)
			require.NoError(t, err)
			assert.Equal(t, tc.Expect, evt)
		})
	}
}

func TestDecodeLowPower(t *testing.T) {
	evt, err := NewCodec().Decode(EncodeFrame(KindLowPower, nil), OpNone)
	require.NoError(t, err)
	assert.Equal(t, LowPowerWarning{}, evt)

	// older firmware uses kind 2
	legacy := Codec{LowPowerKind: 2}
	evt, err = legacy.Decode(EncodeFrame(2, nil), OpNone)
	require.NoError(t, err)
	assert.Equal(t, LowPowerWarning{}, evt)

	_, err = legacy.Decode(EncodeFrame(KindLowPower, nil), OpNone)
	assert.ErrorIs(t, err, ErrUnknownFrameKind)
}

func TestDecodeErrors(t *testing.T) {
	tt := []struct {
		Name    string
		Frame   []byte
		Pending Opcode
		Err     error
	}{
		{Name: "unknown kind", Frame: EncodeFrame(7, []byte{1}), Err: ErrUnknownFrameKind},
		{Name: "short frame", Frame: []byte{1}, Err: ErrMalformedPayload},
		{Name: "partial weight record", Frame: EncodeFrame(KindWeightMeasure, make([]byte, 7)), Err: ErrMalformedPayload},
		{Name: "short battery reply", Frame: EncodeFrame(KindCommandResponse, []byte{1, 2, 3}), Pending: GetBatteryVoltage, Err: ErrMalformedPayload},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			evt, err := NewCodec().Decode(tc.Frame, tc.Pending)
			assert.Nil(t, evt)
			assert.ErrorIs(t, err, tc.Err)

			var perr ProtocolError
			assert.ErrorAs(t, err, &perr)
			assert.Equal(t, len(tc.Frame), perr.Len)
		})
	}
}

func TestNameFilters(t *testing.T) {
	assert.True(t, NamePrefix(DefaultNamePrefix)("Progressor_1234"))
	assert.False(t, NamePrefix(DefaultNamePrefix)("my progressor"))
	assert.True(t, NameContains("progressor")("My Progressor"))
	assert.False(t, NameContains("progressor")("Forceboard"))
}
