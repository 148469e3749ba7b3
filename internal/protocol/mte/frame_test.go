package mte

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_Layout(t *testing.T) {
	raw, err := EncodeFrame(DefaultInstrumentAddr, DefaultGatewayAddr, CmdRead, BuildInstantaneousRequest())
	require.NoError(t, err)

	want := []byte{0x81, 0x01, 0x06, 0x0D, 0xA0, 0x02, 0x3D, 0xFF, 0x3F, 0xFF, 0xFF, 0x0F}
	want = append(want, CalculateChecksum(want[1:]))
	assert.Equal(t, want, raw)
	assert.Equal(t, byte(len(raw)), raw[3])
}

func TestEncodeFrame_PayloadTooLong(t *testing.T) {
	_, err := EncodeFrame(1, 6, CmdWrite, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrEncoding)

	raw, err := EncodeFrame(1, 6, CmdWrite, make([]byte, MaxPayloadLen))
	require.NoError(t, err)
	assert.Len(t, raw, MaxFrameLen)
}

func TestFrame_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		BuildInstantaneousRequest(),
		(&DeviceInfo{ProtocolVersion: "1.0", DeviceType: "CL3013", FirmwareVersion: "2.1", SerialNumber: "A1"}).Encode(),
		make([]byte, MaxPayloadLen),
	}
	for _, p := range payloads {
		raw, err := EncodeFrame(DefaultGatewayAddr, DefaultInstrumentAddr, CmdReadResp, p)
		require.NoError(t, err)

		f, err := DecodeFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, DefaultGatewayAddr, f.Receiver)
		assert.Equal(t, DefaultInstrumentAddr, f.Sender)
		assert.Equal(t, CmdReadResp, f.Cmd)
		assert.Equal(t, len(p)+MsgOverhead, int(f.Length))
		assert.Equal(t, len(p), len(f.Payload))
	}
}

func TestFrame_SingleBitFlip(t *testing.T) {
	payload := []byte{0x02, 0x3D, 0xFF, 0x10, 0x20, 0x30}
	raw, err := EncodeFrame(DefaultGatewayAddr, DefaultInstrumentAddr, CmdReadResp, payload)
	require.NoError(t, err)

	for i := 5; i < len(raw)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), raw...)
			flipped[i] ^= 1 << bit
			_, err := DecodeFrame(flipped)
			if !assert.ErrorIs(t, err, ErrChecksum, "byte %d bit %d", i, bit) {
				return
			}
		}
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	raw, err := EncodeFrame(DefaultGatewayAddr, DefaultInstrumentAddr, CmdAck, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"过短", raw[:3]},
		{"起始符错误", append([]byte{0x80}, raw[1:]...)},
		{"长度字段不符", append(append([]byte(nil), raw...), 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestDecodeFrame_UnknownCommand(t *testing.T) {
	raw, err := EncodeFrame(DefaultGatewayAddr, DefaultInstrumentAddr, 0xEE, []byte{0xDE, 0xAD})
	require.NoError(t, err)

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEE), f.Cmd)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.Payload)
}
