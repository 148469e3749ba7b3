package mte

import "fmt"

// 帧格式（小端）：
// 0x81(1) | receiver(1) | sender(1) | len(1) | cmd(1) | payload(0..N) | xor(1)
// len 为整帧字节数，等于 len(payload) + MsgOverhead
const (
	MessageStart = 0x81
	MsgOverhead  = 6
	// MaxFrameLen len 字段为单字节
	MaxFrameLen   = 0xFF
	MaxPayloadLen = MaxFrameLen - MsgOverhead
)

// 默认站地址
const (
	DefaultGatewayAddr    byte = 6
	DefaultInstrumentAddr byte = 1
)

// 命令码
const (
	CmdConnect     byte = 201
	CmdConnectResp byte = 57
	CmdRead        byte = 160
	CmdReadResp    byte = 80
	CmdWrite       byte = 163
	CmdAck         byte = 48
	CmdNak         byte = 51
	CmdStopTest    byte = 73
	// CmdPollTestResult 请求与应答共用，按负载长度区分方向（1 字节请求，6 字节应答）
	CmdPollTestResult byte = 52
	// CmdStartTest 逆向所得，含义未完全确认
	CmdStartTest byte = 76
)

// Frame 一帧 Mte 报文（仅在发送时构造，接收后校验即用即弃）
type Frame struct {
	Receiver byte
	Sender   byte
	Length   byte
	Cmd      byte
	Payload  []byte
	Checksum byte
}

// String 便于日志输出
func (f *Frame) String() string {
	return fmt.Sprintf("cmd=%d %d->%d len=%d payload=% X", f.Cmd, f.Sender, f.Receiver, f.Length, f.Payload)
}

// EncodeFrame 组帧：[0x81, receiver, sender, len, cmd, ...payload, xor]
func EncodeFrame(receiver, sender, cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrEncoding, len(payload), MaxPayloadLen)
	}
	buf := make([]byte, 0, len(payload)+MsgOverhead)
	buf = append(buf, MessageStart, receiver, sender, byte(len(payload)+MsgOverhead), cmd)
	buf = append(buf, payload...)
	buf = append(buf, CalculateChecksum(buf[1:]))
	return buf, nil
}

// DecodeFrame 解析一帧完整报文，校验起始符、长度与异或校验
// 未识别的命令码同样成功返回，负载保持原样
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < MsgOverhead {
		return nil, fmt.Errorf("%w: short frame %d bytes", ErrBadFrame, len(raw))
	}
	if raw[0] != MessageStart {
		return nil, fmt.Errorf("%w: start 0x%02X", ErrBadFrame, raw[0])
	}
	if int(raw[3]) != len(raw) {
		return nil, fmt.Errorf("%w: length field %d, got %d bytes", ErrBadFrame, raw[3], len(raw))
	}
	if err := VerifyChecksum(raw); err != nil {
		return nil, err
	}
	payload := make([]byte, len(raw)-MsgOverhead)
	copy(payload, raw[5:len(raw)-1])
	return &Frame{
		Receiver: raw[1],
		Sender:   raw[2],
		Length:   raw[3],
		Cmd:      raw[4],
		Payload:  payload,
		Checksum: raw[len(raw)-1],
	}, nil
}
