package mte

import (
	"encoding/binary"
	"fmt"
)

const (
	// PollRequestLen 轮询请求负载长度
	PollRequestLen = 1
	// PollResponseLen 轮询应答负载长度：meterIndex(1) | seq(1) | error int32
	PollResponseLen = 6
	// ErrorScale 误差定标（万分之一百分点）
	ErrorScale = 4
)

// TestResult 校验结果
type TestResult struct {
	MeterIndex   uint8   `json:"meter_index"`
	Sequence     uint8   `json:"seq"`
	ErrorPercent float64 `json:"error"`
	ErrorRaw     int32   `json:"error_raw"`
}

// IsPollResponse 命令码 52 双向共用，按负载长度判断方向
func IsPollResponse(f *Frame) bool {
	return f.Cmd == CmdPollTestResult && len(f.Payload) == PollResponseLen
}

// IsPollRequest 见 IsPollResponse
func IsPollRequest(f *Frame) bool {
	return f.Cmd == CmdPollTestResult && len(f.Payload) == PollRequestLen
}

// ParseTestResult 解析轮询应答负载
func ParseTestResult(payload []byte) (*TestResult, error) {
	if len(payload) != PollResponseLen {
		return nil, fmt.Errorf("%w: poll response %d bytes, need %d", ErrUnexpectedResponse, len(payload), PollResponseLen)
	}
	raw := int32(binary.LittleEndian.Uint32(payload[2:6]))
	return &TestResult{
		MeterIndex:   payload[0],
		Sequence:     payload[1],
		ErrorPercent: ToFloat(int64(raw), 0, ErrorScale),
		ErrorRaw:     raw,
	}, nil
}

// Encode 生成轮询应答负载
func (r *TestResult) Encode() []byte {
	b := make([]byte, PollResponseLen)
	b[0] = r.MeterIndex
	b[1] = r.Sequence
	binary.LittleEndian.PutUint32(b[2:], uint32(r.ErrorRaw))
	return b
}
