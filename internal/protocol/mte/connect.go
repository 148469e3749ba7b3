package mte

import (
	"fmt"
	"strings"
)

// 连接应答定长字段宽度（NUL 填充 ASCII）
const (
	protoVersionWidth = 7
	deviceTypeWidth   = 11
	firmwareWidth     = 5
	serialWidth       = 12

	ConnectRespLen = protoVersionWidth + deviceTypeWidth + firmwareWidth + serialWidth
)

// DeviceInfo 连接握手应答
type DeviceInfo struct {
	ProtocolVersion string `json:"proto_version"`
	DeviceType      string `json:"dev_type"`
	FirmwareVersion string `json:"fw_version"`
	SerialNumber    string `json:"seqno"`
}

// ParseDeviceInfo 解析连接应答负载
func ParseDeviceInfo(payload []byte) (*DeviceInfo, error) {
	if len(payload) < ConnectRespLen {
		return nil, fmt.Errorf("%w: connect response %d bytes, need %d", ErrUnexpectedResponse, len(payload), ConnectRespLen)
	}
	off := 0
	field := func(width int) string {
		s := strings.TrimRight(string(payload[off:off+width]), "\x00")
		off += width
		return s
	}
	return &DeviceInfo{
		ProtocolVersion: field(protoVersionWidth),
		DeviceType:      field(deviceTypeWidth),
		FirmwareVersion: field(firmwareWidth),
		SerialNumber:    field(serialWidth),
	}, nil
}

// Encode 生成连接应答负载（超长截断，不足补 NUL）
func (d *DeviceInfo) Encode() []byte {
	out := make([]byte, 0, ConnectRespLen)
	pad := func(s string, width int) {
		b := make([]byte, width)
		copy(b, s)
		out = append(out, b...)
	}
	pad(d.ProtocolVersion, protoVersionWidth)
	pad(d.DeviceType, deviceTypeWidth)
	pad(d.FirmwareVersion, firmwareWidth)
	pad(d.SerialNumber, serialWidth)
	return out
}
