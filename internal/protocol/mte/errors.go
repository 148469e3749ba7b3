package mte

import "errors"

var (
	// ErrChecksum 帧校验失败（帧被丢弃，不上抛，除非最终导致超时）
	ErrChecksum = errors.New("mte: checksum mismatch")
	// ErrAddressMismatch 接收地址不是本站地址（丢弃并记录）
	ErrAddressMismatch = errors.New("mte: receiver address mismatch")
	// ErrTimeout 截止时间内未收到应答
	ErrTimeout = errors.New("mte: response timeout")
	// ErrConnectionClosed 等待应答期间连接关闭
	ErrConnectionClosed = errors.New("mte: connection closed")
	// ErrEncoding 数值超出线上格式可表示范围（发送前检出）
	ErrEncoding = errors.New("mte: value out of wire range")
	// ErrNak 仪器拒绝写入
	ErrNak = errors.New("mte: instrument rejected request")
	// ErrBusy 同一连接已有未完成的请求
	ErrBusy = errors.New("mte: exchange already in flight")
	// ErrUnexpectedResponse 应答命令码或负载与请求不符
	ErrUnexpectedResponse = errors.New("mte: unexpected response")
	// ErrBadFrame 帧结构非法（起始符、长度字段）
	ErrBadFrame = errors.New("mte: malformed frame")
)

// 错误类别，REST 层据此映射状态码
const (
	KindChecksum           = "checksum"
	KindAddressMismatch    = "address_mismatch"
	KindTimeout            = "timeout"
	KindConnectionClosed   = "connection_closed"
	KindEncoding           = "encoding"
	KindNak                = "nak"
	KindBusy               = "busy"
	KindUnexpectedResponse = "unexpected_response"
	KindBadFrame           = "bad_frame"
	KindUnknown            = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrChecksum, KindChecksum},
	{ErrAddressMismatch, KindAddressMismatch},
	{ErrTimeout, KindTimeout},
	{ErrConnectionClosed, KindConnectionClosed},
	{ErrEncoding, KindEncoding},
	{ErrNak, KindNak},
	{ErrBusy, KindBusy},
	{ErrUnexpectedResponse, KindUnexpectedResponse},
	{ErrBadFrame, KindBadFrame},
}

// KindOf 返回错误所属类别；nil 返回空串
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
