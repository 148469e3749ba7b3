package mte

import (
	"bytes"
	"fmt"
)

// Object 可寻址寄存器区（读/写命令的目标）
type Object struct {
	Name    string
	Address []byte
}

// 已知对象地址
var (
	ObjInstantaneous = Object{Name: "instantaneous", Address: []byte{0x02, 0x3D}}
	ObjLoadSetup     = Object{Name: "loadSetup", Address: []byte{0x05, 0x46}}
	ObjWiringSetup   = Object{Name: "wiringSetup", Address: []byte{0x00, 0x01, 0x20}}
	ObjDisplayWindow = Object{Name: "displayWindow", Address: []byte{0x00, 0x10, 0x80}}
)

// InstantaneousSelection 读瞬时量的字段选择掩码，应答中各字节作为分组头回显
var InstantaneousSelection = []byte{0xFF, 0x3F, 0xFF, 0xFF, 0x0F}

// BuildReadPayload 读请求负载：对象地址 + 字段选择掩码
func BuildReadPayload(obj Object, selection []byte) []byte {
	p := make([]byte, 0, len(obj.Address)+len(selection))
	p = append(p, obj.Address...)
	return append(p, selection...)
}

// BuildWritePayload 写请求负载：对象地址 + 数据
func BuildWritePayload(obj Object, data []byte) ([]byte, error) {
	if len(obj.Address)+len(data) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: write %s %d bytes", ErrEncoding, obj.Name, len(data))
	}
	p := make([]byte, 0, len(obj.Address)+len(data))
	p = append(p, obj.Address...)
	return append(p, data...), nil
}

// SplitObject 按已知对象地址拆分读/写负载，返回对象与剩余数据
func SplitObject(payload []byte) (Object, []byte, bool) {
	// 三字节地址优先匹配
	for _, obj := range []Object{ObjWiringSetup, ObjDisplayWindow, ObjInstantaneous, ObjLoadSetup} {
		if bytes.HasPrefix(payload, obj.Address) {
			return obj, payload[len(obj.Address):], true
		}
	}
	return Object{}, payload, false
}
