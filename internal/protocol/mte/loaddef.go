package mte

import (
	"encoding/binary"
	"fmt"
)

// LoadDefinition 负载设定。各相字段可缺省（JSON null 或数组长度不足），
// 缺省项以 0 下发并在掩码中置 0。数组按 L1..L3 排列。
type LoadDefinition struct {
	PhiV []*int32 `json:"phi_v,omitempty"`
	PhiI []*int32 `json:"phi_i,omitempty"`
	V    []*ME    `json:"v,omitempty"`
	I    []*ME    `json:"i,omitempty"`
	F    *int32   `json:"f,omitempty"`
}

// 负载设定数据布局（对象地址之后）：
// phaseMask(1) | amplitudeMask(1) | frequencyFlag(1) |
// phiV L3..L1 (3×4) | phiI L3..L1 (3×4) | V L3..L1 (3×5) | I L3..L1 (3×5) | f (4)
const (
	loadDefHeaderLen = 3
	LoadDefDataLen   = loadDefHeaderLen + 2*3*ScaledIntSize + 2*3*MESize + ScaledIntSize
)

// 掩码位：bit0..2 = 电压 L1..L3，bit3..5 = 电流 L1..L3
const (
	maskVoltageShift = 0
	maskCurrentShift = 3
)

// Validate 检查各相数组长度
func (d *LoadDefinition) Validate() error {
	for name, n := range map[string]int{"phi_v": len(d.PhiV), "phi_i": len(d.PhiI), "v": len(d.V), "i": len(d.I)} {
		if n > 3 {
			return fmt.Errorf("%w: %s has %d lines", ErrEncoding, name, n)
		}
	}
	return nil
}

// PhaseMask 相角有效位
func (d *LoadDefinition) PhaseMask() byte {
	return int32Mask(d.PhiV)<<maskVoltageShift | int32Mask(d.PhiI)<<maskCurrentShift
}

// AmplitudeMask 幅值有效位
func (d *LoadDefinition) AmplitudeMask() byte {
	return meMask(d.V)<<maskVoltageShift | meMask(d.I)<<maskCurrentShift
}

// FrequencyFlag 频率有效标志
func (d *LoadDefinition) FrequencyFlag() byte {
	if d.F != nil {
		return 1
	}
	return 0
}

// Encode 生成负载设定数据（不含对象地址）
func (d *LoadDefinition) Encode() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, LoadDefDataLen)
	b[0] = d.PhaseMask()
	b[1] = d.AmplitudeMask()
	b[2] = d.FrequencyFlag()
	off := loadDefHeaderLen
	for _, arr := range [][]*int32{d.PhiV, d.PhiI} {
		for line := L3; line >= L1; line-- {
			if v := int32At(arr, line); v != nil {
				binary.LittleEndian.PutUint32(b[off:], uint32(*v))
			}
			off += ScaledIntSize
		}
	}
	for _, arr := range [][]*ME{d.V, d.I} {
		for line := L3; line >= L1; line-- {
			if v := meAt(arr, line); v != nil {
				copy(b[off:], v.Bytes())
			}
			off += MESize
		}
	}
	if d.F != nil {
		binary.LittleEndian.PutUint32(b[off:], uint32(*d.F))
	}
	return b, nil
}

// BuildLoadSetupPayload 写负载设定请求负载
func BuildLoadSetupPayload(d *LoadDefinition) ([]byte, error) {
	data, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return BuildWritePayload(ObjLoadSetup, data)
}

// ParseLoadDefinition 按掩码还原负载设定数据（不含对象地址）
func ParseLoadDefinition(data []byte) (*LoadDefinition, error) {
	if len(data) < LoadDefDataLen {
		return nil, fmt.Errorf("%w: load definition %d bytes, need %d", ErrBadFrame, len(data), LoadDefDataLen)
	}
	phase, amp, freq := data[0], data[1], data[2]
	d := &LoadDefinition{}
	off := loadDefHeaderLen
	readInts := func(mask byte) []*int32 {
		out := make([]*int32, 3)
		for line := L3; line >= L1; line-- {
			if mask&(1<<line) != 0 {
				v := int32(binary.LittleEndian.Uint32(data[off:]))
				out[line] = &v
			}
			off += ScaledIntSize
		}
		return trimInt32(out)
	}
	readMEs := func(mask byte) []*ME {
		out := make([]*ME, 3)
		for line := L3; line >= L1; line-- {
			if mask&(1<<line) != 0 {
				v, _ := DecodeME(data[off : off+MESize])
				out[line] = &v
			}
			off += MESize
		}
		return trimME(out)
	}
	d.PhiV = readInts(phase >> maskVoltageShift)
	d.PhiI = readInts(phase >> maskCurrentShift)
	d.V = readMEs(amp >> maskVoltageShift)
	d.I = readMEs(amp >> maskCurrentShift)
	if freq != 0 {
		f := int32(binary.LittleEndian.Uint32(data[off:]))
		d.F = &f
	}
	return d, nil
}

func int32At(arr []*int32, line int) *int32 {
	if line < len(arr) {
		return arr[line]
	}
	return nil
}

func meAt(arr []*ME, line int) *ME {
	if line < len(arr) {
		return arr[line]
	}
	return nil
}

func int32Mask(arr []*int32) byte {
	var m byte
	for line := range arr {
		if arr[line] != nil {
			m |= 1 << line
		}
	}
	return m
}

func meMask(arr []*ME) byte {
	var m byte
	for line := range arr {
		if arr[line] != nil {
			m |= 1 << line
		}
	}
	return m
}

func trimInt32(arr []*int32) []*int32 {
	for len(arr) > 0 && arr[len(arr)-1] == nil {
		arr = arr[:len(arr)-1]
	}
	if len(arr) == 0 {
		return nil
	}
	return arr
}

func trimME(arr []*ME) []*ME {
	for len(arr) > 0 && arr[len(arr)-1] == nil {
		arr = arr[:len(arr)-1]
	}
	if len(arr) == 0 {
		return nil
	}
	return arr
}
