package mte

import (
	"encoding/binary"
	"fmt"
)

// 瞬时量字段定标（10 的幂次）
const (
	FreqScale  = 1
	PFScale    = 1
	PhaseScale = 1
)

// InstantaneousRespLen 瞬时量应答负载长度
const InstantaneousRespLen = 158

// 瞬时量应答负载布局；线上各相按 L3、L2、L1 排列，其后为总量
const (
	offV        = 3
	offI        = 18
	offFreq     = 33
	offOverload = 37
	offPhiV     = 39
	offPhiI     = 51
	offPhiL     = 64
	offPF       = 76
	offPFTotal  = 88
	offSinPhi   = 92
	offP        = 97
	offQ        = 117
	offS        = 138
)

// 应答中回显的分组头字节
var instantaneousGroupHeaders = map[int]byte{
	2:   0xFF,
	38:  0x3F,
	63:  0xFF,
	96:  0xFF,
	137: 0x0F,
}

// Line 相别下标
const (
	L1 = iota
	L2
	L3
	Total
)

// InstantaneousRaw 瞬时量线上原值，数组按 L1..L3 排列，功率类下标 3 为总量
type InstantaneousRaw struct {
	V        [3]ME    `json:"v"`
	I        [3]ME    `json:"i"`
	Freq     uint32   `json:"freq"`
	Overload byte     `json:"overload_flag"`
	PhiV     [3]int32 `json:"phi_v"`
	PhiI     [3]int32 `json:"phi_i"`
	PhiL     [3]int32 `json:"phi_l"`
	PF       [3]int32 `json:"pf"`
	PFTotal  int32    `json:"pf_total"`
	SinPhi   int32    `json:"sin_phi"`
	P        [4]ME    `json:"p"`
	Q        [4]ME    `json:"q"`
	S        [4]ME    `json:"s"`
}

// Instantaneous 瞬时量（基本单位：V、A、Hz、度、W、var、VA）
type Instantaneous struct {
	V        [3]float64 `json:"v"`
	I        [3]float64 `json:"i"`
	Freq     float64    `json:"freq"`
	Overload bool       `json:"overload"`
	PhiV     [3]float64 `json:"phi_v"`
	PhiI     [3]float64 `json:"phi_i"`
	PhiL     [3]float64 `json:"phi_l"`
	PF       [3]float64 `json:"pf"`
	PFTotal  float64    `json:"pf_total"`
	SinPhi   float64    `json:"sin_phi"`
	P        [4]float64 `json:"p"`
	Q        [4]float64 `json:"q"`
	S        [4]float64 `json:"s"`

	Raw *InstantaneousRaw `json:"raw,omitempty"`
}

// BuildInstantaneousRequest 读瞬时量请求负载
func BuildInstantaneousRequest() []byte {
	return BuildReadPayload(ObjInstantaneous, InstantaneousSelection)
}

// ParseInstantaneous 解析读瞬时量应答负载（含回显地址）
func ParseInstantaneous(payload []byte) (*InstantaneousRaw, error) {
	if len(payload) < InstantaneousRespLen {
		return nil, fmt.Errorf("%w: instantaneous response %d bytes, need %d",
			ErrUnexpectedResponse, len(payload), InstantaneousRespLen)
	}
	if payload[0] != ObjInstantaneous.Address[0] || payload[1] != ObjInstantaneous.Address[1] {
		return nil, fmt.Errorf("%w: echoed address % X", ErrUnexpectedResponse, payload[:2])
	}

	r := &InstantaneousRaw{}
	me := func(off int) ME {
		v, _ := DecodeME(payload[off : off+MESize])
		return v
	}
	i32 := func(off int) int32 {
		return int32(binary.LittleEndian.Uint32(payload[off : off+ScaledIntSize]))
	}
	// 线上 L3、L2、L1
	for k := 0; k < 3; k++ {
		line := L3 - k
		r.V[line] = me(offV + k*MESize)
		r.I[line] = me(offI + k*MESize)
		r.PhiV[line] = i32(offPhiV + k*ScaledIntSize)
		r.PhiI[line] = i32(offPhiI + k*ScaledIntSize)
		r.PhiL[line] = i32(offPhiL + k*ScaledIntSize)
		r.PF[line] = i32(offPF + k*ScaledIntSize)
		r.P[line] = me(offP + k*MESize)
		r.Q[line] = me(offQ + k*MESize)
		r.S[line] = me(offS + k*MESize)
	}
	r.P[Total] = me(offP + 3*MESize)
	r.Q[Total] = me(offQ + 3*MESize)
	r.S[Total] = me(offS + 3*MESize)
	r.Freq = binary.LittleEndian.Uint32(payload[offFreq : offFreq+4])
	r.Overload = payload[offOverload]
	r.PFTotal = i32(offPFTotal)
	r.SinPhi = i32(offSinPhi)
	return r, nil
}

// Encode 生成读瞬时量应答负载
func (r *InstantaneousRaw) Encode() []byte {
	b := make([]byte, InstantaneousRespLen)
	copy(b, ObjInstantaneous.Address)
	for off, h := range instantaneousGroupHeaders {
		b[off] = h
	}
	putME := func(off int, v ME) { copy(b[off:], v.Bytes()) }
	put32 := func(off int, v int32) { binary.LittleEndian.PutUint32(b[off:], uint32(v)) }
	for k := 0; k < 3; k++ {
		line := L3 - k
		putME(offV+k*MESize, r.V[line])
		putME(offI+k*MESize, r.I[line])
		put32(offPhiV+k*ScaledIntSize, r.PhiV[line])
		put32(offPhiI+k*ScaledIntSize, r.PhiI[line])
		put32(offPhiL+k*ScaledIntSize, r.PhiL[line])
		put32(offPF+k*ScaledIntSize, r.PF[line])
		putME(offP+k*MESize, r.P[line])
		putME(offQ+k*MESize, r.Q[line])
		putME(offS+k*MESize, r.S[line])
	}
	putME(offP+3*MESize, r.P[Total])
	putME(offQ+3*MESize, r.Q[Total])
	putME(offS+3*MESize, r.S[Total])
	binary.LittleEndian.PutUint32(b[offFreq:], r.Freq)
	b[offOverload] = r.Overload
	put32(offPFTotal, r.PFTotal)
	put32(offSinPhi, r.SinPhi)
	return b
}

// Reading 换算为基本单位
func (r *InstantaneousRaw) Reading() *Instantaneous {
	out := &Instantaneous{
		Freq:     ToFloat(int64(r.Freq), 0, FreqScale),
		Overload: r.Overload != 0,
		PFTotal:  ToFloat(int64(r.PFTotal), 0, PFScale),
		SinPhi:   ToFloat(int64(r.SinPhi), 0, PFScale),
		Raw:      r,
	}
	for k := 0; k < 3; k++ {
		out.V[k] = r.V[k].Float()
		out.I[k] = r.I[k].Float()
		out.PhiV[k] = ToFloat(int64(r.PhiV[k]), 0, PhaseScale)
		out.PhiI[k] = ToFloat(int64(r.PhiI[k]), 0, PhaseScale)
		out.PhiL[k] = ToFloat(int64(r.PhiL[k]), 0, PhaseScale)
		out.PF[k] = ToFloat(int64(r.PF[k]), 0, PFScale)
	}
	for k := 0; k < 4; k++ {
		out.P[k] = r.P[k].Float()
		out.Q[k] = r.Q[k].Float()
		out.S[k] = r.S[k].Float()
	}
	return out
}
