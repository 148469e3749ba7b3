package mte

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const (
	// ScaledIntSize 定标整数的线上长度
	ScaledIntSize = 4
	// MESize 尾数+指数格式的线上长度：int32 尾数(LE) + int8 指数
	MESize = 5
)

// ME 仪器的浮点线上格式：值 = Mantissa × 10^Exponent
type ME struct {
	Mantissa int32
	Exponent int8
}

// NewME 构造 ME，超出 int32/int8 范围返回 ErrEncoding
func NewME(m int64, e int) (ME, error) {
	if m < math.MinInt32 || m > math.MaxInt32 {
		return ME{}, fmt.Errorf("%w: mantissa %d", ErrEncoding, m)
	}
	if e < math.MinInt8 || e > math.MaxInt8 {
		return ME{}, fmt.Errorf("%w: exponent %d", ErrEncoding, e)
	}
	return ME{Mantissa: int32(m), Exponent: int8(e)}, nil
}

// Float 以基本单位返回数值
func (v ME) Float() float64 { return ToFloat(int64(v.Mantissa), int(v.Exponent), 0) }

// Bytes 返回 5 字节线上表示
func (v ME) Bytes() []byte {
	b := make([]byte, MESize)
	binary.LittleEndian.PutUint32(b, uint32(v.Mantissa))
	b[4] = byte(v.Exponent)
	return b
}

// MarshalJSON 序列化为 [mantissa, exponent]
func (v ME) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{int64(v.Mantissa), int64(v.Exponent)})
}

// UnmarshalJSON 解析 [mantissa, exponent]，超范围返回 ErrEncoding
func (v *ME) UnmarshalJSON(data []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: me %s", ErrEncoding, data)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: me needs [mantissa, exponent], got %d items", ErrEncoding, len(pair))
	}
	m, err := pair[0].Int64()
	if err != nil {
		return fmt.Errorf("%w: mantissa %s", ErrEncoding, pair[0])
	}
	e, err := pair[1].Int64()
	if err != nil {
		return fmt.Errorf("%w: exponent %s", ErrEncoding, pair[1])
	}
	parsed, err := NewME(m, int(e))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// EncodeME 编码尾数与指数为 5 字节
func EncodeME(m int64, e int) ([]byte, error) {
	v, err := NewME(m, e)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

// DecodeME 解码 5 字节，只做位解释，不做任何舍入
func DecodeME(b []byte) (ME, error) {
	if len(b) < MESize {
		return ME{}, fmt.Errorf("%w: me needs %d bytes, got %d", ErrBadFrame, MESize, len(b))
	}
	return ME{
		Mantissa: int32(binary.LittleEndian.Uint32(b[:4])),
		Exponent: int8(b[4]),
	}, nil
}

// ToFloat 返回 m × 10^(e−target)
// 负指数时用除法，保证 242100e-3 这类输入得到最近的 float64
func ToFloat(m int64, e, target int) float64 {
	n := e - target
	if n >= 0 {
		return float64(m) * math.Pow10(n)
	}
	return float64(m) / math.Pow10(-n)
}

// EncodeScaledInt 编码定标整数：round(value × 10^scale) 存为 int32 LE
func EncodeScaledInt(value float64, scale int) ([]byte, error) {
	raw := math.Round(value * math.Pow10(scale))
	if math.IsNaN(raw) || raw < math.MinInt32 || raw > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %v scaled by 10^%d", ErrEncoding, value, scale)
	}
	b := make([]byte, ScaledIntSize)
	binary.LittleEndian.PutUint32(b, uint32(int32(raw)))
	return b, nil
}

// DecodeScaledInt 解码定标整数：int32 LE ÷ 10^scale
func DecodeScaledInt(b []byte, scale int) float64 {
	return ToFloat(int64(int32(binary.LittleEndian.Uint32(b[:ScaledIntSize]))), 0, scale)
}
