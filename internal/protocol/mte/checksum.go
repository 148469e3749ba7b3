package mte

// CalculateChecksum 计算 Mte 帧校验：逐字节异或
// 覆盖范围：接收地址到负载末尾（不含起始符与校验字节本身）
func CalculateChecksum(data []byte) byte {
	var checksum byte
	for _, b := range data {
		checksum ^= b
	}
	return checksum
}

// VerifyChecksum 校验完整帧（含起始符与末尾校验字节）
func VerifyChecksum(frame []byte) error {
	if len(frame) < MsgOverhead {
		return ErrBadFrame
	}
	checksumPos := len(frame) - 1
	if frame[checksumPos] != CalculateChecksum(frame[1:checksumPos]) {
		return ErrChecksum
	}
	return nil
}
