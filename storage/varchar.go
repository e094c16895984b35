package storage

import "bytes"

// 定容文本字段的编码约定：容量 N 的字段占用恰好 N 字节，
// 编码时超长截断、不足补零，解码时剥掉尾部的零填充。
// 字段宽度只由容量决定，调用方改变容量等于改变记录布局。

// EncodeFixedString 将字符串写入定容缓冲区
// 参数：
//   - buf: 目标缓冲区，长度即声明的容量
//   - s: 要编码的字符串，超出容量的部分被截断
func EncodeFixedString(buf []byte, s string) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// DecodeFixedString 从定容缓冲区还原字符串
// 尾部的零填充会被剥除；字符串内部的零字节无法与填充区分，
// 这是该编码约定的已知限制
// 参数：
//   - buf: 源缓冲区
//
// 返回：
//   - string: 还原出的字符串
func DecodeFixedString(buf []byte) string {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end])
}

// EncodeFixedBytes 将字节串写入定容缓冲区，规则与 EncodeFixedString 相同
func EncodeFixedBytes(buf []byte, b []byte) {
	n := copy(buf, b)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// DecodeFixedBytes 从定容缓冲区还原字节串（副本），剥除尾部零填充
func DecodeFixedBytes(buf []byte) []byte {
	trimmed := bytes.TrimRight(buf, "\x00")
	out := make([]byte, len(trimmed))
	copy(out, trimmed)
	return out
}
