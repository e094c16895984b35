package index

import (
	"cmp"
	"encoding/binary"
	"math"

	"github.com/forever-free1/TideTable/storage"
)

// KeyCodec 定义索引键的定宽编解码
// 键宽度建索引后不可变更；比较在解码后的值上进行，
// 编码字节序不需要保持键的大小关系
type KeyCodec[K cmp.Ordered] interface {
	// Size 返回键编码后的字节数
	Size() int

	// Encode 将键编码进长度为 Size() 的缓冲区
	Encode(key K, buf []byte)

	// Decode 从长度为 Size() 的缓冲区解码出键
	Decode(buf []byte) K
}

// Uint64Key 是 uint64 键的编解码器，小端 8 字节
type Uint64Key struct{}

func (Uint64Key) Size() int { return 8 }

func (Uint64Key) Encode(key uint64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, key)
}

func (Uint64Key) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

// Int64Key 是 int64 键的编解码器，小端 8 字节补码
type Int64Key struct{}

func (Int64Key) Size() int { return 8 }

func (Int64Key) Encode(key int64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(key))
}

func (Int64Key) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// Uint32Key 是 uint32 键的编解码器，小端 4 字节
type Uint32Key struct{}

func (Uint32Key) Size() int { return 4 }

func (Uint32Key) Encode(key uint32, buf []byte) {
	binary.LittleEndian.PutUint32(buf, key)
}

func (Uint32Key) Decode(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// Float64Key 是 float64 键的编解码器，IEEE 754 位型小端 8 字节
// NaN 键的排序无定义，调用方不应索引 NaN
type Float64Key struct{}

func (Float64Key) Size() int { return 8 }

func (Float64Key) Encode(key float64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(key))
}

func (Float64Key) Decode(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}

// StringKey 是定容字符串键的编解码器
// 宽度为声明的容量，编码时超长截断、不足补零，解码剥除尾部填充；
// 截断意味着只在前 Capacity 字节内保持区分度
type StringKey struct {
	Capacity int
}

func (s StringKey) Size() int { return s.Capacity }

func (s StringKey) Encode(key string, buf []byte) {
	storage.EncodeFixedString(buf, key)
}

func (s StringKey) Decode(buf []byte) string {
	return storage.DecodeFixedString(buf)
}

// 确保内置编解码器实现了 KeyCodec 接口
var (
	_ KeyCodec[uint64]  = Uint64Key{}
	_ KeyCodec[int64]   = Int64Key{}
	_ KeyCodec[uint32]  = Uint32Key{}
	_ KeyCodec[float64] = Float64Key{}
	_ KeyCodec[string]  = StringKey{}
)
