package kvstore

import (
	"encoding/binary"

	"github.com/forever-free1/TideTable/storage"
)

const (
	// KeyCapacity 键字段的定容宽度（字节）
	KeyCapacity = 64

	// ValueCapacity 值字段的定容宽度（字节）
	ValueCapacity = 256
)

// Item 是 KV 存储的定长记录：标识符 + 定容键 + 定容值
// 记录布局固定，改变容量常量会让已有数据文件的解码全部失效
type Item struct {
	id    uint64
	Key   string
	Value string
}

// ID 返回记录的标识符，0 表示尚未插入
func (it *Item) ID() uint64 {
	return it.id
}

// SetID 设置记录的标识符
func (it *Item) SetID(id uint64) {
	it.id = id
}

// itemCodec 把 Item 编码为定长槽：| ID (8B) | Key (64B) | Value (256B) |
type itemCodec struct{}

func (itemCodec) Size() int {
	return 8 + KeyCapacity + ValueCapacity
}

func (itemCodec) Encode(rec *Item, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], rec.id)
	storage.EncodeFixedString(buf[8:8+KeyCapacity], rec.Key)
	storage.EncodeFixedString(buf[8+KeyCapacity:], rec.Value)
}

func (itemCodec) Decode(buf []byte) *Item {
	return &Item{
		id:    binary.LittleEndian.Uint64(buf[0:8]),
		Key:   storage.DecodeFixedString(buf[8 : 8+KeyCapacity]),
		Value: storage.DecodeFixedString(buf[8+KeyCapacity:]),
	}
}

// 确保 itemCodec 实现了 Codec 接口
var _ storage.Codec[*Item] = itemCodec{}
