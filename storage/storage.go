package storage

import "errors"

// ErrNotFound 表示标识符或键不存在
// 这是一个正常的查询结果，调用方应当处理，而不是程序缺陷
var ErrNotFound = errors.New("record not found")

// ErrCorrupt 表示文件结构不一致（头部损坏、长度与槽大小不对齐等）
// 对该句柄而言是致命错误，引擎不会尝试修复
var ErrCorrupt = errors.New("corrupt table file")

// Record 是可存入表的记录类型需要满足的最小契约
// 引擎与调用方记录结构之间唯一的耦合就是标识符的读写
type Record interface {
	// ID 返回记录当前的标识符，0 表示尚未插入
	ID() uint64

	// SetID 用引擎分配的标识符覆盖记录的标识符
	SetID(id uint64)
}

// Codec 将记录值与固定大小的字节块互相转换
// Encode 和 Decode 都是全函数：给定声明大小的缓冲区不会失败，
// 对全零或垃圾字节块 Decode 得到字段内容未定义的值（调用方
// 不应读取超过表记录数的槽）
type Codec[T any] interface {
	// Size 返回一条记录编码后的字节数，表创建后不可变更
	Size() int

	// Encode 将记录编码进长度为 Size() 的缓冲区
	Encode(rec T, buf []byte)

	// Decode 从长度为 Size() 的缓冲区解码出记录
	Decode(buf []byte) T
}
