package table

import "github.com/forever-free1/TideTable/storage"

// Iterator 按标识符升序惰性遍历表记录
// 创建时快照记录数，有限、可用 Rewind 重放；读出错后停止，
// 错误通过 Err 暴露
type Iterator[T storage.Record] struct {
	t      *Table[T]
	count  uint64
	next   uint64
	cur    T
	err    error
	filter func(T) bool
}

// Next 前进到下一条记录
// 返回：
//   - bool: 是否取到了记录；false 表示遍历结束或出错
func (it *Iterator[T]) Next() bool {
	if it.err != nil {
		return false
	}
	for it.next < it.count {
		block, err := it.t.bf.ReadSlot(it.next)
		if err != nil {
			it.err = err
			return false
		}
		it.next++

		rec := it.t.codec.Decode(block)
		if it.filter == nil || it.filter(rec) {
			it.cur = rec
			return true
		}
	}
	return false
}

// Value 返回最近一次 Next 取到的记录
func (it *Iterator[T]) Value() T {
	return it.cur
}

// Err 返回遍历过程中遇到的读取错误
func (it *Iterator[T]) Err() error {
	return it.err
}

// Rewind 将迭代器重置到起点，快照的记录数保持不变
func (it *Iterator[T]) Rewind() {
	it.next = 0
	it.err = nil
}
