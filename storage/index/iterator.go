package index

import "cmp"

// Iterator 按键升序惰性遍历索引条目，产出主表引用标识符
// 创建时快照遍历区间，有限、可用 Rewind 重放；读出错后停止，
// 错误通过 Err 暴露
type Iterator[K cmp.Ordered] struct {
	ix    *OrderedIndex[K]
	start uint64
	next  uint64
	end   uint64
	key   K
	ref   uint64
	err   error
}

// Next 前进到下一条条目
// 返回：
//   - bool: 是否取到了条目；false 表示遍历结束或出错
func (it *Iterator[K]) Next() bool {
	if it.err != nil || it.next >= it.end {
		return false
	}
	key, ref, err := it.ix.entryAt(it.next)
	if err != nil {
		it.err = err
		return false
	}
	it.key = key
	it.ref = ref
	it.next++
	return true
}

// Ref 返回最近一次 Next 取到的主表引用标识符
func (it *Iterator[K]) Ref() uint64 {
	return it.ref
}

// Key 返回最近一次 Next 取到的索引键
func (it *Iterator[K]) Key() K {
	return it.key
}

// Err 返回遍历过程中遇到的读取错误
func (it *Iterator[K]) Err() error {
	return it.err
}

// Rewind 将迭代器重置到区间起点，快照的区间保持不变
func (it *Iterator[K]) Rewind() {
	it.next = it.start
	it.err = nil
}
