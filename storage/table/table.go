package table

import (
	"cmp"
	"fmt"

	"github.com/forever-free1/TideTable/storage"
)

// Table 是直接寻址的定长记录表
// 标识符从 1 开始由引擎单调分配、永不复用；标识符 i 的记录
// 固定存放在槽 i-1，插入和读取都是 O(1)。表没有删除操作：
// 留洞需要空闲链表，搬移后续槽的代价又与追加为主的负载不符
type Table[T storage.Record] struct {
	bf    *BlockFile
	codec storage.Codec[T]
	cache *slotCache
}

// Options 定义表的配置选项
type Options struct {
	// SyncWrites 每次变更操作是否在返回前 fsync，默认开启
	// 引擎没有独立的提交步骤，关闭后由操作系统决定落盘时机
	SyncWrites bool

	// CacheBytes 读缓存的容量上限（字节），0 表示不启用
	CacheBytes int64
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithSyncWrites 设置变更操作是否逐次 fsync
func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}

// WithReadCache 启用热点槽读缓存并设置容量上限（字节）
func WithReadCache(maxBytes int64) Option {
	return func(o *Options) {
		o.CacheBytes = maxBytes
	}
}

// Open 打开或创建一张表
// 槽大小取自 codec.Size()，建表后记录布局不可再变：改变字段集
// 会让后续所有解码得到错误内容，引擎无法检测，这是调用方义务
// 参数：
//   - path: 表文件路径
//   - codec: 记录编解码器
//   - opts: 配置选项
//
// 返回：
//   - *Table[T]: 表指针
//   - error: 打开错误
func Open[T storage.Record](path string, codec storage.Codec[T], opts ...Option) (*Table[T], error) {
	options := &Options{
		SyncWrites: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	bf, err := OpenBlockFile(path, codec.Size(), options.SyncWrites)
	if err != nil {
		return nil, err
	}

	t := &Table[T]{
		bf:    bf,
		codec: codec,
	}

	if options.CacheBytes > 0 {
		cache, err := newSlotCache(options.CacheBytes)
		if err != nil {
			bf.Close()
			return nil, fmt.Errorf("创建读缓存失败: %w", err)
		}
		t.cache = cache
	}

	return t, nil
}

// Insert 插入一条记录并返回分配的标识符
// 记录上预置的标识符会被忽略并覆盖为引擎分配的值；
// 返回时新槽和头部已按配置落盘
// 参数：
//   - rec: 要插入的记录
//
// 返回：
//   - uint64: 分配的标识符
//   - error: 插入错误
func (t *Table[T]) Insert(rec T) (uint64, error) {
	id := t.bf.NextID()
	rec.SetID(id)

	block := make([]byte, t.codec.Size())
	t.codec.Encode(rec, block)

	idx := id - 1
	if err := t.bf.WriteSlot(idx, block); err != nil {
		return 0, err
	}
	if err := t.bf.Commit(id+1, t.bf.Count()+1); err != nil {
		return 0, err
	}

	if t.cache != nil {
		t.cache.put(id, block)
	}
	return id, nil
}

// Update 原地覆盖记录所在的槽
// 槽大小和偏移都不变，其它槽不受影响，记录数也不变
// 参数：
//   - rec: 要更新的记录，标识符必须满足 1 ≤ id ≤ Count
//
// 返回：
//   - error: 标识符越界返回 storage.ErrNotFound
func (t *Table[T]) Update(rec T) error {
	id := rec.ID()
	if id == 0 || id > t.bf.Count() {
		return fmt.Errorf("标识符 %d: %w", id, storage.ErrNotFound)
	}

	block := make([]byte, t.codec.Size())
	t.codec.Encode(rec, block)

	if err := t.bf.WriteSlot(id-1, block); err != nil {
		return err
	}
	if t.cache != nil {
		t.cache.drop(id)
	}
	if t.bf.syncWrites {
		return t.bf.Sync()
	}
	return nil
}

// Get 按标识符读取记录
// 参数：
//   - id: 标识符，必须满足 1 ≤ id ≤ Count
//
// 返回：
//   - T: 解码出的记录
//   - error: 标识符越界返回 storage.ErrNotFound
func (t *Table[T]) Get(id uint64) (T, error) {
	var zero T
	if id == 0 || id > t.bf.Count() {
		return zero, fmt.Errorf("标识符 %d: %w", id, storage.ErrNotFound)
	}

	if t.cache != nil {
		if block, ok := t.cache.get(id); ok {
			return t.codec.Decode(block), nil
		}
	}

	block, err := t.bf.ReadSlot(id - 1)
	if err != nil {
		return zero, err
	}
	if t.cache != nil {
		t.cache.put(id, block)
	}
	return t.codec.Decode(block), nil
}

// All 返回按标识符升序遍历全表的迭代器
// 记录数在迭代器创建时快照，之后插入的记录对本次遍历不可见
func (t *Table[T]) All() *Iterator[T] {
	return &Iterator[T]{
		t:     t,
		count: t.bf.Count(),
	}
}

// IterBetween 返回 All 的过滤子序列：key(rec) 落在闭区间 [lo, hi]
// 的记录，仍按标识符升序产出。key 不要求与插入顺序有任何关联，
// 语义始终是全表过滤扫描
func IterBetween[T storage.Record, K cmp.Ordered](t *Table[T], lo, hi K, key func(T) K) *Iterator[T] {
	it := t.All()
	it.filter = func(rec T) bool {
		k := key(rec)
		return k >= lo && k <= hi
	}
	return it
}

// Count 返回当前记录数
func (t *Table[T]) Count() uint64 {
	return t.bf.Count()
}

// Sync 将数据同步到磁盘
func (t *Table[T]) Sync() error {
	return t.bf.Sync()
}

// Path 返回表文件路径
func (t *Table[T]) Path() string {
	return t.bf.Path()
}

// Close 关闭表，释放文件句柄和缓存
func (t *Table[T]) Close() error {
	if t.cache != nil {
		t.cache.close()
		t.cache = nil
	}
	return t.bf.Close()
}
