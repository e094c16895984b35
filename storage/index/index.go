package index

import (
	"cmp"
	"encoding/binary"
	"fmt"

	"github.com/forever-free1/TideTable/storage"
	"github.com/forever-free1/TideTable/storage/table"
)

// OrderedIndex 是按键升序维护的次序索引
// 底层是同一种定长槽文件容器，每个槽存一条 (键, 引用标识符) 条目：
// 定宽键在前，主表记录的标识符（8 字节小端）在后。条目随时保持
// 键非降序且无空洞，点查和区间查都走二分；插入和剔除靠搬移后续
// 槽实现，代价与插入点之后的条目数成正比——索引预期比主表小且
// 读多写少，这是可接受的取舍。
//
// 引擎不做内部加锁，变更操作由调用方串行化；任何公开操作结束后
// 文件对后续调用方都处于已排序状态
type OrderedIndex[K cmp.Ordered] struct {
	bf    *table.BlockFile
	keys  KeyCodec[K]
	bloom *Bloom
	dir   *keydir
}

// Options 定义次序索引的配置选项
type Options struct {
	// SyncWrites 每次变更操作是否在返回前 fsync，默认开启
	SyncWrites bool

	// DisableKeydir 关闭内存键目录，点查退回磁盘二分
	DisableKeydir bool

	// DisableBloom 关闭布隆过滤器的快速否定路径
	DisableBloom bool

	// BloomSize 布隆过滤器的预期键数量
	BloomSize uint

	// BloomFP 布隆过滤器的期望误判率
	BloomFP float64
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithSyncWrites 设置变更操作是否逐次 fsync
func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}

// WithoutKeydir 关闭内存键目录
func WithoutKeydir() Option {
	return func(o *Options) {
		o.DisableKeydir = true
	}
}

// WithoutBloom 关闭布隆过滤器
func WithoutBloom() Option {
	return func(o *Options) {
		o.DisableBloom = true
	}
}

// WithBloomEstimates 设置布隆过滤器的容量估计和误判率
func WithBloomEstimates(n uint, fp float64) Option {
	return func(o *Options) {
		o.BloomSize = n
		o.BloomFP = fp
	}
}

// Open 打开或创建一个次序索引
// 打开时整表扫描做启动引导：校验键序并重建布隆过滤器和键目录，
// 键序倒置视为文件损坏
// 参数：
//   - path: 索引文件路径
//   - keys: 键编解码器
//   - opts: 配置选项
//
// 返回：
//   - *OrderedIndex[K]: 索引指针
//   - error: 打开错误
func Open[K cmp.Ordered](path string, keys KeyCodec[K], opts ...Option) (*OrderedIndex[K], error) {
	options := &Options{
		SyncWrites: true,
		BloomSize:  1000000, // 预估最多 100 万个键
		BloomFP:    0.01,
	}
	for _, opt := range opts {
		opt(options)
	}

	bf, err := table.OpenBlockFile(path, keys.Size()+8, options.SyncWrites)
	if err != nil {
		return nil, err
	}

	ix := &OrderedIndex[K]{
		bf:   bf,
		keys: keys,
	}
	if !options.DisableBloom {
		ix.bloom = NewBloom(options.BloomSize, options.BloomFP)
	}
	if !options.DisableKeydir {
		ix.dir = newKeydir()
	}

	if err := ix.bootstrap(); err != nil {
		bf.Close()
		return nil, err
	}
	return ix, nil
}

// bootstrap 启动引导：顺序扫描全部条目，校验排序不变量，
// 并把每个键写入布隆过滤器和键目录
func (ix *OrderedIndex[K]) bootstrap() error {
	count := ix.bf.Count()
	var prev K
	for pos := uint64(0); pos < count; pos++ {
		key, ref, err := ix.entryAt(pos)
		if err != nil {
			return err
		}
		if pos > 0 && key < prev {
			return fmt.Errorf("位置 %d 键序倒置: %w", pos, storage.ErrCorrupt)
		}
		prev = key

		kb := ix.keyBytes(key)
		if ix.bloom != nil {
			ix.bloom.Add(kb)
		}
		if ix.dir != nil {
			ix.dir.add(kb, ref)
		}
	}
	return nil
}

// entryAt 读取并解码位置 pos 的条目
func (ix *OrderedIndex[K]) entryAt(pos uint64) (K, uint64, error) {
	var zero K
	block, err := ix.bf.ReadSlot(pos)
	if err != nil {
		return zero, 0, err
	}
	key := ix.keys.Decode(block[:ix.keys.Size()])
	ref := binary.LittleEndian.Uint64(block[ix.keys.Size():])
	return key, ref, nil
}

// encodeEntry 编码一条 (键, 引用) 条目
func (ix *OrderedIndex[K]) encodeEntry(key K, ref uint64) []byte {
	block := make([]byte, ix.bf.SlotSize())
	ix.keys.Encode(key, block[:ix.keys.Size()])
	binary.LittleEndian.PutUint64(block[ix.keys.Size():], ref)
	return block
}

// keyBytes 返回键的编码字节，供布隆过滤器和键目录使用
// 每次分配新切片：键目录会留存键字节，不能复用缓冲
func (ix *OrderedIndex[K]) keyBytes(key K) []byte {
	buf := make([]byte, ix.keys.Size())
	ix.keys.Encode(key, buf)
	return buf
}

// lowerBound 返回第一个键 >= key 的位置；不存在则为 Count
func (ix *OrderedIndex[K]) lowerBound(key K) (uint64, error) {
	lo, hi := uint64(0), ix.bf.Count()
	for lo < hi {
		mid := lo + (hi-lo)/2
		k, _, err := ix.entryAt(mid)
		if err != nil {
			return 0, err
		}
		if k < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// upperBound 返回第一个键 > key 的位置；不存在则为 Count
func (ix *OrderedIndex[K]) upperBound(key K) (uint64, error) {
	lo, hi := uint64(0), ix.bf.Count()
	for lo < hi {
		mid := lo + (hi-lo)/2
		k, _, err := ix.entryAt(mid)
		if err != nil {
			return 0, err
		}
		if k <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Add 向索引插入一条 (键, 引用) 条目
// 插入位置取同键段之后（upper bound），同键条目保持插入序；
// 插入点之后的条目整体右移一个槽
// 参数：
//   - key: 索引键，允许重复
//   - ref: 主表记录的标识符
//
// 返回：
//   - error: 插入错误
func (ix *OrderedIndex[K]) Add(key K, ref uint64) error {
	pos, err := ix.upperBound(key)
	if err != nil {
		return err
	}

	count := ix.bf.Count()
	// 从尾部往前搬，避免覆盖还没挪走的条目
	for i := count; i > pos; i-- {
		block, err := ix.bf.ReadSlot(i - 1)
		if err != nil {
			return err
		}
		if err := ix.bf.WriteSlot(i, block); err != nil {
			return err
		}
	}

	if err := ix.bf.WriteSlot(pos, ix.encodeEntry(key, ref)); err != nil {
		return err
	}
	if err := ix.bf.Commit(count+2, count+1); err != nil {
		return err
	}

	kb := ix.keyBytes(key)
	if ix.bloom != nil {
		ix.bloom.Add(kb)
	}
	if ix.dir != nil {
		ix.dir.add(kb, ref)
	}
	return nil
}

// Exclude 从索引剔除一条指定的 (键, 引用) 条目
// 先二分到同键段开头，再线性找引用匹配的那条；之后的条目整体
// 左移一个槽，尾槽回收——索引必须保持无空洞，二分才成立
// 参数：
//   - key: 索引键
//   - ref: 主表记录的标识符
//
// 返回：
//   - error: 条目不存在返回 storage.ErrNotFound
func (ix *OrderedIndex[K]) Exclude(key K, ref uint64) error {
	pos, err := ix.lowerBound(key)
	if err != nil {
		return err
	}

	count := ix.bf.Count()
	found := false
	for ; pos < count; pos++ {
		k, r, err := ix.entryAt(pos)
		if err != nil {
			return err
		}
		if k != key {
			break
		}
		if r == ref {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("索引条目 (键=%v, 引用=%d): %w", key, ref, storage.ErrNotFound)
	}

	for i := pos; i+1 < count; i++ {
		block, err := ix.bf.ReadSlot(i + 1)
		if err != nil {
			return err
		}
		if err := ix.bf.WriteSlot(i, block); err != nil {
			return err
		}
	}

	if err := ix.bf.Truncate(count, count-1); err != nil {
		return err
	}
	if ix.dir != nil {
		ix.dir.remove(ix.keyBytes(key), ref)
	}
	// 布隆过滤器不支持删除，残留键只造成可接受的误判
	return nil
}

// SearchOne 查找键对应的一个引用
// 同键多条时返回位置最低的那条，即同键段里最早插入的
// 参数：
//   - key: 索引键
//
// 返回：
//   - uint64: 引用标识符
//   - error: 键不存在返回 storage.ErrNotFound
func (ix *OrderedIndex[K]) SearchOne(key K) (uint64, error) {
	if ix.bloom != nil && !ix.bloom.Test(ix.keyBytes(key)) {
		return 0, fmt.Errorf("键 %v: %w", key, storage.ErrNotFound)
	}

	if ix.dir != nil {
		refs := ix.dir.get(ix.keyBytes(key))
		if len(refs) == 0 {
			return 0, fmt.Errorf("键 %v: %w", key, storage.ErrNotFound)
		}
		return refs[0], nil
	}

	pos, err := ix.lowerBound(key)
	if err != nil {
		return 0, err
	}
	if pos < ix.bf.Count() {
		k, ref, err := ix.entryAt(pos)
		if err != nil {
			return 0, err
		}
		if k == key {
			return ref, nil
		}
	}
	return 0, fmt.Errorf("键 %v: %w", key, storage.ErrNotFound)
}

// SearchMany 查找键对应的全部引用，按存储顺序（即插入序）返回
// 键不存在时返回空切片，不是错误
// 参数：
//   - key: 索引键
//
// 返回：
//   - []uint64: 引用标识符列表
//   - error: 读取错误
func (ix *OrderedIndex[K]) SearchMany(key K) ([]uint64, error) {
	if ix.bloom != nil && !ix.bloom.Test(ix.keyBytes(key)) {
		return nil, nil
	}

	if ix.dir != nil {
		refs := ix.dir.get(ix.keyBytes(key))
		if len(refs) == 0 {
			return nil, nil
		}
		out := make([]uint64, len(refs))
		copy(out, refs)
		return out, nil
	}

	pos, err := ix.lowerBound(key)
	if err != nil {
		return nil, err
	}

	var out []uint64
	count := ix.bf.Count()
	for ; pos < count; pos++ {
		k, ref, err := ix.entryAt(pos)
		if err != nil {
			return nil, err
		}
		if k != key {
			break
		}
		out = append(out, ref)
	}
	return out, nil
}

// Iter 返回按键升序遍历整个索引的迭代器，产出引用标识符
// 条目数在迭代器创建时快照
func (ix *OrderedIndex[K]) Iter() *Iterator[K] {
	return &Iterator[K]{
		ix:  ix,
		end: ix.bf.Count(),
	}
}

// IterBetween 返回键落在闭区间 [lo, hi] 的条目迭代器，按键升序
// hi < lo 的空区间产出空序列，不是错误
func (ix *OrderedIndex[K]) IterBetween(lo, hi K) *Iterator[K] {
	if hi < lo {
		return &Iterator[K]{ix: ix}
	}

	start, err := ix.lowerBound(lo)
	if err != nil {
		return &Iterator[K]{ix: ix, err: err}
	}
	end, err := ix.upperBound(hi)
	if err != nil {
		return &Iterator[K]{ix: ix, err: err}
	}
	return &Iterator[K]{
		ix:    ix,
		start: start,
		next:  start,
		end:   end,
	}
}

// Count 返回当前条目数
func (ix *OrderedIndex[K]) Count() uint64 {
	return ix.bf.Count()
}

// Sync 将数据同步到磁盘
func (ix *OrderedIndex[K]) Sync() error {
	return ix.bf.Sync()
}

// Path 返回索引文件路径
func (ix *OrderedIndex[K]) Path() string {
	return ix.bf.Path()
}

// Close 关闭索引，释放文件句柄
func (ix *OrderedIndex[K]) Close() error {
	return ix.bf.Close()
}
