// Package kvstore 在定长记录表和次序索引之上实现一个字符串 KV 存储。
//
// 它同时是索引字段维护协议的参考实现：引擎不会自动感知字段变更，
// 主表写入和索引维护之间也没有事务耦合——先 Exclude 旧键、再写主表、
// 再 Add 新键的配对责任全部落在这一层。存储引擎自身不加锁，
// 这里用一把读写锁把所有操作串行化，扮演引擎契约里的"调用方"。
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/forever-free1/TideTable/storage"
	"github.com/forever-free1/TideTable/storage/index"
	"github.com/forever-free1/TideTable/storage/table"
	"github.com/forever-free1/TideTable/watch"
)

// ErrKeyTooLong 表示键超出定容宽度
var ErrKeyTooLong = fmt.Errorf("key exceeds %d bytes", KeyCapacity)

// ErrValueTooLong 表示值超出定容宽度
var ErrValueTooLong = fmt.Errorf("value exceeds %d bytes", ValueCapacity)

// ErrEmptyKey 表示键为空
var ErrEmptyKey = errors.New("empty key")

// ErrNulByte 表示键或值含有 NUL 字节
// 定容编码用零字节做填充，含 NUL 的输入无法往返：带尾部 NUL 的
// 值读回被截断，"a" 和 "a\x00" 编码后是同一个键
var ErrNulByte = errors.New("key or value contains NUL byte")

// Entry 是 Range 和 Scan 返回的键值对
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store 是基于单表 + 键索引的字符串 KV 存储
// 删除只从索引剔除，主表槽成为无引用的死数据——引擎不支持
// 主记录删除，这是追加为主负载下有意的取舍
type Store struct {
	mu    sync.RWMutex
	items *table.Table[*Item]
	keys  *index.OrderedIndex[string]
	hub   *watch.Hub
	sugar *zap.SugaredLogger
}

// Options 定义 Store 的配置选项
type Options struct {
	// SyncWrites 每次变更是否逐次 fsync，默认开启
	SyncWrites bool

	// CacheBytes 主表读缓存容量（字节），0 表示不启用
	CacheBytes int64

	// Hub 变更事件通知中心，nil 表示不发事件
	Hub *watch.Hub

	// Logger 结构化日志，nil 表示静默
	Logger *zap.Logger
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithSyncWrites 设置变更是否逐次 fsync
func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}

// WithReadCache 启用主表读缓存并设置容量（字节）
func WithReadCache(maxBytes int64) Option {
	return func(o *Options) {
		o.CacheBytes = maxBytes
	}
}

// WithHub 设置变更事件通知中心
func WithHub(hub *watch.Hub) Option {
	return func(o *Options) {
		o.Hub = hub
	}
}

// WithLogger 设置结构化日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Open 打开或创建一个 KV 存储
// 数据目录下有两个文件：items.tbl（主表）和 keys.idx（键索引）
// 参数：
//   - dir: 数据目录
//   - opts: 配置选项
//
// 返回：
//   - *Store: 存储指针
//   - error: 打开错误
func Open(dir string, opts ...Option) (*Store, error) {
	options := &Options{
		SyncWrites: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	tableOpts := []table.Option{table.WithSyncWrites(options.SyncWrites)}
	if options.CacheBytes > 0 {
		tableOpts = append(tableOpts, table.WithReadCache(options.CacheBytes))
	}

	items, err := table.Open[*Item](filepath.Join(dir, "items.tbl"), itemCodec{}, tableOpts...)
	if err != nil {
		return nil, fmt.Errorf("打开主表失败: %w", err)
	}

	keys, err := index.Open[string](
		filepath.Join(dir, "keys.idx"),
		index.StringKey{Capacity: KeyCapacity},
		index.WithSyncWrites(options.SyncWrites),
	)
	if err != nil {
		items.Close()
		return nil, fmt.Errorf("打开键索引失败: %w", err)
	}

	return &Store{
		items: items,
		keys:  keys,
		hub:   options.Hub,
		sugar: logger.Sugar(),
	}, nil
}

// validate 检查键和值是否落在定容宽度内且不含 NUL 字节
// 服务层拒绝编码层无法往返的输入，而不是默默截断或撞键
func validate(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > KeyCapacity {
		return ErrKeyTooLong
	}
	if len(value) > ValueCapacity {
		return ErrValueTooLong
	}
	if strings.ContainsRune(key, 0) || strings.ContainsRune(value, 0) {
		return ErrNulByte
	}
	return nil
}

// Put 写入键值对；键已存在时覆盖值
// 覆盖走主表原地更新，键没变所以索引不动；新键插入主表后
// 再把 (键, 标识符) 加进索引
// 参数：
//   - key: 键
//   - value: 值
//
// 返回：
//   - error: 写入错误
func (s *Store) Put(key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.keys.SearchOne(key)
	switch {
	case err == nil:
		item, err := s.items.Get(ref)
		if err != nil {
			return fmt.Errorf("读取记录 %d 失败: %w", ref, err)
		}
		prev := item.Value
		item.Value = value
		if err := s.items.Update(item); err != nil {
			return fmt.Errorf("更新记录 %d 失败: %w", ref, err)
		}
		s.sugar.Debugw("put 覆盖", "key", key, "ref", ref)
		if s.hub != nil {
			s.hub.NotifyPut(key, value, prev)
		}
		return nil

	case errors.Is(err, storage.ErrNotFound):
		item := &Item{Key: key, Value: value}
		id, err := s.items.Insert(item)
		if err != nil {
			return fmt.Errorf("插入记录失败: %w", err)
		}
		// 主表写入和索引维护之间没有事务耦合，
		// 两步之间崩溃会留下索引缺口，恢复是这一层的职责
		if err := s.keys.Add(key, id); err != nil {
			return fmt.Errorf("维护键索引失败: %w", err)
		}
		s.sugar.Debugw("put 新键", "key", key, "id", id)
		if s.hub != nil {
			s.hub.NotifyPut(key, value, "")
		}
		return nil

	default:
		return fmt.Errorf("查询键索引失败: %w", err)
	}
}

// Get 按键读取值
// 参数：
//   - key: 键
//
// 返回：
//   - string: 值
//   - error: 键不存在返回 storage.ErrNotFound
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, err := s.keys.SearchOne(key)
	if err != nil {
		return "", err
	}
	item, err := s.items.Get(ref)
	if err != nil {
		return "", fmt.Errorf("读取记录 %d 失败: %w", ref, err)
	}
	return item.Value, nil
}

// Delete 删除键
// 只从索引剔除 (键, 标识符) 条目，主表槽保留为死数据
// 参数：
//   - key: 键
//
// 返回：
//   - error: 键不存在返回 storage.ErrNotFound
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.keys.SearchOne(key)
	if err != nil {
		return err
	}

	var prev string
	if item, err := s.items.Get(ref); err == nil {
		prev = item.Value
	}

	if err := s.keys.Exclude(key, ref); err != nil {
		return fmt.Errorf("剔除索引条目失败: %w", err)
	}
	s.sugar.Debugw("delete", "key", key, "ref", ref)
	if s.hub != nil {
		s.hub.NotifyDelete(key, prev)
	}
	return nil
}

// Range 返回键落在闭区间 [from, to] 的键值对，按键升序
// from > to 的空区间返回空结果，不是错误
func (s *Store) Range(from, to string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.keys.IterBetween(from, to))
}

// Scan 返回全部键值对，按键升序
func (s *Store) Scan() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.keys.Iter())
}

// collect 把索引迭代器产出的引用逐个解析回主表记录
func (s *Store) collect(it *index.Iterator[string]) ([]Entry, error) {
	var out []Entry
	for it.Next() {
		item, err := s.items.Get(it.Ref())
		if err != nil {
			return nil, fmt.Errorf("读取记录 %d 失败: %w", it.Ref(), err)
		}
		out = append(out, Entry{Key: item.Key, Value: item.Value})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count 返回当前存活的键数量
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Count()
}

// Sync 将主表和索引的数据同步到磁盘
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.items.Sync(); err != nil {
		return err
	}
	return s.keys.Sync()
}

// Close 关闭存储，释放两个文件句柄
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.items.Close()
	if cerr := s.keys.Close(); err == nil {
		err = cerr
	}
	return err
}
