package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	art "github.com/plar/go-adaptive-radix-tree"
)

// EventType 定义变更事件类型
type EventType string

const (
	EventPut    EventType = "put"
	EventDelete EventType = "delete"
)

// Event 表示一次键值变更
type Event struct {
	Type      EventType `json:"type"`                 // 事件类型：put 或 delete
	Key       string    `json:"key"`                  // 变更的键
	Value     string    `json:"value,omitempty"`      // 变更后的值（put 事件）
	PrevValue string    `json:"prev_value,omitempty"` // 变更前的值（覆盖或删除时有值）
}

// Watcher 表示一个订阅了变更事件的客户端
type Watcher struct {
	// Ch 推送事件的通道，有键值变更时事件从这里送达客户端
	Ch chan *Event

	// Prefix 关注的键前缀，空字符串表示关注所有键
	Prefix string

	closed bool
}

// NewWatcher 创建新的 Watcher
// 参数：
//   - prefix: 关注的前缀，为空表示关注所有
//   - bufferSize: 事件通道的缓冲区大小
//
// 返回：
//   - *Watcher: Watcher 实例
func NewWatcher(prefix string, bufferSize int) *Watcher {
	return &Watcher{
		Ch:     make(chan *Event, bufferSize),
		Prefix: prefix,
	}
}

// IsMatch 检查事件是否匹配该 Watcher 的前缀
func (w *Watcher) IsMatch(event *Event) bool {
	if w.Prefix == "" {
		return true
	}
	return strings.HasPrefix(event.Key, w.Prefix)
}

// Close 关闭 Watcher
func (w *Watcher) Close() {
	if !w.closed {
		close(w.Ch)
		w.closed = true
	}
}

// Hub 是变更事件通知中心
// 管理所有 Watcher，并把键值变更事件分发给前缀匹配的订阅者
type Hub struct {
	watchers []*Watcher
	mu       sync.RWMutex

	// 前缀 → 关注该前缀的 watcher 列表，用 ART 树做前缀组织
	prefixTree art.Tree
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		watchers:   make([]*Watcher, 0),
		prefixTree: art.New(),
	}
}

// Watch 注册一个新的 Watcher
// 参数：
//   - prefix: 关注的键前缀，为空表示关注所有键
//   - bufferSize: 事件通道的缓冲区大小
//
// 返回：
//   - *Watcher: 注册的 Watcher 实例
func (h *Hub) Watch(prefix string, bufferSize int) *Watcher {
	watcher := NewWatcher(prefix, bufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.watchers = append(h.watchers, watcher)

	if prefix != "" {
		var list []*Watcher
		if val, found := h.prefixTree.Search(art.Key(prefix)); found {
			list = val.([]*Watcher)
		}
		list = append(list, watcher)
		h.prefixTree.Insert(art.Key(prefix), list)
	}

	return watcher
}

// Unregister 注销一个 Watcher 并关闭它
func (h *Hub) Unregister(watcher *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, w := range h.watchers {
		if w == watcher {
			h.watchers = append(h.watchers[:i], h.watchers[i+1:]...)
			break
		}
	}

	if watcher.Prefix != "" {
		if val, found := h.prefixTree.Search(art.Key(watcher.Prefix)); found {
			list := val.([]*Watcher)
			for i, w := range list {
				if w == watcher {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(list) > 0 {
				h.prefixTree.Insert(art.Key(watcher.Prefix), list)
			} else {
				h.prefixTree.Delete(art.Key(watcher.Prefix))
			}
		}
	}

	watcher.Close()
}

// Notify 把事件分发给所有前缀匹配的 Watcher
// 订阅者通过前缀树定位：逐个尝试事件键的前缀，命中即取出该前缀下
// 的订阅者列表，再加上关注所有键的订阅者。通道已满的订阅者直接
// 跳过，事件分发不能阻塞存储主流程
func (h *Hub) Notify(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, watcher := range h.matchingWatchers(event.Key) {
		if watcher.closed {
			continue
		}
		select {
		case watcher.Ch <- event:
		default:
		}
	}
}

// matchingWatchers 找到所有关注该键的 watcher
// 事件键的每个非空前缀查一次树；每个 watcher 只挂在自己的前缀下，
// 不同前缀互不重叠，结果不会重复。调用方需持有读锁
func (h *Hub) matchingWatchers(key string) []*Watcher {
	var result []*Watcher

	for i := 1; i <= len(key); i++ {
		if val, found := h.prefixTree.Search(art.Key(key[:i])); found {
			result = append(result, val.([]*Watcher)...)
		}
	}

	// 关注所有键的 watcher 不在树里，单独收集
	for _, watcher := range h.watchers {
		if watcher.Prefix == "" {
			result = append(result, watcher)
		}
	}

	return result
}

// NotifyPut 通知写入事件；覆盖已有键时带上旧值
func (h *Hub) NotifyPut(key, value, prevValue string) {
	h.Notify(&Event{
		Type:      EventPut,
		Key:       key,
		Value:     value,
		PrevValue: prevValue,
	})
}

// NotifyDelete 通知删除事件
func (h *Hub) NotifyDelete(key, prevValue string) {
	h.Notify(&Event{
		Type:      EventDelete,
		Key:       key,
		PrevValue: prevValue,
	})
}

// Count 返回当前注册的 watcher 数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Close 关闭所有 watcher
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, watcher := range h.watchers {
		watcher.Close()
	}
	h.watchers = nil
	h.prefixTree = art.New()
}

// String 返回 Hub 的字符串描述
func (h *Hub) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("Hub{watchers: %d}", len(h.watchers))
}

// EventToJSON 将事件编码为 JSON 字符串
func EventToJSON(event *Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
