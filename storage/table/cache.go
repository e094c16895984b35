package table

import (
	"github.com/dgraph-io/ristretto/v2"
)

// slotCache 是按标识符缓存已编码槽的读缓存
// 缓存的是槽的字节副本而不是解码后的记录，命中时重新解码，
// 调用方改动取回的记录不会污染缓存
type slotCache struct {
	c *ristretto.Cache[uint64, []byte]
}

func newSlotCache(maxBytes int64) (*slotCache, error) {
	counters := maxBytes / 64 * 10
	if counters < 1024 {
		counters = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &slotCache{c: c}, nil
}

func (sc *slotCache) get(id uint64) ([]byte, bool) {
	return sc.c.Get(id)
}

func (sc *slotCache) put(id uint64, block []byte) {
	// Set 是异步的，写入可能被准入策略拒绝；未命中只是退回磁盘读
	sc.c.Set(id, block, int64(len(block)))
}

// drop 在槽被覆盖后作废缓存项
// Set 和 Del 经同一个缓冲按序应用，不会出现旧值复活
func (sc *slotCache) drop(id uint64) {
	sc.c.Del(id)
}

func (sc *slotCache) close() {
	sc.c.Close()
}
