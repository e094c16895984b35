package index

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// Bloom 是次序索引的快速否定过滤器
// 只增不删：剔除条目不会从过滤器移除键，残留键只会造成可接受的
// 误判（多走一次内存或磁盘查找），绝不会把存在的键判为不存在。
// 引擎不加锁，由调用方串行化访问
type Bloom struct {
	filter *bloom.BloomFilter
}

// NewBloom 创建一个新的布隆过滤器
// 参数：
//   - n: 预期存储的键数量
//   - fp: 期望的误判率
//
// 返回：
//   - *Bloom: 过滤器指针
func NewBloom(n uint, fp float64) *Bloom {
	return &Bloom{
		filter: bloom.NewWithEstimates(n, fp),
	}
}

// Add 记录一个键
func (b *Bloom) Add(key []byte) {
	b.filter.Add(key)
}

// Test 测试键是否可能存在
// 返回：
//   - bool: true 表示可能存在，false 表示一定不存在
func (b *Bloom) Test(key []byte) bool {
	return b.filter.Test(key)
}
