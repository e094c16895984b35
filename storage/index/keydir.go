package index

import (
	art "github.com/plar/go-adaptive-radix-tree"
)

// keydir 是次序索引的内存镜像：编码后的键字节 → 该键的引用标识符串
// 串内顺序与磁盘上的同键段一致（插入序）。打开索引时整表扫描重建，
// 之后随 Add/Exclude 同步维护，点查不必再走磁盘二分
type keydir struct {
	tree art.Tree
}

func newKeydir() *keydir {
	return &keydir{tree: art.New()}
}

// add 在键的引用串末尾追加一个引用
// 同键新条目总是插在同键段之后，追加即保持与磁盘一致
func (d *keydir) add(key []byte, ref uint64) {
	if v, found := d.tree.Search(art.Key(key)); found {
		d.tree.Insert(art.Key(key), append(v.([]uint64), ref))
		return
	}
	d.tree.Insert(art.Key(key), []uint64{ref})
}

// remove 移除引用串中第一个匹配的引用，串空后删除整个键
// 磁盘上剔除的也是同键段内首个匹配条目，两边保持一致
func (d *keydir) remove(key []byte, ref uint64) {
	v, found := d.tree.Search(art.Key(key))
	if !found {
		return
	}
	refs := v.([]uint64)
	for i, r := range refs {
		if r == ref {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		d.tree.Delete(art.Key(key))
		return
	}
	d.tree.Insert(art.Key(key), refs)
}

// get 返回键的引用串；返回的是内部切片，调用方不得修改
func (d *keydir) get(key []byte) []uint64 {
	v, found := d.tree.Search(art.Key(key))
	if !found {
		return nil
	}
	return v.([]uint64)
}
