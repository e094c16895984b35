package table

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/forever-free1/TideTable/storage"
)

// 文件格式：| Magic (4B) | Version (4B) | NextID (8B) | Count (8B) | 槽数组 |
// 小端字节序；每个槽是一条定长记录，槽下标 idx 对应标识符 idx+1，
// 槽偏移 = HeaderSize + idx * slotSize

// HeaderSize 固定头部大小：Magic(4) + Version(4) + NextID(8) + Count(8) = 24 字节
const HeaderSize = 24

// Magic 文件魔数，落盘后为 ASCII "TTBL"
const Magic uint32 = 0x4c425454

// Version 当前文件格式版本；没有魔数的旧文件视为版本 0
const Version uint32 = 1

// BlockFile 是定长槽文件容器，表和次序索引共用同一种磁盘布局
// 它只负责头部维护和槽级读写，标识符语义由上层实现
type BlockFile struct {
	path       string
	file       *os.File
	slotSize   int
	nextID     uint64
	count      uint64
	syncWrites bool
}

// OpenBlockFile 打开或创建一个定长槽文件
// 新文件会写入初始头部（NextID=1, Count=0）；已有文件做结构校验，
// 版本 0 的无头部旧文件会就地迁移
// 参数：
//   - path: 文件路径
//   - slotSize: 槽大小（字节），由记录类型的编码宽度决定，建表后不可变
//   - syncWrites: 每次变更操作是否在返回前 fsync
//
// 返回：
//   - *BlockFile: 文件容器指针
//   - error: 打开错误
func OpenBlockFile(path string, slotSize int, syncWrites bool) (*BlockFile, error) {
	if slotSize <= 0 {
		return nil, fmt.Errorf("无效的槽大小 %d", slotSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开表文件失败: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("获取文件状态失败: %w", err)
	}
	size := stat.Size()

	bf := &BlockFile{
		path:       path,
		file:       file,
		slotSize:   slotSize,
		syncWrites: syncWrites,
	}

	// 新文件：写入初始头部
	if size == 0 {
		bf.nextID = 1
		bf.count = 0
		if err := bf.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := bf.file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("初始化头部同步失败: %w", err)
		}
		return bf, nil
	}

	// 已有文件：先看魔数
	var hdr [HeaderSize]byte
	if size >= HeaderSize {
		if _, err := file.ReadAt(hdr[:], 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("读取头部失败: %w", err)
		}
	}

	if size >= HeaderSize && binary.LittleEndian.Uint32(hdr[0:4]) == Magic {
		return bf.loadHeader(hdr, size)
	}

	// 没有魔数但长度对齐槽大小：版本 0 旧文件，迁移后重开
	if size%int64(slotSize) == 0 {
		file.Close()
		if err := migrateLegacy(path, slotSize); err != nil {
			return nil, err
		}
		return OpenBlockFile(path, slotSize, syncWrites)
	}

	file.Close()
	return nil, fmt.Errorf("文件 %s 长度 %d 与槽大小 %d 不对齐: %w",
		path, size, slotSize, storage.ErrCorrupt)
}

// loadHeader 校验并装载版本 1 的头部
func (bf *BlockFile) loadHeader(hdr [HeaderSize]byte, size int64) (*BlockFile, error) {
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != Version {
		bf.file.Close()
		return nil, fmt.Errorf("不支持的文件版本 %d: %w", version, storage.ErrCorrupt)
	}

	bf.nextID = binary.LittleEndian.Uint64(hdr[8:16])
	bf.count = binary.LittleEndian.Uint64(hdr[16:24])

	body := size - HeaderSize
	if body%int64(bf.slotSize) != 0 {
		bf.file.Close()
		return nil, fmt.Errorf("文件体长度 %d 与槽大小 %d 不对齐: %w",
			body, bf.slotSize, storage.ErrCorrupt)
	}

	// 文件里实际的槽数可以多于 Count（写槽之后、提交头部之前中断留下的尾巴），
	// 但绝不能少
	slots := uint64(body / int64(bf.slotSize))
	if slots < bf.count {
		bf.file.Close()
		return nil, fmt.Errorf("记录数 %d 超过实际槽数 %d: %w",
			bf.count, slots, storage.ErrCorrupt)
	}

	// 没有删除操作，计数器之间保持固定关系
	if bf.nextID != bf.count+1 {
		bf.file.Close()
		return nil, fmt.Errorf("计数器不一致 (nextID=%d, count=%d): %w",
			bf.nextID, bf.count, storage.ErrCorrupt)
	}

	return bf, nil
}

// migrateLegacy 将版本 0（无头部）的文件就地迁移为当前格式
// 通过临时文件加改名完成，中断不会破坏原文件
func migrateLegacy(path string, slotSize int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取旧文件失败: %w", err)
	}

	count := uint64(len(data) / slotSize)

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	binary.LittleEndian.PutUint64(hdr[8:16], count+1)
	binary.LittleEndian.PutUint64(hdr[16:24], count)

	tmp := path + ".migrate"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("创建迁移文件失败: %w", err)
	}
	if _, err := out.Write(hdr[:]); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("写入迁移头部失败: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("写入迁移数据失败: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("同步迁移文件失败: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("关闭迁移文件失败: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换旧文件失败: %w", err)
	}
	return nil
}

// writeHeader 将内存中的计数器写回头部
func (bf *BlockFile) writeHeader() error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	binary.LittleEndian.PutUint64(hdr[8:16], bf.nextID)
	binary.LittleEndian.PutUint64(hdr[16:24], bf.count)

	if _, err := bf.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("写入头部失败: %w", err)
	}
	return nil
}

// slotOffset 计算槽的文件偏移
func (bf *BlockFile) slotOffset(idx uint64) int64 {
	return HeaderSize + int64(idx)*int64(bf.slotSize)
}

// ReadSlot 读取槽 idx（0 基）的原始字节
// 参数：
//   - idx: 槽下标，必须小于 Count
//
// 返回：
//   - []byte: 槽内容，长度为槽大小
//   - error: 越界返回 storage.ErrNotFound
func (bf *BlockFile) ReadSlot(idx uint64) ([]byte, error) {
	if bf.file == nil {
		return nil, ErrFileClosed
	}
	if idx >= bf.count {
		return nil, fmt.Errorf("槽 %d 越界 (count=%d): %w", idx, bf.count, storage.ErrNotFound)
	}

	block := make([]byte, bf.slotSize)
	if _, err := bf.file.ReadAt(block, bf.slotOffset(idx)); err != nil {
		return nil, fmt.Errorf("读取槽 %d 失败: %w", idx, err)
	}
	return block, nil
}

// WriteSlot 覆盖写槽 idx；允许 idx == Count 以向尾部扩展一个槽，
// 此时计数器要等 Commit 才生效
// 参数：
//   - idx: 槽下标
//   - block: 槽内容，长度必须等于槽大小
//
// 返回：
//   - error: 写入错误
func (bf *BlockFile) WriteSlot(idx uint64, block []byte) error {
	if bf.file == nil {
		return ErrFileClosed
	}
	if len(block) != bf.slotSize {
		return fmt.Errorf("块大小 %d 与槽大小 %d 不符: %w", len(block), bf.slotSize, ErrBlockSize)
	}
	if idx > bf.count {
		return fmt.Errorf("槽 %d 越界 (count=%d): %w", idx, bf.count, ErrSlotRange)
	}

	if _, err := bf.file.WriteAt(block, bf.slotOffset(idx)); err != nil {
		return fmt.Errorf("写入槽 %d 失败: %w", idx, err)
	}
	return nil
}

// Commit 更新计数器并持久化头部，按配置 fsync
// 变更操作的落盘点：在此之前写入的槽和新头部一起变为可见
// 参数：
//   - nextID: 新的下一个标识符
//   - count: 新的记录数
//
// 返回：
//   - error: 提交错误
func (bf *BlockFile) Commit(nextID, count uint64) error {
	if bf.file == nil {
		return ErrFileClosed
	}

	bf.nextID = nextID
	bf.count = count
	if err := bf.writeHeader(); err != nil {
		return err
	}
	if bf.syncWrites {
		return bf.Sync()
	}
	return nil
}

// Truncate 收缩文件到 count 个槽并提交计数器
// 次序索引剔除条目后回收尾槽用；表本身没有删除操作，不会调用它
// 参数：
//   - nextID: 新的下一个标识符
//   - count: 收缩后的记录数
//
// 返回：
//   - error: 收缩错误
func (bf *BlockFile) Truncate(nextID, count uint64) error {
	if bf.file == nil {
		return ErrFileClosed
	}

	if err := bf.file.Truncate(bf.slotOffset(count)); err != nil {
		return fmt.Errorf("收缩文件失败: %w", err)
	}
	return bf.Commit(nextID, count)
}

// Sync 将缓冲区中的数据同步到磁盘
func (bf *BlockFile) Sync() error {
	if bf.file == nil {
		return ErrFileClosed
	}
	if err := bf.file.Sync(); err != nil {
		return fmt.Errorf("同步数据到磁盘失败: %w", err)
	}
	return nil
}

// Close 关闭文件，关闭前做一次同步
func (bf *BlockFile) Close() error {
	if bf.file == nil {
		return nil
	}
	if err := bf.file.Sync(); err != nil {
		return fmt.Errorf("关闭前同步失败: %w", err)
	}
	if err := bf.file.Close(); err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}
	bf.file = nil
	return nil
}

// Count 返回当前记录数
func (bf *BlockFile) Count() uint64 {
	return bf.count
}

// NextID 返回下一个待分配的标识符
func (bf *BlockFile) NextID() uint64 {
	return bf.nextID
}

// SlotSize 返回槽大小（字节）
func (bf *BlockFile) SlotSize() int {
	return bf.slotSize
}

// Path 返回文件路径
func (bf *BlockFile) Path() string {
	return bf.path
}
