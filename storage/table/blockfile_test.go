package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forever-free1/TideTable/storage"
)

func tempPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "blockfile_test")
	if err != nil {
		t.Fatalf("创建临时目录失败: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func TestBlockFile_NewFile(t *testing.T) {
	path := tempPath(t, "new.tbl")

	bf, err := OpenBlockFile(path, 16, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	if bf.NextID() != 1 {
		t.Errorf("新文件 NextID 应为 1, 得到: %d", bf.NextID())
	}
	if bf.Count() != 0 {
		t.Errorf("新文件 Count 应为 0, 得到: %d", bf.Count())
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("获取文件状态失败: %v", err)
	}
	if stat.Size() != HeaderSize {
		t.Errorf("新文件大小应为头部大小 %d, 得到: %d", HeaderSize, stat.Size())
	}
}

func TestBlockFile_WriteAndRead(t *testing.T) {
	path := tempPath(t, "rw.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	block := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := bf.WriteSlot(0, block); err != nil {
		t.Fatalf("WriteSlot 失败: %v", err)
	}
	if err := bf.Commit(2, 1); err != nil {
		t.Fatalf("Commit 失败: %v", err)
	}

	got, err := bf.ReadSlot(0)
	if err != nil {
		t.Fatalf("ReadSlot 失败: %v", err)
	}
	if !bytes.Equal(got, block) {
		t.Errorf("槽内容不匹配: got %v, want %v", got, block)
	}
}

func TestBlockFile_ReadOutOfRange(t *testing.T) {
	path := tempPath(t, "range.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	_, err = bf.ReadSlot(0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("越界读取应返回 ErrNotFound, 得到: %v", err)
	}
}

func TestBlockFile_WriteBadSize(t *testing.T) {
	path := tempPath(t, "size.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	err = bf.WriteSlot(0, []byte{1, 2, 3})
	if !errors.Is(err, ErrBlockSize) {
		t.Errorf("块大小不符应返回 ErrBlockSize, 得到: %v", err)
	}
}

func TestBlockFile_WriteBeyondTail(t *testing.T) {
	path := tempPath(t, "tail.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	// 只允许覆盖已有槽或紧跟尾部扩展一个槽
	err = bf.WriteSlot(1, make([]byte, 8))
	if !errors.Is(err, ErrSlotRange) {
		t.Errorf("跳槽写入应返回 ErrSlotRange, 得到: %v", err)
	}
}

func TestBlockFile_ReopenPersistsCounters(t *testing.T) {
	path := tempPath(t, "reopen.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		if err := bf.WriteSlot(i, make([]byte, 8)); err != nil {
			t.Fatalf("WriteSlot %d 失败: %v", i, err)
		}
		if err := bf.Commit(i+2, i+1); err != nil {
			t.Fatalf("Commit %d 失败: %v", i, err)
		}
	}
	bf.Close()

	bf2, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer bf2.Close()

	if bf2.NextID() != 4 {
		t.Errorf("重开后 NextID 应为 4, 得到: %d", bf2.NextID())
	}
	if bf2.Count() != 3 {
		t.Errorf("重开后 Count 应为 3, 得到: %d", bf2.Count())
	}
}

func TestBlockFile_Truncate(t *testing.T) {
	path := tempPath(t, "trunc.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer bf.Close()

	for i := uint64(0); i < 3; i++ {
		if err := bf.WriteSlot(i, make([]byte, 8)); err != nil {
			t.Fatalf("WriteSlot %d 失败: %v", i, err)
		}
		if err := bf.Commit(i+2, i+1); err != nil {
			t.Fatalf("Commit %d 失败: %v", i, err)
		}
	}

	if err := bf.Truncate(3, 2); err != nil {
		t.Fatalf("Truncate 失败: %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("获取文件状态失败: %v", err)
	}
	want := int64(HeaderSize + 2*8)
	if stat.Size() != want {
		t.Errorf("收缩后文件大小应为 %d, 得到: %d", want, stat.Size())
	}

	_, err = bf.ReadSlot(2)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("收缩后读尾槽应返回 ErrNotFound, 得到: %v", err)
	}
}

func TestBlockFile_LegacyMigration(t *testing.T) {
	path := tempPath(t, "legacy.tbl")

	// 版本 0 文件：没有头部，只有裸槽数组
	slot1 := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	slot2 := []byte{2, 2, 2, 2, 2, 2, 2, 2}
	if err := os.WriteFile(path, append(append([]byte{}, slot1...), slot2...), 0644); err != nil {
		t.Fatalf("写入旧文件失败: %v", err)
	}

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开旧文件失败: %v", err)
	}
	defer bf.Close()

	if bf.Count() != 2 {
		t.Errorf("迁移后 Count 应为 2, 得到: %d", bf.Count())
	}
	if bf.NextID() != 3 {
		t.Errorf("迁移后 NextID 应为 3, 得到: %d", bf.NextID())
	}

	got, err := bf.ReadSlot(0)
	if err != nil {
		t.Fatalf("ReadSlot 失败: %v", err)
	}
	if !bytes.Equal(got, slot1) {
		t.Errorf("迁移后槽 0 内容不匹配: got %v, want %v", got, slot1)
	}
	got, err = bf.ReadSlot(1)
	if err != nil {
		t.Fatalf("ReadSlot 失败: %v", err)
	}
	if !bytes.Equal(got, slot2) {
		t.Errorf("迁移后槽 1 内容不匹配: got %v, want %v", got, slot2)
	}
}

func TestBlockFile_CorruptMisaligned(t *testing.T) {
	path := tempPath(t, "misaligned.tbl")

	// 既没有魔数，长度也不对齐槽大小
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	_, err := OpenBlockFile(path, 8, true)
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("不对齐文件应返回 ErrCorrupt, 得到: %v", err)
	}
}

func TestBlockFile_CorruptCounters(t *testing.T) {
	path := tempPath(t, "counters.tbl")

	// 合法头部但计数器矛盾 (nextID != count+1)
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	binary.LittleEndian.PutUint64(hdr[8:16], 10)
	binary.LittleEndian.PutUint64(hdr[16:24], 0)
	if err := os.WriteFile(path, hdr[:], 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	_, err := OpenBlockFile(path, 8, true)
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("计数器矛盾应返回 ErrCorrupt, 得到: %v", err)
	}
}

func TestBlockFile_CorruptVersion(t *testing.T) {
	path := tempPath(t, "version.tbl")

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], 99)
	binary.LittleEndian.PutUint64(hdr[8:16], 1)
	binary.LittleEndian.PutUint64(hdr[16:24], 0)
	if err := os.WriteFile(path, hdr[:], 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	_, err := OpenBlockFile(path, 8, true)
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("未知版本应返回 ErrCorrupt, 得到: %v", err)
	}
}

func TestBlockFile_CountOverSlots(t *testing.T) {
	path := tempPath(t, "overcount.tbl")

	// 头部声称有 5 条记录，但文件体是空的
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	binary.LittleEndian.PutUint64(hdr[8:16], 6)
	binary.LittleEndian.PutUint64(hdr[16:24], 5)
	if err := os.WriteFile(path, hdr[:], 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	_, err := OpenBlockFile(path, 8, true)
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("记录数超过槽数应返回 ErrCorrupt, 得到: %v", err)
	}
}

func TestBlockFile_ExtraTailSlotTolerated(t *testing.T) {
	path := tempPath(t, "extratail.tbl")

	bf, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	// 写了槽但没有提交头部，模拟插入中断
	if err := bf.WriteSlot(0, make([]byte, 8)); err != nil {
		t.Fatalf("WriteSlot 失败: %v", err)
	}
	bf.Close()

	bf2, err := OpenBlockFile(path, 8, true)
	if err != nil {
		t.Fatalf("带尾巴的文件应能打开: %v", err)
	}
	defer bf2.Close()

	if bf2.Count() != 0 {
		t.Errorf("未提交的尾槽不应计入 Count, 得到: %d", bf2.Count())
	}
}
