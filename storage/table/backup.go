package table

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// Backup 将整个表文件以 snappy 帧格式压缩写入 w
// 备份期间不得有并发变更操作，这和其它变更一样由调用方串行化
// 参数：
//   - w: 备份目标
//
// 返回：
//   - error: 备份错误
func (t *Table[T]) Backup(w io.Writer) error {
	if err := t.bf.Sync(); err != nil {
		return err
	}

	src, err := os.Open(t.bf.Path())
	if err != nil {
		return fmt.Errorf("打开表文件失败: %w", err)
	}
	defer src.Close()

	sw := snappy.NewBufferedWriter(w)
	if _, err := io.Copy(sw, src); err != nil {
		return fmt.Errorf("写入备份流失败: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("关闭备份流失败: %w", err)
	}
	return nil
}

// Restore 将 Backup 产出的压缩流还原为表文件
// 目标路径已存在时拒绝覆盖；还原失败会清理残留文件
// 参数：
//   - path: 还原目标路径
//   - r: 备份流
//
// 返回：
//   - error: 还原错误
func Restore(path string, r io.Reader) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("创建还原文件失败: %w", err)
	}

	if _, err := io.Copy(dst, snappy.NewReader(r)); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("读取备份流失败: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("同步还原文件失败: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("关闭还原文件失败: %w", err)
	}
	return nil
}
