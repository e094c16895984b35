package table

import "errors"

// ErrFileClosed 表示表文件已关闭
var ErrFileClosed = errors.New("table file is closed")

// ErrBlockSize 表示写入的数据块与槽大小不符
var ErrBlockSize = errors.New("block size does not match slot size")

// ErrSlotRange 表示槽下标超出当前记录数
var ErrSlotRange = errors.New("slot index out of range")
