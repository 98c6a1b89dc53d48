package chunker

import (
	"errors"
	"fmt"
	"io"
	"math"

	"ndnstore/pkg/core"
)

// 默认切分参数 (单位: 字节)
const (
	MinSize   = 256 * 1024
	AvgSize   = 1024 * 1024
	MaxSize   = 4 * 1024 * 1024
	NormLevel = 2
)

// Chunker 是一个无状态的 FastCDC 切分器
type Chunker struct {
	min, avg, max int
	maskS         uint64
	maskL         uint64
}

// NewChunker 使用默认参数
func NewChunker() *Chunker {
	c, _ := New(MinSize, AvgSize, MaxSize)
	return c
}

// New 要求 0 < min <= avg <= max
func New(minSize, avgSize, maxSize int) (*Chunker, error) {
	if minSize <= 0 || minSize > avgSize || avgSize > maxSize {
		return nil, fmt.Errorf("%w: chunk sizes must satisfy 0 < min <= avg <= max, got %d/%d/%d",
			core.ErrInvalidParam, minSize, avgSize, maxSize)
	}
	bits := int(math.Round(math.Log2(float64(avgSize))))
	maskBits := func(n int) uint64 {
		n = max(n, 1)
		return uint64(1)<<n - 1
	}
	return &Chunker{
		min:   minSize,
		avg:   avgSize,
		max:   maxSize,
		maskS: maskBits(bits + NormLevel),
		maskL: maskBits(bits - NormLevel),
	}, nil
}

func (c *Chunker) MaxChunkSize() int { return c.max }

// next 返回 data 开头下一个块的长度
// data 不足 max 时视为输入的结尾
func (c *Chunker) next(data []byte) int {
	n := len(data)
	if n <= c.min {
		return n
	}

	fp := uint64(0)
	idx := c.min
	normLimit := min(c.avg, n)
	maxLimit := min(c.max, n)

	// 归一化区域用严掩码
	for ; idx < normLimit; idx++ {
		fp = (fp << 1) + gearTable[data[idx]]
		if fp&c.maskS == 0 {
			return idx + 1
		}
	}
	for ; idx < maxLimit; idx++ {
		fp = (fp << 1) + gearTable[data[idx]]
		if fp&c.maskL == 0 {
			return idx + 1
		}
	}
	return maxLimit
}

// Cut 返回所有块的结束 offset，最后一个等于 len(data)
func (c *Chunker) Cut(data []byte) []int {
	var cuts []int
	for off := 0; off < len(data); {
		off += c.next(data[off:])
		cuts = append(cuts, off)
	}
	return cuts
}

// Split 从 r 流式切分，每个块回调一次
// 传给 fn 的切片在回调返回后会被复用
func (c *Chunker) Split(r io.Reader, fn func(chunk []byte) error) error {
	buf := make([]byte, 2*c.max)
	start, end := 0, 0
	eof := false

	for {
		// 保证缓冲里至少有 max 字节，除非到了结尾
		if !eof && end-start < c.max {
			copy(buf, buf[start:end])
			end -= start
			start = 0
			n, err := io.ReadFull(r, buf[end:])
			end += n
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				eof = true
			} else if err != nil {
				return fmt.Errorf("%w: read for chunking: %v", core.ErrIO, err)
			}
		}
		if start == end {
			return nil
		}

		window := buf[start:end]
		if !eof {
			window = window[:c.max]
		}
		size := c.next(window)
		if err := fn(buf[start : start+size]); err != nil {
			return err
		}
		start += size
	}
}
