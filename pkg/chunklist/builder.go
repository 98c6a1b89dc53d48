package chunklist

import (
	"fmt"
	"math/bits"

	"ndnstore/pkg/core"
)

// Builder 逐个追加 chunk，total_size 由 mix id 中的长度累加得到
type Builder struct {
	method    core.HashMethod
	fixSize   *uint64
	chunks    []core.ChunkId
	totalSize uint64
}

func NewBuilder(method core.HashMethod) *Builder {
	return &Builder{method: method}
}

// WithFixSize 标记为定长列表 (最后一个 chunk 允许更短)
func (b *Builder) WithFixSize(size uint64) *Builder {
	b.fixSize = &size
	return b
}

// Append 追加一个带长度的 chunk id
func (b *Builder) Append(id core.ChunkId) error {
	length, ok := id.Length()
	if !ok {
		return fmt.Errorf("%w: chunk %s has no embedded length, use AppendWithSize", core.ErrInvalidData, id)
	}
	return b.AppendWithSize(id, length)
}

// AppendWithSize 用于非 mix 的 chunk id
func (b *Builder) AppendWithSize(id core.ChunkId, size uint64) error {
	if embedded, ok := id.Length(); ok && embedded != size {
		return fmt.Errorf("%w: chunk %s embeds length %d, got %d", core.ErrInvalidParam, id, embedded, size)
	}
	sum, carry := bits.Add64(b.totalSize, size, 0)
	if carry != 0 {
		return fmt.Errorf("%w: total size overflow", core.ErrOffsetTooLarge)
	}
	b.totalSize = sum
	b.chunks = append(b.chunks, id)
	return nil
}

func (b *Builder) Len() int          { return len(b.chunks) }
func (b *Builder) TotalSize() uint64 { return b.totalSize }

func (b *Builder) Build() (*ChunkList, error) {
	return New(b.method, b.chunks, Meta{TotalSize: b.totalSize, FixSize: b.fixSize})
}
