package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"

	"ndnstore/pkg/core"
)

var (
	// ErrNotFound 与 core.ErrNotFound 是同一个值，两边都能用 errors.Is 判断
	ErrNotFound = core.ErrNotFound
)

// Store 是 ChunkMgr 的归档层 (archive tier)
// 实现可以是本地磁盘、S3，或者它们外面套一层缓存
// 归档层只存完整的 chunk，不关心写入状态
type Store interface {
	// Put 把完整的 chunk 数据写入归档，已存在时直接返回 nil (CAS 只增不改)
	Put(ctx context.Context, id core.ChunkId, r io.Reader, size uint64) error

	// Get 返回流式 reader，调用方负责 Close
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte，chunk 可能很大
	Get(ctx context.Context, id core.ChunkId) (io.ReadCloser, error)

	// Has 检查 chunk 是否在归档中 (用于去重逻辑)
	Has(ctx context.Context, id core.ChunkId) (bool, error)

	// Delete 不存在时返回 nil
	Delete(ctx context.Context, id core.ChunkId) error
}

// ObjectKey 返回 chunk 在归档中的相对 key
// Example: sha256 "aabbcc..." -> "aa/bbcc....sha256"
func ObjectKey(id core.ChunkId) string {
	h := hex.EncodeToString(id.HashResult)
	if len(h) < 2 {
		return h + "." + id.Type.String()
	}
	return h[:2] + "/" + h[2:] + "." + id.Type.String()
}

// IsNotFound 统一判断各个实现的 "不存在"
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
