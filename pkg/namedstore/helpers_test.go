package namedstore

import (
	"context"
	"crypto/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"ndnstore/pkg/core"
)

// setupTestStore 每个测试一个独立目录
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: t.TempDir(), Description: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// mustWriteChunk 走完整的 writer 流程
func mustWriteChunk(t *testing.T, s *Store, data []byte) core.ChunkId {
	t.Helper()
	ctx := context.Background()
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.CompleteChunkWriter(ctx, id, true))
	return id
}

func mustReadAll(t *testing.T, s *Store, id core.ChunkId) []byte {
	t.Helper()
	data, err := s.GetChunkData(context.Background(), id)
	require.NoError(t, err)
	return data
}

func jsonNumber(n uint64) string {
	return strconv.FormatUint(n, 10)
}
