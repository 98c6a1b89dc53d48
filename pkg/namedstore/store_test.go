package namedstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// -----------------------------------------------------------------------------
// 1. 基础: 布局与身份
// -----------------------------------------------------------------------------

func TestStore_IdentityPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(ctx, Config{Path: dir, Description: "first"})
	require.NoError(t, err)
	id := s1.ID()
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, Config{Path: dir, Description: "ignored"})
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, id, s2.ID())
	assert.Equal(t, "first", s2.Description())
}

func TestStore_ChunkPathLayout(t *testing.T) {
	s := setupTestStore(t)
	id := core.CalcChunkId(core.HashSha256, []byte("hello"))
	// sha256("hello") = 2cf24dba...
	want := filepath.Join(s.Path(), "2c", "f2", "4dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824.sha256")
	assert.Equal(t, want, s.ChunkPath(id))
}

// -----------------------------------------------------------------------------
// 2. 写入/读取往返
// -----------------------------------------------------------------------------

func TestStore_WriteReadRoundTrip(t *testing.T) {
	sizes := map[string]int{
		"empty":           0,
		"one byte":        1,
		"buffer boundary": core.CalcHashPieceSize,
		"several MB":      5*1024*1024 + 7,
	}
	s := setupTestStore(t)
	ctx := context.Background()

	for name, n := range sizes {
		t.Run(name, func(t *testing.T) {
			data := randomBytes(t, n)
			id := core.CalcMixChunkId(core.HashSha256, data)

			w, token, err := s.OpenChunkWriter(ctx, id, uint64(n), 0)
			require.NoError(t, err)
			assert.JSONEq(t, `{"pos":0}`, token)

			// 分块写入
			for off := 0; off < n; off += 64 * 1024 {
				end := min(off+64*1024, n)
				_, err := w.Write(data[off:end])
				require.NoError(t, err)
			}
			require.NoError(t, w.Close())

			stat, err := s.QueryChunkState(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, types.ChunkStateIncomplete, stat.State)

			// Incomplete 对读者不可见
			_, _, err = s.OpenChunkReader(ctx, id, 0)
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, s.CompleteChunkWriter(ctx, id, true))

			r, size, err := s.OpenVerifiedChunkReader(ctx, id, 0)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, uint64(n), size)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "内容必须完全一致")

			exist, size, err := s.IsChunkExist(ctx, id)
			require.NoError(t, err)
			assert.True(t, exist)
			assert.Equal(t, uint64(n), size)
		})
	}
}

func TestStore_CompletedIsImmutable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("immutable")
	id := mustWriteChunk(t, s, data)

	_, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.ErrorIs(t, s.PutChunk(ctx, id, data, true), core.ErrAlreadyExists)
	assert.ErrorIs(t, s.CompleteChunkWriter(ctx, id, false), core.ErrAlreadyExists)
}

// -----------------------------------------------------------------------------
// 3. 内容寻址: 错误的 id 必须被拒绝
// -----------------------------------------------------------------------------

func TestStore_WrongIdIsRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("real content")
	other := []byte("fake content")

	// hash 两次结果相同
	assert.Equal(t, core.CalcMixChunkId(core.HashSha256, data), core.CalcMixChunkId(core.HashSha256, data))

	// 用另一段数据的 id 写入，长度一致但摘要不同
	wrongId := core.CalcMixChunkId(core.HashSha256, other)
	w, _, err := s.OpenChunkWriter(ctx, wrongId, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = s.CompleteChunkWriter(ctx, wrongId, true)
	assert.ErrorIs(t, err, core.ErrVerify)

	// 临时文件和记录都被清理
	stat, err := s.QueryChunkState(ctx, wrongId)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateNotExist, stat.State)
	_, err = os.Stat(s.tempPath(wrongId))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.ChunkPath(wrongId))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.PutChunk(ctx, wrongId, data, true), core.ErrVerify)

	// 非 mix 的 id 同样校验
	plainWrong := core.CalcChunkId(core.HashSha256, other)
	assert.ErrorIs(t, s.PutChunk(ctx, plainWrong, data, true), core.ErrVerify)
}

func TestStore_DeclaredSizeMismatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("twelve bytes")
	id := core.CalcMixChunkId(core.HashSha256, data)

	_, _, err := s.OpenChunkWriter(ctx, id, 5, 0)
	assert.ErrorIs(t, err, core.ErrInvalidParam, "mix id 的长度和声明不一致")

	_, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 3)
	assert.ErrorIs(t, err, core.ErrInvalidParam, "新 chunk 的 offset 必须为 0")

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(append(bytes.Clone(data), 'x'))
	assert.ErrorIs(t, err, core.ErrInvalidData)
	require.NoError(t, w.Close())

	// 没写够时不校验的完成会返回 incomplete
	assert.ErrorIs(t, s.CompleteChunkWriter(ctx, id, false), core.ErrIncomplete)
}

// -----------------------------------------------------------------------------
// 4. 续传、独占和放弃
// -----------------------------------------------------------------------------

func TestStore_ResumeWriter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := randomBytes(t, 4096)
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data[:1000])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// 超过已写入的字节数
	_, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 2000)
	assert.ErrorIs(t, err, core.ErrOffsetTooLarge)

	// offset 0 接着末尾写，进度来自上次 Close
	w, token, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pos":1000}`, token)
	assert.Equal(t, uint64(1000), w.Pos())
	_, err = w.Write(data[1000:3000])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// 回到检查点 2000 重写
	w, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 2000)
	require.NoError(t, err)
	_, err = w.Write(data[2000:])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, s.CompleteChunkWriter(ctx, id, true))
	assert.Equal(t, data, mustReadAll(t, s, id))
}

func TestStore_ExclusiveWriter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("exclusive")
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)

	_, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.ErrorIs(t, s.CompleteChunkWriter(ctx, id, true), core.ErrInvalidState)
	assert.ErrorIs(t, s.RemoveChunk(ctx, id), core.ErrInvalidState)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.CompleteChunkWriter(ctx, id, true))
}

func TestStore_CompleteHoldsWriterSlot(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("completion owns the slot")
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	verified := make(chan struct{})
	proceed := make(chan struct{})
	testHookBeforeRename = func(core.ChunkId) {
		close(verified)
		<-proceed
	}
	t.Cleanup(func() { testHookBeforeRename = func(core.ChunkId) {} })

	done := make(chan error, 1)
	go func() { done <- s.CompleteChunkWriter(ctx, id, true) }()
	<-verified

	// 校验已经通过、还没改名，此时不能有人续写截断临时文件
	_, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 5)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.ErrorIs(t, s.AbortChunkWriter(ctx, id), core.ErrInvalidState)
	assert.ErrorIs(t, s.RemoveChunk(ctx, id), core.ErrInvalidState)

	close(proceed)
	require.NoError(t, <-done)
	assert.Equal(t, data, mustReadAll(t, s, id))
}

func TestStore_OpenNewChunkWriter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("brand new chunk")
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, token, err := s.OpenNewChunkWriter(ctx, id, uint64(len(data)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pos":0}`, token)
	_, err = w.Write(data[:5])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Incomplete 也不能再用它打开，续传走 OpenChunkWriter
	// 下面 OpenChunkWriter 能成功说明失败时写权限已释放
	_, _, err = s.OpenNewChunkWriter(ctx, id, uint64(len(data)))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	w, _, err = s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data[5:])
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.CompleteChunkWriter(ctx, id, true))

	_, _, err = s.OpenNewChunkWriter(ctx, id, uint64(len(data)))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	// 声明的大小和 id 里的长度不符
	other := []byte("another")
	otherId := core.CalcMixChunkId(core.HashSha256, other)
	_, _, err = s.OpenNewChunkWriter(ctx, otherId, 3)
	assert.ErrorIs(t, err, core.ErrInvalidParam)
	w, _, err = s.OpenNewChunkWriter(ctx, otherId, uint64(len(other)))
	require.NoError(t, err)
	require.NoError(t, w.Abort(ctx))
}

func TestStore_AbortCleansUp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := []byte("aborted write")
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := s.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data[:4])
	require.NoError(t, err)
	require.NoError(t, w.Abort(ctx))

	stat, err := s.QueryChunkState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateNotExist, stat.State)
	_, err = os.Stat(s.tempPath(id))
	assert.True(t, os.IsNotExist(err), "临时文件必须删除")

	// 可以重新开始
	mustWriteChunk(t, s, data)
}

// -----------------------------------------------------------------------------
// 5. 整块读写
// -----------------------------------------------------------------------------

func TestStore_PutChunksAndPieces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, b := []byte("0123456789"), []byte("abcdefghij")
	ida := core.CalcMixChunkId(core.HashSha256, a)
	idb := core.CalcChunkId(core.HashSha512, b)
	require.NoError(t, s.PutChunks(ctx, []ChunkData{{ida, a}, {idb, b}}, true))
	require.NoError(t, s.PutChunks(ctx, []ChunkData{{ida, a}}, true), "已存在的跳过")

	piece, err := s.GetChunkPiece(ctx, ida, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), piece)

	_, err = s.GetChunkPiece(ctx, ida, 8, 5)
	assert.ErrorIs(t, err, core.ErrOffsetTooLarge)

	r, _, err := s.OpenChunkReader(ctx, idb, 5)
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, []byte("fghij"), rest)

	_, _, err = s.OpenChunkReader(ctx, idb, 11)
	assert.ErrorIs(t, err, core.ErrOffsetTooLarge)

	require.NoError(t, s.RemoveChunk(ctx, ida))
	exist, _, err := s.IsChunkExist(ctx, ida)
	require.NoError(t, err)
	assert.False(t, exist)
	_, err = s.GetChunkData(ctx, ida)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_VerifiedReaderCatchesCorruption(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := randomBytes(t, 10000)
	id := mustWriteChunk(t, s, data)

	// 直接改磁盘上的一个字节
	path := s.ChunkPath(id)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[5000] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0644))

	// 不校验的 reader 读得出来
	plain, err := s.GetChunkData(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, data, plain)

	r, _, err := s.OpenVerifiedChunkReader(ctx, id, 0)
	require.NoError(t, err)
	defer r.Close()
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, core.ErrVerify)

	// 从中间开始读也能发现
	r2, _, err := s.OpenVerifiedChunkReader(ctx, id, 7000)
	require.NoError(t, err)
	defer r2.Close()
	_, err = io.ReadAll(r2)
	assert.ErrorIs(t, err, core.ErrVerify)
}

// -----------------------------------------------------------------------------
// 6. 只读模式
// -----------------------------------------------------------------------------

func TestStore_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := Open(ctx, Config{Path: filepath.Join(dir, "missing"), ReadOnly: true})
	assert.ErrorIs(t, err, core.ErrNotFound)

	rw, err := Open(ctx, Config{Path: dir})
	require.NoError(t, err)
	id := mustWriteChunk(t, rw, []byte("shared"))
	require.NoError(t, rw.Close())

	ro, err := Open(ctx, Config{Path: dir, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	assert.True(t, ro.IsReadOnly())
	assert.Equal(t, []byte("shared"), mustReadAll(t, ro, id))

	data := []byte("new")
	newId := core.CalcMixChunkId(core.HashSha256, data)
	_, _, err = ro.OpenChunkWriter(ctx, newId, 3, 0)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
	assert.ErrorIs(t, ro.PutChunk(ctx, newId, data, true), core.ErrPermissionDenied)
	assert.ErrorIs(t, ro.RemoveChunk(ctx, id), core.ErrPermissionDenied)
	assert.ErrorIs(t, ro.PutObject(ctx, newId.ObjId(), "{}", false), core.ErrPermissionDenied)
}

func TestStore_ImportChunk(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	data := randomBytes(t, 3*core.QcidHashPieceSize+11)

	for _, id := range []core.ChunkId{
		core.CalcMixChunkId(core.HashSha256, data),
		core.CalcChunkId(core.HashBlake3, data),
	} {
		n, err := s.ImportChunk(ctx, id, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, uint64(len(data)), n)
		assert.Equal(t, data, mustReadAll(t, s, id))

		_, err = s.ImportChunk(ctx, id, bytes.NewReader(data))
		assert.ErrorIs(t, err, core.ErrAlreadyExists)
	}

	// qcid 通过 quick hash 校验
	qcid, err := core.QuickHash(bytes.NewReader(data), uint64(len(data)))
	require.NoError(t, err)
	_, err = s.ImportChunk(ctx, qcid, bytes.NewReader(data))
	require.NoError(t, err)

	// 内容不符
	wrong := core.CalcMixChunkId(core.HashSha256, []byte("something else"))
	_, err = s.ImportChunk(ctx, wrong, bytes.NewReader(data))
	assert.ErrorIs(t, err, core.ErrVerify)
	stat, err := s.QueryChunkState(ctx, wrong)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateNotExist, stat.State)
}
