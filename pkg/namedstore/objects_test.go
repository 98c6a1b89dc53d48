package namedstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

func TestStore_Objects(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	file := core.NewFileObject("a.txt", 3, core.CalcMixChunkId(core.HashSha256, []byte("abc")).ObjId())
	id, body, err := file.GenObjId()
	require.NoError(t, err)

	st, err := s.QueryObjectById(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ObjectNotExist, st.Kind)

	// key 顺序不同的等价 JSON 也能通过校验
	reordered := `{"size":3,"name":"a.txt","content":"` + file.Content + `","create_time":` +
		jsonNumber(file.CreateTime) + `}`
	require.NoError(t, s.PutObject(ctx, id, reordered, true))

	got, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, body, got, "读出的是规范化文本")

	fake := core.BuildObjId(core.ObjTypeFile, `{"name":"b.txt"}`)
	assert.ErrorIs(t, s.PutObject(ctx, fake, body, true), core.ErrVerify)
	require.NoError(t, s.PutObject(ctx, fake, body, false), "不校验时允许")

	// SameAs 链
	alias1 := core.BuildObjId("alias", "1")
	alias2 := core.BuildObjId("alias", "2")
	require.NoError(t, s.LinkObject(ctx, alias1, id))
	require.NoError(t, s.LinkObject(ctx, alias2, alias1))

	got, err = s.GetObject(ctx, alias2)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	st, err = s.QueryObjectById(ctx, alias2)
	require.NoError(t, err)
	assert.Equal(t, ObjectLink, st.Kind)
	assert.True(t, st.Link.Target.Equal(alias1))

	refs, err := s.QueryLinkRefs(ctx, id)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Equal(alias1))

	// 环
	require.NoError(t, s.LinkObject(ctx, alias1, alias2))
	_, err = s.GetObject(ctx, alias2)
	assert.ErrorIs(t, err, core.ErrInvalidLink)

	assert.ErrorIs(t, s.LinkObject(ctx, id, id), core.ErrInvalidLink)

	require.NoError(t, s.RemoveObject(ctx, id))
	exist, err := s.IsObjectExist(ctx, id)
	require.NoError(t, err)
	assert.False(t, exist)
}

func TestStore_ChunkLinks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	data := []byte("hello named data world")
	target := mustWriteChunk(t, s, data)

	// SameAs: 另一种 hash 方法的 id 指向同一份数据
	alias := core.CalcChunkId(core.HashSha512, data)
	require.NoError(t, s.LinkObject(ctx, alias.ObjId(), target.ObjId()))

	item, err := s.QueryChunkById(ctx, alias)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateLink, item.ChunkState)
	assert.Equal(t, uint64(len(data)), item.ChunkSize)
	assert.Equal(t, data, mustReadAll(t, s, alias))

	// PartOf: "named" 是 [6, 11)
	part := []byte("named")
	partId := core.CalcMixChunkId(core.HashSha256, part)
	require.NoError(t, s.LinkChunkPartOf(ctx, partId, target, core.Range{Start: 6, End: 11}))

	exist, size, err := s.IsChunkExist(ctx, partId)
	require.NoError(t, err)
	assert.True(t, exist)
	assert.Equal(t, uint64(5), size)

	r, n, err := s.OpenVerifiedChunkReader(ctx, partId, 0)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, uint64(5), n)
	assert.Equal(t, part, got)

	piece, err := s.GetChunkPiece(ctx, partId, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ame"), piece)

	// 区间越界、长度与 id 不符
	bad := core.CalcMixChunkId(core.HashSha256, []byte("x"))
	assert.ErrorIs(t, s.LinkChunkPartOf(ctx, bad, target, core.Range{Start: 0, End: 2}), core.ErrInvalidLink)
	tooFar := core.CalcChunkId(core.HashSha256, []byte("y"))
	assert.ErrorIs(t, s.LinkChunkPartOf(ctx, tooFar, target, core.Range{Start: 20, End: 40}), core.ErrOffsetTooLarge)

	// 目标被删除后 link 不再存在
	require.NoError(t, s.RemoveChunk(ctx, target))
	exist, _, err = s.IsChunkExist(ctx, partId)
	require.NoError(t, err)
	assert.False(t, exist)
}
