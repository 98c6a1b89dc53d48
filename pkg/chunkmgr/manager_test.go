package chunkmgr

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/chunklist"
	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/objectmap"
	"ndnstore/pkg/storage"
	"ndnstore/pkg/storage/disk"
	"ndnstore/pkg/types"
)

type testMgr struct {
	*Manager
	reg *prometheus.Registry
}

func setupTestMgr(t *testing.T, archive storage.Store, mutate func(*Config)) testMgr {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := Config{
		Root:         t.TempDir(),
		LocalStores:  []string{"store0", "store1"},
		LocalCache:   "cache",
		MmapCacheDir: "mmap",
		Registerer:   reg,
		LogLevel:     "silent",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(context.Background(), cfg, archive)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return testMgr{Manager: m, reg: reg}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func readAllAt(t *testing.T, m *Manager, id core.ChunkId, offset uint64, autoCache bool) []byte {
	t.Helper()
	r, _, err := m.OpenChunkReader(context.Background(), id, offset, autoCache)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func reads(m *Manager, tier string) float64 {
	return testutil.ToFloat64(m.Metrics().ChunkReads.WithLabelValues(tier))
}

func TestNew_NeedsLocalStore(t *testing.T) {
	_, err := New(context.Background(), Config{Root: t.TempDir()}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidParam)
}

func TestManager_ReadTiers(t *testing.T) {
	ctx := context.Background()
	m := setupTestMgr(t, nil, nil)

	data := randomBytes(t, 64*1024)
	id := core.CalcMixChunkId(core.HashSha256, data)

	// 写在第二个 store 里，读取要能找到
	require.NoError(t, m.LocalStores()[1].PutChunk(ctx, id, data, true))

	assert.Equal(t, data, readAllAt(t, m.Manager, id, 0, false))
	assert.Equal(t, 1.0, reads(m.Manager, TierLocal))
	assert.Equal(t, 0.0, reads(m.Manager, TierCache))

	// autoCache 复制进磁盘缓存，之后由缓存层提供
	assert.Equal(t, data[100:], readAllAt(t, m.Manager, id, 100, true))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().CacheFills.WithLabelValues(TierCache)))
	exist, _, err := m.Cache().IsChunkExist(ctx, id)
	require.NoError(t, err)
	assert.True(t, exist)

	assert.Equal(t, data, readAllAt(t, m.Manager, id, 0, false))
	assert.Equal(t, 1.0, reads(m.Manager, TierCache))

	// mmap 层最先命中
	require.NoError(t, m.WarmMmapCache(ctx, id))
	assert.Equal(t, data[10:], readAllAt(t, m.Manager, id, 10, false))
	assert.Equal(t, 1.0, reads(m.Manager, TierMmap))

	require.NoError(t, m.EvictMmapCache(id))
	assert.Equal(t, data, readAllAt(t, m.Manager, id, 0, false))
	assert.Equal(t, 2.0, reads(m.Manager, TierCache))

	// 一层都没有
	missing := core.CalcMixChunkId(core.HashSha256, []byte("missing"))
	_, _, err = m.OpenChunkReader(ctx, missing, 0, false)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().ReadMisses))

	ok, err := m.HaveChunk(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_WritesGoToFirstStore(t *testing.T) {
	ctx := context.Background()
	m := setupTestMgr(t, nil, func(c *Config) { c.LocalCache = ""; c.MmapCacheDir = "" })

	data := randomBytes(t, 4096)
	id := core.CalcMixChunkId(core.HashSha256, data)

	w, _, err := m.OpenChunkWriter(ctx, id, uint64(len(data)), 0)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, m.CompleteChunkWriter(ctx, id, true))

	stat, err := m.MainStore().QueryChunkState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateCompleted, stat.State)

	stat, err = m.LocalStores()[1].QueryChunkState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateNotExist, stat.State)

	// 已存在时 PutChunk 不报错
	require.NoError(t, m.PutChunk(ctx, id, data, true))
	_, _, err = m.OpenNewChunkWriter(ctx, id, uint64(len(data)))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	fresh := randomBytes(t, 100)
	freshId := core.CalcMixChunkId(core.HashSha256, fresh)
	w, _, err = m.OpenNewChunkWriter(ctx, freshId, uint64(len(fresh)))
	require.NoError(t, err)
	_, err = w.Write(fresh)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, m.CompleteChunkWriter(ctx, freshId, true))
	ok, err := m.HaveChunk(ctx, freshId)
	require.NoError(t, err)
	assert.True(t, ok)

	err = m.WarmMmapCache(ctx, id)
	assert.ErrorIs(t, err, core.ErrUnsupported)
	err = m.ArchiveChunk(ctx, id)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestManager_Archive(t *testing.T) {
	ctx := context.Background()
	archive, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	src := setupTestMgr(t, archive, nil)
	data := randomBytes(t, 200*1024)
	id := core.CalcMixChunkId(core.HashBlake3, data)
	require.NoError(t, src.PutChunk(ctx, id, data, true))
	require.NoError(t, src.ArchiveChunk(ctx, id))

	has, err := archive.Has(ctx, id)
	require.NoError(t, err)
	require.True(t, has)

	// 另一个 manager 只共享归档层
	dst := setupTestMgr(t, archive, nil)
	stat, err := dst.QueryChunkState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStateCompleted, stat.State)
	assert.Equal(t, uint64(len(data)), stat.Size)

	assert.Equal(t, data[5:], readAllAt(t, dst.Manager, id, 5, false))
	assert.Equal(t, 1.0, reads(dst.Manager, TierArchive))

	// 导入后由本地 store 提供
	exist, _, err := dst.MainStore().IsChunkExist(ctx, id)
	require.NoError(t, err)
	assert.True(t, exist)
	assert.Equal(t, data, readAllAt(t, dst.Manager, id, 0, false))
	assert.Equal(t, 1.0, reads(dst.Manager, TierLocal))
}

func TestManager_PathIndex(t *testing.T) {
	ctx := context.Background()
	m := setupTestMgr(t, nil, nil)
	owner := meta.PathOwner{AppId: "app", UserId: "alice"}

	data := []byte("hello named data")
	cid := core.CalcMixChunkId(core.HashSha256, data)
	require.NoError(t, m.PutChunk(ctx, cid, data, true))

	file := core.NewFileObject("hello.txt", uint64(len(data)), cid.ObjId())
	fid, fjson, err := file.GenObjId()
	require.NoError(t, err)

	require.NoError(t, m.PubObjectToFile(ctx, fid, fjson, "/docs/hello.txt", owner))
	pathObj, err := m.GetPathObject(ctx, "/docs/hello.txt")
	require.NoError(t, err)
	assert.Contains(t, pathObj, `"path":"/docs/hello.txt"`)
	assert.Contains(t, pathObj, fid.String())

	require.NoError(t, m.CreateFile(ctx, "/docs/copy.txt", fid, owner))
	err = m.CreateFile(ctx, "/docs/copy.txt", fid, owner)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	refs, err := m.GetRefCount(ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refs)

	r, size, got, err := m.GetChunkReaderByPath(ctx, "/docs/hello.txt", 6, false)
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.True(t, got.Equal(fid))
	assert.Equal(t, uint64(len(data)), size)
	assert.Equal(t, data[6:], body)

	name, err := m.GetObject(ctx, fid, "name")
	require.NoError(t, err)
	assert.Equal(t, `"hello.txt"`, name)
	_, err = m.GetObject(ctx, fid, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	id, rel, err := m.SelectObjIdByPath(ctx, "/docs/hello.txt/inner/x")
	require.NoError(t, err)
	assert.True(t, id.Equal(fid))
	assert.Equal(t, "/inner/x", rel)

	old, err := m.SetFile(ctx, "/docs/copy.txt", cid.ObjId(), owner)
	require.NoError(t, err)
	assert.True(t, old.Equal(fid))

	n, err := m.RemoveDir(ctx, "/docs/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	refs, err = m.GetRefCount(ctx, fid)
	require.NoError(t, err)
	assert.Zero(t, refs)

	_, err = m.GetObjIdByPath(ctx, "/docs/hello.txt")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry(t *testing.T) {
	m := setupTestMgr(t, nil, nil)
	reg := NewRegistry()

	require.NoError(t, reg.Register(m.Manager))
	assert.ErrorIs(t, reg.Register(m.Manager), core.ErrAlreadyExists)

	got, err := reg.Get("")
	require.NoError(t, err)
	assert.Same(t, m.Manager, got)

	_, ok := reg.Remove(DefaultMgrId)
	assert.True(t, ok)
	_, err = reg.Get(DefaultMgrId)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// 端到端: 变长 chunk list + ObjectMap 证明 + 磁盘损坏检测
func TestManager_EndToEnd(t *testing.T) {
	ctx := context.Background()
	m := setupTestMgr(t, nil, nil)

	sizes := []int{1000, 4096, 3, 70000, 512}
	var (
		ids  []core.ChunkId
		all  []byte
		last []byte
	)
	b := chunklist.NewBuilder(core.HashSha256)
	for _, n := range sizes {
		data := randomBytes(t, n)
		id := core.CalcMixChunkId(core.HashSha256, data)
		require.NoError(t, m.PutChunk(ctx, id, data, true))
		require.NoError(t, b.Append(id))
		ids = append(ids, id)
		all = append(all, data...)
		last = data
	}
	list, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, m.PutChunkList(ctx, list))

	loaded, err := m.LoadChunkList(ctx, list.ObjId())
	require.NoError(t, err)
	assert.Equal(t, uint64(len(all)), loaded.TotalSize())

	idx, off, err := loaded.ChunkIndexByOffset(types.End(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(sizes)-1), idx)
	assert.Equal(t, uint64(len(last)), off)

	r, _, err := m.OpenChunkListReader(ctx, list.ObjId(), types.Start(900), false)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(all[900:], got))

	// ObjectMap: chunkN -> id
	om, err := m.NewObjectMap(core.HashSha256)
	require.NoError(t, err)
	for i, id := range ids {
		require.NoError(t, om.PutObject(ctx, fmt.Sprintf("chunk%d", i+1), id.ObjId()))
	}
	mapId, err := m.SaveObjectMap(ctx, om)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseObjectMap(om))
	assert.Equal(t, core.ObjTypeObjMap, mapId.ObjType)

	published, err := m.OpenObjectMap(ctx, mapId)
	require.NoError(t, err)
	defer published.Close()

	proof, err := published.GetObjectProofPath(ctx, "chunk3")
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.True(t, proof.Item.ObjId.Equal(ids[2].ObjId()))

	body, err := published.Body()
	require.NoError(t, err)
	require.NoError(t, objectmap.VerifyProof(body.RootHash, body.HashMethod, proof))

	wire, err := json.Marshal(proof)
	require.NoError(t, err)
	var decoded objectmap.Proof
	require.NoError(t, json.Unmarshal(wire, &decoded))
	decoded.Item.ObjId = ids[3].ObjId()
	assert.ErrorIs(t, objectmap.VerifyProof(body.RootHash, body.HashMethod, &decoded), core.ErrVerify)

	// 改掉磁盘上的一个字节，带校验的 reader 要发现
	path := m.MainStore().ChunkPath(ids[3])
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0644))

	vr, _, err := m.MainStore().OpenVerifiedChunkReader(ctx, ids[3], 0)
	require.NoError(t, err)
	_, err = io.ReadAll(vr)
	vr.Close()
	assert.ErrorIs(t, err, core.ErrVerify)
}

func TestManager_ObjectMapMemoryUnsupported(t *testing.T) {
	ctx := context.Background()
	m := setupTestMgr(t, nil, func(c *Config) { c.ObjMapStorage = types.StorageMemory })

	om, err := m.NewObjectMap(core.HashSha256)
	require.NoError(t, err)
	require.NoError(t, om.PutObject(ctx, "k", core.MustParseObjId("cyfile:"+hexOf(32))))
	_, err = m.SaveObjectMap(ctx, om)
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.NoDirExists(t, filepath.Join(m.Root(), ObjMapDir, "tmp"))
}

func hexOf(n int) string {
	return string(bytes.Repeat([]byte("ab"), n))
}
