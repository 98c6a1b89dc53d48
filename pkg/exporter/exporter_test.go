package exporter

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/chunkmgr"
	"ndnstore/pkg/core"
	"ndnstore/pkg/publisher"
)

func setupTest(t *testing.T) (*publisher.Publisher, *chunkmgr.Manager, *Exporter) {
	t.Helper()
	mgr, err := chunkmgr.New(context.Background(), chunkmgr.Config{
		Root:        t.TempDir(),
		LocalStores: []string{"store"},
		LogLevel:    "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return publisher.New(mgr, publisher.Options{FixSize: 64 * 1024}), mgr, NewExporter(mgr)
}

func randomFile(t *testing.T, dir, name string, n int) ([]byte, string) {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return data, path
}

func TestPublishAndExport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pub, _, exp := setupTest(t)

	// 500KB 会切成多个定长块
	original, path := randomFile(t, t.TempDir(), "big.bin", 500*1024)
	res, err := pub.PubLocalFileAsFileObj(ctx, path, "/big.bin", "", nil)
	require.NoError(t, err)
	require.True(t, res.Content.IsChunkList())

	var restored bytes.Buffer
	n, err := exp.ExportContent(ctx, res.FileId, &restored)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(original)), n)
	assert.True(t, bytes.Equal(original, restored.Bytes()), "还原的数据必须完全一致")

	restored.Reset()
	_, err = exp.ExportContent(ctx, res.Content, &restored)
	require.NoError(t, err)
	assert.Equal(t, len(original), restored.Len())
}

func TestExport_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	pub, mgr, exp := setupTest(t)

	_, path := randomFile(t, t.TempDir(), "small.bin", 10*1024)
	id, err := pub.PubLocalFileAsChunk(ctx, path)
	require.NoError(t, err)

	chunkPath := mgr.MainStore().ChunkPath(id)
	raw, err := os.ReadFile(chunkPath)
	require.NoError(t, err)
	raw[0] ^= 0x01
	require.NoError(t, os.WriteFile(chunkPath, raw, 0644))

	var out bytes.Buffer
	_, err = exp.ExportContent(ctx, id.ObjId(), &out)
	assert.ErrorIs(t, err, core.ErrVerify)

	// 关闭校验后照常输出
	exp.Verify = false
	out.Reset()
	_, err = exp.ExportContent(ctx, id.ObjId(), &out)
	require.NoError(t, err)
	assert.Equal(t, raw, out.Bytes())
}

func TestRestoreDir(t *testing.T) {
	ctx := context.Background()
	pub, _, exp := setupTest(t)

	src := t.TempDir()
	a, _ := randomFile(t, src, "a.bin", 1000)
	b, _ := randomFile(t, src, "nested/deep/b.bin", 150*1024)

	res, err := pub.PubDirAsObjectMap(ctx, src, "/tree")
	require.NoError(t, err)

	dst := t.TempDir()
	restored := map[string]uint64{}
	err = exp.RestoreDir(ctx, res.DirId, dst, func(path string, _ core.ObjId, size uint64) {
		rel, _ := filepath.Rel(dst, path)
		restored[filepath.ToSlash(rel)] = size
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"a.bin": 1000, "nested/deep/b.bin": uint64(len(b))}, restored)

	got, err := os.ReadFile(filepath.Join(dst, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = os.ReadFile(filepath.Join(dst, "nested", "deep", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestPrintObject(t *testing.T) {
	ctx := context.Background()
	pub, _, exp := setupTest(t)

	src := t.TempDir()
	_, path := randomFile(t, src, "model.bin", 200*1024)
	res, err := pub.PubLocalFileAsFileObj(ctx, path, "/model.bin", "", nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, exp.PrintObject(ctx, res.FileId, &out))
	assert.Contains(t, out.String(), "Name:    model.bin")
	assert.Contains(t, out.String(), res.Content.String())

	out.Reset()
	require.NoError(t, exp.PrintObject(ctx, res.Content, &out))
	assert.Contains(t, out.String(), "Chunks:    4")

	dir, err := pub.PubDirAsObjectMap(ctx, src, "")
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, exp.PrintObject(ctx, dir.DirId, &out))
	assert.Contains(t, out.String(), "model.bin")
	assert.Contains(t, out.String(), "Files:   1")

	_, err = exp.ExportContent(ctx, dir.DirId, &out)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
