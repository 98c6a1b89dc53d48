package meta

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ndnstore/pkg/core"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// 注意：文件名必须以 _test.go 结尾，否则会被编译进生产代码！
// -----------------------------------------------------------------------------

// setupTestDB 构建隔离的测试环境，每个测试一个内存库
func setupTestDB(t *testing.T, models ...any) *DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(models...))
	return metaDB
}

func setupTestRepo(t *testing.T) *Repository {
	return NewRepository(setupTestDB(t, NamedDataModels()...))
}

func setupTestPathIndex(t *testing.T) *PathIndex {
	return NewPathIndex(setupTestDB(t, PathIndexModels()...))
}

// mockChunkId 生成合法的测试用 chunk id
func mockChunkId(input string) string {
	return core.CalcMixChunkId(core.HashSha256, []byte(input)).String()
}

// mustCreatePath 强制创建路径，失败则终止
func mustCreatePath(t *testing.T, idx *PathIndex, path, objId string, msgAndArgs ...any) {
	t.Helper()
	err := idx.CreatePath(context.Background(), path, objId, PathOwner{AppId: "app", UserId: "user"})
	require.NoError(t, err, msgAndArgs...)
}

// requireRefCount 检查引用计数
func requireRefCount(t *testing.T, idx *PathIndex, objId string, want int64) {
	t.Helper()
	got, err := idx.GetRefCount(context.Background(), objId)
	require.NoError(t, err)
	require.Equal(t, want, got, "ref count of %s", objId)
}
