package core

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// randomBytes 生成随机测试数据
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// mustParseObjId 解析失败直接终止测试
func mustParseObjId(t *testing.T, s string, msgAndArgs ...any) ObjId {
	t.Helper()
	id, err := ParseObjId(s)
	require.NoError(t, err, msgAndArgs...)
	return id
}
