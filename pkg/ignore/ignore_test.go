package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIgnoreFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestMatcher(t *testing.T) {
	userRules := "# 注释行\n*.log\ntemp\n!keep.log\n"

	cases := []struct {
		name    string
		rules   string // .ndnignore 内容，空串表示没有这个文件
		extra   []string
		ignored []string
		kept    []string
	}{
		{
			name:    "defaults only",
			ignored: []string{".ndn", ".ndn/objmaps/tmp/x.db", ".git/HEAD", "config.yaml", ".env", ".ndnignore", "sub/.DS_Store"},
			kept:    []string{"readme.md", "docs/", "data/model.bin", "configs/a.yaml"},
		},
		{
			name:    "user file merges with defaults",
			rules:   userRules,
			ignored: []string{".ndn", "config.yaml", "server.log", "logs/2024/app.log", "temp", "temp/part.bin"},
			kept:    []string{"main.go", "keep.log", "template.txt"},
		},
		{
			name:    "extra rules from caller",
			extra:   []string{"*.tmp", "build"},
			ignored: []string{"a/b/c.tmp", filepath.Join("build", "out.bin")},
			kept:    []string{"src/build.go", "."},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.rules != "" {
				writeIgnoreFile(t, dir, tc.rules)
			}
			m, err := NewMatcher(dir, tc.extra...)
			require.NoError(t, err)

			for _, p := range tc.ignored {
				assert.True(t, m.Matches(p), "want ignored: %s", p)
			}
			for _, p := range tc.kept {
				assert.False(t, m.Matches(p), "want kept: %s", p)
			}
		})
	}
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Matches("anything"))
	assert.False(t, (&Matcher{}).Matches("x.log"))
}

func TestNewMatcher_UnreadableRoot(t *testing.T) {
	// root 本身是文件时 Stat(root/.ndnignore) 返回 ENOTDIR
	f := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	_, err := NewMatcher(f)
	assert.Error(t, err)
}
