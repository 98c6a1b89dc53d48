package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	s, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, "default", s.MgrId)
	assert.Equal(t, []string{"./store"}, s.LocalStores)
	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, "none", s.Archive.Type)
	assert.Equal(t, types.StorageSQLite, s.ObjMapStorage)
	assert.Equal(t, core.HashSha256, s.HashMethod)
	assert.Equal(t, uint64(32*1024*1024), s.FixSize)
	assert.Equal(t, 24*time.Hour, s.Cache.TTL)
	assert.Equal(t, "info", s.LogLevel)
}

func TestFromViper_Invalid(t *testing.T) {
	cases := map[string]struct {
		key string
		val any
	}{
		"driver":  {"database.driver", "mysql"},
		"archive": {"archive.type", "ftp"},
		"objmap":  {"objmap.storage", "badger"},
		"mode":    {"chunk.mode", "rolling"},
		"fixsize": {"chunk.fix_size", 0},
		"hash":    {"chunk.hash", "md5"},
		"root":    {"ndn.root", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := newViper()
			v.Set(tc.key, tc.val)
			_, err := FromViper(v)
			assert.Error(t, err)
		})
	}
}

func TestFromViper_RelativeSQLitePath(t *testing.T) {
	v := newViper()
	v.Set("ndn.root", "/data/ndn")
	v.Set("database.path", "meta/paths.db")
	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/ndn", "meta/paths.db"), s.Database.Path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := `
ndn:
  root: ` + dir + `
  local_stores: ["./a", "./b"]
chunk:
  mode: cdc
  hash: blake3
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0644))
	t.Setenv("NDN_ARCHIVE_TYPE", "disk")
	t.Setenv("NDN_ARCHIVE_PATH", filepath.Join(dir, "archive"))

	require.NoError(t, Load(cfgFile))
	s, err := Current()
	require.NoError(t, err)

	assert.Equal(t, dir, s.Root)
	assert.Equal(t, []string{"./a", "./b"}, s.LocalStores)
	assert.Equal(t, "cdc", s.ChunkMode)
	assert.Equal(t, core.HashBlake3, s.HashMethod)
	assert.Equal(t, "disk", s.Archive.Type)
	assert.Equal(t, filepath.Join(dir, "archive"), s.Archive.Path)
}
