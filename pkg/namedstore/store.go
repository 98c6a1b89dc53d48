package namedstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
)

const (
	// DBFileName 是默认 side DB 的文件名
	DBFileName = "named_store.db"
	// InfoFileName 记录 store id 和描述
	InfoFileName = "store.json"
	// TempSuffix 是写入中的 chunk 文件后缀
	TempSuffix = ".tmp"
)

// Config 打开一个 NamedDataStore 所需的参数
type Config struct {
	// Path 是 chunk 文件的根目录
	Path        string
	Description string
	ReadOnly    bool
	// DB 为空时使用 Path 下的 sqlite 文件
	DB       *meta.Config
	LogLevel string
}

// storeInfo 是 store.json 的内容
type storeInfo struct {
	StoreId     string `json:"store_id"`
	Description string `json:"description,omitempty"`
}

// Store 是一个本地的内容寻址存储: chunk 文件在磁盘上，状态在 side DB 里
type Store struct {
	id       string
	desc     string
	base     string
	readOnly bool

	db   *meta.DB
	repo *meta.Repository

	// writers 保证同一个 chunk 同时只有一个 writer
	mu      sync.Mutex
	writers map[string]struct{}
}

// Open 打开 (或初始化) 一个 store
// 只读模式下目录或 DB 不存在时返回 core.ErrNotFound
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: store path is empty", core.ErrInvalidParam)
	}

	if cfg.ReadOnly {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("%w: store dir %s", core.ErrNotFound, cfg.Path)
		}
	} else if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %v", core.ErrIO, err)
	}

	info, err := loadInfo(cfg.Path, cfg.Description, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		id:       info.StoreId,
		desc:     info.Description,
		base:     cfg.Path,
		readOnly: cfg.ReadOnly,
		db:       db,
		repo:     meta.NewRepository(db),
		writers:  make(map[string]struct{}),
	}
	slog.Debug("named store opened", "store", s.id, "path", s.base, "readonly", s.readOnly)
	return s, nil
}

func openDB(ctx context.Context, cfg Config) (*meta.DB, error) {
	if cfg.DB != nil {
		return meta.NewDB(ctx, *cfg.DB, meta.NamedDataModels()...)
	}

	dbPath := filepath.Join(cfg.Path, DBFileName)
	if !cfg.ReadOnly {
		return meta.NewDB(ctx, meta.Config{Driver: "sqlite", Path: dbPath, LogLevel: cfg.LogLevel}, meta.NamedDataModels()...)
	}

	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: side db %s", core.ErrNotFound, dbPath)
	}
	conn, err := meta.OpenSQLite(dbPath, true, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDB, err)
	}
	return meta.NewWithConn(conn), nil
}

// loadInfo 读取 store.json，第一次打开时生成新的 uuid
func loadInfo(dir, desc string, readOnly bool) (storeInfo, error) {
	path := filepath.Join(dir, InfoFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var info storeInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return storeInfo{}, fmt.Errorf("%w: %s: %v", core.ErrInvalidData, path, err)
		}
		return info, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return storeInfo{}, fmt.Errorf("%w: %v", core.ErrIO, err)
	}

	info := storeInfo{StoreId: uuid.NewString(), Description: desc}
	if readOnly {
		return info, nil
	}
	data, _ = json.MarshalIndent(info, "", "  ")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return storeInfo{}, fmt.Errorf("%w: write store info: %v", core.ErrIO, err)
	}
	return info, nil
}

func (s *Store) ID() string          { return s.id }
func (s *Store) Description() string { return s.desc }
func (s *Store) Path() string        { return s.base }
func (s *Store) IsReadOnly() bool    { return s.readOnly }

// Repository 暴露 side DB，给管理工具用
func (s *Store) Repository() *meta.Repository { return s.repo }

func (s *Store) Close() error {
	return s.db.Close()
}

// ChunkPath 返回 chunk 的最终路径
// Layout: {base}/{hex[0:2]}/{hex[2:4]}/{hex[4:]}.{type}
func (s *Store) ChunkPath(id core.ChunkId) string {
	h := hex.EncodeToString(id.Hash())
	if len(h) < 4 {
		return filepath.Join(s.base, h+"."+id.Type.String())
	}
	return filepath.Join(s.base, h[:2], h[2:4], h[4:]+"."+id.Type.String())
}

func (s *Store) tempPath(id core.ChunkId) string {
	return s.ChunkPath(id) + TempSuffix
}

func (s *Store) checkWritable() error {
	if s.readOnly {
		return fmt.Errorf("%w: store %s is read-only", core.ErrPermissionDenied, s.id)
	}
	return nil
}

// acquireWriter 占用 chunk 的写权限
func (s *Store) acquireWriter(id core.ChunkId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.String()
	if _, held := s.writers[key]; held {
		return fmt.Errorf("%w: chunk %s already has an open writer", core.ErrInvalidState, key)
	}
	s.writers[key] = struct{}{}
	return nil
}

func (s *Store) releaseWriter(id core.ChunkId) {
	s.mu.Lock()
	delete(s.writers, id.String())
	s.mu.Unlock()
}

// testHookBeforeRename 在完成 chunk 时校验之后、改名之前调用，测试用
var testHookBeforeRename = func(core.ChunkId) {}
