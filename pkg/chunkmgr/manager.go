package chunkmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/namedstore"
	"ndnstore/pkg/storage"
	"ndnstore/pkg/types"
)

// Manager 把多个 named store、缓存、归档层和路径索引组合成一个读写入口
//
// 读取顺序: mmap 缓存 -> 磁盘缓存 -> 本地 store (按顺序) -> 归档层
// 写入总是落在第一个本地 store
type Manager struct {
	cfg Config

	stores  []*namedstore.Store
	cache   *namedstore.Store
	mmap    *mmapCache
	archive storage.Store

	pathDB  *meta.DB
	paths   *meta.PathIndex
	metrics *Metrics
}

// New 打开配置中的所有 store 和路径索引
// archive 可以为 nil
func New(ctx context.Context, cfg Config, archive storage.Store) (*Manager, error) {
	cfg = cfg.withDefaults()
	if len(cfg.LocalStores) == 0 {
		return nil, fmt.Errorf("%w: chunk manager needs at least one local store", core.ErrInvalidParam)
	}

	m := &Manager{cfg: cfg, archive: archive, metrics: NewMetrics(cfg.Registerer, cfg.MgrId)}
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	for _, p := range cfg.LocalStores {
		s, err := namedstore.Open(ctx, namedstore.Config{Path: cfg.resolve(p), LogLevel: cfg.LogLevel})
		if err != nil {
			return nil, fmt.Errorf("open local store %s: %w", p, err)
		}
		m.stores = append(m.stores, s)
	}

	if cfg.LocalCache != "" {
		s, err := namedstore.Open(ctx, namedstore.Config{
			Path:        cfg.resolve(cfg.LocalCache),
			Description: "local cache",
			LogLevel:    cfg.LogLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("open local cache: %w", err)
		}
		m.cache = s
	}

	if cfg.MmapCacheDir != "" {
		c, err := newMmapCache(cfg.resolve(cfg.MmapCacheDir))
		if err != nil {
			return nil, err
		}
		m.mmap = c
	}

	db, err := meta.NewDB(ctx, cfg.PathDB, meta.PathIndexModels()...)
	if err != nil {
		return nil, fmt.Errorf("%w: open path index: %v", core.ErrDB, err)
	}
	m.pathDB = db
	m.paths = meta.NewPathIndex(db)

	ok = true
	slog.Info("chunk manager ready", "mgr", cfg.MgrId, "stores", len(m.stores),
		"cache", m.cache != nil, "mmap", m.mmap != nil, "archive", archive != nil)
	return m, nil
}

func (m *Manager) ID() string                       { return m.cfg.MgrId }
func (m *Manager) Root() string                     { return m.cfg.Root }
func (m *Manager) Metrics() *Metrics                { return m.metrics }
func (m *Manager) MainStore() *namedstore.Store     { return m.stores[0] }
func (m *Manager) Cache() *namedstore.Store         { return m.cache }
func (m *Manager) Archive() storage.Store           { return m.archive }
func (m *Manager) PathIndex() *meta.PathIndex       { return m.paths }
func (m *Manager) LocalStores() []*namedstore.Store { return append([]*namedstore.Store(nil), m.stores...) }

// Close 关闭所有打开的 store，返回第一个错误
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.stores {
		errs = append(errs, s.Close())
	}
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
	}
	if m.pathDB != nil {
		errs = append(errs, m.pathDB.Close())
	}
	if c, ok := m.archive.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// 读取
// -----------------------------------------------------------------------------

// readStores 是参与读取的 named store，磁盘缓存在前
func (m *Manager) readStores() []*namedstore.Store {
	if m.cache == nil {
		return m.stores
	}
	return append([]*namedstore.Store{m.cache}, m.stores...)
}

// OpenChunkReader 依次尝试各层，返回第一个命中的 reader
// autoCache 为 true 时，从本地 store 或归档层读到的 chunk 会校验后复制进磁盘缓存
// 归档层命中的 chunk 总是导入第一个本地 store
func (m *Manager) OpenChunkReader(ctx context.Context, id core.ChunkId, offset uint64, autoCache bool) (io.ReadSeekCloser, uint64, error) {
	if m.mmap != nil {
		r, size, err := m.mmap.open(id, offset)
		if err == nil {
			m.metrics.recordRead(TierMmap)
			return r, size, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, 0, err
		}
	}

	if m.cache != nil {
		r, size, err := m.cache.OpenChunkReader(ctx, id, offset)
		if err == nil {
			m.metrics.recordRead(TierCache)
			return r, size, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			slog.Warn("local cache read failed", "mgr", m.cfg.MgrId, "chunk", id, "err", err)
		}
	}

	for _, s := range m.stores {
		r, size, err := s.OpenChunkReader(ctx, id, offset)
		if err == nil {
			m.metrics.recordRead(TierLocal)
			if autoCache {
				m.fillCache(ctx, s, id)
			}
			return r, size, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, 0, err
		}
	}

	if m.archive != nil {
		if err := m.importFromArchive(ctx, id); err == nil {
			m.metrics.recordRead(TierArchive)
			if autoCache {
				m.fillCache(ctx, m.stores[0], id)
			}
			return m.stores[0].OpenChunkReader(ctx, id, offset)
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, 0, err
		}
	}

	m.metrics.recordMiss()
	slog.Debug("chunk not found in any tier", "mgr", m.cfg.MgrId, "chunk", id)
	return nil, 0, fmt.Errorf("%w: chunk %s", core.ErrNotFound, id)
}

// fillCache 把 chunk 从 src 复制进磁盘缓存，失败只记日志
func (m *Manager) fillCache(ctx context.Context, src *namedstore.Store, id core.ChunkId) {
	if m.cache == nil || m.cache == src {
		return
	}
	r, _, err := src.OpenChunkReader(ctx, id, 0)
	if err != nil {
		slog.Warn("cache fill: open source failed", "chunk", id, "err", err)
		return
	}
	defer r.Close()

	if _, err := m.cache.ImportChunk(ctx, id, r); err != nil {
		if !errors.Is(err, core.ErrAlreadyExists) {
			slog.Warn("cache fill failed", "mgr", m.cfg.MgrId, "chunk", id, "err", err)
		}
		return
	}
	m.metrics.recordFill(TierCache)
}

// importFromArchive 从归档层下载并校验，写入第一个本地 store
func (m *Manager) importFromArchive(ctx context.Context, id core.ChunkId) error {
	rc, err := m.archive.Get(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = m.stores[0].ImportChunk(ctx, id, rc)
	if err != nil && !errors.Is(err, core.ErrAlreadyExists) {
		slog.Error("archive import failed", "mgr", m.cfg.MgrId, "chunk", id, "err", err)
		return err
	}
	m.metrics.recordFill(TierLocal)
	return nil
}

// HaveChunk 任意一层有完整的 chunk 即为 true
func (m *Manager) HaveChunk(ctx context.Context, id core.ChunkId) (bool, error) {
	if m.mmap != nil && m.mmap.has(id) {
		return true, nil
	}
	for _, s := range m.readStores() {
		exist, _, err := s.IsChunkExist(ctx, id)
		if err != nil {
			return false, err
		}
		if exist {
			return true, nil
		}
	}
	if m.archive != nil {
		return m.archive.Has(ctx, id)
	}
	return false, nil
}

// QueryChunkState 返回第一个认识该 chunk 的本地 store 中的状态
// 只在归档层存在时视为 Completed，大小取 id 内嵌的长度 (没有则为 0)
func (m *Manager) QueryChunkState(ctx context.Context, id core.ChunkId) (namedstore.ChunkStat, error) {
	for _, s := range append(append([]*namedstore.Store(nil), m.stores...), m.cacheOrNil()...) {
		stat, err := s.QueryChunkState(ctx, id)
		if err != nil {
			return namedstore.ChunkStat{}, err
		}
		if stat.State != types.ChunkStateNotExist {
			return stat, nil
		}
	}
	if m.archive != nil {
		found, err := m.archive.Has(ctx, id)
		if err != nil {
			return namedstore.ChunkStat{}, err
		}
		if found {
			size, _ := id.Length()
			return namedstore.ChunkStat{State: types.ChunkStateCompleted, Size: size}, nil
		}
	}
	return namedstore.ChunkStat{State: types.ChunkStateNotExist}, nil
}

func (m *Manager) cacheOrNil() []*namedstore.Store {
	if m.cache == nil {
		return nil
	}
	return []*namedstore.Store{m.cache}
}

// -----------------------------------------------------------------------------
// 写入 (第一个本地 store)
// -----------------------------------------------------------------------------

func (m *Manager) OpenChunkWriter(ctx context.Context, id core.ChunkId, size, offset uint64) (*namedstore.ChunkWriter, string, error) {
	return m.stores[0].OpenChunkWriter(ctx, id, size, offset)
}

// OpenNewChunkWriter 不续传，第一个本地 store 里已有记录时返回 core.ErrAlreadyExists
func (m *Manager) OpenNewChunkWriter(ctx context.Context, id core.ChunkId, size uint64) (*namedstore.ChunkWriter, string, error) {
	return m.stores[0].OpenNewChunkWriter(ctx, id, size)
}

func (m *Manager) UpdateChunkProgress(ctx context.Context, id core.ChunkId, progress string) error {
	return m.stores[0].UpdateChunkProgress(ctx, id, progress)
}

func (m *Manager) CompleteChunkWriter(ctx context.Context, id core.ChunkId, verify bool) error {
	return m.stores[0].CompleteChunkWriter(ctx, id, verify)
}

// PutChunk 已存在于任何本地 store 时跳过
func (m *Manager) PutChunk(ctx context.Context, id core.ChunkId, data []byte, verify bool) error {
	for _, s := range m.stores {
		exist, _, err := s.IsChunkExist(ctx, id)
		if err != nil {
			return err
		}
		if exist {
			return nil
		}
	}
	err := m.stores[0].PutChunk(ctx, id, data, verify)
	if errors.Is(err, core.ErrAlreadyExists) {
		return nil
	}
	return err
}

// WarmMmapCache 把 chunk 校验后复制进 mmap 缓存目录
func (m *Manager) WarmMmapCache(ctx context.Context, id core.ChunkId) error {
	if m.mmap == nil {
		return fmt.Errorf("%w: no mmap cache configured", core.ErrUnsupported)
	}
	if m.mmap.has(id) {
		return nil
	}
	for _, s := range m.readStores() {
		r, _, err := s.OpenVerifiedChunkReader(ctx, id, 0)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		defer r.Close()
		if err := m.mmap.put(id, r); err != nil {
			return err
		}
		m.metrics.recordFill(TierMmap)
		return nil
	}
	return fmt.Errorf("%w: chunk %s", core.ErrNotFound, id)
}

// EvictMmapCache 从 mmap 缓存删除
func (m *Manager) EvictMmapCache(id core.ChunkId) error {
	if m.mmap == nil {
		return nil
	}
	return m.mmap.remove(id)
}

// ArchiveChunk 把本地的 chunk 校验后上传到归档层
func (m *Manager) ArchiveChunk(ctx context.Context, id core.ChunkId) error {
	if m.archive == nil {
		return fmt.Errorf("%w: no archive tier configured", core.ErrUnsupported)
	}
	for _, s := range m.readStores() {
		r, size, err := s.OpenVerifiedChunkReader(ctx, id, 0)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		defer r.Close()
		if err := m.archive.Put(ctx, id, r, size); err != nil {
			return fmt.Errorf("archive chunk %s: %w", id, err)
		}
		slog.Info("chunk archived", "mgr", m.cfg.MgrId, "chunk", id, "size", size)
		return nil
	}
	return fmt.Errorf("%w: chunk %s", core.ErrNotFound, id)
}
