package trie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gorm.io/gorm"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
)

// IteratePageSize 是 Iterate 每次从数据库取出的行数
const IteratePageSize = 256

// Record 是 trie 节点的存储行
// RefCount <= 0 的行在逻辑上不存在
type Record struct {
	Key      []byte `gorm:"column:key;primaryKey;type:blob"`
	Value    []byte `gorm:"column:value;type:blob;not null"`
	RefCount int32  `gorm:"column:ref_count;not null"`
}

func (Record) TableName() string {
	return "trie_data"
}

// Store 是带引用计数的 key/value 存储，每个 Store 对应一个 sqlite 文件
type Store struct {
	mu       sync.RWMutex
	path     string
	readOnly bool
	logLevel string
	conn     *gorm.DB
}

// Open 打开 (或创建) path 处的存储
func Open(path string, readOnly bool) (*Store, error) {
	s := &Store{path: path, readOnly: readOnly}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithConn 使用已有连接，主要用于测试
func NewWithConn(conn *gorm.DB, readOnly bool) (*Store, error) {
	if err := conn.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return &Store{conn: conn, readOnly: readOnly}, nil
}

func (s *Store) open() error {
	conn, err := meta.OpenSQLite(s.path, s.readOnly, s.logLevel)
	if err != nil {
		return meta.WrapDBError("open trie store", err)
	}
	if !s.readOnly {
		if err := conn.AutoMigrate(&Record{}); err != nil {
			return meta.WrapDBError("migrate trie store", err)
		}
	}
	s.conn = conn
	return nil
}

func (s *Store) Path() string     { return s.path }
func (s *Store) IsReadOnly() bool { return s.readOnly }

func (s *Store) checkWritable() error {
	if s.readOnly {
		return fmt.Errorf("%w: trie store %s is read-only", core.ErrPermissionDenied, s.path)
	}
	return nil
}

// Get 返回可见的 value，不存在或计数 <= 0 时返回 ErrNotFound
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	err := s.conn.WithContext(ctx).
		Where("key = ? AND ref_count > 0", key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: trie key %x", core.ErrNotFound, key)
	}
	if err != nil {
		return nil, meta.WrapDBError("get trie key", err)
	}
	return rec.Value, nil
}

func (s *Store) Contains(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Insert 增加引用计数
// 不存在时写入并置为 1；计数 <= 0 时覆盖 value 并重置为 1；否则 +1
func (s *Store) Insert(ctx context.Context, key, value []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return meta.WithRetry(ctx, func() error {
		err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec Record
			err := tx.Where("key = ?", key).Take(&rec).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return tx.Create(&Record{Key: key, Value: nonNil(value), RefCount: 1}).Error
			case err != nil:
				return err
			case rec.RefCount <= 0:
				return tx.Model(&Record{}).Where("key = ?", key).
					Updates(map[string]any{"value": nonNil(value), "ref_count": 1}).Error
			default:
				return tx.Model(&Record{}).Where("key = ?", key).
					Update("ref_count", gorm.Expr("ref_count + 1")).Error
			}
		})
		return meta.WrapDBError("insert trie key", err)
	})
}

// Remove 减少引用计数，允许变成负数
// 不存在的 key 写入一条 -1 的墓碑；之后任何一次 Insert 都把它重置为 1
func (s *Store) Remove(ctx context.Context, key []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return meta.WithRetry(ctx, func() error {
		err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec Record
			err := tx.Where("key = ?", key).Take(&rec).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				slog.Debug("removing absent trie key, writing tombstone", "key", fmt.Sprintf("%x", key))
				return tx.Create(&Record{Key: key, Value: []byte{}, RefCount: -1}).Error
			case err != nil:
				return err
			default:
				return tx.Model(&Record{}).Where("key = ?", key).
					Update("ref_count", gorm.Expr("ref_count - 1")).Error
			}
		})
		return meta.WrapDBError("remove trie key", err)
	})
}

// Iterate 按 key 升序遍历可见记录，分页以上一页最后的 key 为游标
// fn 返回错误时停止
func (s *Store) Iterate(ctx context.Context, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last []byte
	for {
		var page []Record
		q := s.conn.WithContext(ctx).Where("ref_count > 0")
		if last != nil {
			q = q.Where("key > ?", last)
		}
		if err := q.Order("key").Limit(IteratePageSize).Find(&page).Error; err != nil {
			return meta.WrapDBError("iterate trie", err)
		}

		for _, rec := range page {
			if err := fn(rec.Key, rec.Value); err != nil {
				return err
			}
		}
		if len(page) < IteratePageSize {
			return nil
		}
		last = page[len(page)-1].Key
	}
}

// Stat 返回可见记录数
func (s *Store) Stat(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.conn.WithContext(ctx).Model(&Record{}).Where("ref_count > 0").Count(&count).Error; err != nil {
		return 0, meta.WrapDBError("stat trie", err)
	}
	return uint64(count), nil
}

// CloneForModify 用 VACUUM INTO 复制出一个可写的新存储
func (s *Store) CloneForModify(ctx context.Context, target string) (*Store, error) {
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: clone target %s", core.ErrAlreadyExists, target)
	}

	s.mu.RLock()
	err := s.conn.WithContext(ctx).Exec("VACUUM INTO ?", target).Error
	s.mu.RUnlock()
	if err != nil {
		return nil, meta.WrapDBError("clone trie store", err)
	}

	clone := &Store{path: target, logLevel: s.logLevel}
	if err := clone.open(); err != nil {
		return nil, err
	}
	return clone, nil
}

// Save 把存储文件移动到 target 并重新打开
// target 与当前路径相同时什么都不做
func (s *Store) Save(ctx context.Context, target string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if target == s.path {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%w: save target %s", core.ErrAlreadyExists, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeConn(); err != nil {
		return err
	}
	if err := os.Rename(s.path, target); err != nil {
		// 尽量恢复原连接
		_ = s.open()
		return fmt.Errorf("%w: rename %s -> %s: %v", core.ErrIO, s.path, target, err)
	}
	slog.InfoContext(ctx, "trie store saved", "from", s.path, "to", target)
	s.path = target
	return s.open()
}

func (s *Store) closeConn() error {
	if s.conn == nil {
		return nil
	}
	sqlDB, err := s.conn.DB()
	if err != nil {
		return meta.WrapDBError("close trie store", err)
	}
	s.conn = nil
	return sqlDB.Close()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeConn()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
