package objectmap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/types"
)

// iteratePageSize 与 ObjectMap 构建 mtree 时的分页一致
const iteratePageSize = 128

// itemModel 是 sqlite 后端的一行
type itemModel struct {
	Key        string  `gorm:"column:key;primaryKey"`
	ObjId      string  `gorm:"column:obj_id;not null"`
	MtreeIndex *uint64 `gorm:"column:mtree_index"`
}

func (itemModel) TableName() string {
	return "object_map_items"
}

// SQLiteStorage 基于 gorm + sqlite，每次修改立即落盘
type SQLiteStorage struct {
	path     string
	readOnly bool
	conn     *gorm.DB
}

var _ Storage = (*SQLiteStorage)(nil)

func OpenSQLiteStorage(path string, readOnly bool) (*SQLiteStorage, error) {
	conn, err := meta.OpenSQLite(path, readOnly, "")
	if err != nil {
		return nil, meta.WrapDBError("open object map db", err)
	}
	return newSQLiteStorage(conn, path, readOnly)
}

// NewSQLiteStorageWithConn 使用已有连接，主要用于测试
func NewSQLiteStorageWithConn(conn *gorm.DB, readOnly bool) (*SQLiteStorage, error) {
	return newSQLiteStorage(conn, "", readOnly)
}

func newSQLiteStorage(conn *gorm.DB, path string, readOnly bool) (*SQLiteStorage, error) {
	if !readOnly {
		if err := conn.AutoMigrate(&itemModel{}); err != nil {
			return nil, meta.WrapDBError("migrate object map db", err)
		}
	}
	return &SQLiteStorage{path: path, readOnly: readOnly, conn: conn}, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (core.ObjId, error) {
	var m itemModel
	err := s.conn.WithContext(ctx).Where("key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.ObjId{}, notFoundErr(key)
	}
	if err != nil {
		return core.ObjId{}, meta.WrapDBError("get object map item", err)
	}
	return core.ParseObjId(m.ObjId)
}

// Put 覆盖写，同时清掉旧的叶子下标
func (s *SQLiteStorage) Put(ctx context.Context, key string, id core.ObjId) error {
	if s.readOnly {
		return readOnlyErr(s.path)
	}
	return meta.WithRetry(ctx, func() error {
		err := s.conn.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.Assignments(map[string]any{"obj_id": id.String(), "mtree_index": nil}),
			}).
			Create(&itemModel{Key: key, ObjId: id.String()}).Error
		return meta.WrapDBError("put object map item", err)
	})
}

func (s *SQLiteStorage) Remove(ctx context.Context, key string) (core.ObjId, error) {
	if s.readOnly {
		return core.ObjId{}, readOnlyErr(s.path)
	}
	var removed core.ObjId
	err := meta.WithRetry(ctx, func() error {
		err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m itemModel
			if err := tx.Where("key = ?", key).Take(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFoundErr(key)
				}
				return err
			}
			id, err := core.ParseObjId(m.ObjId)
			if err != nil {
				return err
			}
			removed = id
			return tx.Where("key = ?", key).Delete(&itemModel{}).Error
		})
		return meta.WrapDBError("remove object map item", err)
	})
	return removed, err
}

func (s *SQLiteStorage) List(ctx context.Context, page, pageSize int) ([]string, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: page %d size %d", core.ErrInvalidParam, page, pageSize)
	}
	var keys []string
	err := s.conn.WithContext(ctx).Model(&itemModel{}).
		Order("key").
		Offset(page*pageSize).
		Limit(pageSize).
		Pluck("key", &keys).Error
	if err != nil {
		return nil, meta.WrapDBError("list object map", err)
	}
	return keys, nil
}

// Iterate 以上一页最后的 key 为游标分页读取
func (s *SQLiteStorage) Iterate(ctx context.Context, fn func(key string, id core.ObjId) error) error {
	last, first := "", true
	for {
		var page []itemModel
		q := s.conn.WithContext(ctx)
		if !first {
			q = q.Where("key > ?", last)
		}
		if err := q.Order("key").Limit(iteratePageSize).Find(&page).Error; err != nil {
			return meta.WrapDBError("iterate object map", err)
		}
		for _, m := range page {
			id, err := core.ParseObjId(m.ObjId)
			if err != nil {
				return err
			}
			if err := fn(m.Key, id); err != nil {
				return err
			}
		}
		if len(page) < iteratePageSize {
			return nil
		}
		last, first = page[len(page)-1].Key, false
	}
}

func (s *SQLiteStorage) Stat(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.conn.WithContext(ctx).Model(&itemModel{}).Count(&count).Error; err != nil {
		return 0, meta.WrapDBError("stat object map", err)
	}
	return uint64(count), nil
}

func (s *SQLiteStorage) UpdateMtreeIndex(ctx context.Context, key string, index uint64) error {
	if s.readOnly {
		return readOnlyErr(s.path)
	}
	res := s.conn.WithContext(ctx).Model(&itemModel{}).Where("key = ?", key).Update("mtree_index", index)
	if res.Error != nil {
		return meta.WrapDBError("update mtree index", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundErr(key)
	}
	return nil
}

func (s *SQLiteStorage) GetMtreeIndex(ctx context.Context, key string) (uint64, error) {
	var m itemModel
	err := s.conn.WithContext(ctx).Where("key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && m.MtreeIndex == nil) {
		return 0, notFoundErr(key)
	}
	if err != nil {
		return 0, meta.WrapDBError("get mtree index", err)
	}
	return *m.MtreeIndex, nil
}

// Clone 使用 VACUUM INTO 复制整个数据库文件
func (s *SQLiteStorage) Clone(ctx context.Context, target string, readOnly bool) (Storage, error) {
	if target == "" || target == s.path {
		return nil, fmt.Errorf("%w: clone target %q", core.ErrInvalidParam, target)
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: clone target %s", core.ErrAlreadyExists, target)
	}
	if err := s.conn.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return nil, meta.WrapDBError("clone object map db", err)
	}
	return OpenSQLiteStorage(target, readOnly)
}

func (s *SQLiteStorage) Flush(context.Context) error    { return nil }
func (s *SQLiteStorage) Path() string                   { return s.path }
func (s *SQLiteStorage) StorageType() types.StorageType { return types.StorageSQLite }
func (s *SQLiteStorage) IsReadOnly() bool               { return s.readOnly }

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
