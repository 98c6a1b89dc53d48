package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ndnstore/pkg/core"
)

// PathIndex 是 ChunkMgr 的逻辑路径 -> objid 索引
// 所有修改与 objs 表的引用计数在同一个事务里完成
type PathIndex struct {
	db *DB
}

func NewPathIndex(db *DB) *PathIndex {
	return &PathIndex{db: db}
}

// PathOwner 记录路径的归属
type PathOwner struct {
	AppId  string
	UserId string
}

func validPath(path string) error {
	if len(path) < 2 || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: invalid path %q", core.ErrInvalidParam, path)
	}
	return nil
}

// addRef 对 objs 表做 upsert，delta 可以为负
func addRef(tx *gorm.DB, objId string, delta int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "obj_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"ref_count":   gorm.Expr("ref_count + ?", delta),
			"access_time": time.Now().Unix(),
		}),
	}).Create(&ObjRef{ObjId: objId, RefCount: delta, AccessTime: time.Now().Unix()}).Error
}

// CreatePath 路径已存在时返回 core.ErrAlreadyExists
func (p *PathIndex) CreatePath(ctx context.Context, path, objId string, owner PathOwner) error {
	if err := validPath(path); err != nil {
		return err
	}
	return WithRetry(ctx, func() error {
		err := p.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			item := PathItem{Path: path, ObjId: objId, AppId: owner.AppId, UserId: owner.UserId}
			if err := tx.Create(&item).Error; err != nil {
				if isDuplicate(err) {
					return fmt.Errorf("%w: path %s", core.ErrAlreadyExists, path)
				}
				return err
			}
			return addRef(tx, objId, 1)
		})
		return WrapDBError("create path", err)
	})
}

// SetPath 覆盖写，返回旧的 objid (之前不存在时为空)
func (p *PathIndex) SetPath(ctx context.Context, path, objId string, owner PathOwner) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	var old string
	err := WithRetry(ctx, func() error {
		old = ""
		err := p.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var cur PathItem
			err := tx.Where("path = ?", path).Take(&cur).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				old = cur.ObjId
			}

			if old == objId {
				return tx.Model(&PathItem{}).Where("path = ?", path).
					Updates(map[string]any{"app_id": owner.AppId, "user_id": owner.UserId}).Error
			}

			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "path"}},
				DoUpdates: clause.AssignmentColumns([]string{"obj_id", "app_id", "user_id", "update_time"}),
			}).Create(&PathItem{Path: path, ObjId: objId, AppId: owner.AppId, UserId: owner.UserId}).Error
			if err != nil {
				return err
			}
			if old != "" {
				if err := addRef(tx, old, -1); err != nil {
					return err
				}
			}
			return addRef(tx, objId, 1)
		})
		return WrapDBError("set path", err)
	})
	return old, err
}

// SetPathObjJWT 保存路径对象的签名
func (p *PathIndex) SetPathObjJWT(ctx context.Context, path, jwt string) error {
	return WithRetry(ctx, func() error {
		res := p.db.GetConn().WithContext(ctx).Model(&PathItem{}).
			Where("path = ?", path).
			Update("path_obj_jwt", jwt)
		if res.Error != nil {
			return WrapDBError("set path jwt", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: path %s", core.ErrNotFound, path)
		}
		return nil
	})
}

// RemovePath 返回被删除路径指向的 objid
func (p *PathIndex) RemovePath(ctx context.Context, path string) (string, error) {
	var removed string
	err := WithRetry(ctx, func() error {
		err := p.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var cur PathItem
			if err := tx.Where("path = ?", path).Take(&cur).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: path %s", core.ErrNotFound, path)
				}
				return err
			}
			if err := tx.Where("path = ?", path).Delete(&PathItem{}).Error; err != nil {
				return err
			}
			removed = cur.ObjId
			return addRef(tx, cur.ObjId, -1)
		})
		return WrapDBError("remove path", err)
	})
	return removed, err
}

// underPrefix 匹配以 prefix 开头的 path 列
// 不用 LIKE: 路径里的 "_" "%" 会被当成通配符，sqlite 的 LIKE 还不区分大小写
// substr 按字符计数，所以长度用 rune 数
func underPrefix(db *gorm.DB, prefix string) *gorm.DB {
	return db.Where("substr(path, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
}

// RemoveDir 删除所有以 prefix 开头的路径，返回删除的条数
func (p *PathIndex) RemoveDir(ctx context.Context, prefix string) (int, error) {
	if err := validPath(prefix); err != nil {
		return 0, err
	}
	var n int
	err := WithRetry(ctx, func() error {
		err := p.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var items []PathItem
			if err := underPrefix(tx, prefix).Find(&items).Error; err != nil {
				return err
			}
			for _, item := range items {
				if err := addRef(tx, item.ObjId, -1); err != nil {
					return err
				}
			}
			if err := underPrefix(tx, prefix).Delete(&PathItem{}).Error; err != nil {
				return err
			}
			n = len(items)
			return nil
		})
		return WrapDBError("remove dir", err)
	})
	return n, err
}

// GetPath 精确匹配
func (p *PathIndex) GetPath(ctx context.Context, path string) (*PathItem, error) {
	var item PathItem
	err := p.db.GetConn().WithContext(ctx).Where("path = ?", path).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: path %s", core.ErrNotFound, path)
	}
	if err != nil {
		return nil, WrapDBError("get path", err)
	}
	return &item, nil
}

// SelectPath 最长前缀匹配，返回匹配项以及剩余的相对路径
// 例: 存在 "/a/b" 时，"/a/b/c/d" -> ("/a/b", "/c/d")
func (p *PathIndex) SelectPath(ctx context.Context, path string) (*PathItem, string, error) {
	var item PathItem
	err := p.db.GetConn().WithContext(ctx).
		Where("substr(CAST(? AS TEXT), 1, length(path)) = path", path).
		Order("LENGTH(path) DESC").
		Limit(1).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("%w: no path matches %s", core.ErrNotFound, path)
	}
	if err != nil {
		return nil, "", WrapDBError("select path", err)
	}
	return &item, strings.TrimPrefix(path, item.Path), nil
}

// ListPaths 列出 prefix 下的所有路径
func (p *PathIndex) ListPaths(ctx context.Context, prefix string) ([]PathItem, error) {
	var items []PathItem
	err := underPrefix(p.db.GetConn().WithContext(ctx), prefix).
		Order("path").
		Find(&items).Error
	if err != nil {
		return nil, WrapDBError("list paths", err)
	}
	return items, nil
}

// GetRefCount 没有记录时为 0
func (p *PathIndex) GetRefCount(ctx context.Context, objId string) (int64, error) {
	var ref ObjRef
	err := p.db.GetConn().WithContext(ctx).Where("obj_id = ?", objId).Take(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, WrapDBError("get ref count", err)
	}
	return ref.RefCount, nil
}

// TouchObject 更新访问时间和大小
func (p *PathIndex) TouchObject(ctx context.Context, objId string, size uint64) error {
	return WithRetry(ctx, func() error {
		err := p.db.GetConn().WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "obj_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_time", "size"}),
		}).Create(&ObjRef{ObjId: objId, AccessTime: time.Now().Unix(), Size: size}).Error
		return WrapDBError("touch object", err)
	})
}
