package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// Repository 封装一个 named store 的 side DB 操作 (chunk / object / link)
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *DB { return r.db }

func isDuplicate(err error) bool {
	//兼容性,处理不同数据库(PG与SQLite)的唯一约束错误
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

// -----------------------------------------------------------------------------
// 1. Chunk 生命周期
// -----------------------------------------------------------------------------

// GetChunk 不存在时返回 core.ErrNotFound
func (r *Repository) GetChunk(ctx context.Context, chunkId string) (*ChunkItem, error) {
	var item ChunkItem
	err := r.db.GetConn().WithContext(ctx).
		Where("chunk_id = ?", chunkId).
		Take(&item).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: chunk %s", core.ErrNotFound, chunkId)
	}
	if err != nil {
		return nil, WrapDBError("get chunk", err)
	}
	return &item, nil
}

// CreateChunk 插入一条新的记录，已存在时返回 core.ErrAlreadyExists
func (r *Repository) CreateChunk(ctx context.Context, item *ChunkItem) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).Create(item).Error
		if err != nil && isDuplicate(err) {
			return fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, item.ChunkId)
		}
		return WrapDBError("create chunk", err)
	})
}

// UpdateChunkProgress 只允许更新未完成的 chunk
func (r *Repository) UpdateChunkProgress(ctx context.Context, chunkId, progress string) error {
	return WithRetry(ctx, func() error {
		res := r.db.GetConn().WithContext(ctx).Model(&ChunkItem{}).
			Where("chunk_id = ? AND chunk_state = ?", chunkId, types.ChunkStateIncomplete).
			Update("progress", progress)
		if res.Error != nil {
			return WrapDBError("update chunk progress", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: chunk %s is not being written", core.ErrNotFound, chunkId)
		}
		return nil
	})
}

// CompleteChunk Incomplete -> Completed，清空 progress
func (r *Repository) CompleteChunk(ctx context.Context, chunkId string, size uint64) error {
	return WithRetry(ctx, func() error {
		res := r.db.GetConn().WithContext(ctx).Model(&ChunkItem{}).
			Where("chunk_id = ? AND chunk_state = ?", chunkId, types.ChunkStateIncomplete).
			Updates(map[string]any{
				"chunk_state": types.ChunkStateCompleted,
				"chunk_size":  size,
				"progress":    "",
			})
		if res.Error != nil {
			return WrapDBError("complete chunk", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: chunk %s is not incomplete", core.ErrInvalidState, chunkId)
		}
		return nil
	})
}

// PutCompletedChunk 直接写入一条 Completed 记录 (整块写入时使用)
// 已存在的 Completed 记录保持不变
func (r *Repository) PutCompletedChunk(ctx context.Context, chunkId string, size uint64, desc string) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "chunk_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"chunk_state": types.ChunkStateCompleted,
					"chunk_size":  size,
					"progress":    "",
				}),
			}).
			Create(&ChunkItem{
				ChunkId:     chunkId,
				ChunkSize:   size,
				ChunkState:  types.ChunkStateCompleted,
				Description: desc,
			}).Error
		return WrapDBError("put completed chunk", err)
	})
}

func (r *Repository) SetChunkState(ctx context.Context, chunkId string, state types.ChunkState) error {
	return WithRetry(ctx, func() error {
		res := r.db.GetConn().WithContext(ctx).Model(&ChunkItem{}).
			Where("chunk_id = ?", chunkId).
			Update("chunk_state", state)
		if res.Error != nil {
			return WrapDBError("set chunk state", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: chunk %s", core.ErrNotFound, chunkId)
		}
		return nil
	})
}

func (r *Repository) RemoveChunk(ctx context.Context, chunkId string) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Where("chunk_id = ?", chunkId).
			Delete(&ChunkItem{}).Error
		return WrapDBError("remove chunk", err)
	})
}

// ListChunks state 为空时返回全部
func (r *Repository) ListChunks(ctx context.Context, state types.ChunkState, limit int) ([]ChunkItem, error) {
	var items []ChunkItem
	q := r.db.GetConn().WithContext(ctx).Order("chunk_id")
	if state != "" {
		q = q.Where("chunk_state = ?", state)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, WrapDBError("list chunks", err)
	}
	return items, nil
}

// -----------------------------------------------------------------------------
// 2. 命名对象
// -----------------------------------------------------------------------------

func (r *Repository) GetObject(ctx context.Context, objId string) (*ObjectItem, error) {
	var item ObjectItem
	err := r.db.GetConn().WithContext(ctx).
		Where("obj_id = ?", objId).
		Take(&item).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: object %s", core.ErrNotFound, objId)
	}
	if err != nil {
		return nil, WrapDBError("get object", err)
	}
	return &item, nil
}

// PutObject 幂等写入: id 已存在时什么都不做 (内容寻址保证内容相同)
func (r *Repository) PutObject(ctx context.Context, objId, objType, data string) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "obj_id"}}, // 冲突列
				DoNothing: true,                              // 忽略
			}).
			Create(&ObjectItem{
				ObjId:   objId,
				ObjType: objType,
				ObjData: datatypes.JSON(data),
			}).Error
		return WrapDBError("put object", err)
	})
}

func (r *Repository) RemoveObject(ctx context.Context, objId string) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Where("obj_id = ?", objId).
			Delete(&ObjectItem{}).Error
		return WrapDBError("remove object", err)
	})
}

// -----------------------------------------------------------------------------
// 3. 链接
// -----------------------------------------------------------------------------

// SetLink 覆盖写入 link
func (r *Repository) SetLink(ctx context.Context, linkId string, link core.LinkData) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "link_obj_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"obj_link", "target"}),
			}).
			Create(&ObjectLink{
				LinkObjId: linkId,
				ObjLink:   link.String(),
				Target:    link.Target.String(),
			}).Error
		return WrapDBError("set link", err)
	})
}

// GetLink 不存在时返回 core.ErrNotFound
func (r *Repository) GetLink(ctx context.Context, linkId string) (core.LinkData, error) {
	var item ObjectLink
	err := r.db.GetConn().WithContext(ctx).
		Where("link_obj_id = ?", linkId).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.LinkData{}, fmt.Errorf("%w: link %s", core.ErrNotFound, linkId)
	}
	if err != nil {
		return core.LinkData{}, WrapDBError("get link", err)
	}
	return core.ParseLinkData(item.ObjLink)
}

// QueryLinkRefs 返回所有指向 target 的 link id
func (r *Repository) QueryLinkRefs(ctx context.Context, target string) ([]string, error) {
	var ids []string
	err := r.db.GetConn().WithContext(ctx).Model(&ObjectLink{}).
		Where("target = ?", target).
		Order("link_obj_id").
		Pluck("link_obj_id", &ids).Error
	if err != nil {
		return nil, WrapDBError("query link refs", err)
	}
	return ids, nil
}

func (r *Repository) RemoveLink(ctx context.Context, linkId string) error {
	return WithRetry(ctx, func() error {
		err := r.db.GetConn().WithContext(ctx).
			Where("link_obj_id = ?", linkId).
			Delete(&ObjectLink{}).Error
		return WrapDBError("remove link", err)
	})
}
