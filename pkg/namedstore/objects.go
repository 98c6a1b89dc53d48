package namedstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ndnstore/pkg/core"
)

// ObjectStateKind 区分 QueryObjectById 的结果
type ObjectStateKind int

const (
	ObjectNotExist ObjectStateKind = iota
	ObjectJSON
	ObjectLink
)

func (k ObjectStateKind) String() string {
	switch k {
	case ObjectJSON:
		return "object"
	case ObjectLink:
		return "link"
	default:
		return "not_exist"
	}
}

// ObjectState 是一个 id 在 store 里的样子: 原文 / link / 不存在
type ObjectState struct {
	Kind ObjectStateKind
	JSON string
	Link core.LinkData
}

// QueryObjectById 先查对象表再查 link 表，不跟随 link
func (s *Store) QueryObjectById(ctx context.Context, id core.ObjId) (ObjectState, error) {
	item, err := s.repo.GetObject(ctx, id.String())
	if err == nil {
		// postgres jsonb 不保留 key 顺序，读出来重新规范化
		canon, err := core.CanonicalJSON([]byte(item.ObjData))
		if err != nil {
			return ObjectState{}, err
		}
		return ObjectState{Kind: ObjectJSON, JSON: string(canon)}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return ObjectState{}, err
	}

	link, err := s.repo.GetLink(ctx, id.String())
	if err == nil {
		return ObjectState{Kind: ObjectLink, Link: link}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return ObjectState{}, err
	}
	return ObjectState{Kind: ObjectNotExist}, nil
}

// GetObject 返回对象的 JSON 文本，沿 SameAs 链解析
func (s *Store) GetObject(ctx context.Context, id core.ObjId) (string, error) {
	visited := make(map[string]struct{})
	cur := id
	for {
		key := cur.String()
		if _, seen := visited[key]; seen || len(visited) >= maxLinkDepth {
			return "", fmt.Errorf("%w: link loop at %s", core.ErrInvalidLink, key)
		}
		visited[key] = struct{}{}

		st, err := s.QueryObjectById(ctx, cur)
		if err != nil {
			return "", err
		}
		switch st.Kind {
		case ObjectJSON:
			return st.JSON, nil
		case ObjectLink:
			if st.Link.Kind != core.LinkSameAs {
				return "", fmt.Errorf("%w: %s is a part_of link, not an object", core.ErrInvalidLink, key)
			}
			cur = st.Link.Target
		default:
			return "", fmt.Errorf("%w: object %s", core.ErrNotFound, id)
		}
	}
}

// IsObjectExist 对象或 link 存在都算
func (s *Store) IsObjectExist(ctx context.Context, id core.ObjId) (bool, error) {
	st, err := s.QueryObjectById(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Kind != ObjectNotExist, nil
}

// PutObject 保存命名对象的规范化 JSON
// verify 为 true 时要求 id 与内容一致，否则返回 core.ErrVerify
func (s *Store) PutObject(ctx context.Context, id core.ObjId, jsonStr string, verify bool) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	canon, err := core.CanonicalJSON(jsonStr)
	if err != nil {
		return err
	}
	if verify && !core.BuildObjId(id.ObjType, string(canon)).Equal(id) {
		slog.Error("object verify failed", "store", s.id, "obj", id)
		return fmt.Errorf("%w: object %s does not match its content", core.ErrVerify, id)
	}
	return s.repo.PutObject(ctx, id.String(), id.ObjType, string(canon))
}

func (s *Store) RemoveObject(ctx context.Context, id core.ObjId) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.repo.RemoveObject(ctx, id.String())
}

// LinkObject 建立 SameAs 别名: id -> target
func (s *Store) LinkObject(ctx context.Context, id, target core.ObjId) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if id.Equal(target) {
		return fmt.Errorf("%w: %s links to itself", core.ErrInvalidLink, id)
	}
	return s.repo.SetLink(ctx, id.String(), core.SameAs(target))
}

// LinkChunkPartOf 声明 id 是 target 的 [r.Start, r.End) 区间
func (s *Store) LinkChunkPartOf(ctx context.Context, id, target core.ChunkId, r core.Range) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if id.Equal(target) {
		return fmt.Errorf("%w: %s links to itself", core.ErrInvalidLink, id)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: range %d..%d", core.ErrInvalidParam, r.Start, r.End)
	}
	if length, ok := id.Length(); ok && length != r.Len() {
		return fmt.Errorf("%w: %s embeds length %d, range has %d", core.ErrInvalidLink, id, length, r.Len())
	}
	if exist, size, err := s.IsChunkExist(ctx, target); err == nil && exist && r.End > size {
		return fmt.Errorf("%w: range end %d > %s size %d", core.ErrOffsetTooLarge, r.End, target, size)
	}
	return s.repo.SetLink(ctx, id.String(), core.PartOf(target.ObjId(), r))
}

// QueryLinkRefs 返回所有指向 target 的 id
func (s *Store) QueryLinkRefs(ctx context.Context, target core.ObjId) ([]core.ObjId, error) {
	keys, err := s.repo.QueryLinkRefs(ctx, target.String())
	if err != nil {
		return nil, err
	}
	out := make([]core.ObjId, 0, len(keys))
	for _, k := range keys {
		id, err := core.ParseObjId(k)
		if err != nil {
			return nil, fmt.Errorf("%w: stored link id %q: %v", core.ErrInvalidData, k, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) RemoveLink(ctx context.Context, id core.ObjId) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.repo.RemoveLink(ctx, id.String())
}
