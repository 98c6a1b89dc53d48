package publisher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"ndnstore/pkg/core"
	"ndnstore/pkg/ignore"
)

// DirResult 是目录发布的结果
type DirResult struct {
	DirId  core.ObjId
	MapId  core.ObjId
	Object *core.DirObject
	// Skipped 是被 .ndnignore 跳过的相对路径
	Skipped []string
}

// PubDirAsObjectMap 把目录下的文件发布进一个 ObjectMap:
// key 是 "/" 分隔的相对路径，值是内容 id
// 目录对象指向这个 map，ndnPath 为空时不写路径
func (p *Publisher) PubDirAsObjectMap(ctx context.Context, dir, ndnPath string) (*DirResult, error) {
	matcher, err := ignore.NewMatcher(dir)
	if err != nil {
		return nil, err
	}

	om, err := p.mgr.NewObjectMap(p.opts.HashMethod)
	if err != nil {
		return nil, err
	}
	defer p.mgr.ReleaseObjectMap(om)

	res := &DirResult{}
	var total, count uint64
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matcher.Matches(rel) {
			res.Skipped = append(res.Skipped, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		content, err := p.pubContent(ctx, path, uint64(info.Size()))
		if err != nil {
			return err
		}
		if err := om.PutObject(ctx, rel, content); err != nil {
			return err
		}
		total += uint64(info.Size())
		count++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish dir %s: %w", dir, err)
	}

	mapId, err := p.mgr.SaveObjectMap(ctx, om)
	if err != nil {
		return nil, err
	}

	obj := &core.DirObject{
		Name:      filepath.Base(dir),
		TotalSize: total,
		FileCount: count,
		Content:   mapId.String(),
	}
	dirId, dirJSON, err := obj.GenObjId()
	if err != nil {
		return nil, err
	}
	if ndnPath != "" {
		err = p.mgr.PubObjectToFile(ctx, dirId, dirJSON, ndnPath, p.opts.Owner)
	} else {
		err = p.mgr.PutObject(ctx, dirId, dirJSON, true)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("dir published", "dir", dir, "obj", dirId, "map", mapId, "files", count, "skipped", len(res.Skipped))
	res.DirId, res.MapId, res.Object = dirId, mapId, obj
	return res, nil
}
