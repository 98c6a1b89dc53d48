package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ndnstore/pkg/core"
)

// PrintObject 打印对象的结构化信息
// chunk 只打印状态和大小，不输出原始字节
func (e *Exporter) PrintObject(ctx context.Context, id core.ObjId, w io.Writer) error {
	switch {
	case id.IsChunk():
		return e.printChunk(ctx, id, w)
	case id.IsChunkList():
		return e.printChunkList(ctx, id, w)
	case id.ObjType == core.ObjTypeFile:
		return e.printFile(ctx, id, w)
	case id.ObjType == core.ObjTypeDir:
		return e.printDir(ctx, id, w)
	case id.ObjType == core.ObjTypeObjMap:
		return e.printObjectMap(ctx, id, w)
	default:
		data, err := e.mgr.GetObject(ctx, id, "")
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, []byte(data), "", "  "); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidData, err)
		}
		fmt.Fprintf(w, "Type: %s\n\n%s\n", id.ObjType, out.String())
		return nil
	}
}

func (e *Exporter) printChunk(ctx context.Context, id core.ObjId, w io.Writer) error {
	cid, err := core.ChunkIdFromObjId(id)
	if err != nil {
		return err
	}
	stat, err := e.mgr.QueryChunkState(ctx, cid)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:  Chunk (%s)\n", cid.Type)
	fmt.Fprintf(w, "State: %s\n", stat.State)
	fmt.Fprintf(w, "Size:  %s\n", fmtSize(stat.Size))
	fmt.Fprintf(w, "\n(raw data not shown, use 'ndn get' to save it)\n")
	return nil
}

func (e *Exporter) printChunkList(ctx context.Context, id core.ObjId, w io.Writer) error {
	list, err := e.mgr.LoadChunkList(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:      ChunkList (%s)\n", id.ObjType)
	fmt.Fprintf(w, "TotalSize: %s\n", fmtSize(list.TotalSize()))
	fmt.Fprintf(w, "Chunks:    %d\n\n", list.Len())

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "INDEX\tOFFSET\tSIZE\tCHUNK\n")
	for i, cid := range list.Chunks() {
		off, err := list.OffsetByIndex(uint64(i))
		if err != nil {
			return err
		}
		size := "-"
		if n, ok := cid.Length(); ok {
			size = fmtSize(n)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", i, off, size, cid)
	}
	return tw.Flush()
}

func (e *Exporter) printFile(ctx context.Context, id core.ObjId, w io.Writer) error {
	f, err := e.loadFile(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    File\n")
	fmt.Fprintf(w, "Name:    %s\n", f.Name)
	fmt.Fprintf(w, "Size:    %s\n", fmtSize(f.Size))
	fmt.Fprintf(w, "Content: %s\n", f.Content)
	if f.CreateTime != 0 {
		fmt.Fprintf(w, "Created: %s\n", time.Unix(int64(f.CreateTime), 0).UTC().Format(time.RFC3339))
	}
	return nil
}

func (e *Exporter) printDir(ctx context.Context, id core.ObjId, w io.Writer) error {
	var d core.DirObject
	if err := e.loadJSON(ctx, id, &d); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    Dir\n")
	fmt.Fprintf(w, "Name:    %s\n", d.Name)
	fmt.Fprintf(w, "Files:   %d\n", d.FileCount)
	fmt.Fprintf(w, "Size:    %s\n", fmtSize(d.TotalSize))
	fmt.Fprintf(w, "Content: %s\n\n", d.Content)

	mapId, err := core.ParseObjId(d.Content)
	if err != nil {
		return err
	}
	return e.printEntries(ctx, mapId, w)
}

func (e *Exporter) printObjectMap(ctx context.Context, id core.ObjId, w io.Writer) error {
	fmt.Fprintf(w, "Type: ObjectMap\n\n")
	return e.printEntries(ctx, id, w)
}

// printEntries 像 ls-tree 一样列出 map 的内容
func (e *Exporter) printEntries(ctx context.Context, mapId core.ObjId, w io.Writer) error {
	om, err := e.mgr.OpenObjectMap(ctx, mapId)
	if err != nil {
		return err
	}
	defer om.Close()

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tOBJECT\tKEY\n")
	err = om.Iterate(ctx, func(key string, id core.ObjId) error {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", id.ObjType, id, key)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

func fmtSize(s uint64) string {
	switch {
	case s < 1024:
		return fmt.Sprintf("%dB", s)
	case s < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	default:
		return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
	}
}
