package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pytsite/odm/dialect"
)

// snapshotVersion is bumped on incompatible changes of the file layout.
const snapshotVersion = 1

// lockRetry is the interval between two attempts to take the snapshot lock.
const lockRetry = 20 * time.Millisecond

type snapshotFile struct {
	Version     int                           `msgpack:"v"`
	Collections map[string]snapshotCollection `msgpack:"c"`
}

type snapshotCollection struct {
	Order   []string                  `msgpack:"o"`
	Docs    map[string]map[string]any `msgpack:"d"`
	Indexes []snapshotIndex           `msgpack:"i"`
}

type snapshotIndex struct {
	Name   string   `msgpack:"n"`
	Fields []string `msgpack:"f"`
	Dirs   []int    `msgpack:"d"`
	Unique bool     `msgpack:"u"`
}

// Snapshot writes the driver state to path. The file is replaced atomically
// while an exclusive lock on path+".lock" is held.
func (d *Driver) Snapshot(ctx context.Context, path string) error {
	d.mu.RLock()
	snap := snapshotFile{
		Version:     snapshotVersion,
		Collections: make(map[string]snapshotCollection, len(d.colls)),
	}
	for name, c := range d.colls {
		sc := snapshotCollection{
			Order: append([]string(nil), c.order...),
			Docs:  make(map[string]map[string]any, len(c.docs)),
		}
		for id, doc := range c.docs {
			sc.Docs[id] = dialect.ToWire(doc, nil).(map[string]any)
		}
		for _, idx := range c.indexes {
			si := snapshotIndex{Name: idx.Name, Unique: idx.Unique}
			for _, k := range idx.Keys {
				si.Fields = append(si.Fields, k.Field)
				si.Dirs = append(si.Dirs, int(k.Direction))
			}
			sc.Indexes = append(sc.Indexes, si)
		}
		snap.Collections[name] = sc
	}
	d.mu.RUnlock()

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("memory: encode snapshot: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("memory: lock snapshot %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("memory: lock snapshot %s: not acquired", path)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	d.log.Debug("memory snapshot written", "path", path, "collections", len(snap.Collections), "bytes", len(data))
	return nil
}

// Restore replaces the driver state with the content of the snapshot at path.
func (d *Driver) Restore(ctx context.Context, path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("memory: lock snapshot %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("memory: lock snapshot %s: not acquired", path)
	}
	data, err := os.ReadFile(path)
	_ = lock.Unlock()
	if err != nil {
		return fmt.Errorf("memory: read snapshot: %w", err)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var snap snapshotFile
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("memory: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("memory: unsupported snapshot version %d", snap.Version)
	}
	colls := make(map[string]*collection, len(snap.Collections))
	for name, sc := range snap.Collections {
		c := newCollection()
		for _, id := range sc.Order {
			raw, ok := sc.Docs[id]
			if !ok {
				continue
			}
			c.docs[id] = dialect.Document(dialect.FromWire(raw).(map[string]any))
			c.order = append(c.order, id)
		}
		for _, si := range sc.Indexes {
			idx := dialect.IndexSpec{Name: si.Name, Unique: si.Unique}
			for i, f := range si.Fields {
				dir := dialect.Asc
				if i < len(si.Dirs) && si.Dirs[i] < 0 {
					dir = dialect.Desc
				}
				idx.Keys = append(idx.Keys, dialect.Order{Field: f, Direction: dir})
			}
			c.indexes[idx.Name] = idx
		}
		colls[name] = c
	}
	d.mu.Lock()
	d.colls = colls
	d.mu.Unlock()
	d.log.Debug("memory snapshot restored", "path", path, "collections", len(colls))
	return nil
}
