package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/rexliu/topics/pkg/core"
	"github.com/rexliu/topics/pkg/interchange"
)

const snapshotFile = "snapshot.json"

func (d *daemon) snapshotPath() string {
	return filepath.Join(d.profileDir, snapshotDir, snapshotFile)
}

// writeSnapshot exports the whole graph next to the git work tree. The file is
// replaced atomically.
func writeSnapshot(path string, g *core.Graph) error {
	doc, err := interchange.Export(g, g.RootID, interchange.ExportOptions{Recursive: true})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := interchange.Encode(&buf, doc, interchange.FormatJSON); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readSnapshot(path string) (interchange.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return interchange.Document{}, err
	}
	defer f.Close()
	return interchange.Decode(f, interchange.FormatJSON)
}

// planSnapshotRestore computes the ops that bring g up to date with a snapshot
// of the whole graph. Topics missing from the snapshot are kept.
func planSnapshotRestore(g *core.Graph, doc interchange.Document) ([]core.Op, error) {
	var ops []core.Op
	root := g.Root()
	set := map[string]string{}
	for key, value := range doc.Attributes {
		if root.Attr(key) != value {
			set[key] = value
		}
	}
	if len(set) > 0 {
		ops = append(ops, core.SetAttributesOp{TopicID: root.ID, Set: set})
	}
	for _, child := range doc.Children {
		planned, err := interchange.PlanImport(g, root.ID, child, interchange.StrategyOverwrite)
		if err != nil {
			return nil, err
		}
		ops = append(ops, planned...)
	}
	return ops, nil
}
