package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/ipc"
	"github.com/rexliu/topics/pkg/logging"
	"github.com/rexliu/topics/pkg/query"
	"github.com/rexliu/topics/pkg/storage/sqlite"
)

func newTestDaemon(t *testing.T, vcs bool) *daemon {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultProfile("test")
	cfg.VCS.Enabled = vcs
	d, err := newDaemon(context.Background(), dir, cfg, logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func call(t *testing.T, h ipc.HandlerFunc, params any) (json.RawMessage, *ipc.Error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	result, rpcErr := h(context.Background(), raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := json.Marshal(result)
	require.NoError(t, err)
	return out, nil
}

func mustCall(t *testing.T, h ipc.HandlerFunc, params any, into any) {
	t.Helper()
	raw, rpcErr := call(t, h, params)
	require.Nil(t, rpcErr)
	if into != nil {
		require.NoError(t, json.Unmarshal(raw, into))
	}
}

// seed builds Root > Web(Assets=files/) > {Blog(Kind=feed) > Post, Shop(Kind=store)}.
func seed(t *testing.T, d *daemon) {
	t.Helper()
	mustCall(t, d.handleApplyOps, map[string]any{"ops": []map[string]any{{
		"type": "create_topic", "parentId": sqlite.RootID, "key": "Web", "contentType": "Page",
		"attributes": map[string]string{"Assets": "files/"},
		"children": []map[string]any{
			{"key": "Blog", "contentType": "Page", "attributes": map[string]string{"Kind": "feed"},
				"children": []map[string]any{{"key": "Post", "contentType": "Page"}}},
			{"key": "Shop", "contentType": "Page", "attributes": map[string]string{"Kind": "store"}},
		},
	}}}, nil)
}

type treeResult struct {
	Version string `json:"version"`
	Nodes   []struct {
		ID        int64  `json:"id"`
		Key       string `json:"key"`
		UniqueKey string `json:"uniqueKey"`
		Children  []struct {
			Key string `json:"key"`
		} `json:"children"`
	} `json:"nodes"`
}

func TestDaemonQueries(t *testing.T) {
	d := newTestDaemon(t, false)
	seed(t, d)

	var tree treeResult
	mustCall(t, d.handleGetTree, map[string]any{"root": "Root:Web", "options": map[string]any{"isRecursive": true}}, &tree)
	require.Len(t, tree.Nodes, 2)
	assert.Equal(t, "Root:Web:Blog", tree.Nodes[0].UniqueKey)
	require.Len(t, tree.Nodes[0].Children, 1)
	assert.Equal(t, "Post", tree.Nodes[0].Children[0].Key)

	var resolved map[string]string
	mustCall(t, d.handleResolveInherited, map[string]any{
		"topic": "Root:Web:Blog:Post", "key": "Assets", "relativeToPath": true, "includeCurrentTopic": true,
	}, &resolved)
	assert.Equal(t, "files/Blog/Post", resolved["value"])

	var list struct {
		Items []struct {
			Key string `json:"key"`
		} `json:"items"`
	}
	mustCall(t, d.handleSelectList, map[string]any{"scope": "Root:Web", "attributeName": "Kind", "attributeValue": "store"}, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Shop", list.Items[0].Key)

	_, rpcErr := call(t, d.handleGetTree, map[string]any{"root": "Root:Missing"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeNotFound, rpcErr.Code)

	_, rpcErr = call(t, d.handleResolveInherited, map[string]any{"topic": "Root:Web"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeValidationFailed, rpcErr.Code)
}

func TestDaemonApplyErrors(t *testing.T) {
	d := newTestDaemon(t, false)
	seed(t, d)

	tests := []struct {
		name   string
		params any
		code   string
	}{
		{"no ops", map[string]any{"ops": []any{}}, ipc.CodeValidationFailed},
		{"unknown type", map[string]any{"ops": []any{map[string]any{"type": "explode"}}}, ipc.CodeValidationFailed},
		{"missing fields", map[string]any{"ops": []any{map[string]any{"type": "move_topic", "topicId": 2}}}, ipc.CodeInvalidRequest},
		{"root immutable", map[string]any{"ops": []any{map[string]any{"type": "delete_topic", "topicId": sqlite.RootID}}}, ipc.CodeValidationFailed},
		{"missing topic", map[string]any{"ops": []any{map[string]any{"type": "rename_topic", "topicId": 999, "key": "X"}}}, ipc.CodeValidationFailed},
		{"bad json", json.RawMessage(`{"ops":"nope"}`), ipc.CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, rpcErr := call(t, d.handleApplyOps, tc.params)
			require.NotNil(t, rpcErr)
			assert.Equal(t, tc.code, rpcErr.Code)
		})
	}
}

func TestDaemonVersionsAndRollback(t *testing.T) {
	d := newTestDaemon(t, false)
	seed(t, d)
	g, err := d.cache.Graph(context.Background())
	require.NoError(t, err)
	shop := g.FindByUniqueKey("Root:Web:Shop")
	require.NotNil(t, shop)

	mustCall(t, d.handleApplyOps, map[string]any{"ops": []any{
		map[string]any{"type": "set_attributes", "topicId": shop.ID, "attributes": map[string]string{"Kind": "outlet"}},
	}}, nil)

	var versions struct {
		Versions []sqlite.Version `json:"versions"`
	}
	mustCall(t, d.handleVersions, map[string]any{"topicId": shop.ID}, &versions)
	require.Len(t, versions.Versions, 2)

	mustCall(t, d.handleApplyOps, map[string]any{"ops": []any{
		map[string]any{"type": "rollback", "topicId": shop.ID, "version": versions.Versions[1].Version},
	}}, nil)
	g, err = d.cache.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store", g.Topic(shop.ID).Attr("Kind"))

	_, rpcErr := call(t, d.handleVersions, map[string]any{"topicId": 12345})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeNotFound, rpcErr.Code)
}

func TestDaemonExportImport(t *testing.T) {
	d := newTestDaemon(t, false)
	seed(t, d)

	var exported struct {
		Format  string `json:"format"`
		Content string `json:"content"`
	}
	mustCall(t, d.handleExport, map[string]any{"topic": "Root:Web", "recursive": true, "format": "yaml"}, &exported)
	assert.Equal(t, "yaml", exported.Format)
	assert.Contains(t, exported.Content, "key: Blog")

	var selected struct {
		Matches []any `json:"matches"`
	}
	mustCall(t, d.handleExport, map[string]any{"topic": "Root:Web", "recursive": true, "path": "$.children[*].key"}, &selected)
	assert.Equal(t, []any{"Blog", "Shop"}, selected.Matches)

	mustCall(t, d.handleImport, map[string]any{
		"parent": "Root", "format": "yaml", "content": "key: Archive\ncontentType: Container\nchildren:\n  - key: Old\n    contentType: Page\n",
	}, nil)
	g, err := d.cache.Graph(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, g.FindByUniqueKey("Root:Archive:Old"))

	_, rpcErr := call(t, d.handleImport, map[string]any{"content": "x", "strategy": "replace"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeValidationFailed, rpcErr.Code)
}

func TestDaemonSnapshotAndVCS(t *testing.T) {
	d := newTestDaemon(t, true)
	require.NotNil(t, d.repo)

	var status struct {
		Enabled bool `json:"enabled"`
		Status  struct {
			Hash string `json:"hash"`
		} `json:"status"`
	}
	mustCall(t, d.handleVCSStatus, nil, &status)
	assert.True(t, status.Enabled)
	assert.Empty(t, status.Status.Hash)

	var applied applyResult
	mustCall(t, d.handleApplyOps, map[string]any{"ops": []any{
		map[string]any{"type": "create_topic", "parentId": sqlite.RootID, "key": "Docs", "contentType": "Page"},
	}}, &applied)
	require.NotNil(t, applied.VCSStatus)
	assert.True(t, applied.VCSStatus.Committed)

	_, err := os.Stat(filepath.Join(d.profileDir, snapshotDir, snapshotFile))
	require.NoError(t, err)

	var snap struct {
		Snapshot struct {
			Key      string `json:"key"`
			Children []struct {
				Key string `json:"key"`
			} `json:"children"`
		} `json:"snapshot"`
	}
	mustCall(t, d.handleGetSnapshot, nil, &snap)
	assert.Equal(t, "Root", snap.Snapshot.Key)
	require.Len(t, snap.Snapshot.Children, 1)
	assert.Equal(t, "Docs", snap.Snapshot.Children[0].Key)

	_, rpcErr := call(t, d.handleVCSPush, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeVCS, rpcErr.Code)
}

func TestDaemonVCSDisabled(t *testing.T) {
	d := newTestDaemon(t, false)
	var status map[string]any
	mustCall(t, d.handleVCSStatus, nil, &status)
	assert.Equal(t, false, status["enabled"])
	_, rpcErr := call(t, d.handleVCSPull, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, ipc.CodeVCS, rpcErr.Code)
}

func TestDaemonBroadcastsTreeChanged(t *testing.T) {
	d := newTestDaemon(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	events, rpcErr := d.handleSubscribeEvents(ctx, nil)
	require.Nil(t, rpcErr)

	seed(t, d)
	select {
	case ev := <-events:
		changed, ok := ev.(treeChangedEvent)
		require.True(t, ok)
		assert.Equal(t, "tree_changed", changed.Type)
		assert.Equal(t, []string{"create_topic"}, changed.Ops)
		assert.Equal(t, 5, changed.TopicCount)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	cancel()
	require.Eventually(t, func() bool { return d.eventHub.count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGetTreeAppliesConfiguredLimit(t *testing.T) {
	d := newTestDaemon(t, false)
	d.cfg.Query.MaxResultLimit = 1
	seed(t, d)
	var tree treeResult
	mustCall(t, d.handleGetTree, map[string]any{"options": query.Options{IsRecursive: true, ResultLimit: -1}}, &tree)
	require.Len(t, tree.Nodes, 1)
	assert.Empty(t, tree.Nodes[0].Children)
}
