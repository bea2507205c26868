package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rexliu/topics/pkg/core"
	"github.com/rexliu/topics/pkg/inherit"
	"github.com/rexliu/topics/pkg/interchange"
	"github.com/rexliu/topics/pkg/ipc"
	"github.com/rexliu/topics/pkg/query"
	"github.com/rexliu/topics/pkg/storage/sqlite"
	gitvcs "github.com/rexliu/topics/pkg/vcs/git"
)

var validate = validator.New()

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", pingHandler(d.logger))
	srv.Register("get_tree", d.handleGetTree)
	srv.Register("resolve_inherited", d.handleResolveInherited)
	srv.Register("select_list", d.handleSelectList)
	srv.Register("apply_ops", d.handleApplyOps)
	srv.Register("versions", d.handleVersions)
	srv.Register("export", d.handleExport)
	srv.Register("import", d.handleImport)
	srv.Register("get_snapshot", d.handleGetSnapshot)
	srv.Register("vcs_push", d.handleVCSPush)
	srv.Register("vcs_pull", d.handleVCSPull)
	srv.Register("vcs_status", d.handleVCSStatus)
	srv.RegisterStream("subscribe_events", d.handleSubscribeEvents)
}

// decodeParams unmarshals params over v's current values and validates the result.
func decodeParams(raw json.RawMessage, v any) *ipc.Error {
	if len(bytes.TrimSpace(raw)) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return ipc.Errorf(ipc.CodeInvalidRequest, "invalid params: "+err.Error(), nil)
		}
	}
	if err := validate.Struct(v); err != nil {
		return ipc.Errorf(ipc.CodeValidationFailed, err.Error(), nil)
	}
	return nil
}

var validationErrors = []error{
	core.ErrInvalidParent, core.ErrCycleDetected, core.ErrRootImmutable, core.ErrInvalidTopic,
	core.ErrInvalidIndex, core.ErrInvalidKey, core.ErrDuplicateKey, core.ErrHasChildren,
	core.ErrInvalidContentType, core.ErrInvalidVersion,
}

func storageError(err error) *ipc.Error {
	if errors.Is(err, sqlite.ErrNoRowsAffected) {
		return ipc.Errorf(ipc.CodeNotFound, err.Error(), nil)
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return ipc.Errorf(ipc.CodeValidationFailed, err.Error(), nil)
		}
	}
	return ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
}

func (d *daemon) graph(ctx context.Context) (*core.Graph, *ipc.Error) {
	g, err := d.cache.Graph(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return g, nil
}

// lookup resolves a unique key; an empty key means the graph root.
func lookup(g *core.Graph, uniqueKey string) (*core.Topic, *ipc.Error) {
	if uniqueKey == "" {
		return g.Root(), nil
	}
	t := g.FindByUniqueKey(uniqueKey)
	if t == nil {
		return nil, ipc.Errorf(ipc.CodeNotFound, "unknown topic", map[string]any{"topic": uniqueKey})
	}
	return t, nil
}

type getTreeParams struct {
	Root    string        `json:"root"`
	Related []int64       `json:"related"`
	Options query.Options `json:"options"`
}

func (d *daemon) handleGetTree(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	req := getTreeParams{Options: query.DefaultOptions()}
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	root, rpcErr := lookup(g, req.Root)
	if rpcErr != nil {
		return nil, rpcErr
	}
	opts := req.Options.Bound(d.cfg.Query.DefaultResultLimit, d.cfg.Query.MaxResultLimit)
	result := map[string]any{
		"version": g.Version,
		"nodes":   query.Run(g, root.ID, opts, req.Related),
	}
	if stamped, ok := core.VersionTime(g.Version); ok {
		result["versionTime"] = stamped.UTC().Format(time.RFC3339Nano)
	}
	return result, nil
}

type resolveInheritedParams struct {
	Topic               string   `json:"topic" validate:"required"`
	Key                 string   `json:"key" validate:"required"`
	RelativeToPath      bool     `json:"relativeToPath"`
	IncludeCurrentTopic bool     `json:"includeCurrentTopic"`
	TruncateAt          []string `json:"truncateAt"`
}

func (d *daemon) handleResolveInherited(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req resolveInheritedParams
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	topic, rpcErr := lookup(g, req.Topic)
	if rpcErr != nil {
		return nil, rpcErr
	}
	value, err := inherit.Resolve(g, topic, req.Key, inherit.Options{
		InheritValue:        true,
		RelativeToPath:      req.RelativeToPath,
		IncludeCurrentTopic: req.IncludeCurrentTopic,
		TruncateAt:          req.TruncateAt,
	})
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInheritance, err.Error(), map[string]any{"topic": req.Topic, "key": req.Key})
	}
	return map[string]any{"value": value}, nil
}

type selectListParams struct {
	Scope          string `json:"scope" validate:"required"`
	AttributeName  string `json:"attributeName"`
	AttributeValue string `json:"attributeValue"`
	AllowedKeys    string `json:"allowedKeys"`
}

func (d *daemon) handleSelectList(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req selectListParams
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	scope, rpcErr := lookup(g, req.Scope)
	if rpcErr != nil {
		return nil, rpcErr
	}
	topics := query.SelectList(g, scope.ID, req.AttributeName, req.AttributeValue, req.AllowedKeys)
	items := make([]*query.Node, 0, len(topics))
	for _, t := range topics {
		items = append(items, query.Summarize(g, t))
	}
	return map[string]any{"items": items}, nil
}

func (d *daemon) handleApplyOps(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var payload applyOpsParams
	if rpcErr := decodeParams(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	ops, err := payload.toCoreOps()
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.applyLocked(ctx, ops, fmt.Sprintf("apply %d ops: %s", len(ops), payload.firstOpType()))
}

type applyResult struct {
	Version    string         `json:"version"`
	TopicCount int            `json:"topicCount"`
	Applied    int            `json:"applied"`
	VCSStatus  *gitvcs.Status `json:"vcsStatus,omitempty"`
}

// applyLocked validates and commits ops, then snapshots, commits to git and
// notifies subscribers. Callers hold writeMu.
func (d *daemon) applyLocked(ctx context.Context, ops []core.Op, message string) (applyResult, *ipc.Error) {
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return applyResult{}, rpcErr
	}
	if len(ops) == 0 {
		return applyResult{Version: g.Version, TopicCount: len(g.Topics)}, nil
	}
	if err := core.ValidateOps(g, ops); err != nil {
		return applyResult{}, ipc.Errorf(ipc.CodeValidationFailed, err.Error(), nil)
	}
	updated, err := d.store.ApplyOps(ctx, ops)
	if err != nil {
		d.cache.Invalidate()
		return applyResult{}, storageError(err)
	}
	d.cache.Set(updated)

	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, core.OpName(op))
		opsApplied.WithLabelValues(core.OpName(op)).Inc()
	}
	res := applyResult{Version: updated.Version, TopicCount: len(updated.Topics), Applied: len(ops)}
	if err := writeSnapshot(d.snapshotPath(), updated); err != nil {
		d.logger.Printf("snapshot write failed: %v", err)
	} else if d.repo != nil && d.cfg.VCS.AutoCommit {
		status, err := d.repo.Commit(ctx, message, []string{snapshotFile})
		if err != nil {
			d.logger.Printf("commit failed: %v", err)
		} else {
			res.VCSStatus = &status
			if status.Committed && d.cfg.VCS.AutoPush && d.cfg.VCS.Remote.URL != "" {
				if err := d.repo.Push(ctx); err != nil {
					d.logger.Printf("auto push failed: %v", err)
				}
			}
		}
	}
	d.eventHub.broadcast(treeChangedEvent{
		Type:       "tree_changed",
		Version:    updated.Version,
		TopicCount: len(updated.Topics),
		Ops:        names,
	})
	return res, nil
}

type versionsParams struct {
	TopicID int64 `json:"topicId" validate:"required,gt=0"`
}

func (d *daemon) handleVersions(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req versionsParams
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if g.Topic(req.TopicID) == nil {
		return nil, ipc.Errorf(ipc.CodeNotFound, "unknown topic", map[string]any{"topicId": req.TopicID})
	}
	versions, err := d.store.Versions(ctx, req.TopicID)
	if err != nil {
		return nil, storageError(err)
	}
	if versions == nil {
		versions = []sqlite.Version{}
	}
	return map[string]any{"versions": versions}, nil
}

type exportParams struct {
	Topic     string `json:"topic"`
	Recursive bool   `json:"recursive"`
	Format    string `json:"format" validate:"omitempty,oneof=json yaml yml"`
	Path      string `json:"path"`
}

func (d *daemon) handleExport(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req exportParams
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	format, err := interchange.ParseFormat(req.Format)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	topic, rpcErr := lookup(g, req.Topic)
	if rpcErr != nil {
		return nil, rpcErr
	}
	doc, err := interchange.Export(g, topic.ID, interchange.ExportOptions{Recursive: req.Recursive})
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeNotFound, err.Error(), nil)
	}
	if req.Path != "" {
		matches, err := interchange.Select(doc, req.Path)
		if err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
		}
		return map[string]any{"matches": matches}, nil
	}
	var buf bytes.Buffer
	if err := interchange.Encode(&buf, doc, format); err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, err.Error(), nil)
	}
	return map[string]any{"format": format, "content": buf.String()}, nil
}

type importParams struct {
	Parent   string `json:"parent"`
	Format   string `json:"format" validate:"omitempty,oneof=json yaml yml"`
	Content  string `json:"content" validate:"required"`
	Strategy string `json:"strategy" validate:"omitempty,oneof=merge overwrite"`
}

func (d *daemon) handleImport(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req importParams
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	format, err := interchange.ParseFormat(req.Format)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	doc, err := interchange.Decode(strings.NewReader(req.Content), format)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	parent, rpcErr := lookup(g, req.Parent)
	if rpcErr != nil {
		return nil, rpcErr
	}
	ops, err := interchange.PlanImport(g, parent.ID, doc, interchange.Strategy(req.Strategy))
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeNotFound, err.Error(), nil)
	}
	return d.applyLocked(ctx, ops, fmt.Sprintf("import %s under %s", doc.Key, g.UniqueKey(parent.ID)))
}

func (d *daemon) handleGetSnapshot(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	path := d.snapshotPath()
	doc, err := readSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		g, rpcErr := d.graph(ctx)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if err := writeSnapshot(path, g); err != nil {
			return nil, ipc.Errorf(ipc.CodeInternal, err.Error(), nil)
		}
		doc, err = readSnapshot(path)
	}
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, err.Error(), nil)
	}
	return map[string]any{"path": path, "snapshot": doc}, nil
}

func (d *daemon) handleVCSPush(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "git repo unavailable", nil)
	}
	if err := d.repo.Push(ctx); err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	return map[string]any{"status": "ok"}, nil
}

// handleVCSPull fast-forwards the snapshot repo, then applies the pulled
// snapshot on top of the local graph.
func (d *daemon) handleVCSPull(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "git repo unavailable", nil)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.repo.Pull(ctx); err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	doc, err := readSnapshot(d.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{"status": "ok", "applied": 0}, nil
	}
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "read pulled snapshot: "+err.Error(), nil)
	}
	g, rpcErr := d.graph(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	ops, err := planSnapshotRestore(g, doc)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	res, rpcErr := d.applyLocked(ctx, ops, "merge pulled snapshot")
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]any{"status": "ok", "applied": res.Applied, "version": res.Version}, nil
}

func (d *daemon) handleVCSStatus(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return map[string]any{"enabled": false}, nil
	}
	status, err := d.repo.Status(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	return map[string]any{"enabled": true, "status": status}, nil
}

func (d *daemon) handleSubscribeEvents(ctx context.Context, params json.RawMessage) (<-chan any, *ipc.Error) {
	if d.eventHub == nil {
		return nil, ipc.Errorf(ipc.CodeInternal, "event hub unavailable", nil)
	}
	client := d.eventHub.register()
	go func() {
		<-ctx.Done()
		d.eventHub.unregister(client)
	}()
	return client.send, nil
}

type applyOpsParams struct {
	Ops []rpcOp `json:"ops" validate:"required,min=1,dive"`
}

func (p applyOpsParams) toCoreOps() ([]core.Op, error) {
	ops := make([]core.Op, 0, len(p.Ops))
	for i, raw := range p.Ops {
		op, err := raw.toCoreOp()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (p applyOpsParams) firstOpType() string {
	if len(p.Ops) == 0 {
		return "unknown"
	}
	return p.Ops[0].Type
}

type rpcOp struct {
	Type        string               `json:"type" validate:"required,oneof=create_topic rename_topic move_topic delete_topic set_attributes set_relationship rollback"`
	TopicID     int64                `json:"topicId"`
	ParentID    int64                `json:"parentId"`
	Key         string               `json:"key"`
	ContentType string               `json:"contentType"`
	Attributes  map[string]string    `json:"attributes"`
	Index       *int                 `json:"index"`
	Children    []core.CreateTopicOp `json:"children"`
	NewParentID int64                `json:"newParentId"`
	NewIndex    *int                 `json:"newIndex"`
	Recursive   bool                 `json:"recursive"`
	Unset       []string             `json:"unset"`
	Name        string               `json:"name"`
	TargetIDs   []int64              `json:"targetIds"`
	Version     int64                `json:"version"`
}

func (op rpcOp) toCoreOp() (core.Op, error) {
	needTopic := func() error {
		if op.TopicID == 0 {
			return fmt.Errorf("topicId required for %s", op.Type)
		}
		return nil
	}
	switch op.Type {
	case "create_topic":
		if op.ParentID == 0 || op.Key == "" {
			return nil, fmt.Errorf("parentId and key required for create_topic")
		}
		return core.CreateTopicOp{
			ParentID:    op.ParentID,
			Key:         op.Key,
			ContentType: op.ContentType,
			Attributes:  op.Attributes,
			Index:       op.Index,
			Children:    op.Children,
		}, nil
	case "rename_topic":
		if err := needTopic(); err != nil {
			return nil, err
		}
		return core.RenameTopicOp{TopicID: op.TopicID, Key: op.Key}, nil
	case "move_topic":
		if op.TopicID == 0 || op.NewParentID == 0 {
			return nil, fmt.Errorf("topicId and newParentId required for move_topic")
		}
		return core.MoveTopicOp{TopicID: op.TopicID, NewParentID: op.NewParentID, NewIndex: op.NewIndex}, nil
	case "delete_topic":
		if err := needTopic(); err != nil {
			return nil, err
		}
		return core.DeleteTopicOp{TopicID: op.TopicID, Recursive: op.Recursive}, nil
	case "set_attributes":
		if err := needTopic(); err != nil {
			return nil, err
		}
		return core.SetAttributesOp{TopicID: op.TopicID, Set: op.Attributes, Unset: op.Unset}, nil
	case "set_relationship":
		if op.TopicID == 0 || op.Name == "" {
			return nil, fmt.Errorf("topicId and name required for set_relationship")
		}
		return core.SetRelationshipOp{TopicID: op.TopicID, Name: op.Name, TargetIDs: op.TargetIDs}, nil
	case "rollback":
		if err := needTopic(); err != nil {
			return nil, err
		}
		return core.RollbackOp{TopicID: op.TopicID, Version: op.Version}, nil
	default:
		return nil, fmt.Errorf("unknown op type %s", op.Type)
	}
}
