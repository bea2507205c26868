// Package query filters and shapes a topic subtree into lightweight result
// nodes for tree and list views.
package query

import (
	"encoding/json"
	"strings"

	"github.com/rexliu/topics/pkg/core"
)

// Node is a detached snapshot of a topic. It holds no reference back into the
// graph it was built from.
type Node struct {
	ID          int64   `json:"id"`
	Key         string  `json:"key"`
	Title       string  `json:"title"`
	UniqueKey   string  `json:"uniqueKey"`
	WebPath     string  `json:"webPath"`
	IsChecked   bool    `json:"isChecked"`
	IsDraggable bool    `json:"isDraggable"`
	Children    []*Node `json:"children"`
}

// IsLeaf reports whether the node currently has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// MarshalJSON adds the derived isLeaf field.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(struct {
		*plain
		IsLeaf   bool    `json:"isLeaf"`
		Children []*Node `json:"children"`
	}{
		plain:    (*plain)(n),
		IsLeaf:   n.IsLeaf(),
		Children: children,
	})
}

// Run queries the subtree under rootID. When related is nil every node is
// reported as checked; otherwise a node is checked when its id is in related.
func Run(g *core.Graph, rootID int64, opts Options, related []int64) []*Node {
	root := g.Topic(rootID)
	if root == nil {
		return []*Node{}
	}
	r := &runner{
		graph: g,
		opts:  opts,
		limit: opts.ResultLimit,
		terms: lowerAll(opts.Terms()),
	}
	if related != nil {
		r.related = make(map[int64]bool, len(related))
		for _, id := range related {
			r.related[id] = true
		}
	}

	var nodes []*Node
	if opts.ShowRoot {
		if r.accept(root) {
			node := r.snapshot(root)
			node.Children = r.collect(root, true)
			nodes = append(nodes, node)
		}
	} else {
		nodes = r.collect(root, true)
	}
	if nodes == nil {
		nodes = []*Node{}
	}
	if opts.FlattenStructure {
		return Flatten(nodes)
	}
	return nodes
}

// Flatten converts a nested result into a pre-order sequence and clears each
// node's children.
func Flatten(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	var walk func([]*Node)
	walk = func(level []*Node) {
		for _, n := range level {
			children := n.Children
			n.Children = nil
			out = append(out, n)
			walk(children)
		}
	}
	walk(nodes)
	return out
}

type runner struct {
	graph   *core.Graph
	opts    Options
	limit   int
	terms   []string
	related map[int64]bool
}

// collect gathers accepted children of parent in pre-order. The first level is
// always visited; deeper levels only for recursive queries.
func (r *runner) collect(parent *core.Topic, firstLevel bool) []*Node {
	if !firstLevel && !r.opts.IsRecursive {
		return nil
	}
	var nodes []*Node
	for _, child := range r.graph.ChildrenOf(parent.ID) {
		if !r.accept(child) {
			continue
		}
		node := r.snapshot(child)
		node.Children = r.collect(child, false)
		nodes = append(nodes, node)
	}
	return nodes
}

func (r *runner) accept(t *core.Topic) bool {
	if !IsValid(t, r.opts, r.limit, r.terms) {
		return false
	}
	if r.limit > 0 {
		r.limit--
	}
	return true
}

func (r *runner) snapshot(t *core.Topic) *Node {
	node := Summarize(r.graph, t)
	if r.related != nil {
		node.IsChecked = r.related[t.ID]
	}
	return node
}

// Summarize builds a childless, checked node for t.
func Summarize(g *core.Graph, t *core.Topic) *Node {
	uniqueKey := g.UniqueKey(t.ID)
	return &Node{
		ID:          t.ID,
		Key:         t.Key,
		Title:       t.Title(),
		UniqueKey:   uniqueKey,
		WebPath:     core.WebPathFromUniqueKey(uniqueKey),
		IsChecked:   true,
		IsDraggable: t.ID != g.RootID,
	}
}

// IsValid applies the inclusion predicate in order: visibility, nested list
// exclusion, remaining limit, attribute filter, then free-text terms. terms
// must already be lower-cased.
func IsValid(t *core.Topic, opts Options, remaining int, terms []string) bool {
	if !opts.ShowAll && !t.IsVisible() {
		return false
	}
	if !opts.ShowNestedTopics && t.ContentType == core.ListContentType {
		return false
	}
	if remaining == 0 {
		return false
	}
	if opts.AttributeName != "" && !matchAttribute(t, opts) {
		return false
	}
	for _, term := range terms {
		if !containsTerm(t, term) {
			return false
		}
	}
	return true
}

func matchAttribute(t *core.Topic, opts Options) bool {
	value := searchableValue(t, opts.AttributeName)
	if opts.UsePartialMatch {
		return strings.Contains(strings.ToLower(value), strings.ToLower(opts.AttributeValue))
	}
	return value == opts.AttributeValue
}

func searchableValue(t *core.Topic, name string) string {
	if v := t.Attr(name); v != "" {
		return v
	}
	switch strings.ToLower(name) {
	case "key":
		return t.Key
	case "contenttype":
		return t.ContentType
	case "title":
		return t.Title()
	}
	return ""
}

func containsTerm(t *core.Topic, term string) bool {
	if strings.Contains(strings.ToLower(t.Key), term) || strings.Contains(strings.ToLower(t.Title()), term) {
		return true
	}
	for _, value := range t.Attributes {
		if strings.Contains(strings.ToLower(value), term) {
			return true
		}
	}
	return false
}

func lowerAll(terms []string) []string {
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = strings.ToLower(term)
	}
	return out
}
