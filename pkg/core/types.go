package core

import (
	"sort"
	"strings"
)

// ListContentType marks container topics that hold nested topic lists.
const ListContentType = "List"

// Well-known attribute keys.
const (
	AttrTitle      = "Title"
	AttrIsHidden   = "IsHidden"
	AttrIsDisabled = "IsDisabled"
)

// Topic is a node in the topic graph.
type Topic struct {
	ID            int64              `json:"id"`
	Key           string             `json:"key"`
	ContentType   string             `json:"contentType"`
	ParentID      *int64             `json:"parentId"`
	Ord           float64            `json:"ord"`
	Attributes    map[string]string  `json:"attributes,omitempty"`
	Relationships map[string][]int64 `json:"relationships,omitempty"`
	CreatedAt     int64              `json:"createdAt"`
	UpdatedAt     int64              `json:"updatedAt"`
}

// Attr returns the local value of an attribute, or "" when unset.
func (t *Topic) Attr(key string) string {
	if t == nil || t.Attributes == nil {
		return ""
	}
	return t.Attributes[key]
}

// Title returns the Title attribute, falling back to Key.
func (t *Topic) Title() string {
	if title := t.Attr(AttrTitle); title != "" {
		return title
	}
	return t.Key
}

// IsHidden reports whether the IsHidden attribute is set.
func (t *Topic) IsHidden() bool {
	return truthy(t.Attr(AttrIsHidden))
}

// IsDisabled reports whether the IsDisabled attribute is set.
func (t *Topic) IsDisabled() bool {
	return truthy(t.Attr(AttrIsDisabled))
}

// IsVisible combines the hidden and disabled flags.
func (t *Topic) IsVisible() bool {
	return !t.IsHidden() && !t.IsDisabled()
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Graph is a snapshot of the topic tree. Topics are addressed by id; parents are
// id lookups and children are ordered id slices.
type Graph struct {
	Version  string            `json:"version"`
	RootID   int64             `json:"rootId"`
	Topics   map[int64]*Topic  `json:"topics"`
	Children map[int64][]int64 `json:"children,omitempty"`
}

// NewGraph builds a graph from a flat topic list, ordering siblings by Ord.
func NewGraph(version string, rootID int64, topics []*Topic) *Graph {
	g := &Graph{
		Version:  version,
		RootID:   rootID,
		Topics:   make(map[int64]*Topic, len(topics)),
		Children: make(map[int64][]int64),
	}
	for _, t := range topics {
		g.Topics[t.ID] = t
	}
	for _, t := range topics {
		if t.ParentID == nil {
			continue
		}
		g.Children[*t.ParentID] = append(g.Children[*t.ParentID], t.ID)
	}
	for parent, ids := range g.Children {
		sort.SliceStable(ids, func(i, j int) bool {
			return g.Topics[ids[i]].Ord < g.Topics[ids[j]].Ord
		})
		g.Children[parent] = ids
	}
	return g
}

// Topic returns the topic with id, or nil.
func (g *Graph) Topic(id int64) *Topic {
	if g == nil {
		return nil
	}
	return g.Topics[id]
}

// Root returns the root topic.
func (g *Graph) Root() *Topic {
	return g.Topic(g.RootID)
}

// Parent returns the parent of t, or nil for the root.
func (g *Graph) Parent(t *Topic) *Topic {
	if t == nil || t.ParentID == nil {
		return nil
	}
	return g.Topic(*t.ParentID)
}

// ChildrenOf returns the ordered children of id.
func (g *Graph) ChildrenOf(id int64) []*Topic {
	ids := g.Children[id]
	out := make([]*Topic, 0, len(ids))
	for _, cid := range ids {
		if t := g.Topics[cid]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// ChildByKey finds a direct child of parentID by key (case-insensitive).
func (g *Graph) ChildByKey(parentID int64, key string) *Topic {
	for _, cid := range g.Children[parentID] {
		if t := g.Topics[cid]; t != nil && strings.EqualFold(t.Key, key) {
			return t
		}
	}
	return nil
}

// Ancestors returns the chain from t's parent up to the root.
func (g *Graph) Ancestors(t *Topic) []*Topic {
	var out []*Topic
	seen := map[int64]bool{}
	for p := g.Parent(t); p != nil && !seen[p.ID]; p = g.Parent(p) {
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// UniqueKey joins the keys from the root down to id with ':'.
func (g *Graph) UniqueKey(id int64) string {
	t := g.Topic(id)
	if t == nil {
		return ""
	}
	keys := []string{t.Key}
	for _, a := range g.Ancestors(t) {
		keys = append(keys, a.Key)
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return strings.Join(keys, ":")
}

// WebPath returns the slash-delimited path for id.
func (g *Graph) WebPath(id int64) string {
	return WebPathFromUniqueKey(g.UniqueKey(id))
}

// FindByUniqueKey resolves a ':'-delimited unique key, case-insensitively.
func (g *Graph) FindByUniqueKey(uniqueKey string) *Topic {
	root := g.Root()
	if root == nil || uniqueKey == "" {
		return nil
	}
	parts := strings.Split(uniqueKey, ":")
	if !strings.EqualFold(parts[0], root.Key) {
		return nil
	}
	current := root
	for _, key := range parts[1:] {
		current = g.ChildByKey(current.ID, key)
		if current == nil {
			return nil
		}
	}
	return current
}

// IsDescendant reports whether candidate sits at or below ancestor.
func (g *Graph) IsDescendant(candidate, ancestor int64) bool {
	if candidate == ancestor {
		return true
	}
	t := g.Topic(candidate)
	for _, a := range g.Ancestors(t) {
		if a.ID == ancestor {
			return true
		}
	}
	return false
}

// WebPathFromUniqueKey converts "Root:Web" into "/Root/Web".
func WebPathFromUniqueKey(uniqueKey string) string {
	return "/" + strings.ReplaceAll(uniqueKey, ":", "/")
}
