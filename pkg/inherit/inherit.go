// Package inherit resolves attribute values a topic inherits from its ancestors,
// optionally synthesizing a path from the hierarchy between the ancestor that
// holds the value and the topic itself.
package inherit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rexliu/topics/pkg/core"
)

// ErrBrokenAncestry indicates the source ancestor's path is not a prefix of the
// descendant's path, which only happens when the hierarchy is inconsistent.
var ErrBrokenAncestry = errors.New("broken ancestry")

// Options controls how an inherited value is computed.
type Options struct {
	InheritValue        bool     `json:"inheritValue"`
	RelativeToPath      bool     `json:"relativeToPath"`
	IncludeCurrentTopic bool     `json:"includeCurrentTopic"`
	TruncateAt          []string `json:"truncateAt,omitempty"`
}

// Resolve returns the value topic t inherits for key. An empty string means no
// inherited value is available.
func Resolve(g *core.Graph, t *core.Topic, key string, opts Options) (string, error) {
	if !opts.InheritValue || g == nil || t == nil || key == "" {
		return "", nil
	}
	if !opts.RelativeToPath {
		start := g.Parent(t)
		if opts.IncludeCurrentTopic {
			start = t
		}
		if source := nearestWithValue(g, start, key); source != nil {
			return source.Attr(key), nil
		}
		return "", nil
	}

	source := nearestWithValue(g, g.Parent(t), key)
	if source == nil {
		return "", nil
	}
	end := g.Parent(t)
	if opts.IncludeCurrentTopic {
		end = t
	}
	if end == nil {
		return source.Attr(key), nil
	}
	relative, err := relativePath(g.WebPath(source.ID), g.WebPath(end.ID))
	if err != nil {
		return "", fmt.Errorf("resolve %q for %s: %w", key, g.UniqueKey(t.ID), err)
	}
	relative = truncate(relative, opts.TruncateAt)

	value := source.Attr(key) + relative
	if strings.Contains(value, `\`) {
		value = strings.ReplaceAll(value, "/", `\`)
	}
	return value, nil
}

// Effective returns the local value of key when set, otherwise the value
// inherited from the nearest ancestor.
func Effective(g *core.Graph, t *core.Topic, key string) string {
	value, _ := Resolve(g, t, key, Options{InheritValue: true, IncludeCurrentTopic: true})
	return value
}

func nearestWithValue(g *core.Graph, start *core.Topic, key string) *core.Topic {
	seen := map[int64]bool{}
	for current := start; current != nil && !seen[current.ID]; current = g.Parent(current) {
		if current.Attr(key) != "" {
			return current
		}
		seen[current.ID] = true
	}
	return nil
}

// relativePath strips sourcePath from endPath. Both are normalized so a leading
// /Root/ segment collapses to /.
func relativePath(sourcePath, endPath string) (string, error) {
	source, end := trimRoot(sourcePath), trimRoot(endPath)
	if len(source) > len(end) {
		return "", fmt.Errorf("%s is longer than %s: %w", sourcePath, endPath, ErrBrokenAncestry)
	}
	if !strings.EqualFold(end[:len(source)], source) {
		return "", fmt.Errorf("%s is not a prefix of %s: %w", sourcePath, endPath, ErrBrokenAncestry)
	}
	rest := end[len(source):]
	if rest != "" && !strings.HasPrefix(rest, "/") && !strings.HasSuffix(source, "/") {
		return "", fmt.Errorf("%s is not an ancestor of %s: %w", sourcePath, endPath, ErrBrokenAncestry)
	}
	return strings.TrimPrefix(rest, "/"), nil
}

func trimRoot(path string) string {
	const root = "/Root"
	if !strings.HasPrefix(strings.ToLower(path), strings.ToLower(root)) {
		return path
	}
	rest := path[len(root):]
	switch {
	case rest == "":
		return "/"
	case strings.HasPrefix(rest, "/"):
		return rest
	}
	return path
}

// truncate cuts path right after the earliest case-insensitive occurrence of
// any of the given topic keys.
func truncate(path string, at []string) string {
	lower := strings.ToLower(path)
	first, cut := -1, -1
	for _, key := range at {
		if key == "" {
			continue
		}
		idx := strings.Index(lower, strings.ToLower(key))
		if idx < 0 {
			continue
		}
		if first < 0 || idx < first {
			first, cut = idx, idx+len(key)
		}
	}
	if cut < 0 {
		return path
	}
	return path[:cut]
}
