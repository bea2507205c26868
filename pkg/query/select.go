package query

import (
	"strings"

	"github.com/rexliu/topics/pkg/core"
)

// SelectList returns candidate topics for a selection list under scopeID.
// Descendants matching the attribute filter are gathered first; when none match
// (or no complete filter is given) the scope's direct children are used. A
// comma-separated allowedKeys list then restricts the result, keeping order.
func SelectList(g *core.Graph, scopeID int64, attributeName, attributeValue, allowedKeys string) []*core.Topic {
	scope := g.Topic(scopeID)
	if scope == nil {
		return []*core.Topic{}
	}
	var topics []*core.Topic
	if attributeName != "" && attributeValue != "" {
		topics = matchingDescendants(g, scope, attributeName, attributeValue)
	}
	if len(topics) == 0 {
		topics = g.ChildrenOf(scope.ID)
	}
	allowed := splitKeys(allowedKeys)
	if len(allowed) == 0 {
		return topics
	}
	filtered := make([]*core.Topic, 0, len(topics))
	for _, t := range topics {
		if allowed[strings.ToLower(t.Key)] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func matchingDescendants(g *core.Graph, scope *core.Topic, name, value string) []*core.Topic {
	var out []*core.Topic
	var walk func(parentID int64)
	walk = func(parentID int64) {
		for _, child := range g.ChildrenOf(parentID) {
			if child.Attr(name) == value {
				out = append(out, child)
			}
			walk(child.ID)
		}
	}
	walk(scope.ID)
	return out
}

func splitKeys(raw string) map[string]bool {
	keys := map[string]bool{}
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys[strings.ToLower(key)] = true
		}
	}
	return keys
}
