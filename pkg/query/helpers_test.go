package query

import "github.com/rexliu/topics/pkg/core"

// newTestGraph builds:
//
//	Root
//	  Web
//	    Red (Red Apple)
//	    Green (Green Apple)
//	      Seed
//	    Secret (hidden)
//	      Inner
//	    Items (List)
//	  Config
func newTestGraph() *core.Graph {
	return core.NewGraph("v", 1, []*core.Topic{
		{ID: 1, Key: "Root", ContentType: "Container"},
		{ID: 2, Key: "Web", ContentType: "Page", ParentID: i64(1), Ord: 0},
		{ID: 3, Key: "Red", ContentType: "Page", ParentID: i64(2), Ord: 0, Attributes: map[string]string{"Title": "Red Apple", "Color": "red"}},
		{ID: 4, Key: "Green", ContentType: "Page", ParentID: i64(2), Ord: 1, Attributes: map[string]string{"Title": "Green Apple", "Color": "green"}},
		{ID: 5, Key: "Seed", ContentType: "Page", ParentID: i64(4)},
		{ID: 6, Key: "Secret", ContentType: "Page", ParentID: i64(2), Ord: 2, Attributes: map[string]string{"IsHidden": "true"}},
		{ID: 7, Key: "Inner", ContentType: "Page", ParentID: i64(6)},
		{ID: 8, Key: "Items", ContentType: core.ListContentType, ParentID: i64(2), Ord: 3},
		{ID: 9, Key: "Config", ContentType: "Container", ParentID: i64(1), Ord: 1},
	})
}

func i64(v int64) *int64 {
	return &v
}

func keys(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key)
	}
	return out
}

func reachableKeys(nodes []*Node) []string {
	var out []string
	var walk func([]*Node)
	walk = func(level []*Node) {
		for _, n := range level {
			out = append(out, n.Key)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}
