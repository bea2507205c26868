package core

// newTestGraph builds Root > Web > {Section > Page, Hidden}, Root > Config.
func newTestGraph() *Graph {
	return NewGraph("v", 1, []*Topic{
		{ID: 1, Key: "Root", ContentType: "Container"},
		{ID: 2, Key: "Web", ContentType: "PageGroup", ParentID: i64(1), Ord: 0},
		{ID: 3, Key: "Section", ContentType: "Page", ParentID: i64(2), Ord: 1, Attributes: map[string]string{"Title": "A Section"}},
		{ID: 4, Key: "Page", ContentType: "Page", ParentID: i64(3)},
		{ID: 5, Key: "Hidden", ContentType: "Page", ParentID: i64(2), Ord: 0, Attributes: map[string]string{"IsHidden": "1"}},
		{ID: 6, Key: "Config", ContentType: "Container", ParentID: i64(1), Ord: 1},
	})
}

func i64(v int64) *int64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}
