package inherit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/topics/pkg/core"
)

func newTestGraph() *core.Graph {
	parent := func(id int64) *int64 { return &id }
	return core.NewGraph("v", 1, []*core.Topic{
		{ID: 1, Key: "Root", ContentType: "Container", Attributes: map[string]string{"Theme": "dark"}},
		{ID: 2, Key: "A", ContentType: "Page", ParentID: parent(1), Attributes: map[string]string{"PathAttr": "assets/", "Share": `\\files\share\`}},
		{ID: 3, Key: "B", ContentType: "Page", ParentID: parent(2), Attributes: map[string]string{"Theme": "light"}},
		{ID: 4, Key: "C", ContentType: "Page", ParentID: parent(3), Attributes: map[string]string{"Local": "mine"}},
	})
}

func TestResolveDisabled(t *testing.T) {
	g := newTestGraph()
	value, err := Resolve(g, g.Topic(4), "Theme", Options{})
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestResolvePlainInheritance(t *testing.T) {
	g := newTestGraph()
	opts := Options{InheritValue: true}

	value, err := Resolve(g, g.Topic(4), "Theme", opts)
	require.NoError(t, err)
	assert.Equal(t, "light", value)

	value, err = Resolve(g, g.Topic(3), "Theme", opts)
	require.NoError(t, err)
	assert.Equal(t, "dark", value, "walk starts at the parent, not the topic")

	value, err = Resolve(g, g.Topic(4), "Missing", opts)
	require.NoError(t, err)
	assert.Empty(t, value)

	value, err = Resolve(g, g.Root(), "Theme", opts)
	require.NoError(t, err)
	assert.Empty(t, value, "root has no ancestors")
}

func TestResolveLocalValueWins(t *testing.T) {
	g := newTestGraph()
	opts := Options{InheritValue: true, IncludeCurrentTopic: true}

	value, err := Resolve(g, g.Topic(4), "Local", opts)
	require.NoError(t, err)
	assert.Equal(t, "mine", value)

	value, err = Resolve(g, g.Topic(3), "Local", opts)
	require.NoError(t, err)
	assert.Empty(t, value)

	assert.Equal(t, "light", Effective(g, g.Topic(3), "Theme"))
	assert.Equal(t, "light", Effective(g, g.Topic(4), "Theme"))
}

func TestResolveRelativePath(t *testing.T) {
	g := newTestGraph()

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"include current topic", Options{IncludeCurrentTopic: true}, "assets/B/C"},
		{"parent only", Options{}, "assets/B"},
		{"truncate at first match", Options{IncludeCurrentTopic: true, TruncateAt: []string{"B"}}, "assets/B"},
		{"truncate is case-insensitive", Options{IncludeCurrentTopic: true, TruncateAt: []string{"c", "b"}}, "assets/B"},
		{"truncate without match", Options{IncludeCurrentTopic: true, TruncateAt: []string{"Z"}}, "assets/B/C"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.InheritValue = true
			tc.opts.RelativeToPath = true
			value, err := Resolve(g, g.Topic(4), "PathAttr", tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, value)
		})
	}
}

func TestResolveRelativePathSourceIsParent(t *testing.T) {
	g := newTestGraph()
	value, err := Resolve(g, g.Topic(3), "PathAttr", Options{InheritValue: true, RelativeToPath: true})
	require.NoError(t, err)
	assert.Equal(t, "assets/", value)
}

func TestResolveBackslashNormalization(t *testing.T) {
	g := newTestGraph()
	value, err := Resolve(g, g.Topic(4), "Share", Options{InheritValue: true, RelativeToPath: true, IncludeCurrentTopic: true})
	require.NoError(t, err)
	assert.Equal(t, `\\files\share\B\C`, value)
}

func TestResolveNoSourceInPathMode(t *testing.T) {
	g := newTestGraph()
	value, err := Resolve(g, g.Topic(4), "Missing", Options{InheritValue: true, RelativeToPath: true})
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestRelativePathBrokenAncestry(t *testing.T) {
	_, err := relativePath("/Root/A/B/C", "/Root/A")
	assert.ErrorIs(t, err, ErrBrokenAncestry)

	_, err = relativePath("/Root/X", "/Root/A/B")
	assert.ErrorIs(t, err, ErrBrokenAncestry)

	_, err = relativePath("/Root/A", "/Root/AB/C")
	assert.ErrorIs(t, err, ErrBrokenAncestry)

	rel, err := relativePath("/Root", "/Root/A/B")
	require.NoError(t, err)
	assert.Equal(t, "A/B", rel)
}

func TestResolveNilInputs(t *testing.T) {
	g := newTestGraph()
	value, err := Resolve(g, nil, "Theme", Options{InheritValue: true})
	require.NoError(t, err)
	assert.Empty(t, value)

	value, err = Resolve(g, g.Topic(4), "", Options{InheritValue: true})
	require.NoError(t, err)
	assert.Empty(t, value)
}
