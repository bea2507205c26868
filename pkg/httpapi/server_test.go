package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/core"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSource struct {
	graph *core.Graph
	err   error
}

func (s staticSource) Graph(context.Context) (*core.Graph, error) {
	return s.graph, s.err
}

func i64(v int64) *int64 {
	return &v
}

// testGraph:
//
//	Root
//	  Web (Assets=files/)
//	    Blog (Kind=feed)
//	      Post
//	    Shop (Kind=store)
func testGraph() *core.Graph {
	return core.NewGraph("v1", 1, []*core.Topic{
		{ID: 1, Key: "Root", ContentType: "Container"},
		{ID: 2, Key: "Web", ContentType: "Page", ParentID: i64(1), Attributes: map[string]string{"Assets": "files/"}},
		{ID: 3, Key: "Blog", ContentType: "Page", ParentID: i64(2), Ord: 0, Attributes: map[string]string{"Kind": "feed"}},
		{ID: 4, Key: "Post", ContentType: "Page", ParentID: i64(3)},
		{ID: 5, Key: "Shop", ContentType: "Page", ParentID: i64(2), Ord: 1, Attributes: map[string]string{"Kind": "store"}},
	})
}

func perform(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type nodeJSON struct {
	ID        int64      `json:"id"`
	Key       string     `json:"key"`
	UniqueKey string     `json:"uniqueKey"`
	IsChecked bool       `json:"isChecked"`
	IsLeaf    bool       `json:"isLeaf"`
	Children  []nodeJSON `json:"children"`
}

func TestTreeRoute(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{DefaultResultLimit: -1})

	w := perform(t, s, "/topics/json?root=Root:Web&IsRecursive=true&related=3")
	require.Equal(t, http.StatusOK, w.Code)
	var nodes []nodeJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, "Root:Web:Blog", nodes[0].UniqueKey)
	assert.True(t, nodes[0].IsChecked)
	assert.False(t, nodes[1].IsChecked)
	require.Len(t, nodes[0].Children, 1)
	assert.True(t, nodes[0].Children[0].IsLeaf)
}

func TestTreeRouteDefaultsToGraphRoot(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{DefaultResultLimit: -1})
	w := perform(t, s, "/topics/json?ShowRoot=true")
	require.Equal(t, http.StatusOK, w.Code)
	var nodes []nodeJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "Root", nodes[0].Key)
	assert.Equal(t, "Web", nodes[0].Children[0].Key)
}

func TestTreeRouteMaxLimit(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{DefaultResultLimit: -1, MaxResultLimit: 2})
	w := perform(t, s, "/topics/json?root=Root:Web&IsRecursive=true&FlattenStructure=true")
	require.Equal(t, http.StatusOK, w.Code)
	var nodes []nodeJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	assert.Len(t, nodes, 2)
}

func TestTreeRouteErrors(t *testing.T) {
	tests := []struct {
		name   string
		source staticSource
		target string
		status int
		code   string
	}{
		{"unknown root", staticSource{graph: testGraph()}, "/topics/json?root=Root:Nope", http.StatusNotFound, "NOT_FOUND"},
		{"bad related", staticSource{graph: testGraph()}, "/topics/json?related=1,x", http.StatusBadRequest, "INVALID_REQUEST"},
		{"storage failure", staticSource{err: errors.New("disk gone")}, "/topics/json", http.StatusInternalServerError, "STORAGE_ERROR"},
		{"inherited missing key", staticSource{graph: testGraph()}, "/topics/inherited?topic=Root:Web", http.StatusBadRequest, "VALIDATION_FAILED"},
		{"select missing scope", staticSource{graph: testGraph()}, "/topics/select", http.StatusBadRequest, "VALIDATION_FAILED"},
		{"select unknown scope", staticSource{graph: testGraph()}, "/topics/select?scope=Root:X", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := perform(t, New(tc.source, config.QueryConfig{}), tc.target)
			assert.Equal(t, tc.status, w.Code)
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestInheritedRoute(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{})
	w := perform(t, s, "/topics/inherited?topic=Root:Web:Blog:Post&key=Assets&relativeToPath=true&includeCurrentTopic=true")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "files/Blog/Post", body["value"])
}

func TestSelectRoute(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{})
	w := perform(t, s, "/topics/select?scope=Root:Web&attributeName=Kind&attributeValue=store")
	require.Equal(t, http.StatusOK, w.Code)
	var nodes []nodeJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "Shop", nodes[0].Key)

	w = perform(t, s, "/topics/select?scope=Root:Web&allowedKeys=shop,%20blog")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	assert.Len(t, nodes, 2)
}

func TestMetricsRoute(t *testing.T) {
	s := New(staticSource{graph: testGraph()}, config.QueryConfig{})
	perform(t, s, "/topics/json")
	w := perform(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "topics_http_requests_total"))
}
