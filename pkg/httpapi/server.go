// Package httpapi serves topic trees, inherited values and select lists as
// JSON for tree widgets, plus Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/core"
	"github.com/rexliu/topics/pkg/inherit"
	"github.com/rexliu/topics/pkg/ipc"
	"github.com/rexliu/topics/pkg/query"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topics_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topics_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	resultNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "topics_http_query_result_nodes",
		Help:    "Nodes returned per tree query.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

var validate = validator.New()

// GraphSource returns the current topic graph snapshot.
type GraphSource interface {
	Graph(ctx context.Context) (*core.Graph, error)
}

// Server is the JSON tree service.
type Server struct {
	source GraphSource
	limits config.QueryConfig
	router *gin.Engine
}

// New builds the router. Callers choose the gin mode.
func New(source GraphSource, limits config.QueryConfig) *Server {
	s := &Server{source: source, limits: limits, router: gin.New()}
	s.router.Use(gin.Recovery(), observe)
	s.router.GET("/topics/json", s.handleTree)
	s.router.GET("/topics/inherited", s.handleInherited)
	s.router.GET("/topics/select", s.handleSelect)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

type treeRequest struct {
	Root    string `form:"root"`
	Related string `form:"related"`
}

func (s *Server) handleTree(c *gin.Context) {
	var req treeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, ipc.CodeInvalidRequest, err.Error())
		return
	}
	opts := query.ParseOptions(c.Request.URL.Query()).Bound(s.limits.DefaultResultLimit, s.limits.MaxResultLimit)
	if err := validate.Struct(opts); err != nil {
		abort(c, http.StatusBadRequest, ipc.CodeValidationFailed, err.Error())
		return
	}
	related, err := parseIDs(req.Related)
	if err != nil {
		abort(c, http.StatusBadRequest, ipc.CodeInvalidRequest, err.Error())
		return
	}
	g, ok := s.graph(c)
	if !ok {
		return
	}
	root := g.Root()
	if req.Root != "" {
		root = g.FindByUniqueKey(req.Root)
	}
	if root == nil {
		abort(c, http.StatusNotFound, ipc.CodeNotFound, "unknown topic "+req.Root)
		return
	}
	nodes := query.Run(g, root.ID, opts, related)
	resultNodes.Observe(float64(countNodes(nodes)))
	c.JSON(http.StatusOK, nodes)
}

type inheritedRequest struct {
	Topic               string `form:"topic" binding:"required"`
	Key                 string `form:"key" binding:"required"`
	RelativeToPath      bool   `form:"relativeToPath"`
	IncludeCurrentTopic bool   `form:"includeCurrentTopic"`
	TruncateAt          string `form:"truncateAt"`
}

func (s *Server) handleInherited(c *gin.Context) {
	var req inheritedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, ipc.CodeValidationFailed, err.Error())
		return
	}
	g, ok := s.graph(c)
	if !ok {
		return
	}
	topic := g.FindByUniqueKey(req.Topic)
	if topic == nil {
		abort(c, http.StatusNotFound, ipc.CodeNotFound, "unknown topic "+req.Topic)
		return
	}
	value, err := inherit.Resolve(g, topic, req.Key, inherit.Options{
		InheritValue:        true,
		RelativeToPath:      req.RelativeToPath,
		IncludeCurrentTopic: req.IncludeCurrentTopic,
		TruncateAt:          splitList(req.TruncateAt),
	})
	if err != nil {
		abort(c, http.StatusConflict, ipc.CodeInheritance, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": req.Topic, "key": req.Key, "value": value})
}

type selectRequest struct {
	Scope          string `form:"scope" binding:"required"`
	AttributeName  string `form:"attributeName"`
	AttributeValue string `form:"attributeValue"`
	AllowedKeys    string `form:"allowedKeys"`
}

func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, ipc.CodeValidationFailed, err.Error())
		return
	}
	g, ok := s.graph(c)
	if !ok {
		return
	}
	scope := g.FindByUniqueKey(req.Scope)
	if scope == nil {
		abort(c, http.StatusNotFound, ipc.CodeNotFound, "unknown topic "+req.Scope)
		return
	}
	topics := query.SelectList(g, scope.ID, req.AttributeName, req.AttributeValue, req.AllowedKeys)
	out := make([]*query.Node, 0, len(topics))
	for _, t := range topics {
		out = append(out, query.Summarize(g, t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) graph(c *gin.Context) (*core.Graph, bool) {
	g, err := s.source.Graph(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, ipc.CodeStorage, err.Error())
		return nil, false
	}
	return g, true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": ipc.Errorf(code, message, nil)})
}

// parseIDs reads a comma-separated id list. An empty string yields nil, which
// leaves every node checked.
func parseIDs(raw string) ([]int64, error) {
	parts := splitList(raw)
	if parts == nil {
		return nil, nil
	}
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.New("related: invalid id " + strconv.Quote(p))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func countNodes(nodes []*query.Node) int {
	n := len(nodes)
	for _, node := range nodes {
		n += countNodes(node.Children)
	}
	return n
}
