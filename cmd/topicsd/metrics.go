package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rexliu/topics/pkg/ipc"
)

var (
	ipcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topics_ipc_requests_total",
		Help: "IPC requests by method and result code.",
	}, []string{"method", "code"})

	opsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topics_ops_applied_total",
		Help: "Mutation ops committed to storage by type.",
	}, []string{"op"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topics_events_dropped_total",
		Help: "tree_changed events dropped for slow subscribers.",
	})
)

func observeRequest(method string, rpcErr *ipc.Error) {
	code := "OK"
	if rpcErr != nil {
		code = rpcErr.Code
	}
	ipcRequests.WithLabelValues(method, code).Inc()
}
