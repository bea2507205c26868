package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventHubDropsForSlowClient(t *testing.T) {
	hub := newEventHub(nil)
	client := hub.register()
	for i := 0; i < cap(client.send)+4; i++ {
		hub.broadcast(treeChangedEvent{Type: "tree_changed"})
	}
	assert.Len(t, client.send, cap(client.send))

	hub.unregister(client)
	hub.unregister(client)
	_, open := <-client.send
	assert.True(t, open, "buffered events still drain after unregister")
	assert.Equal(t, 0, hub.count())
}
