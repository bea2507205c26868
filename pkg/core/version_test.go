package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewVersionIDIncreases(t *testing.T) {
	prev := NewVersionID()
	for i := 0; i < 100; i++ {
		next := NewVersionID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestVersionTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	stamp, ok := VersionTime(NewVersionID())
	assert.True(t, ok)
	assert.True(t, stamp.After(before))

	_, ok = VersionTime("uninitialized")
	assert.False(t, ok)
}
