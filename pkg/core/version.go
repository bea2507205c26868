package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	versionMu      sync.Mutex
	versionEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewVersionID stamps a graph snapshot. Stamps sort by creation time and are
// strictly increasing within a process.
func NewVersionID() string {
	versionMu.Lock()
	defer versionMu.Unlock()
	return ulid.MustNew(ulid.Now(), versionEntropy).String()
}

// VersionTime reports when a version stamp was created. ok is false for values
// that are not stamps, such as the version of a never-modified store.
func VersionTime(version string) (time.Time, bool) {
	id, err := ulid.ParseStrict(version)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
