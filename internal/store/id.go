package store

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

// NewID returns a time-ordered ULID, lower-cased and prefixed with kind
// ("wd", "dep", "rbt") when one is given.
func NewID(kind string) string {
	ulidEntropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
	ulidEntropyMu.Unlock()
	id = strings.ToLower(id)
	if kind == "" {
		return id
	}
	return kind + "_" + id
}
