package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRef returns a human-facing reference token with the given prefix,
// e.g. NewRef("FAR") -> "FAR-01J8...". Reference tokens show up on the
// approval dashboard and in audit entries.
func NewRef(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "-" + New()
}
