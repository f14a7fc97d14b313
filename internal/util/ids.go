package util

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID. Ids minted by one process sort in creation order,
// which the message and audit tables rely on for tie-breaking.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// NewThreadID returns a random UUID used for thread and correlation ids.
func NewThreadID() string {
	return uuid.NewString()
}
