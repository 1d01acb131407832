package ids

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new opaque identifier.
type Generator func() (string, error)

// NewV7 returns a time-ordered UUIDv7 string.
func NewV7() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Sequence yields prefix-1, prefix-2, ...
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() (string, error) {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10), nil
	}
}
