package hash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashString returns a fixed-length (16 hex characters) digest of s that is
// safe to use as a file or directory name.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}
