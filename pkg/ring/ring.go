// Package ring defines positions on the 64-bit identifier circle shared by
// peers and term hashes, together with the comparator and distance metric
// used for DHT placement.
package ring

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Width is the number of hex digits in the textual form of a Hash.
const Width = 16

// Hash is a position on the ring.
type Hash uint64

// Of returns the ring position of an arbitrary key.
func Of(key string) Hash {
	return Hash(xxhash.Sum64String(key))
}

// Parse decodes the fixed-width hex form produced by Hash.String.
func Parse(s string) (Hash, error) {
	if len(s) != Width {
		return 0, fmt.Errorf("ring hash %q: expected %d hex digits", s, Width)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("ring hash %q: %w", s, err)
	}
	return Hash(v), nil
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// MarshalText keeps hashes readable in JSON payloads and map keys.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Less is the ring comparator used for boundary checks.
func Less(a, b Hash) bool {
	return a < b
}

// Distance is the clockwise distance from one position to another.
func Distance(from, to Hash) uint64 {
	return uint64(to - from)
}

// RandomStart derives a start position from the wall clock. Peers must not
// compute start points deterministically or they all push to the same
// targets at once.
func RandomStart(now time.Time) Hash {
	return Of(strconv.FormatInt(now.UnixNano(), 10))
}
