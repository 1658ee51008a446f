// Package identity mints entity identifiers. Isolated behind an interface
// so tests can substitute deterministic ids.
package identity

import "github.com/google/uuid"

// Minter produces new unique identifiers.
type Minter interface {
	New() string
}

// UUID mints random UUIDv4 strings via google/uuid.
type UUID struct{}

// New returns a freshly minted UUID string.
func (UUID) New() string { return uuid.New().String() }

// Sequence is a test Minter that returns "id-1", "id-2", ... in order.
type Sequence struct {
	prefix string
	n      int
}

// NewSequence returns a Sequence minter with the given id prefix.
func NewSequence(prefix string) *Sequence { return &Sequence{prefix: prefix} }

// New returns the next sequential id.
func (s *Sequence) New() string {
	s.n++
	return s.prefix + "-" + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
