package cryptox

import (
	"sync"

	"github.com/francitoshi/lettera/internal/common"
)

// Secret owns a byte slice holding key material and zeroes it on Wipe.
// A wiped Secret reports an empty Bytes.
type Secret struct {
	mu sync.Mutex
	b  []byte
}

// NewSecret takes ownership of b; the caller must not use b afterwards.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes exposes the underlying key material. The slice is only valid until
// Wipe and must not be retained.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

// Len is the key length, or 0 once wiped.
func (s *Secret) Len() int {
	return len(s.Bytes())
}

// Wipe zeroes the key material. Safe to call more than once.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.b)
	s.b = nil
}
