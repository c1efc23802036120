// Package cryptox implements the passphrase key hierarchy (Argon2id master
// secret, HKDF sub-keys), purpose-bound credential wrapping and AEAD sealing
// of stored records.
package cryptox

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"
	"runtime"

	"github.com/francitoshi/lettera/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the length of the Argon2id output.
	MasterKeySize = 32
	// SaltSize is the length of a freshly generated parameters salt.
	SaltSize = 32

	DefaultIterations = 26
	DefaultMemoryKB   = 64 * 1024

	minSaltSize = 16
)

// Params are the Argon2id derivation parameters. They are generated once per
// installation and persisted; changing any field changes every derived key.
type Params struct {
	Salt        []byte
	Iterations  uint32
	MemoryKB    uint32
	Parallelism uint8
}

// NewParams returns default parameters with a fresh random salt.
func NewParams() (Params, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Params{}, fmt.Errorf("generate salt: %w", err)
	}
	return Params{
		Salt:        salt,
		Iterations:  DefaultIterations,
		MemoryKB:    DefaultMemoryKB,
		Parallelism: uint8(min(4, runtime.NumCPU())),
	}, nil
}

// Validate rejects parameters that argon2 would accept but that are unusable
// or unsafe.
func (p Params) Validate() error {
	switch {
	case len(p.Salt) < minSaltSize:
		return fmt.Errorf("%w: salt must be at least %d bytes, got %d", common.ErrConfig, minSaltSize, len(p.Salt))
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be positive", common.ErrConfig)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be positive", common.ErrConfig)
	case p.MemoryKB < 8*uint32(p.Parallelism):
		return fmt.Errorf("%w: memory_kb must be at least 8*parallelism", common.ErrConfig)
	}
	return nil
}

// DeriveMaster runs Argon2id over passphrase. The result is deterministic for
// a given (passphrase, params) pair; a wrong passphrase is not detected here.
func DeriveMaster(passphrase []byte, p Params) (*Secret, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	k := argon2.IDKey(passphrase, p.Salt, p.Iterations, p.MemoryKB, p.Parallelism, MasterKeySize)
	return NewSecret(k), nil
}

// DeriveSubkey expands key into size bytes with HKDF-SHA512. Distinct
// contexts yield independent keys.
func DeriveSubkey(key, salt []byte, context string, size int) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("derive %q: empty input key", context)
	}
	out := make([]byte, size)
	r := hkdf.New(sha512.New, key, salt, []byte(context))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %q: %w", context, err)
	}
	return out, nil
}
