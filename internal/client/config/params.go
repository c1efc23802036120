package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/francitoshi/lettera/internal/filex"
)

type paramsFile struct {
	Argon2 argon2Section `toml:"argon2"`
}

type argon2Section struct {
	Salt        string `toml:"salt"`
	Iterations  uint32 `toml:"iterations"`
	MemoryKB    uint32 `toml:"memory_kb"`
	Parallelism uint8  `toml:"parallelism"`
}

// LoadParams reads the derivation parameters at path. A missing file is
// reported as fs.ErrNotExist; anything unreadable or invalid is a
// configuration error.
func LoadParams(path string) (cryptox.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cryptox.Params{}, err
		}
		return cryptox.Params{}, fmt.Errorf("%w: read %s: %v", common.ErrConfig, path, err)
	}

	var pf paramsFile
	if _, err := toml.Decode(string(data), &pf); err != nil {
		return cryptox.Params{}, fmt.Errorf("%w: parse %s: %v", common.ErrConfig, path, err)
	}
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(pf.Argon2.Salt))
	if err != nil {
		return cryptox.Params{}, fmt.Errorf("%w: salt in %s: %v", common.ErrConfig, path, err)
	}

	p := cryptox.Params{
		Salt:        salt,
		Iterations:  pf.Argon2.Iterations,
		MemoryKB:    pf.Argon2.MemoryKB,
		Parallelism: pf.Argon2.Parallelism,
	}
	if err := p.Validate(); err != nil {
		return cryptox.Params{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// SaveParams writes p to path with owner-only permissions.
func SaveParams(path string, p cryptox.Params) error {
	pf := paramsFile{Argon2: argon2Section{
		Salt:        base64.StdEncoding.EncodeToString(p.Salt),
		Iterations:  p.Iterations,
		MemoryKB:    p.MemoryKB,
		Parallelism: p.Parallelism,
	}}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(pf); err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return filex.WriteFileAtomic(path, []byte(sb.String()), 0o600)
}

// LoadOrCreateParams loads the parameters at path, or on first run creates
// them from fresh (or provided) defaults and persists them before returning.
// created reports the latter case.
func LoadOrCreateParams(path string, fresh func() (cryptox.Params, error)) (p cryptox.Params, created bool, err error) {
	p, err = LoadParams(path)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return cryptox.Params{}, false, err
	}

	if fresh == nil {
		fresh = cryptox.NewParams
	}
	p, err = fresh()
	if err != nil {
		return cryptox.Params{}, false, err
	}
	if err := p.Validate(); err != nil {
		return cryptox.Params{}, false, err
	}
	if err := SaveParams(path, p); err != nil {
		return cryptox.Params{}, false, fmt.Errorf("save params: %w", err)
	}
	return p, true, nil
}
