// Package keystore keeps small named secrets in a single file sealed with
// NaCl secretbox under a key derived from the user's master secret.
//
// File layout:
//
//	"LKS1" | nonce (24 bytes) | secretbox(JSON {label: base64(value)})
package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/francitoshi/lettera/internal/filex"
	"golang.org/x/crypto/nacl/secretbox"
)

// StoreLabel is the entry holding the record-store passphrase.
const StoreLabel = "db"

// KeyContext is the HKDF context for the keystore key.
const KeyContext = "lettera/keystore"

// StorePassphraseSize is the length of a freshly generated store passphrase.
const StorePassphraseSize = 32

const (
	keySize   = 32
	nonceSize = 24
)

var magic = []byte("LKS1")

// Keystore is an in-memory view of the keystore file. It is safe for
// concurrent use.
type Keystore struct {
	mu       sync.Mutex
	key      [keySize]byte
	entries  map[string][]byte
	modified bool
}

// DeriveKey derives the keystore key from the master secret and the
// parameters salt.
func DeriveKey(master *cryptox.Secret, salt []byte) (*cryptox.Secret, error) {
	k, err := cryptox.DeriveSubkey(master.Bytes(), salt, KeyContext, keySize)
	if err != nil {
		return nil, err
	}
	return cryptox.NewSecret(k), nil
}

// Open loads the keystore at path. A missing file yields an empty keystore
// (first run). A file that does not open under key fails with
// common.ErrCannotUnlock.
func Open(path string, key *cryptox.Secret) (*Keystore, error) {
	if key.Len() != keySize {
		return nil, fmt.Errorf("keystore key must be %d bytes", keySize)
	}
	ks := &Keystore{entries: map[string][]byte{}}
	copy(ks.key[:], key.Bytes())

	if err := ks.load(path); err != nil {
		closeKeystore(ks)
		return nil, err
	}
	return ks, nil
}

// closeKeystore wipes a keystore that failed to open.
var closeKeystore = (*Keystore).Close

func (k *Keystore) load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}

	if len(data) < len(magic)+nonceSize+secretbox.Overhead || !bytes.Equal(data[:len(magic)], magic) {
		return fmt.Errorf("keystore %s: %w", path, common.ErrCannotUnlock)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(magic):len(magic)+nonceSize])

	plain, ok := secretbox.Open(nil, data[len(magic)+nonceSize:], &nonce, &k.key)
	if !ok {
		return fmt.Errorf("keystore %s: %w", path, common.ErrCannotUnlock)
	}
	defer common.WipeByteArray(plain)

	if err := json.Unmarshal(plain, &k.entries); err != nil {
		return fmt.Errorf("keystore %s: %w: %v", path, common.ErrCannotUnlock, err)
	}
	return nil
}

// Get returns a copy of the value stored under label.
func (k *Keystore) Get(label string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.entries[label]
	if !ok {
		return nil, false
	}
	return common.CloneBytes(v), true
}

// Set stores a copy of value under label and marks the keystore modified.
func (k *Keystore) Set(label string, value []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if old, ok := k.entries[label]; ok {
		common.WipeByteArray(old)
	}
	k.entries[label] = common.CloneBytes(value)
	k.modified = true
}

// Modified reports whether Set was called since the last Store.
func (k *Keystore) Modified() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.modified
}

// Store seals and writes the keystore to path when modified.
func (k *Keystore) Store(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.modified {
		return nil
	}

	plain, err := json.Marshal(k.entries)
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	defer common.WipeByteArray(plain)

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("keystore nonce: %w", err)
	}
	out := make([]byte, 0, len(magic)+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, &k.key)

	if err := filex.WriteFileAtomic(path, out, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	k.modified = false
	return nil
}

// Close wipes the key and every value.
func (k *Keystore) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for l, v := range k.entries {
		common.WipeByteArray(v)
		delete(k.entries, l)
	}
	common.WipeByteArray(k.key[:])
}

// StorePassphrase returns the record-store passphrase, generating and
// recording a random one on first use. created reports the latter; the
// caller must then Store the keystore.
func (k *Keystore) StorePassphrase() (pass []byte, created bool, err error) {
	if v, ok := k.Get(StoreLabel); ok {
		return v, false, nil
	}
	v := make([]byte, StorePassphraseSize)
	if _, err := rand.Read(v); err != nil {
		return nil, false, fmt.Errorf("generate store passphrase: %w", err)
	}
	k.Set(StoreLabel, v)
	return v, true, nil
}
