package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/francitoshi/lettera/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Credential purposes. The label bound into a wrapped value is
// purpose + "+" + owner.
const (
	PurposeEmail      = "email"
	PurposeSigningKey = "gpg"
)

const (
	wrapVersion  = "v1."
	wrapSaltSize = 16
	wrapContext  = "lettera/credential-wrap"
)

// Wrapped is an encoded, authenticated ciphertext of a credential. It is safe
// to persist inside ordinary records.
type Wrapped string

// Label is the associated data a credential is bound to.
func Label(purpose, owner string) string {
	return purpose + "+" + owner
}

// Wrapper seals credentials under keys derived from the master secret.
type Wrapper struct {
	root *Secret
}

// NewWrapper derives the wrapping root from master. master may be wiped
// afterwards.
func NewWrapper(master *Secret) (*Wrapper, error) {
	root, err := DeriveSubkey(master.Bytes(), nil, wrapContext, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return &Wrapper{root: NewSecret(root)}, nil
}

// Wrap encrypts plaintext bound to (purpose, owner). Each call uses a fresh
// salt and nonce, so wrapping the same value twice yields different output.
func (w *Wrapper) Wrap(purpose, owner string, plaintext []byte) (Wrapped, error) {
	label := Label(purpose, owner)

	salt := make([]byte, wrapSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("wrap %s: %w", label, err)
	}
	aead, err := w.aead(salt, label)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wrap %s: %w", label, err)
	}

	buf := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = aead.Seal(buf, nonce, plaintext, []byte(label))

	return Wrapped(wrapVersion + base64.RawURLEncoding.EncodeToString(buf)), nil
}

// Unwrap reverses Wrap. A label mismatch, tampering or a different master
// secret all fail with common.ErrAuthentication.
func (w *Wrapper) Unwrap(purpose, owner string, v Wrapped) ([]byte, error) {
	label := Label(purpose, owner)

	s, ok := strings.CutPrefix(string(v), wrapVersion)
	if !ok {
		return nil, fmt.Errorf("unwrap %s: %w: unknown version", label, common.ErrMalformed)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("unwrap %s: %w: %v", label, common.ErrMalformed, err)
	}
	if len(raw) < wrapSaltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("unwrap %s: %w: too short", label, common.ErrMalformed)
	}

	salt := raw[:wrapSaltSize]
	aead, err := w.aead(salt, label)
	if err != nil {
		return nil, err
	}
	nonce := raw[wrapSaltSize : wrapSaltSize+aead.NonceSize()]
	ct := raw[wrapSaltSize+aead.NonceSize():]

	pt, err := aead.Open(nil, nonce, ct, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("unwrap %s: %w", label, common.ErrAuthentication)
	}
	return pt, nil
}

// Close wipes the wrapping root.
func (w *Wrapper) Close() {
	w.root.Wipe()
}

func (w *Wrapper) aead(salt []byte, label string) (cipher.AEAD, error) {
	root := w.root.Bytes()
	if len(root) == 0 {
		return nil, errors.New("wrapper closed")
	}
	key, err := DeriveSubkey(root, salt, label, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)
	return chacha20poly1305.NewX(key)
}
