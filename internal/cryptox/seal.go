package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/francitoshi/lettera/internal/common"
)

// Seal encrypts plaintext with AES-GCM under key (16, 24 or 32 bytes),
// binding aad. The output is nonce || ciphertext.
func Seal(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. Any mismatch of key, aad or content yields
// common.ErrAuthentication.
func Open(blob, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize()+gcm.Overhead() {
		return nil, common.ErrMalformed
	}
	pt, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], aad)
	if err != nil {
		return nil, common.ErrAuthentication
	}
	return pt, nil
}

// SealJSON marshals entry to JSON and seals it. The plaintext JSON is wiped
// before returning.
func SealJSON(entry any, key, aad []byte) ([]byte, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	defer common.WipeByteArray(plaintext)
	return Seal(plaintext, key, aad)
}

// OpenJSON opens blob and unmarshals it into v.
func OpenJSON(blob, key, aad []byte, v any) error {
	plaintext, err := Open(blob, key, aad)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
