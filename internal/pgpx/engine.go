// Package pgpx implements the OpenPGP side of lettera: encrypting and
// signing outgoing notes, decrypting and verifying incoming ones, and
// listing the keys available in the local keyrings.
//
// Keyrings are ASCII-armored files (secring.asc, pubring.asc) read on every
// call, so keys imported with external tools are picked up without restart.
package pgpx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrNotSigned    = errors.New("message is not signed")
	ErrBadSignature = errors.New("bad signature")
	ErrKeyLocked    = errors.New("private key is locked")
)

const messageType = "PGP MESSAGE"

// Source supplies keyrings. FileSource reads armored files; static lists
// are used in tests.
type Source interface {
	SecretKeyring() (openpgp.EntityList, error)
	PublicKeyring() (openpgp.EntityList, error)
}

// Engine performs OpenPGP operations against a Source.
type Engine struct {
	src Source
}

func New(src Source) *Engine {
	return &Engine{src: src}
}

// EncryptAndSign encrypts plaintext to every recipient key (and to the
// signer, so the sender can read its own notes) and signs it with the
// signer's private key unlocked by passphrase. The output is armored.
func (e *Engine) EncryptAndSign(plaintext []byte, signerKeyID string, passphrase []byte, recipientKeyIDs ...string) ([]byte, error) {
	signer, err := e.unlockedSecret(signerKeyID, passphrase)
	if err != nil {
		return nil, err
	}

	pub, err := e.src.PublicKeyring()
	if err != nil {
		return nil, fmt.Errorf("read public keyring: %w", err)
	}
	to := []*openpgp.Entity{signer}
	for _, id := range recipientKeyIDs {
		r := findEntity(pub, id)
		if r == nil {
			return nil, fmt.Errorf("recipient %s: %w", id, ErrKeyNotFound)
		}
		to = append(to, r)
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, err
	}
	w, err := openpgp.Encrypt(aw, to, signer, &openpgp.FileHints{IsBinary: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecryptAndVerify decrypts an armored message addressed to recipientKeyID
// and checks its signature against the public keyring. It returns the
// plaintext and the long key id of the signer.
func (e *Engine) DecryptAndVerify(ciphertext []byte, recipientKeyID string, passphrase []byte) ([]byte, string, error) {
	me, err := e.unlockedSecret(recipientKeyID, passphrase)
	if err != nil {
		return nil, "", err
	}
	pub, err := e.src.PublicKeyring()
	if err != nil {
		return nil, "", fmt.Errorf("read public keyring: %w", err)
	}
	ring := append(openpgp.EntityList{me}, pub...)

	block, err := armor.Decode(bytes.NewReader(ciphertext))
	if err != nil {
		return nil, "", fmt.Errorf("dearmor: %w", err)
	}
	prompt := func([]openpgp.Key, bool) ([]byte, error) { return nil, ErrKeyLocked }
	md, err := openpgp.ReadMessage(block.Body, ring, prompt, nil)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt: %w", err)
	}
	if !md.IsSigned {
		return nil, "", ErrNotSigned
	}
	if md.SignedBy == nil {
		return nil, "", fmt.Errorf("%w: unknown signer %X", ErrBadSignature, md.SignedByKeyId)
	}
	if md.SignatureError != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadSignature, md.SignatureError)
	}
	return plaintext, md.SignedBy.Entity.PrimaryKey.KeyIdString(), nil
}

func (e *Engine) unlockedSecret(keyID string, passphrase []byte) (*openpgp.Entity, error) {
	sec, err := e.src.SecretKeyring()
	if err != nil {
		return nil, fmt.Errorf("read secret keyring: %w", err)
	}
	ent := findEntity(sec, keyID)
	if ent == nil || ent.PrivateKey == nil {
		return nil, fmt.Errorf("secret key %s: %w", keyID, ErrKeyNotFound)
	}
	if err := unlock(ent.PrivateKey, passphrase); err != nil {
		return nil, err
	}
	for _, sub := range ent.Subkeys {
		if err := unlock(sub.PrivateKey, passphrase); err != nil {
			return nil, err
		}
	}
	return ent, nil
}

func unlock(pk *packet.PrivateKey, passphrase []byte) error {
	if pk == nil || !pk.Encrypted {
		return nil
	}
	if err := pk.Decrypt(passphrase); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyLocked, err)
	}
	return nil
}

// findEntity matches keyID (short, long or full fingerprint, any case)
// against the primary key and subkeys.
func findEntity(list openpgp.EntityList, keyID string) *openpgp.Entity {
	id := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(keyID), "0x"))
	if id == "" {
		return nil
	}
	for _, ent := range list {
		if matches(ent.PrimaryKey, id) {
			return ent
		}
		for _, sub := range ent.Subkeys {
			if matches(sub.PublicKey, id) {
				return ent
			}
		}
	}
	return nil
}

func matches(pk *packet.PublicKey, id string) bool {
	if pk == nil {
		return false
	}
	return strings.HasSuffix(fmt.Sprintf("%X", pk.Fingerprint[:]), id)
}

// SameKey reports whether two key ids refer to the same key, comparing the
// shorter one as a suffix of the longer.
func SameKey(a, b string) bool {
	a = strings.ToUpper(strings.TrimPrefix(a, "0x"))
	b = strings.ToUpper(strings.TrimPrefix(b, "0x"))
	if a == "" || b == "" {
		return false
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	return strings.HasSuffix(a, b)
}

// FileSource reads armored keyrings from disk. A missing file is an empty
// keyring.
type FileSource struct {
	Secring string
	Pubring string
}

func (f FileSource) SecretKeyring() (openpgp.EntityList, error) { return readArmored(f.Secring) }
func (f FileSource) PublicKeyring() (openpgp.EntityList, error) { return readArmored(f.Pubring) }

func readArmored(path string) (openpgp.EntityList, error) {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return openpgp.ReadArmoredKeyRing(fh)
}

// StaticSource serves fixed keyrings.
type StaticSource struct {
	Secret openpgp.EntityList
	Public openpgp.EntityList
}

func (s StaticSource) SecretKeyring() (openpgp.EntityList, error) { return s.Secret, nil }
func (s StaticSource) PublicKeyring() (openpgp.EntityList, error) { return s.Public, nil }
