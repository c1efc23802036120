// Package common defines sentinel errors and small byte helpers shared by
// the lettera client packages. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound    = errors.New("not found")
	ErrAlreadySent = errors.New("note already marked as sent")

	// Unlock errors: the passphrase (or a key derived from it) does not
	// open the keystore or the record store.
	ErrCannotUnlock = errors.New("cannot unlock: wrong passphrase or corrupted data")

	// Crypto errors.
	ErrAuthentication = errors.New("authentication failed")
	ErrMalformed      = errors.New("malformed ciphertext")

	// Configuration errors (derivation parameters file and runtime config).
	ErrConfig = errors.New("configuration error")

	// Session / chat flow.
	ErrStopped      = errors.New("chat stopped")
	ErrClosed       = errors.New("session closed")
	ErrChatRunning  = errors.New("chat already running")
	ErrChatNotFound = errors.New("chat not running")
	ErrWeakPass     = errors.New("passphrase too short")
)
