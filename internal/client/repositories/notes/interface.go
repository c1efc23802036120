// Package notes persists the encrypted notes of each chat. The chat column
// is a keyed digest of the chat id; pending marks outgoing notes that have
// not been sent yet and drives the retry scan.
package notes

import (
	"context"
)

// Row is one stored note.
type Row struct {
	Time    int64
	Pending bool
	Value   []byte
}

type Repository interface {
	Upsert(ctx context.Context, chat []byte, row Row) error
	// Get returns (nil, nil) when the note is absent.
	Get(ctx context.Context, chat []byte, time int64) (*Row, error)
	// List returns the notes of chat ordered by time.
	List(ctx context.Context, chat []byte) ([]Row, error)
	// ListPending returns the pending notes of chat ordered by time.
	ListPending(ctx context.Context, chat []byte) ([]Row, error)
	// MaxTime is the largest time key in chat, or 0 when empty.
	MaxTime(ctx context.Context, chat []byte) (int64, error)
	// DeleteChat removes every note of chat.
	DeleteChat(ctx context.Context, chat []byte) error
}
