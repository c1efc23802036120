package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/client/repositories/notes"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/francitoshi/lettera/internal/dbx"
)

// Notes is the note collection of one chat. Handles are created lazily and
// share the store mutex.
type Notes struct {
	s      *Store
	chatID string
	chat   []byte
	last   int64
}

// Notes returns the note collection of chatID, creating it on first use.
func (s *Store) Notes(chatID string) *Notes {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[chatID]; ok {
		return n
	}
	n := &Notes{s: s, chatID: chatID, chat: s.digest(collNotes, chatID)}
	s.notes[chatID] = n
	return n
}

func notesRepoFor(db dbx.DBTX) *notes.SQLiteRepository {
	return notes.NewSQLiteRepository(db)
}

func (n *Notes) aad(t int64) []byte {
	return []byte(collNotes + "/" + n.chatID + "/" + strconv.FormatInt(t, 10))
}

// Add stores note under a fresh time key and returns that key. The key is
// note.Time when set, otherwise the current time in milliseconds, bumped as
// needed so keys within the chat strictly increase.
func (n *Notes) Add(ctx context.Context, note *models.Note) (int64, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if n.s.closed {
		return 0, common.ErrClosed
	}

	if n.last == 0 {
		latest, err := notesRepoFor(n.s.pending.Reader()).MaxTime(ctx, n.chat)
		if err != nil {
			return 0, err
		}
		n.last = latest
	}
	t := note.Time
	if t == 0 {
		t = n.s.now().UnixMilli()
	}
	if t <= n.last {
		t = n.last + 1
	}
	note.Time = t
	if note.SessionID == "" {
		note.SessionID = n.chatID
	}

	if err := n.put(ctx, *note); err != nil {
		return 0, err
	}
	n.last = t
	return t, nil
}

// Put stores note at exactly note.Time, replacing any note there.
func (n *Notes) Put(ctx context.Context, note models.Note) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if n.s.closed {
		return common.ErrClosed
	}
	if note.Time <= 0 {
		return fmt.Errorf("put note: time key must be positive")
	}
	if note.Time > n.last {
		n.last = note.Time
	}
	return n.put(ctx, note)
}

func (n *Notes) put(ctx context.Context, note models.Note) error {
	blob, err := cryptox.SealJSON(note, n.s.encKey, n.aad(note.Time))
	if err != nil {
		return fmt.Errorf("seal note: %w", err)
	}
	w, err := n.s.pending.Writer(ctx)
	if err != nil {
		return err
	}
	return notesRepoFor(w).Upsert(ctx, n.chat, notes.Row{Time: note.Time, Pending: note.Pending(), Value: blob})
}

// Get returns common.ErrNotFound for unknown times.
func (n *Notes) Get(ctx context.Context, t int64) (models.Note, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	return n.get(ctx, t)
}

func (n *Notes) get(ctx context.Context, t int64) (models.Note, error) {
	if n.s.closed {
		return models.Note{}, common.ErrClosed
	}
	row, err := notesRepoFor(n.s.pending.Reader()).Get(ctx, n.chat, t)
	if err != nil {
		return models.Note{}, err
	}
	if row == nil {
		return models.Note{}, fmt.Errorf("note %d in %s: %w", t, n.chatID, common.ErrNotFound)
	}
	return n.open(*row)
}

func (n *Notes) open(row notes.Row) (models.Note, error) {
	var note models.Note
	if err := cryptox.OpenJSON(row.Value, n.s.encKey, n.aad(row.Time), &note); err != nil {
		return models.Note{}, fmt.Errorf("open note %d: %w", row.Time, err)
	}
	return note, nil
}

// List returns every note of the chat ordered by time.
func (n *Notes) List(ctx context.Context) ([]models.Note, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if n.s.closed {
		return nil, common.ErrClosed
	}
	rows, err := notesRepoFor(n.s.pending.Reader()).List(ctx, n.chat)
	if err != nil {
		return nil, err
	}
	return n.openAll(rows)
}

// Unsent returns the outgoing notes not yet marked sent, ordered by time.
func (n *Notes) Unsent(ctx context.Context) ([]models.Note, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if n.s.closed {
		return nil, common.ErrClosed
	}
	rows, err := notesRepoFor(n.s.pending.Reader()).ListPending(ctx, n.chat)
	if err != nil {
		return nil, err
	}
	return n.openAll(rows)
}

func (n *Notes) openAll(rows []notes.Row) ([]models.Note, error) {
	out := make([]models.Note, 0, len(rows))
	for _, row := range rows {
		note, err := n.open(row)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, nil
}

// MarkSent records the send time of an outgoing note. It succeeds exactly
// once per note; later calls fail with common.ErrAlreadySent.
func (n *Notes) MarkSent(ctx context.Context, t, sentAt int64) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	note, err := n.get(ctx, t)
	if err != nil {
		return err
	}
	if note.Sent != 0 {
		return fmt.Errorf("note %d in %s: %w", t, n.chatID, common.ErrAlreadySent)
	}
	if sentAt <= 0 {
		sentAt = n.s.now().UnixMilli()
	}
	note.Sent = sentAt
	return n.put(ctx, note)
}

// LastReceived is the largest Received time among incoming notes, or 0.
func (n *Notes) LastReceived(ctx context.Context) (int64, error) {
	all, err := n.List(ctx)
	if err != nil {
		return 0, err
	}
	var last int64
	for _, note := range all {
		if note.Received > last {
			last = note.Received
		}
	}
	return last, nil
}
