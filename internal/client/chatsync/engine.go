// Package chatsync runs the background synchronization of one active chat.
//
// An Engine owns a bounded queue of outgoing texts. Each cycle drains the
// queue into the chat's notes, sends every unsent note through the outbound
// transport, polls the inbound transport for replies and then waits for
// either the backoff interval or a new enqueue:
//
//	Idle -> Draining -> Polling -> Waiting -> Idle ... -> Stopped
//
// Notes whose send fails stay unsent in the store and are picked up again by
// the next cycle's rescan; the queue itself is never used for retries.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/logging"
	"github.com/francitoshi/lettera/internal/mailx"
	"github.com/francitoshi/lettera/internal/pgpx"
)

// State is the phase the engine is in.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StatePolling
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StatePolling:
		return "polling"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Crypto is the OpenPGP side the engine needs. pgpx.Engine implements it.
type Crypto interface {
	EncryptAndSign(plaintext []byte, signerKeyID string, passphrase []byte, recipientKeyIDs ...string) ([]byte, error)
	DecryptAndVerify(ciphertext []byte, recipientKeyID string, passphrase []byte) ([]byte, string, error)
}

// NoteStore is the notes collection of the chat. store.Notes implements it.
type NoteStore interface {
	Add(ctx context.Context, note *models.Note) (int64, error)
	List(ctx context.Context) ([]models.Note, error)
	Unsent(ctx context.Context) ([]models.Note, error)
	MarkSent(ctx context.Context, t, sentAt int64) error
	LastReceived(ctx context.Context) (int64, error)
}

// Config tunes the queue and the backoff.
type Config struct {
	QueueCapacity int
	BaseInterval  time.Duration
	MaxInterval   time.Duration
}

const (
	DefaultQueueCapacity = 8
	DefaultBaseInterval  = 5 * time.Second
	DefaultMaxInterval   = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxInterval < c.BaseInterval {
		c.MaxInterval = c.BaseInterval
	}
	return c
}

// Deps are the collaborators of one engine.
type Deps struct {
	Chat     models.Chat
	Notes    NoteStore
	Commit   func(ctx context.Context) error
	Crypto   Crypto
	Outbound mailx.Outbound
	Inbound  mailx.Inbound

	// KeyPassphrase returns a fresh copy of the signing key passphrase; the
	// engine wipes it after each use. Nil means the key is not protected.
	KeyPassphrase func() ([]byte, error)

	Log logging.Logger
	Now func() time.Time
}

// Engine synchronizes one chat. RunCycle may be driven directly; Run loops it
// until Stop.
type Engine struct {
	cfg  Config
	deps Deps
	log  logging.Logger

	queue    chan string
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	state    atomic.Int32

	// owned by the goroutine running cycles
	interval  time.Duration
	watermark time.Time
	seen      map[string]struct{}
	loaded    bool
	held      []string // dequeued texts not yet persisted
}

func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Commit == nil {
		deps.Commit = func(context.Context) error { return nil }
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.With("chat", deps.Chat.ID),
		queue:    make(chan string, cfg.QueueCapacity),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: cfg.BaseInterval,
		seen:     make(map[string]struct{}),
	}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Enqueue hands text to the worker. It blocks while the queue is full and
// fails with common.ErrStopped once the engine is stopped.
func (e *Engine) Enqueue(ctx context.Context, text string) error {
	select {
	case <-e.stop:
		return common.ErrStopped
	default:
	}
	select {
	case e.queue <- text:
		e.signal()
		return nil
	case <-e.stop:
		return common.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop asks Run to return. A send in progress completes first.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Run cycles until Stop or ctx cancellation and then closes both
// transports. It must be called at most once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.setState(StateStopped)
	defer e.closeTransports(ctx)

	e.log.Info(ctx, "chat sync started")
	for {
		if e.stopped() {
			e.log.Info(ctx, "chat sync stopped")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sent := e.RunCycle(ctx)
		e.interval = e.next(sent)

		if !e.wait(ctx, e.interval) {
			e.log.Info(ctx, "chat sync stopped")
			if e.stopped() {
				return nil
			}
			return ctx.Err()
		}
	}
}

// next resets the interval when something went out and doubles it
// otherwise, up to MaxInterval.
func (e *Engine) next(sent int) time.Duration {
	if sent > 0 {
		return e.cfg.BaseInterval
	}
	d := e.interval * 2
	if d > e.cfg.MaxInterval || d <= 0 {
		d = e.cfg.MaxInterval
	}
	return d
}

// wait reports false when the engine should exit.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	e.setState(StateWaiting)
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-e.wake:
	case <-e.stop:
		return false
	case <-ctx.Done():
		return false
	}
	e.setState(StateIdle)
	return true
}

// RunCycle performs one drain, send and poll pass and returns the number of
// notes sent. Failures are logged, never returned. Once Stop is called only
// the send in progress completes; the rest of the cycle is skipped.
func (e *Engine) RunCycle(ctx context.Context) int {
	e.setState(StateDraining)
	defer e.setState(StateIdle)

	if err := e.load(ctx); err != nil {
		e.log.Error(ctx, "load chat history", "error", err)
		return 0
	}

	e.drain(ctx)
	sent := e.sendUnsent(ctx)
	if e.stopped() {
		return sent
	}

	e.setState(StatePolling)
	e.poll(ctx)

	return sent
}

// load seeds the watermark and the seen set from stored incoming notes.
func (e *Engine) load(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	last, err := e.deps.Notes.LastReceived(ctx)
	if err != nil {
		return err
	}
	all, err := e.deps.Notes.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range all {
		if !n.Outgoing() && n.MessageID != "" {
			e.seen[n.MessageID] = struct{}{}
		}
	}
	if last > 0 {
		e.watermark = time.UnixMilli(last)
	}
	e.loaded = true
	return nil
}

// drain persists queued texts in order. A text that fails to persist is
// held, with everything behind it, and tried first on the next cycle. At
// most QueueCapacity texts are held, so Enqueue keeps blocking meanwhile.
func (e *Engine) drain(ctx context.Context) {
	for more := len(e.held) < e.cfg.QueueCapacity; more; {
		select {
		case text := <-e.queue:
			e.held = append(e.held, text)
			more = len(e.held) < e.cfg.QueueCapacity
		default:
			more = false
		}
	}

	added := 0
	for len(e.held) > 0 {
		note := models.NewOutgoing(e.deps.Chat, e.held[0])
		if _, err := e.deps.Notes.Add(ctx, &note); err != nil {
			e.log.Warn(ctx, "persist outgoing note, will retry", "held", len(e.held), "length", len(e.held[0]), "error", err)
			break
		}
		e.held[0] = ""
		e.held = e.held[1:]
		added++
	}
	if len(e.held) == 0 {
		e.held = nil
	}

	if added > 0 {
		if err := e.deps.Commit(ctx); err != nil {
			e.log.Error(ctx, "commit outgoing notes", "error", err)
		}
		e.log.Debug(ctx, "drained queue", "notes", added)
	}
}

func (e *Engine) sendUnsent(ctx context.Context) int {
	unsent, err := e.deps.Notes.Unsent(ctx)
	if err != nil {
		e.log.Error(ctx, "list unsent notes", "error", err)
		return 0
	}

	sent := 0
	for _, note := range unsent {
		if e.stopped() {
			e.log.Debug(ctx, "stop requested, leaving notes unsent", "next", note.Time)
			break
		}
		if err := e.send(ctx, note); err != nil {
			var te *transportError
			if errors.As(err, &te) {
				e.log.Warn(ctx, "send failed, will retry", "note", note.Time, "error", err)
				break
			}
			e.log.Error(ctx, "send note", "note", note.Time, "error", err)
			continue
		}
		sent++
	}
	return sent
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type storeError struct{ err error }

func (e *storeError) Error() string { return "store: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func (e *Engine) passphrase() ([]byte, error) {
	if e.deps.KeyPassphrase == nil {
		return nil, nil
	}
	return e.deps.KeyPassphrase()
}

func (e *Engine) send(ctx context.Context, note models.Note) error {
	chat := e.deps.Chat

	pass, err := e.passphrase()
	if err != nil {
		return fmt.Errorf("signing key passphrase: %w", err)
	}
	plain := []byte(note.Text)
	blob, err := e.deps.Crypto.EncryptAndSign(plain, note.KeyFrom, pass, note.KeyTo)
	common.WipeByteArray(pass)
	common.WipeByteArray(plain)
	if err != nil {
		return fmt.Errorf("encrypt note: %w", err)
	}

	out := e.deps.Outbound
	if !out.IsConnected() {
		if err := out.Connect(ctx); err != nil {
			return &transportError{fmt.Errorf("connect outbound: %w", err)}
		}
	}
	msg := mailx.Message{
		From:    note.From,
		To:      note.To,
		Subject: chat.Subject(),
		Body:    blob,
	}
	if err := out.Send(ctx, msg); err != nil {
		return &transportError{fmt.Errorf("send: %w", err)}
	}

	if err := e.deps.Notes.MarkSent(ctx, note.Time, e.deps.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := e.deps.Commit(ctx); err != nil {
		return fmt.Errorf("commit sent note: %w", err)
	}
	e.log.Debug(ctx, "note sent", "note", note.Time)
	return nil
}

func (e *Engine) poll(ctx context.Context) {
	in := e.deps.Inbound
	if in == nil {
		return
	}
	if !in.IsConnected() {
		if err := in.Connect(ctx); err != nil {
			e.log.Warn(ctx, "connect inbound", "error", err)
			return
		}
	}

	msgs, err := in.Messages(ctx, e.watermark, e.deps.Chat.ReplySubject())
	if err != nil {
		e.log.Warn(ctx, "poll inbound", "error", err)
		return
	}

	mark := e.watermark
	received := 0
	retry := false
	for _, m := range msgs {
		if m.Date.After(mark) {
			mark = m.Date
		}
		if m.MessageID != "" {
			if _, ok := e.seen[m.MessageID]; ok {
				continue
			}
		}
		if err := e.receive(ctx, m); err != nil {
			var se *storeError
			if errors.As(err, &se) {
				// not marked seen: the next poll fetches it again
				e.log.Error(ctx, "store inbound message", "message_id", m.MessageID, "error", err)
				retry = true
				continue
			}
			e.log.Warn(ctx, "drop inbound message", "message_id", m.MessageID, "error", err)
		} else {
			received++
		}
		if m.MessageID != "" {
			e.seen[m.MessageID] = struct{}{}
		}
	}
	if received > 0 {
		if err := e.deps.Commit(ctx); err != nil {
			e.log.Error(ctx, "commit received notes", "error", err)
		}
		e.log.Debug(ctx, "received notes", "notes", received)
	}
	if !retry {
		e.watermark = mark
	}
}

func (e *Engine) receive(ctx context.Context, m mailx.Message) error {
	chat := e.deps.Chat

	pass, err := e.passphrase()
	if err != nil {
		return fmt.Errorf("signing key passphrase: %w", err)
	}
	plain, signer, err := e.deps.Crypto.DecryptAndVerify(m.Body, chat.AccountKeyID, pass)
	common.WipeByteArray(pass)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	defer common.WipeByteArray(plain)
	if !pgpx.SameKey(signer, chat.FriendKeyID) {
		return fmt.Errorf("signed by %s, want %s: %w", signer, chat.FriendKeyID, pgpx.ErrBadSignature)
	}

	recv := m.Date
	if recv.IsZero() {
		recv = e.deps.Now()
	}
	note := models.Note{
		SessionID: chat.ID,
		From:      chat.FriendAddress,
		To:        chat.AccountAddress,
		KeyFrom:   chat.FriendKeyID,
		KeyTo:     chat.AccountKeyID,
		Received:  recv.UnixMilli(),
		Text:      string(plain),
		MessageID: m.MessageID,
	}
	if _, err := e.deps.Notes.Add(ctx, &note); err != nil {
		return &storeError{err}
	}
	return nil
}

func (e *Engine) closeTransports(ctx context.Context) {
	if err := e.deps.Outbound.Close(); err != nil {
		e.log.Debug(ctx, "close outbound", "error", err)
	}
	if e.deps.Inbound != nil {
		if err := e.deps.Inbound.Close(); err != nil {
			e.log.Debug(ctx, "close inbound", "error", err)
		}
	}
}
