package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/francitoshi/lettera/internal/client/chatsync"
	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
)

// ChatHandle is a running chat synchronization.
type ChatHandle struct {
	Chat models.Chat
	// Drift lists the fields where the chat no longer matches its account
	// or friend. The chat runs with its stored values regardless.
	Drift models.Diff

	engine   *chatsync.Engine
	cancel   context.CancelFunc
	password []byte
	once     sync.Once
}

func (h *ChatHandle) ID() string { return h.Chat.ID }

func (h *ChatHandle) State() chatsync.State { return h.engine.State() }

// Done is closed once the synchronization has stopped.
func (h *ChatHandle) Done() <-chan struct{} { return h.engine.Done() }

func (h *ChatHandle) stop() {
	h.once.Do(func() {
		h.engine.Stop()
		<-h.engine.Done()
		h.cancel()
		common.WipeByteArray(h.password)
	})
}

// StartChat starts synchronizing chatID in the background. Drift is
// reported on the handle and logged, not corrected.
func (s *Session) StartChat(ctx context.Context, chatID string) (*ChatHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrClosed
	}
	if _, ok := s.chats[chatID]; ok {
		return nil, fmt.Errorf("%s: %w", chatID, common.ErrChatRunning)
	}

	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	drift, err := s.drift(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(drift) > 0 {
		s.log.Warn(ctx, "chat differs from its account or friend", "chat", chatID, "fields", len(drift))
	}

	a, err := s.store.GetAccount(ctx, c.AccountName)
	if err != nil {
		return nil, err
	}
	password, err := s.unwrap(cryptox.PurposeEmail, a.Name, a.EmailPassword)
	if err != nil {
		return nil, err
	}
	out, in, err := s.opts.Transports(a, password, s.opts.TransportTimeout)
	if err != nil {
		common.WipeByteArray(password)
		return nil, fmt.Errorf("build transports for %s: %w", a.Name, err)
	}

	name, keyPass := a.Name, a.KeyPassphrase
	engine := chatsync.New(s.opts.Sync, chatsync.Deps{
		Chat:     c,
		Notes:    s.store.Notes(c.ID),
		Commit:   s.store.Commit,
		Crypto:   s.crypto,
		Outbound: out,
		Inbound:  in,
		KeyPassphrase: func() ([]byte, error) {
			return s.unwrap(cryptox.PurposeSigningKey, name, keyPass)
		},
		Log: s.log,
		Now: s.opts.Now,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &ChatHandle{Chat: c, Drift: drift, engine: engine, cancel: cancel, password: password}
	s.chats[chatID] = h

	go func() {
		if err := engine.Run(runCtx); err != nil {
			s.log.Debug(runCtx, "chat sync ended", "chat", chatID, "error", err)
		}
	}()
	return h, nil
}

// unwrap returns nil for credentials never set. Authentication failures
// are reported as common.ErrCannotUnlock.
func (s *Session) unwrap(purpose, owner string, w cryptox.Wrapped) ([]byte, error) {
	if w == "" {
		return nil, nil
	}
	pt, err := s.wrapper.Unwrap(purpose, owner, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCannotUnlock, err)
	}
	return pt, nil
}

// EnqueueOutgoing queues text on a running chat. It blocks while the chat's
// queue is full.
func (s *Session) EnqueueOutgoing(ctx context.Context, chatID, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return common.ErrClosed
	}
	h, ok := s.chats[chatID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", chatID, common.ErrChatNotFound)
	}
	return h.engine.Enqueue(ctx, text)
}

// StopChat stops h and waits for its worker to exit. Notes still unsent are
// picked up the next time the chat starts.
func (s *Session) StopChat(h *ChatHandle) error {
	if h == nil {
		return nil
	}
	s.mu.Lock()
	if cur, ok := s.chats[h.ID()]; ok && cur == h {
		delete(s.chats, h.ID())
	}
	s.mu.Unlock()

	h.stop()
	return nil
}

// Running returns the handle of chatID if it is running.
func (s *Session) Running(chatID string) (*ChatHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.chats[chatID]
	return h, ok
}
