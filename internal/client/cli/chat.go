package cli

import (
	"context"
	"errors"
	"fmt"
)

// Chat opens chat id, or lets the user pick one. With no chats at all a new
// one is built from a chosen account and friend. A chat already active is
// stopped first.
func (a *App) Chat(ctx context.Context, id string) error {
	if id == "" {
		var err error
		if id, err = a.pickChat(ctx); err != nil {
			return err
		}
	}

	if cur := a.activeChat(); cur != nil {
		if cur.ID() == id {
			return nil
		}
		if err := a.CloseChat(ctx); err != nil {
			return err
		}
	}

	h, err := a.session.StartChat(ctx, id)
	if err != nil {
		return err
	}
	if len(h.Drift) > 0 {
		fmt.Fprintln(a.out, styleWarning.Sprintf("warning: chat %s no longer matches its account or friend", id))
		for _, ch := range h.Drift {
			fmt.Fprintln(a.out, styleWarning.Sprintf("  %s: %s >> %s", ch.Field, ch.Old, ch.New))
		}
		fmt.Fprintln(a.out, styleWarning.Sprint("  run /setup-account or /setup-friend again to accept the new values"))
	}

	notes, err := a.session.Notes(ctx, id)
	if err != nil {
		_ = a.session.StopChat(h)
		return err
	}
	var last int64
	for _, n := range notes {
		last = n.Time
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.active = h
	a.lastShown = last
	a.stopWatch = cancel
	a.watchDone = done
	a.mu.Unlock()

	go a.watchNotes(watchCtx, id, a.watchInterval, done)
	fmt.Fprintf(a.out, "chat %s open, %d notes\n", styleHighlight.Sprint(id), len(notes))
	return nil
}

func (a *App) pickChat(ctx context.Context) (string, error) {
	chats, err := a.session.ListChats(ctx)
	if err != nil {
		return "", err
	}
	switch len(chats) {
	case 0:
		return a.newChat(ctx)
	case 1:
		return chats[0].ID, nil
	}
	for i, c := range chats {
		fmt.Fprintf(a.out, "%d) %s\n", i+1, c.ID)
	}
	n, err := GetNumber(a.reader, "Choose a chat", 1, 1, len(chats), a.out)
	if err != nil {
		return "", err
	}
	return chats[n-1].ID, nil
}

func (a *App) newChat(ctx context.Context) (string, error) {
	accounts, err := a.session.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	friends, err := a.session.ListFriends(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 || len(friends) == 0 {
		return "", errors.New("set up an account and a friend first")
	}

	acc := accounts[0]
	if len(accounts) > 1 {
		for i, x := range accounts {
			fmt.Fprintf(a.out, "%d) %s <%s>\n", i+1, x.Name, x.Address)
		}
		n, err := GetNumber(a.reader, "Choose an account", 1, 1, len(accounts), a.out)
		if err != nil {
			return "", err
		}
		acc = accounts[n-1]
	}
	f := friends[0]
	if len(friends) > 1 {
		for i, x := range friends {
			fmt.Fprintf(a.out, "%d) %s <%s>\n", i+1, x.Name, x.Address)
		}
		n, err := GetNumber(a.reader, "Choose a friend", 1, 1, len(friends), a.out)
		if err != nil {
			return "", err
		}
		f = friends[n-1]
	}

	c, err := a.session.BuildChat(ctx, acc.Name, f.Name)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// History prints every note of the active chat.
func (a *App) History(ctx context.Context) error {
	h := a.activeChat()
	if h == nil {
		return errNoChat
	}
	notes, err := a.session.Notes(ctx, h.ID())
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Fprintln(a.out, formatNote(n))
	}
	return nil
}

// Send queues text on the active chat. It blocks while the chat's queue
// is full.
func (a *App) Send(ctx context.Context, text string) error {
	h := a.activeChat()
	if h == nil {
		return errNoChat
	}
	return a.session.EnqueueOutgoing(ctx, h.ID(), text)
}

// CloseChat stops the active chat, if any.
func (a *App) CloseChat(ctx context.Context) error {
	a.mu.Lock()
	h, cancel, done := a.active, a.stopWatch, a.watchDone
	a.active, a.stopWatch, a.watchDone = nil, nil, nil
	a.mu.Unlock()

	if h == nil {
		return nil
	}
	cancel()
	<-done
	return a.session.StopChat(h)
}

