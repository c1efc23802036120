package cli

import (
	"context"
	"errors"
	"fmt"
)

// DeleteChat removes chat id and its history. With no id the active chat
// is meant; it is closed first.
func (a *App) DeleteChat(ctx context.Context, id string) error {
	if id == "" {
		h := a.activeChat()
		if h == nil {
			return errors.New("usage: /delete-chat <id>")
		}
		id = h.ID()
	}
	ok, err := a.confirm(fmt.Sprintf("Delete chat %s and its history?", id))
	if err != nil || !ok {
		return err
	}
	if h := a.activeChat(); h != nil && h.ID() == id {
		if err := a.CloseChat(ctx); err != nil {
			return err
		}
	}
	if err := a.session.DeleteChat(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, styleSuccess.Sprintf("chat %s deleted", id))
	return nil
}

// DeleteAccount removes an account and every chat built on it.
func (a *App) DeleteAccount(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: /delete-account <name>")
	}
	return a.deleteOwner(ctx, "account", name, func() error { return a.session.DeleteAccount(ctx, name) },
		func(accountName, _ string) bool { return accountName == name })
}

// DeleteFriend removes a friend and every chat with them.
func (a *App) DeleteFriend(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: /delete-friend <name>")
	}
	return a.deleteOwner(ctx, "friend", name, func() error { return a.session.DeleteFriend(ctx, name) },
		func(_, friendName string) bool { return friendName == name })
}

func (a *App) deleteOwner(ctx context.Context, what, name string, del func() error, owns func(account, friend string) bool) error {
	ok, err := a.confirm(fmt.Sprintf("Delete %s %s and all of its chats?", what, name))
	if err != nil || !ok {
		return err
	}
	if h := a.activeChat(); h != nil && owns(h.Chat.AccountName, h.Chat.FriendName) {
		if err := a.CloseChat(ctx); err != nil {
			return err
		}
	}
	if err := del(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, styleSuccess.Sprintf("%s %s deleted", what, name))
	return nil
}

func (a *App) confirm(prompt string) (bool, error) {
	return GetYesNo(a.reader, prompt, false, a.out)
}
