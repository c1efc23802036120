package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/client/services"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/pgpx"
)

func (a *App) ListAccounts(ctx context.Context) error {
	accounts, err := a.session.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(a.out, "no accounts")
		return nil
	}
	for _, acc := range accounts {
		fmt.Fprintf(a.out, "%s <%s> key %s smtp %s:%d imap %s:%d\n",
			styleHighlight.Sprint(acc.Name), acc.Address, acc.KeyID,
			acc.SMTPHost, acc.SMTPPort, acc.IMAPHost, acc.IMAPPort)
	}
	return nil
}

func (a *App) ListFriends(ctx context.Context) error {
	friends, err := a.session.ListFriends(ctx)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		fmt.Fprintln(a.out, "no friends")
		return nil
	}
	for _, f := range friends {
		fmt.Fprintf(a.out, "%s <%s> key %s\n", styleHighlight.Sprint(f.Name), f.Address, f.KeyID)
	}
	return nil
}

func (a *App) ListChats(ctx context.Context) error {
	chats, err := a.session.ListChats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(a.out, "no chats")
		return nil
	}
	for _, c := range chats {
		fmt.Fprintf(a.out, "%s %s <%s> -> %s <%s>\n", styleHighlight.Sprint(c.ID),
			c.AccountName, c.AccountAddress, c.FriendName, c.FriendAddress)
	}
	return nil
}

// SetupAccount asks for an account and its credentials. Chats of the
// account are rebuilt so they accept the new values.
func (a *App) SetupAccount(ctx context.Context) error {
	var acc models.Account
	var err error

	if acc.Name, err = a.required("Account name"); err != nil {
		return err
	}
	if acc.Address, err = a.required("Email address"); err != nil {
		return err
	}

	gmail, err := GetYesNo(a.reader, "Is it a Gmail account?", strings.HasSuffix(acc.Address, "@gmail.com"), a.out)
	if err != nil {
		return err
	}
	if gmail {
		acc.Gmail()
	} else if err := a.askServers(&acc); err != nil {
		return err
	}

	if acc.Username, err = GetTextDefault(a.reader, "Login username", acc.Address, a.out); err != nil {
		return err
	}

	key, err := a.pickKey("signing key", func() ([]pgpx.Key, error) {
		return a.session.SecretKeys(acc.Name, acc.Address)
	})
	if err != nil {
		return err
	}
	acc.KeyID = key

	in := services.AccountInput{Account: acc}
	if acc.Auth {
		if in.EmailPassword, err = GetPassword(a.out, "Email password"); err != nil {
			return err
		}
	}
	if in.KeyPassphrase, err = GetPassword(a.out, "Signing key passphrase (empty if none)"); err != nil {
		common.WipeByteArray(in.EmailPassword)
		return err
	}

	if _, err := a.session.SetupAccount(ctx, in); err != nil {
		return err
	}
	fmt.Fprintln(a.out, styleSuccess.Sprint("account "+acc.Name+" saved"))
	return a.rebuildChats(ctx, func(c models.Chat) bool { return c.AccountName == acc.Name })
}

func (a *App) askServers(acc *models.Account) error {
	domain := acc.Address[strings.LastIndexByte(acc.Address, '@')+1:]
	var err error
	if acc.SMTPHost, err = GetTextDefault(a.reader, "SMTP host", "smtp."+domain, a.out); err != nil {
		return err
	}
	if acc.SMTPPort, err = GetNumber(a.reader, "SMTP port", 587, 1, 65535, a.out); err != nil {
		return err
	}
	if acc.IMAPHost, err = GetTextDefault(a.reader, "IMAP host", "imap."+domain, a.out); err != nil {
		return err
	}
	if acc.IMAPPort, err = GetNumber(a.reader, "IMAP port", 993, 1, 65535, a.out); err != nil {
		return err
	}
	if acc.StartTLS, err = GetYesNo(a.reader, "Use STARTTLS?", true, a.out); err != nil {
		return err
	}
	acc.Auth, err = GetYesNo(a.reader, "Does the server require a password?", true, a.out)
	return err
}

// SetupFriend asks for a friend and the key to encrypt to. Chats with the
// friend are rebuilt so they accept the new values.
func (a *App) SetupFriend(ctx context.Context) error {
	var f models.Friend
	var err error

	if f.Name, err = a.required("Friend name"); err != nil {
		return err
	}
	if f.Address, err = a.required("Friend email address"); err != nil {
		return err
	}
	if f.KeyID, err = a.pickKey("public key", func() ([]pgpx.Key, error) {
		return a.session.PublicKeys(f.Name, f.Address)
	}); err != nil {
		return err
	}

	if err := a.session.PutFriend(ctx, f); err != nil {
		return err
	}
	fmt.Fprintln(a.out, styleSuccess.Sprint("friend "+f.Name+" saved"))
	return a.rebuildChats(ctx, func(c models.Chat) bool { return c.FriendName == f.Name })
}

func (a *App) rebuildChats(ctx context.Context, match func(models.Chat) bool) error {
	chats, err := a.session.ListChats(ctx)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if !match(c) {
			continue
		}
		if _, err := a.session.BuildChat(ctx, c.AccountName, c.FriendName); err != nil {
			return fmt.Errorf("update chat %s: %w", c.ID, err)
		}
	}
	return nil
}

func (a *App) required(prompt string) (string, error) {
	for {
		s, err := GetSimpleText(a.reader, prompt, a.out)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
		fmt.Fprintln(a.out, "a value is required")
	}
}

// pickKey lets the user choose among the listed keys, or type a key id when
// none match.
func (a *App) pickKey(what string, list func() ([]pgpx.Key, error)) (string, error) {
	keys, err := list()
	if err != nil {
		return "", err
	}
	switch len(keys) {
	case 0:
		fmt.Fprintln(a.out, styleWarning.Sprintf("no %s found in the keyring", what))
		return a.required("Key id")
	case 1:
		fmt.Fprintf(a.out, "using %s %s %s\n", what, keys[0].KeyID, strings.Join(keys[0].UserIDs, ", "))
		return keys[0].KeyID, nil
	}

	for i, k := range keys {
		fmt.Fprintf(a.out, "%d) %s [%s] %s\n", i+1, k.KeyID, k.Capabilities, strings.Join(k.UserIDs, ", "))
	}
	n, err := GetNumber(a.reader, "Choose the "+what, 1, 1, len(keys), a.out)
	if err != nil {
		return "", err
	}
	return keys[n-1].KeyID, nil
}

var errNoChat = errors.New("no active chat, open one with /chat")
