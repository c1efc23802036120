package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. App implements it.
type execIface interface {
	ListAccounts(ctx context.Context) error
	ListFriends(ctx context.Context) error
	ListChats(ctx context.Context) error
	SetupAccount(ctx context.Context) error
	SetupFriend(ctx context.Context) error
	Chat(ctx context.Context, id string) error
	History(ctx context.Context) error
	CloseChat(ctx context.Context) error
	DeleteAccount(ctx context.Context, name string) error
	DeleteFriend(ctx context.Context, name string) error
	DeleteChat(ctx context.Context, id string) error
	Send(ctx context.Context, text string) error
}

const helpText = `Commands:
  /help                 show this help
  /list-accounts        list mail accounts
  /list-friends         list friends
  /list-chats           list chats
  /setup-account        add or update an account
  /setup-friend         add or update a friend
  /chat [id]            open a chat
  /history              print the active chat
  /close                stop the active chat
  /delete-chat [id]     delete a chat and its history
  /delete-account name  delete an account and its chats
  /delete-friend name   delete a friend and their chats
  /exit                 leave
Any other line is sent to the active chat.`

// runREPL reads lines from reader until EOF or /exit. Handler errors are
// printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("lettera%s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			report(a.Send(ctx, line))
			continue
		}

		parts := strings.Fields(line)
		cmd, arg := parts[0], ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "/help", "/?":
			printlnFn(helpText)
		case "/list-accounts":
			report(a.ListAccounts(ctx))
		case "/list-friends":
			report(a.ListFriends(ctx))
		case "/list-chats":
			report(a.ListChats(ctx))
		case "/setup-account":
			report(a.SetupAccount(ctx))
		case "/setup-friend":
			report(a.SetupFriend(ctx))
		case "/chat":
			report(a.Chat(ctx, arg))
		case "/history":
			report(a.History(ctx))
		case "/close":
			report(a.CloseChat(ctx))
		case "/delete-chat":
			report(a.DeleteChat(ctx, arg))
		case "/delete-account":
			report(a.DeleteAccount(ctx, arg))
		case "/delete-friend":
			report(a.DeleteFriend(ctx, arg))
		case "/exit", "/quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func report(err error) {
	if err != nil {
		printlnFn(styleError.Sprint("error: " + err.Error()))
	}
}
