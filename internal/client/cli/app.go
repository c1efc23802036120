package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/client/services"
	"github.com/francitoshi/lettera/internal/pgpx"
)

// Session is what the front end needs from services.Session.
type Session interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	ListFriends(ctx context.Context) ([]models.Friend, error)
	ListChats(ctx context.Context) ([]models.Chat, error)
	SetupAccount(ctx context.Context, in services.AccountInput) (models.Account, error)
	PutFriend(ctx context.Context, f models.Friend) error
	SecretKeys(name, address string) ([]pgpx.Key, error)
	PublicKeys(name, address string) ([]pgpx.Key, error)
	BuildChat(ctx context.Context, accountName, friendName string) (models.Chat, error)
	DeleteAccount(ctx context.Context, name string) error
	DeleteFriend(ctx context.Context, name string) error
	DeleteChat(ctx context.Context, chatID string) error
	StartChat(ctx context.Context, chatID string) (*services.ChatHandle, error)
	StopChat(h *services.ChatHandle) error
	EnqueueOutgoing(ctx context.Context, chatID, text string) error
	Notes(ctx context.Context, chatID string) ([]models.Note, error)
}

// DefaultWatchInterval is how often the active chat is checked for new
// incoming notes.
const DefaultWatchInterval = time.Second

type App struct {
	session       Session
	reader        *bufio.Reader
	out           io.Writer
	wizard        bool
	watchInterval time.Duration

	mu        sync.Mutex
	active    *services.ChatHandle
	lastShown int64
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewApp builds the front end over an unlocked session. With wizard set the
// setup wizards start on their own while no account or friend exists.
func NewApp(s Session, in io.Reader, out io.Writer, wizard bool) *App {
	return &App{
		session:       s,
		reader:        bufio.NewReader(in),
		out:           out,
		wizard:        wizard,
		watchInterval: DefaultWatchInterval,
	}
}

// Run blocks until the input ends or the user exits. The active chat is
// stopped before returning.
func (a *App) Run(ctx context.Context) error {
	printlnFn("Welcome to lettera (type /help for commands)")

	if a.wizard {
		if err := a.firstSteps(ctx); err != nil {
			report(err)
		}
	}
	runREPL(ctx, a, a.status, a.reader)
	return a.CloseChat(ctx)
}

func (a *App) firstSteps(ctx context.Context) error {
	accounts, err := a.session.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(a.out, "No account yet, let's set one up.")
		if err := a.SetupAccount(ctx); err != nil {
			return err
		}
	}
	friends, err := a.session.ListFriends(ctx)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		fmt.Fprintln(a.out, "No friend yet, let's add one.")
		return a.SetupFriend(ctx)
	}
	return nil
}

func (a *App) status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return ""
	}
	return " " + a.active.ID()
}

func (a *App) activeChat() *services.ChatHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// watchNotes prints incoming notes of chatID newer than the last one shown
// until ctx is done.
func (a *App) watchNotes(ctx context.Context, chatID string, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.showNew(ctx, chatID)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) showNew(ctx context.Context, chatID string) {
	notes, err := a.session.Notes(ctx, chatID)
	if err != nil {
		return
	}
	a.mu.Lock()
	last := a.lastShown
	a.mu.Unlock()

	for _, n := range notes {
		if n.Time <= last {
			continue
		}
		last = n.Time
		if !n.Outgoing() {
			printlnFn(formatNote(n))
		}
	}

	a.mu.Lock()
	a.lastShown = last
	a.mu.Unlock()
}

func formatNote(n models.Note) string {
	if n.Outgoing() {
		mark := styleMuted.Sprint("pending")
		if n.Sent != 0 {
			mark = styleMuted.Sprint("sent " + time.UnixMilli(n.Sent).Format("15:04"))
		}
		return fmt.Sprintf("%s me: %s %s", time.UnixMilli(n.Time).Format("2006-01-02 15:04"), n.Text, mark)
	}
	at := time.UnixMilli(n.Received).Format("2006-01-02 15:04")
	return fmt.Sprintf("%s %s: %s", at, styleIncoming.Sprint(n.From), n.Text)
}
