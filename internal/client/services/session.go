// Package services is the session layer of the lettera client: it unlocks
// the data directory with the user passphrase and exposes accounts, friends,
// chats and running chat synchronizations.
package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/francitoshi/lettera/internal/client/chatsync"
	"github.com/francitoshi/lettera/internal/client/config"
	"github.com/francitoshi/lettera/internal/client/keystore"
	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/client/store"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/francitoshi/lettera/internal/filex"
	"github.com/francitoshi/lettera/internal/logging"
	"github.com/francitoshi/lettera/internal/pgpx"
)

// MinPassphraseLen is enforced when a data directory is created.
const MinPassphraseLen = 16

const sharedSecretSize = 32

// Crypto is the OpenPGP engine used by a session. pgpx.Engine implements it.
type Crypto interface {
	chatsync.Crypto
	SecretKeys(name, address string) ([]pgpx.Key, error)
	PublicKeys(name, address string) ([]pgpx.Key, error)
}

// Options customizes a session. The zero value uses the keyrings and mail
// servers configured in the data directory.
type Options struct {
	// Params generates derivation parameters on first run.
	Params func() (cryptox.Params, error)

	Log              logging.Logger
	Sync             chatsync.Config
	TransportTimeout time.Duration
	Crypto           Crypto
	Transports       TransportFactory
	Now              func() time.Time
}

// OptionsFromConfig maps the runtime configuration onto session options.
func OptionsFromConfig(cfg *config.Config, log logging.Logger) Options {
	return Options{
		Log: log,
		Sync: chatsync.Config{
			QueueCapacity: cfg.QueueCapacity,
			BaseInterval:  cfg.SyncBaseInterval,
			MaxInterval:   cfg.SyncMaxInterval,
		},
		TransportTimeout: cfg.TransportTimeout,
	}
}

// Session is an unlocked data directory.
type Session struct {
	dir      string
	opts     Options
	log      logging.Logger
	store    *store.Store
	wrapper  *cryptox.Wrapper
	crypto   Crypto
	firstRun bool

	mu     sync.Mutex
	chats  map[string]*ChatHandle
	closed bool
}

// OpenOrCreateSession unlocks dir with passphrase, creating the parameters
// file, the keystore and the record store on first run. The caller owns
// passphrase and wipes it afterwards.
//
// A passphrase that does not match the existing data fails with
// common.ErrCannotUnlock; a broken parameters file fails with
// common.ErrConfig.
func OpenOrCreateSession(ctx context.Context, dir string, passphrase []byte, opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Transports == nil {
		opts.Transports = MailTransports
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	paramsPath := filepath.Join(abs, config.ParamsFile)
	ksPath := filepath.Join(abs, config.KeystoreFile)

	exists, err := filex.Exists(paramsPath)
	if err != nil {
		return nil, err
	}
	if !exists && len(passphrase) < MinPassphraseLen {
		return nil, fmt.Errorf("need at least %d characters: %w", MinPassphraseLen, common.ErrWeakPass)
	}

	params, created, err := config.LoadOrCreateParams(paramsPath, opts.Params)
	if err != nil {
		return nil, err
	}
	if created {
		opts.Log.Info(ctx, "created derivation parameters", "path", paramsPath)
	}

	master, err := cryptox.DeriveMaster(passphrase, params)
	if err != nil {
		return nil, err
	}
	defer master.Wipe()

	ksKey, err := keystore.DeriveKey(master, params.Salt)
	if err != nil {
		return nil, err
	}
	defer ksKey.Wipe()

	ks, err := keystore.Open(ksPath, ksKey)
	if err != nil {
		return nil, err
	}
	defer ks.Close()

	storePass, newPass, err := ks.StorePassphrase()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(storePass)
	if newPass {
		opts.Log.Info(ctx, "generated record store passphrase")
	}

	st, err := store.Open(ctx, filepath.Join(abs, config.DBFile), storePass, opts.Log)
	if err != nil {
		return nil, err
	}
	// the keystore is written only once the store opened with its passphrase
	if ks.Modified() {
		if err := ks.Store(ksPath); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	wrapper, err := cryptox.NewWrapper(master)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	crypto := opts.Crypto
	if crypto == nil {
		crypto = pgpx.New(pgpx.FileSource{
			Secring: filepath.Join(abs, config.SecringFile),
			Pubring: filepath.Join(abs, config.PubringFile),
		})
	}

	return &Session{
		dir:      abs,
		opts:     opts,
		log:      opts.Log,
		store:    st,
		wrapper:  wrapper,
		crypto:   crypto,
		firstRun: created || newPass,
		chats:    make(map[string]*ChatHandle),
	}, nil
}

// FirstRun reports whether this session created the data directory.
func (s *Session) FirstRun() bool { return s.firstRun }

// Dir is the absolute data directory.
func (s *Session) Dir() string { return s.dir }

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.ErrClosed
	}
	return nil
}

func (s *Session) ListAccounts(ctx context.Context) ([]models.Account, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.store.Accounts(ctx)
}

func (s *Session) ListFriends(ctx context.Context) ([]models.Friend, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.store.Friends(ctx)
}

func (s *Session) ListChats(ctx context.Context) ([]models.Chat, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.store.Chats(ctx)
}

func (s *Session) PutAccount(ctx context.Context, a models.Account) error {
	if err := s.check(); err != nil {
		return err
	}
	if a.Name == "" {
		return errors.New("account name is required")
	}
	if err := s.store.PutAccount(ctx, a); err != nil {
		return err
	}
	return s.store.Commit(ctx)
}

func (s *Session) PutFriend(ctx context.Context, f models.Friend) error {
	if err := s.check(); err != nil {
		return err
	}
	if f.Name == "" {
		return errors.New("friend name is required")
	}
	if err := s.store.PutFriend(ctx, f); err != nil {
		return err
	}
	return s.store.Commit(ctx)
}

func (s *Session) PutChat(ctx context.Context, c models.Chat) error {
	if err := s.check(); err != nil {
		return err
	}
	if c.ID != models.ChatID(c.AccountName, c.FriendName) {
		return fmt.Errorf("chat id %q does not match %s-%s", c.ID, c.AccountName, c.FriendName)
	}
	if err := s.store.PutChat(ctx, c); err != nil {
		return err
	}
	return s.store.Commit(ctx)
}

// DeleteChat removes a stopped chat and its history.
func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.Running(chatID); ok {
		return fmt.Errorf("%s: %w", chatID, common.ErrChatRunning)
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	return s.store.Commit(ctx)
}

// DeleteAccount removes an account together with every chat built on it.
// It fails with common.ErrChatRunning while one of those chats runs.
func (s *Session) DeleteAccount(ctx context.Context, name string) error {
	return s.deleteWithChats(ctx, func(c models.Chat) bool { return c.AccountName == name },
		func() error { return s.store.DeleteAccount(ctx, name) })
}

// DeleteFriend removes a friend together with every chat with them.
func (s *Session) DeleteFriend(ctx context.Context, name string) error {
	return s.deleteWithChats(ctx, func(c models.Chat) bool { return c.FriendName == name },
		func() error { return s.store.DeleteFriend(ctx, name) })
}

// deleteWithChats deletes the matching chats first, so a failure part way
// never leaves a chat whose account or friend is gone.
func (s *Session) deleteWithChats(ctx context.Context, match func(models.Chat) bool, del func() error) error {
	if err := s.check(); err != nil {
		return err
	}
	chats, err := s.store.Chats(ctx)
	if err != nil {
		return err
	}
	var ids []string
	for _, c := range chats {
		if !match(c) {
			continue
		}
		if _, ok := s.Running(c.ID); ok {
			return fmt.Errorf("%s: %w", c.ID, common.ErrChatRunning)
		}
		ids = append(ids, c.ID)
	}
	for _, id := range ids {
		if err := s.store.DeleteChat(ctx, id); err != nil {
			return err
		}
	}
	if err := del(); err != nil {
		return err
	}
	return s.store.Commit(ctx)
}

// AccountInput is an account plus its credentials in the clear. SetupAccount
// wipes both credentials.
type AccountInput struct {
	Account       models.Account
	EmailPassword []byte
	KeyPassphrase []byte
}

// SetupAccount wraps the credentials of in and stores the account.
func (s *Session) SetupAccount(ctx context.Context, in AccountInput) (models.Account, error) {
	defer common.WipeByteArray(in.EmailPassword)
	defer common.WipeByteArray(in.KeyPassphrase)
	if err := s.check(); err != nil {
		return models.Account{}, err
	}

	a := in.Account
	var err error
	if len(in.EmailPassword) > 0 {
		a.EmailPassword, err = s.wrapper.Wrap(cryptox.PurposeEmail, a.Name, in.EmailPassword)
		if err != nil {
			return models.Account{}, err
		}
	}
	if len(in.KeyPassphrase) > 0 {
		a.KeyPassphrase, err = s.wrapper.Wrap(cryptox.PurposeSigningKey, a.Name, in.KeyPassphrase)
		if err != nil {
			return models.Account{}, err
		}
	}
	if err := s.PutAccount(ctx, a); err != nil {
		return models.Account{}, err
	}
	return a, nil
}

// SecretKeys lists the signing keys usable by an account.
func (s *Session) SecretKeys(name, address string) ([]pgpx.Key, error) {
	return s.crypto.SecretKeys(name, address)
}

// PublicKeys lists the keys usable for a friend.
func (s *Session) PublicKeys(name, address string) ([]pgpx.Key, error) {
	return s.crypto.PublicKeys(name, address)
}

// BuildChat creates or refreshes the chat between an account and a friend
// from their current records. An existing shared secret is kept.
func (s *Session) BuildChat(ctx context.Context, accountName, friendName string) (models.Chat, error) {
	if err := s.check(); err != nil {
		return models.Chat{}, err
	}
	a, err := s.store.GetAccount(ctx, accountName)
	if err != nil {
		return models.Chat{}, err
	}
	f, err := s.store.GetFriend(ctx, friendName)
	if err != nil {
		return models.Chat{}, err
	}

	var secret []byte
	old, err := s.store.GetChat(ctx, models.ChatID(accountName, friendName))
	switch {
	case err == nil:
		secret = old.SharedSecret
	case errors.Is(err, common.ErrNotFound):
		if secret = common.GenerateRandByteArray(sharedSecretSize); secret == nil {
			return models.Chat{}, errors.New("generate shared secret: no randomness")
		}
	default:
		return models.Chat{}, err
	}

	c := models.BuildChat(a, f, secret)
	if err := s.PutChat(ctx, c); err != nil {
		return models.Chat{}, err
	}
	return c, nil
}

// CheckDrift compares a stored chat with the account and friend it was
// built from. A non-empty diff means either side changed since.
func (s *Session) CheckDrift(ctx context.Context, chatID string) (models.Diff, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.drift(ctx, c)
}

func (s *Session) drift(ctx context.Context, c models.Chat) (models.Diff, error) {
	a, err := s.store.GetAccount(ctx, c.AccountName)
	if err != nil {
		return nil, fmt.Errorf("account of chat %s: %w", c.ID, err)
	}
	f, err := s.store.GetFriend(ctx, c.FriendName)
	if err != nil {
		return nil, fmt.Errorf("friend of chat %s: %w", c.ID, err)
	}
	return c.Diff(models.BuildChat(a, f, c.SharedSecret)), nil
}

// Notes returns the history of a chat ordered by time.
func (s *Session) Notes(ctx context.Context, chatID string) ([]models.Note, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.store.Notes(chatID).List(ctx)
}

// Close stops every running chat, commits and closes the store and wipes
// the wrapping key. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*ChatHandle, 0, len(s.chats))
	for _, h := range s.chats {
		handles = append(handles, h)
	}
	s.chats = map[string]*ChatHandle{}
	s.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
	err := s.store.Close()
	s.wrapper.Close()
	return err
}
