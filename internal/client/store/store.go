// Package store is the encrypted record store: accounts, friends and chats
// keyed by name or id, plus the notes of each chat keyed by time.
//
// Every value is sealed with AES-GCM and every key is replaced by an HMAC
// digest before it reaches SQLite, so the database file holds no plaintext
// apart from note timestamps. Both keys are derived from the store
// passphrase kept in the local keystore.
//
// All operations are serialized by one store-wide mutex. Mutations collect
// in a single pending transaction that Commit makes durable; Close commits
// whatever is pending.
package store

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/francitoshi/lettera/internal/client/migrations"
	"github.com/francitoshi/lettera/internal/client/repositories/metadata"
	"github.com/francitoshi/lettera/internal/client/repositories/records"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/francitoshi/lettera/internal/dbx"
	"github.com/francitoshi/lettera/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

const (
	collAccounts = "accounts"
	collFriends  = "friends"
	collChats    = "chats"
	collNotes    = "notes"

	metaSalt  = "salt"
	metaCheck = "check"

	checkValue = "lettera-store-v1"
	saltSize   = 16
	keySize    = 32
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	pending *dbx.Pending
	encKey  []byte
	idxKey  []byte
	notes   map[string]*Notes
	log     logging.Logger
	now     func() time.Time
	closed  bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used to assign note times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (or creates) the store at path. A passphrase that does not
// match the one the store was created with fails with common.ErrCannotUnlock.
func Open(ctx context.Context, path string, passphrase []byte, log logging.Logger, opts ...Option) (*Store, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("open store: empty passphrase")
	}
	if log == nil {
		log = logging.Nop()
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := open(ctx, db, passphrase, log, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, db *sql.DB, passphrase []byte, log logging.Logger, opts ...Option) (*Store, error) {
	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	meta := metadata.NewSQLiteRepository(db)
	salt, err := meta.Get(ctx, metaSalt)
	if err != nil {
		return nil, err
	}
	fresh := salt == nil
	if fresh {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
	}

	s := &Store{
		db:      db,
		pending: dbx.NewPending(db),
		notes:   map[string]*Notes{},
		log:     log.With("component", "store"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.encKey, err = cryptox.DeriveSubkey(passphrase, salt, "lettera/store/enc", keySize); err != nil {
		return nil, err
	}
	if s.idxKey, err = cryptox.DeriveSubkey(passphrase, salt, "lettera/store/index", keySize); err != nil {
		return nil, err
	}

	if fresh {
		check, err := cryptox.Seal([]byte(checkValue), s.encKey, []byte(metaCheck))
		if err != nil {
			return nil, err
		}
		err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			m := metadata.NewSQLiteRepository(tx)
			if err := m.Set(ctx, metaSalt, salt); err != nil {
				return err
			}
			return m.Set(ctx, metaCheck, check)
		})
		if err != nil {
			return nil, fmt.Errorf("initialize store: %w", err)
		}
		s.log.Info(ctx, "store created")
		return s, nil
	}

	check, err := meta.Get(ctx, metaCheck)
	if err != nil {
		return nil, err
	}
	pt, err := cryptox.Open(check, s.encKey, []byte(metaCheck))
	if err != nil || string(pt) != checkValue {
		s.wipe()
		return nil, fmt.Errorf("open store: %w", common.ErrCannotUnlock)
	}
	return s, nil
}

// Commit makes every pending mutation durable. With nothing pending it is a
// no-op.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.ErrClosed
	}
	return s.pending.Commit()
}

// Close commits pending work, closes the database and wipes the keys.
// Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.pending.Dirty() {
		s.log.Debug(context.Background(), "committing pending changes on close")
	}
	errCommit := s.pending.Commit()
	errClose := s.db.Close()
	s.wipe()
	return errors.Join(errCommit, errClose)
}

func (s *Store) wipe() {
	common.WipeByteArray(s.encKey)
	common.WipeByteArray(s.idxKey)
}

// digest maps a plaintext key to its stored id.
func (s *Store) digest(collection, key string) []byte {
	m := hmac.New(sha256.New, s.idxKey)
	m.Write([]byte(collection))
	m.Write([]byte{0})
	m.Write([]byte(key))
	return m.Sum(nil)
}

func recordAAD(collection string, id []byte) []byte {
	return []byte(collection + "/" + hex.EncodeToString(id))
}

func (s *Store) put(ctx context.Context, collection, key string, v any) error {
	if s.closed {
		return common.ErrClosed
	}
	id := s.digest(collection, key)
	blob, err := cryptox.SealJSON(v, s.encKey, recordAAD(collection, id))
	if err != nil {
		return fmt.Errorf("seal %s record: %w", collection, err)
	}
	w, err := s.pending.Writer(ctx)
	if err != nil {
		return err
	}
	return records.NewSQLiteRepository(w).Upsert(ctx, collection, id, blob)
}

func (s *Store) get(ctx context.Context, collection, key string, v any) error {
	if s.closed {
		return common.ErrClosed
	}
	id := s.digest(collection, key)
	blob, err := records.NewSQLiteRepository(s.pending.Reader()).Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("%s %q: %w", collection, key, common.ErrNotFound)
	}
	if err := cryptox.OpenJSON(blob, s.encKey, recordAAD(collection, id), v); err != nil {
		return fmt.Errorf("open %s record: %w", collection, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, collection, key string) error {
	if s.closed {
		return common.ErrClosed
	}
	w, err := s.pending.Writer(ctx)
	if err != nil {
		return err
	}
	ok, err := records.NewSQLiteRepository(w).Delete(ctx, collection, s.digest(collection, key))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %q: %w", collection, key, common.ErrNotFound)
	}
	return nil
}

// list decrypts every value of collection, calling fn with each.
func (s *Store) list(ctx context.Context, collection string, fn func(open func(v any) error) error) error {
	if s.closed {
		return common.ErrClosed
	}
	rows, err := records.NewSQLiteRepository(s.pending.Reader()).List(ctx, collection)
	if err != nil {
		return err
	}
	for _, row := range rows {
		err := fn(func(v any) error {
			if err := cryptox.OpenJSON(row.Value, s.encKey, recordAAD(collection, row.ID), v); err != nil {
				return fmt.Errorf("open %s record: %w", collection, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
