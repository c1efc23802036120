package store

import (
	"context"
	"sort"

	"github.com/francitoshi/lettera/internal/client/models"
)

// PutAccount inserts or replaces the account keyed by a.Name.
func (s *Store) PutAccount(ctx context.Context, a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, collAccounts, a.Name, a)
}

// GetAccount returns common.ErrNotFound for unknown names.
func (s *Store) GetAccount(ctx context.Context, name string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a models.Account
	err := s.get(ctx, collAccounts, name, &a)
	return a, err
}

// DeleteAccount returns common.ErrNotFound for unknown names.
func (s *Store) DeleteAccount(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(ctx, collAccounts, name)
}

// Accounts lists every account sorted by name.
func (s *Store) Accounts(ctx context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	err := s.list(ctx, collAccounts, func(open func(any) error) error {
		var a models.Account
		if err := open(&a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (s *Store) PutFriend(ctx context.Context, f models.Friend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, collFriends, f.Name, f)
}

func (s *Store) GetFriend(ctx context.Context, name string) (models.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f models.Friend
	err := s.get(ctx, collFriends, name, &f)
	return f, err
}

func (s *Store) DeleteFriend(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(ctx, collFriends, name)
}

// Friends lists every friend sorted by name.
func (s *Store) Friends(ctx context.Context) ([]models.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Friend
	err := s.list(ctx, collFriends, func(open func(any) error) error {
		var f models.Friend
		if err := open(&f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// PutChat inserts or replaces the chat keyed by c.ID.
func (s *Store) PutChat(ctx context.Context, c models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, collChats, c.ID, c)
}

func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.Chat
	err := s.get(ctx, collChats, id, &c)
	return c, err
}

// DeleteChat removes the chat and all of its notes.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.delete(ctx, collChats, id); err != nil {
		return err
	}
	w, err := s.pending.Writer(ctx)
	if err != nil {
		return err
	}
	delete(s.notes, id)
	return notesRepoFor(w).DeleteChat(ctx, s.digest(collNotes, id))
}

// Chats lists every chat sorted by id.
func (s *Store) Chats(ctx context.Context) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Chat
	err := s.list(ctx, collChats, func(open func(any) error) error {
		var c models.Chat
		if err := open(&c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
