package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yanqian/ecoloop/internal/domain/account"
)

// FileStore keeps accounts in a JSON array on disk. Writes go to a
// temporary file that is renamed over the original.
type FileStore struct {
	path   string
	mu     sync.Mutex
	users  map[string]account.User
	loaded bool
}

// NewFileStore constructs a store persisted at path. The file is created
// on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, users: make(map[string]account.User)}
}

// Get implements account.Repository.
func (s *FileStore) Get(_ context.Context, username string) (account.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return account.User{}, false, err
	}
	user, ok := s.users[account.Key(username)]
	return user, ok, nil
}

// Put implements account.Repository.
func (s *FileStore) Put(_ context.Context, user account.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	key := account.Key(user.Username)
	prev, existed := s.users[key]
	s.users[key] = user
	if err := s.flush(); err != nil {
		if existed {
			s.users[key] = prev
		} else {
			delete(s.users, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	var list []account.User
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("parse users file: %w", err)
		}
	}
	for _, u := range list {
		s.users[account.Key(u.Username)] = u
	}
	s.loaded = true
	return nil
}

func (s *FileStore) flush() error {
	list := make([]account.User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		return account.Key(list[i].Username) < account.Key(list[j].Username)
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create users dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("create temp users file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close users file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}

var _ account.Repository = (*FileStore)(nil)
