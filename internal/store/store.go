// Package store keeps the receiver state in JSON files: the credentials and
// the persistent ids of messages delivered since the last login.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/palbooo/fcm-receiver-go/pkg/register"
)

const (
	credentialsFile   = "credentials.json"
	persistentIDsFile = "persistentIds.json"
)

// ErrNoCredentials is returned by LoadCredentials before the first registration
var ErrNoCredentials = errors.New("credentials not found")

type Store struct {
	basePath string

	mu sync.Mutex
}

// New opens the state directory, creating it when missing
func New(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}
	return &Store{basePath: path}, nil
}

// Path returns the state directory
func (s *Store) Path() string { return s.basePath }

func (s *Store) LoadCredentials() (*register.Credentials, error) {
	raw, err := os.ReadFile(filepath.Join(s.basePath, credentialsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredentials
	} else if err != nil {
		return nil, err
	}
	return register.ParseCredentials(raw)
}

func (s *Store) SaveCredentials(creds *register.Credentials) error {
	data, err := creds.ToJSONIndent()
	if err != nil {
		return err
	}
	return s.write(credentialsFile, []byte(data))
}

// LoadPersistentIDs returns an empty list when nothing was stored yet
func (s *Store) LoadPersistentIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadPersistentIDs()
}

func (s *Store) SavePersistentIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.savePersistentIDs(ids)
}

// AppendPersistentID adds id to the stored list unless it is already there
func (s *Store) AppendPersistentID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.loadPersistentIDs()
	if err != nil {
		return err
	}
	for _, v := range ids {
		if v == id {
			return nil
		}
	}
	return s.savePersistentIDs(append(ids, id))
}

func (s *Store) loadPersistentIDs() ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.basePath, persistentIDsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", persistentIDsFile, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *Store) savePersistentIDs(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.write(persistentIDsFile, data)
}

// write replaces name through a temporary file so readers never see a
// partial document
func (s *Store) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.basePath, name+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.basePath, name))
}
