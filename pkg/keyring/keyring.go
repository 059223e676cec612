// Package keyring stores upload passwords between runs, keyed by a service
// name and username.
//
// The default store keeps all entries in one file encrypted with age to a
// local X25519 identity. Without an identity there is no storage access;
// `wheelsmith keyring init` creates one.
package keyring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

var (
	// ErrNotFound means there is no password for the service and user.
	ErrNotFound = errors.New("no matching entry found in secure storage")
	// ErrNoStorageAccess means the store itself is unavailable.
	ErrNoStorageAccess = errors.New("couldn't access the secure storage")
)

// Store is the narrow secret store capability the publisher needs.
type Store interface {
	Get(service, username string) (string, error)
	Set(service, username, password string) error
	Delete(service, username string) error
}

// Environment variable overriding the store directory.
const EnvDir = "WHEELSMITH_KEYRING_DIR"

const (
	identityFile = "identity.txt"
	secretsFile  = "secrets.age"
)

// Noop is a store without storage: every call fails with
// ErrNoStorageAccess.
type Noop struct{}

func (Noop) Get(string, string) (string, error) { return "", ErrNoStorageAccess }
func (Noop) Set(string, string, string) error   { return ErrNoStorageAccess }
func (Noop) Delete(string, string) error        { return ErrNoStorageAccess }

// FileStore keeps the entries in Dir/secrets.age, encrypted to the identity
// in Dir/identity.txt.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

// DefaultDir is $WHEELSMITH_KEYRING_DIR or wheelsmith/keyring in the user
// config directory.
func DefaultDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	config, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(config, "wheelsmith", "keyring"), nil
}

var defaultStore = sync.OnceValue(func() Store {
	dir, err := DefaultDir()
	if err != nil {
		return Noop{}
	}
	return &FileStore{Dir: dir}
})

// Default returns the process-wide store, created on first use.
func Default() Store {
	return defaultStore()
}

// Init creates a new identity in dir. An existing identity is kept and
// reported with created == false.
func Init(dir string) (recipient string, created bool, err error) {
	path := filepath.Join(dir, identityFile)
	if data, err := os.ReadFile(path); err == nil {
		identity, err := parseIdentity(data)
		if err != nil {
			return "", false, err
		}
		return identity.Recipient().String(), false, nil
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", false, fmt.Errorf("generating age identity: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", false, fmt.Errorf("creating keyring directory: %w", err)
	}
	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", false, fmt.Errorf("writing identity: %w", err)
	}
	return identity.Recipient().String(), true, nil
}

func parseIdentity(data []byte) (*age.X25519Identity, error) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parsing keyring identity: %w", err)
		}
		return identity, nil
	}
	return nil, errors.New("keyring identity file is empty")
}

func (s *FileStore) identity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	identity, err := parseIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	return identity, nil
}

func entryKey(service, username string) string {
	return service + "\x00" + username
}

func (s *FileStore) load(identity *age.X25519Identity) (map[string]string, error) {
	entries := map[string]string{}
	data, err := os.ReadFile(filepath.Join(s.Dir, secretsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	reader, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting: %v", ErrNoStorageAccess, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting: %v", ErrNoStorageAccess, err)
	}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: invalid secrets file: %v", ErrNoStorageAccess, err)
	}
	return entries, nil
}

func (s *FileStore) save(identity *age.X25519Identity, entries map[string]string) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, secretsFile+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	if _, err := tmp.Write(ciphertext.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, secretsFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrNoStorageAccess, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(service, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity()
	if err != nil {
		return "", err
	}
	entries, err := s.load(identity)
	if err != nil {
		return "", err
	}
	password, ok := entries[entryKey(service, username)]
	if !ok {
		return "", ErrNotFound
	}
	return password, nil
}

// Set implements Store.
func (s *FileStore) Set(service, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity()
	if err != nil {
		return err
	}
	entries, err := s.load(identity)
	if err != nil {
		return err
	}
	entries[entryKey(service, username)] = password
	return s.save(identity, entries)
}

// Delete implements Store.
func (s *FileStore) Delete(service, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity()
	if err != nil {
		return err
	}
	entries, err := s.load(identity)
	if err != nil {
		return err
	}
	key := entryKey(service, username)
	if _, ok := entries[key]; !ok {
		return ErrNotFound
	}
	delete(entries, key)
	return s.save(identity, entries)
}
