package accounts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dome-launcher/dome-auth/internal/misc"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	accountsFileName = "accounts.json"
	// currentFileName is the legacy single-account file. It doubles as the
	// active-account pointer and as the session slot the launch component
	// reads just before starting an instance.
	currentFileName = "account.json"
)

// ErrAccountNotFound is returned when an operation references an unknown id.
var ErrAccountNotFound = errors.New("accounts: account not found")

// StorageError wraps a filesystem failure while persisting the store.
// Read failures never produce it; they degrade to an empty store with a
// logged warning.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("accounts: failed to persist %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the durable multi-account store. All methods are safe for
// concurrent use; the internal lock is never held across network calls.
type Store struct {
	mu       sync.Mutex
	dir      string
	accounts []*Account
	current  *Account

	// lastHashes tracks file content hashes so the watcher can ignore
	// events caused by our own writes.
	lastHashes map[string]string
}

// Open loads the store from dir, creating the directory if needed. Missing
// files yield an empty store; corrupt files yield an empty store plus a
// warning. Open never fails because of bad store contents.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("accounts: failed to create data directory: %w", err)
	}
	s := &Store{dir: dir, lastHashes: make(map[string]string)}
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
	return s, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) accountsPath() string { return filepath.Join(s.dir, accountsFileName) }
func (s *Store) currentPath() string  { return filepath.Join(s.dir, currentFileName) }

// loadLocked reads both files from disk. Caller holds s.mu.
func (s *Store) loadLocked() {
	s.accounts = nil
	s.current = nil

	if data, err := os.ReadFile(s.accountsPath()); err == nil {
		s.lastHashes[accountsFileName] = hashBytes(data)
		s.accounts = decodeAccountList(s.accountsPath(), data)
	} else if !os.IsNotExist(err) {
		log.Warnf("accounts: failed to read %s: %v", s.accountsPath(), err)
	}

	if data, err := os.ReadFile(s.currentPath()); err == nil {
		s.lastHashes[currentFileName] = hashBytes(data)
		var single Account
		if errUnmarshal := json.Unmarshal(data, &single); errUnmarshal != nil {
			log.Warnf("accounts: failed to decode %s: %v", s.currentPath(), errUnmarshal)
		} else if single.ID != "" {
			s.current = &single
		}
	} else if !os.IsNotExist(err) {
		log.Warnf("accounts: failed to read %s: %v", s.currentPath(), err)
	}

	// Legacy migration: a pre-multi-account install has only account.json.
	if len(s.accounts) == 0 && s.current != nil {
		s.accounts = []*Account{s.current.Clone()}
	}

	// The active pointer is a weak reference: it must name a listed id.
	if s.current != nil && s.findLocked(s.current.ID) == nil {
		s.current = nil
	}
}

// decodeAccountList tolerates both the array format and a stray single
// object written by old launcher builds, de-duplicating by id with the first
// occurrence winning.
func decodeAccountList(path string, data []byte) []*Account {
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		log.Warnf("accounts: %s is not valid JSON, starting with an empty account list", path)
		return nil
	}

	var parsed []*Account
	if gjson.ParseBytes(data).IsObject() {
		var single Account
		if err := json.Unmarshal(data, &single); err != nil {
			log.Warnf("accounts: failed to decode %s: %v", path, err)
			return nil
		}
		parsed = []*Account{&single}
	} else if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warnf("accounts: failed to decode %s: %v", path, err)
		return nil
	}

	seen := make(map[string]bool, len(parsed))
	deduped := parsed[:0]
	for _, acct := range parsed {
		if acct == nil || acct.ID == "" || seen[acct.ID] {
			continue
		}
		seen[acct.ID] = true
		deduped = append(deduped, acct)
	}
	return deduped
}

func (s *Store) findLocked(id string) *Account {
	for _, acct := range s.accounts {
		if acct.ID == id {
			return acct
		}
	}
	return nil
}

// List returns a snapshot of all known accounts.
func (s *Store) List() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct.Clone())
	}
	return out
}

// Get looks up one account by identity id.
func (s *Store) Get(id string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.findLocked(id)
	if acct == nil {
		return nil, false
	}
	return acct.Clone(), true
}

// Active returns the current session, or nil when no account is active.
func (s *Store) Active() *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Upsert replaces the entry matching the account's id or appends a new one,
// marks it active, and flushes both files synchronously.
func (s *Store) Upsert(acct *Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("accounts: cannot persist account without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := acct.Clone()
	if existing := s.findLocked(acct.ID); existing != nil {
		*existing = *stored
	} else {
		s.accounts = append(s.accounts, stored)
	}
	s.current = stored.Clone()

	return s.persistLocked()
}

// SetActive points the current session at an already-known account.
func (s *Store) SetActive(id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.findLocked(id)
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	s.current = acct.Clone()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

// Remove deletes an account. When the removed account was active, the
// current-session slot is cleared as well so the launch component cannot
// pick up a credential that no longer exists.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.accounts)
	kept := s.accounts[:0]
	for _, acct := range s.accounts {
		if acct.ID != id {
			kept = append(kept, acct)
		}
	}
	if len(kept) == before {
		return ErrAccountNotFound
	}
	s.accounts = kept

	if s.current != nil && s.current.ID == id {
		s.current = nil
	}

	return s.persistLocked()
}

// Logout clears the current-session slot without touching the account list.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return s.persistLocked()
}

// persistLocked flushes both files. Caller holds s.mu. Write failures are
// surfaced so the caller can warn that the session may not survive a restart.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("accounts: failed to encode account list: %w", err)
	}
	misc.LogSavingCredentials(s.accountsPath())
	if errWrite := os.WriteFile(s.accountsPath(), data, 0o600); errWrite != nil {
		return &StorageError{Path: s.accountsPath(), Err: errWrite}
	}
	s.lastHashes[accountsFileName] = hashBytes(data)

	if s.current == nil {
		if errRemove := os.Remove(s.currentPath()); errRemove != nil && !os.IsNotExist(errRemove) {
			return &StorageError{Path: s.currentPath(), Err: errRemove}
		}
		delete(s.lastHashes, currentFileName)
		return nil
	}

	currentData, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("accounts: failed to encode current session: %w", err)
	}
	if errWrite := os.WriteFile(s.currentPath(), currentData, 0o600); errWrite != nil {
		return &StorageError{Path: s.currentPath(), Err: errWrite}
	}
	s.lastHashes[currentFileName] = hashBytes(currentData)
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
