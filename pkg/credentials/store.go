package credentials

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the current credential and identity across restarts.
// Operations are total: internal corruption is logged and treated as absent
// rather than surfaced to the caller.
type Store interface {
	Save(cred Credential, id Identity)
	Load() (Credential, Identity, bool)
	Clear()
}

// sessionRecord is the on-disk shape. Both records live in one file under
// fixed keys; absence of the file means no session.
type sessionRecord struct {
	Credential Credential `json:"credential"`
	Identity   Identity   `json:"identity"`
}

// FileStore stores the session record as a JSON file under the state
// directory.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file-backed store rooted at stateDir.
func NewFileStore(stateDir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   filepath.Join(stateDir, "session.json"),
		logger: logger,
	}
}

// Save writes the credential and identity atomically. Failures are logged,
// never returned.
func (s *FileStore) Save(cred Credential, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sessionRecord{Credential: cred, Identity: id}, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal session record", "error", err)
		return
	}
	if err := atomicWriteFile(s.path, data, 0600); err != nil {
		s.logger.Error("failed to persist session record", "path", s.path, "error", err)
	}
}

// Load reads the stored session. Returns ok=false when the file is missing,
// unreadable, or holds a partial credential.
func (s *FileStore) Load() (Credential, Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session record", "path", s.path, "error", err)
		}
		return Credential{}, Identity{}, false
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt session record, treating as absent", "path", s.path, "error", err)
		return Credential{}, Identity{}, false
	}
	if !rec.Credential.Valid() {
		return Credential{}, Identity{}, false
	}
	return rec.Credential, rec.Identity, true
}

// Clear removes the stored session. Removing an absent file is a no-op.
func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove session record", "path", s.path, "error", err)
	}
}

// atomicWriteFile writes data via a temporary file and rename so an
// interrupted write never leaves a truncated session record behind.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.Mutex
	cred Credential
	id   Identity
	ok   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(cred Credential, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.id, s.ok = cred, id, true
}

func (s *MemoryStore) Load() (Credential, Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok || !s.cred.Valid() {
		return Credential{}, Identity{}, false
	}
	return s.cred, s.id, true
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.id, s.ok = Credential{}, Identity{}, false
}
