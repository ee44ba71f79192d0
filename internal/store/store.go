// Package store persists review records as JSON files under a fixed root
// directory inside the repository working tree. Writes are atomic
// (temp-file-then-rename) and mutations on the same requirement are
// serialized through a per-requirement lock registry, so concurrent
// requests can never interleave a read-modify-write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrCorruptRecord marks a record file that exists but cannot be decoded.
// It is never masked as an empty state: masking it would silently discard
// review history.
var ErrCorruptRecord = errors.New("corrupt review record")

// ErrNotFound marks a lookup of a record that does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict marks a write that collides with existing state: duplicate
// ids or names, or a vote on a terminal request.
var ErrConflict = errors.New("conflict")

const (
	reqsDirName      = "reqs"
	threadsFileName  = "threads.json"
	requestsFileName = "status.json"
	flagFileName     = "flag.json"
	packagesFileName = "packages.json"
	configFileName   = "config.json"
)

type Store struct {
	root   string
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) reqDir(reqID string) string {
	return filepath.Join(s.root, reqsDirName, NormalizeReqID(reqID))
}

func (s *Store) threadsPath(reqID string) string {
	return filepath.Join(s.reqDir(reqID), threadsFileName)
}

func (s *Store) requestsPath(reqID string) string {
	return filepath.Join(s.reqDir(reqID), requestsFileName)
}

func (s *Store) flagPath(reqID string) string {
	return filepath.Join(s.reqDir(reqID), flagFileName)
}

func (s *Store) packagesPath() string {
	return filepath.Join(s.root, packagesFileName)
}

func (s *Store) configPath() string {
	return filepath.Join(s.root, configFileName)
}

// reqLock returns the mutex serializing writes for one requirement.
func (s *Store) reqLock(reqID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	key := NormalizeReqID(reqID)
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// globalLock serializes writes to the package-scope records.
func (s *Store) globalLock() *sync.Mutex {
	return s.reqLock("\x00global")
}

// ListReqIDs returns the normalized ids of every requirement that has any
// review record on disk.
func (s *Store) ListReqIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, reqsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reqs dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// NormalizeReqID maps a requirement id to a filesystem-safe directory name.
func NormalizeReqID(reqID string) string {
	normalized := strings.ToLower(strings.TrimSpace(reqID))
	var builder strings.Builder
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('-')
		}
	}
	if builder.Len() == 0 {
		return "unnamed"
	}
	return builder.String()
}

// writeJSONAtomic writes v to path via a temp file in the same directory
// followed by a rename, so a reader never observes a half-written record.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

// readJSON decodes path into v. A missing file returns (false, nil); an
// existing but undecodable file returns ErrCorruptRecord.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read record %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, path, err)
	}
	return true, nil
}
