// Package reqdoc exposes the requirement documents that review records
// anchor to. The markdown parser that produces these records lives outside
// this system; reviewhub only reads them and writes status changes back.
package reqdoc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound marks a lookup of a requirement that does not exist.
var ErrNotFound = errors.New("requirement not found")

// Requirement is one versioned requirement record: id, title, status, the
// text body that comment anchors resolve against, and a fingerprint over
// all of it.
type Requirement struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// Fingerprint computes the content fingerprint of a requirement record.
// Any edit to title, status, or body changes it.
func Fingerprint(title, status, content string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + status + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// Source is the narrow surface the review engine needs from the document
// layer: read requirements and write an approved status back.
type Source interface {
	Get(id string) (Requirement, error)
	List() ([]Requirement, error)
	SetStatus(id, status string) (Requirement, error)
}

// FileSource keeps one JSON record per requirement under a directory,
// mirroring the layout the external parser emits.
type FileSource struct {
	dir string
	mu  sync.Mutex
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (f *FileSource) path(id string) string {
	name := strings.ToLower(strings.TrimSpace(id))
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('-')
		}
	}
	return filepath.Join(f.dir, builder.String()+".json")
}

func (f *FileSource) Get(id string) (Requirement, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Requirement{}, fmt.Errorf("requirement %s: %w", id, ErrNotFound)
		}
		return Requirement{}, fmt.Errorf("read requirement %s: %w", id, err)
	}
	return decodeRequirement(data, id)
}

func (f *FileSource) List() ([]Requirement, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read requirements dir: %w", err)
	}
	var requirements []Requirement
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read requirement file %s: %w", entry.Name(), err)
		}
		requirement, err := decodeRequirement(data, entry.Name())
		if err != nil {
			return nil, err
		}
		requirements = append(requirements, requirement)
	}
	sort.Slice(requirements, func(i, j int) bool {
		return requirements[i].ID < requirements[j].ID
	})
	return requirements, nil
}

// SetStatus rewrites the requirement's status field and recomputes its
// fingerprint, leaving the body untouched.
func (f *FileSource) SetStatus(id, status string) (Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	requirement, err := f.Get(id)
	if err != nil {
		return Requirement{}, err
	}
	requirement.Status = status
	requirement.Hash = Fingerprint(requirement.Title, requirement.Status, requirement.Content)
	if err := f.write(requirement); err != nil {
		return Requirement{}, err
	}
	return requirement, nil
}

// Put stores a requirement record, computing its fingerprint. Exists so
// tests and bootstrap tooling can seed documents without the parser.
func (f *FileSource) Put(requirement Requirement) (Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.TrimSpace(requirement.ID) == "" {
		return Requirement{}, fmt.Errorf("requirement id is required")
	}
	requirement.Hash = Fingerprint(requirement.Title, requirement.Status, requirement.Content)
	if err := f.write(requirement); err != nil {
		return Requirement{}, err
	}
	return requirement, nil
}

func (f *FileSource) write(requirement Requirement) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create requirements dir: %w", err)
	}
	payload, err := encodeRequirement(requirement)
	if err != nil {
		return err
	}
	path := f.path(requirement.ID)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp requirement: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp requirement: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp requirement: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp requirement: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace requirement: %w", err)
	}
	return nil
}
