package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore keeps notes and shares in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string]string
	shares map[string]map[string]Permission
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		owners: make(map[string]string),
		shares: make(map[string]map[string]Permission),
	}
}

// Seed is the on-disk format of a memory store seed file.
type Seed struct {
	Notes  []SeedNote  `yaml:"notes"`
	Shares []SeedShare `yaml:"shares"`
}

// SeedNote declares a note and its owner.
type SeedNote struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
}

// SeedShare grants a user access to a seeded note.
type SeedShare struct {
	Note       string     `yaml:"note"`
	User       string     `yaml:"user"`
	Permission Permission `yaml:"permission"`
}

// LoadSeedFile reads a YAML seed file into a new memory store.
func LoadSeedFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	s := NewMemory()
	if err := s.Apply(seed); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return s, nil
}

// Apply adds every note and share in seed.
func (s *MemoryStore) Apply(seed Seed) error {
	for i, n := range seed.Notes {
		if n.ID == "" || n.Owner == "" {
			return fmt.Errorf("notes[%d]: id and owner are required", i)
		}
		s.PutNote(n.ID, n.Owner)
	}
	for i, sh := range seed.Shares {
		if err := s.Share(sh.Note, sh.User, sh.Permission); err != nil {
			return fmt.Errorf("shares[%d]: %w", i, err)
		}
	}
	return nil
}

// PutNote creates or re-owns a note.
func (s *MemoryStore) PutNote(noteID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[noteID] = ownerID
}

// DeleteNote removes a note and its shares.
func (s *MemoryStore) DeleteNote(noteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, noteID)
	delete(s.shares, noteID)
}

// Share grants userID perm on an existing note, replacing any previous grant.
func (s *MemoryStore) Share(noteID, userID string, perm Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("unknown permission %q", perm)
	}
	if userID == "" {
		return fmt.Errorf("user is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[noteID]; !ok {
		return fmt.Errorf("note %q does not exist", noteID)
	}
	if s.shares[noteID] == nil {
		s.shares[noteID] = make(map[string]Permission)
	}
	s.shares[noteID][userID] = perm
	return nil
}

// Revoke removes userID's grant on noteID.
func (s *MemoryStore) Revoke(noteID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shares[noteID], userID)
	if len(s.shares[noteID]) == 0 {
		delete(s.shares, noteID)
	}
}

// NoteAccess implements Store.
func (s *MemoryStore) NoteAccess(_ context.Context, noteID, userID string) (NoteAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[noteID]
	if !ok {
		return NoteAccess{NoteID: noteID}, nil
	}
	return NoteAccess{
		NoteID:     noteID,
		OwnerID:    owner,
		Found:      true,
		Permission: s.shares[noteID][userID],
	}, nil
}

// Ping implements Store.
func (*MemoryStore) Ping(context.Context) error {
	return nil
}

// Close implements Store.
func (*MemoryStore) Close() {}
