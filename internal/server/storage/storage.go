// Package storage owns the server-side record database: one flat directory
// per user holding opaque record payloads named by id, plus an in-memory id
// index per user. The hub is its only caller.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/filex"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

type Store struct {
	root string

	// the index lock covers only the hashmap and slices; disk I/O runs
	// outside it, so two uploads from one user can land concurrently
	mu    sync.Mutex
	users map[string]*userIndex
}

type userIndex struct {
	ids []string // sorted
}

func New(root string) (*Store, error) {
	if _, err := filex.EnsureDir(root); err != nil {
		return nil, err
	}

	s := &Store{root: root, users: map[string]*userIndex{}}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan db root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ids, err := filex.ListFiles(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		sort.Strings(ids)
		s.users[e.Name()] = &userIndex{ids: ids}
	}
	return s, nil
}

func (s *Store) userDir(user string) string { return filepath.Join(s.root, user) }

func (s *Store) index(user string) *userIndex {
	idx, ok := s.users[user]
	if !ok {
		idx = &userIndex{}
		s.users[user] = idx
	}
	return idx
}

// nextID resolves the filename for a proposed id: the proposal itself when
// free, otherwise the first free counter suffix on its timestamp part.
func (s *Store) nextID(idx *userIndex, proposed string) string {
	if !idx.has(proposed) {
		return proposed
	}
	base := proposed
	if i := strings.IndexByte(base, '_'); i > 0 {
		base = base[:i]
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%03d", base, n)
		if !idx.has(candidate) {
			return candidate
		}
	}
}

func (idx *userIndex) has(id string) bool {
	i := sort.SearchStrings(idx.ids, id)
	return i < len(idx.ids) && idx.ids[i] == id
}

func (idx *userIndex) insert(id string) {
	i := sort.SearchStrings(idx.ids, id)
	if i < len(idx.ids) && idx.ids[i] == id {
		return
	}
	idx.ids = append(idx.ids, "")
	copy(idx.ids[i+1:], idx.ids[i:])
	idx.ids[i] = id
}

func (idx *userIndex) remove(id string) {
	i := sort.SearchStrings(idx.ids, id)
	if i < len(idx.ids) && idx.ids[i] == id {
		idx.ids = append(idx.ids[:i], idx.ids[i+1:]...)
	}
}

// Put persists an uploaded payload and returns the assigned id.
func (s *Store) Put(user, proposedID string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", common.ErrEmptyPayload
	}

	s.mu.Lock()
	idx := s.index(user)
	id := s.nextID(idx, proposedID)
	idx.insert(id)
	s.mu.Unlock()

	if _, err := filex.EnsureDir(s.userDir(user)); err != nil {
		return "", err
	}
	if err := filex.WriteAtomic(filepath.Join(s.userDir(user), id), payload, 0o660); err != nil {
		s.mu.Lock()
		s.index(user).remove(id)
		s.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Delete drops a record; missing ids are not an error (removes are
// idempotent across reconnects).
func (s *Store) Delete(user, id string) error {
	s.mu.Lock()
	s.index(user).remove(id)
	s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.userDir(user), id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// IDs returns the user's stream in order.
func (s *Store) IDs(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(user)
	out := make([]string, len(idx.ids))
	copy(out, idx.ids)
	return out
}

// Newest returns the stream tip, or "".
func (s *Store) Newest(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(user)
	if len(idx.ids) == 0 {
		return ""
	}
	return idx.ids[len(idx.ids)-1]
}

// Diff splits the id sets for reconciliation: missing is what the client
// lacks, extra is what the client holds that the server does not.
func (s *Store) Diff(user string, clientIDs []string) (missing, extra []string) {
	client := make(map[string]struct{}, len(clientIDs))
	for _, id := range clientIDs {
		client[id] = struct{}{}
	}

	server := s.IDs(user)
	serverSet := make(map[string]struct{}, len(server))
	for _, id := range server {
		serverSet[id] = struct{}{}
		if _, ok := client[id]; !ok {
			missing = append(missing, id)
		}
	}
	for _, id := range clientIDs {
		if _, ok := serverSet[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return missing, extra
}

// Zip packs the given records into a store-only archive for download.
func (s *Store) Zip(user string, ids []string) ([]byte, error) {
	records := make(map[string][]byte, len(ids))
	for _, id := range ids {
		payload, err := os.ReadFile(filepath.Join(s.userDir(user), id))
		if err != nil {
			if os.IsNotExist(err) {
				continue // deleted between diff and read
			}
			return nil, fmt.Errorf("read record %s: %w", id, err)
		}
		records[id] = payload
	}
	return protocol.BuildZip(records)
}
