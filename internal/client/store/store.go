package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/filex"
	"github.com/dmitrijs2005/clipsync/internal/logging"
)

// Store is the sole owner of <data>/data and <data>/image. The in-memory
// index (ids + pin flags) is guarded by one mutex; file I/O happens outside
// the lock.
type Store struct {
	dataDir  string
	imageDir string
	logger   logging.Logger
	now      func() time.Time

	mu           sync.Mutex
	ids          []string // sorted, lexicographic == chronological
	pinned       map[string]bool
	maxClipboard int
}

func New(dataDir, imageDir string, maxClipboard int, logger logging.Logger) (*Store, error) {
	if _, err := filex.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	if _, err := filex.EnsureDir(imageDir); err != nil {
		return nil, err
	}

	s := &Store{
		dataDir:      dataDir,
		imageDir:     imageDir,
		logger:       logger.With("module", "store"),
		now:          time.Now,
		pinned:       map[string]bool{},
		maxClipboard: maxClipboard,
	}

	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild scans the data directory and reconstructs the index. Unreadable
// documents are quarantined with a dot prefix so they stop shadowing ids.
func (s *Store) rebuild() error {
	names, err := filex.ListFiles(s.dataDir)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(names))
	pinned := map[string]bool{}

	for _, name := range names {
		rec, err := s.readFile(name)
		if err != nil {
			s.logger.Warn(context.Background(), "quarantining corrupt record", "id", name, "error", err)
			_ = os.Rename(filepath.Join(s.dataDir, name), filepath.Join(s.dataDir, ".corrupt-"+name))
			continue
		}
		ids = append(ids, name)
		if rec.Pined {
			pinned[name] = true
		}
	}

	sort.Strings(ids)

	s.mu.Lock()
	s.ids = ids
	s.pinned = pinned
	s.mu.Unlock()
	return nil
}

func (s *Store) recordPath(id string) string  { return filepath.Join(s.dataDir, id) }
func (s *Store) sidecarPath(id string) string { return filepath.Join(s.imageDir, id+".png") }

// RecordPath exposes the document location for upload without copying the
// payload through the index lock.
func (s *Store) RecordPath(id string) string { return s.recordPath(id) }

func (s *Store) readFile(id string) (Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, common.ErrNotFound
		}
		return Record{}, fmt.Errorf("read record %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", common.ErrCorruptRecord, id, err)
	}
	if rec.Data == "" {
		return Record{}, fmt.Errorf("%w: %s: %v", common.ErrCorruptRecord, id, common.ErrEmptyPayload)
	}
	return rec, nil
}

func (s *Store) writeFile(id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return filex.WriteAtomic(s.recordPath(id), data, 0o660)
}

// Write persists a new record, assigns its id and runs eviction. The caller
// is responsible for enqueueing the matching pending mutation.
func (s *Store) Write(rec Record) (string, error) {
	if rec.Data == "" {
		return "", common.ErrEmptyPayload
	}

	s.mu.Lock()
	id := NewID(s.now(), s.has)
	s.insertLocked(id, rec.Pined)
	s.mu.Unlock()

	if err := s.persist(id, rec); err != nil {
		s.dropIndexed(id)
		return "", err
	}

	s.evict()
	return id, nil
}

// Rewrite stores rec under a fresh id and deletes oldID. The two halves are
// surfaced to the server as a single edit.
func (s *Store) Rewrite(oldID string, rec Record) (string, error) {
	if rec.Data == "" {
		return "", common.ErrEmptyPayload
	}
	if !s.Has(oldID) {
		return "", common.ErrNotFound
	}

	newID, err := s.Write(rec)
	if err != nil {
		return "", err
	}
	if err := s.Remove(oldID); err != nil {
		return "", fmt.Errorf("drop old record %s: %w", oldID, err)
	}
	return newID, nil
}

// Import writes a record received from the server under the id the server
// assigned. Existing content under that id is replaced.
func (s *Store) Import(id string, rec Record) error {
	if rec.Data == "" {
		return common.ErrEmptyPayload
	}

	s.mu.Lock()
	s.insertLocked(id, rec.Pined)
	s.mu.Unlock()

	if err := s.persist(id, rec); err != nil {
		s.dropIndexed(id)
		return err
	}

	s.evict()
	return nil
}

func (s *Store) persist(id string, rec Record) error {
	if err := s.writeFile(id, rec); err != nil {
		return err
	}

	if rec.IsImage() {
		raw, err := base64.StdEncoding.DecodeString(rec.Data)
		if err != nil {
			return fmt.Errorf("decode image payload %s: %w", id, err)
		}
		sidecar, err := extractSidecar(rec.Typ, raw)
		if err != nil {
			s.logger.Warn(context.Background(), "no sidecar for record", "id", id, "typ", rec.Typ, "error", err)
			return nil
		}
		if err := filex.WriteAtomic(s.sidecarPath(id), sidecar, 0o660); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the document and any sidecar.
func (s *Store) Remove(id string) error {
	if !s.Has(id) {
		return common.ErrNotFound
	}

	s.dropIndexed(id)

	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record %s: %w", id, err)
	}
	if err := os.Remove(s.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar %s: %w", id, err)
	}
	return nil
}

// SetPinned flips the pin flag in place. Pin state is local-only and never
// reaches the pending queue.
func (s *Store) SetPinned(id string, pinned bool) error {
	rec, err := s.Read(id)
	if err != nil {
		return err
	}
	rec.Pined = pinned

	if err := s.writeFile(id, rec); err != nil {
		return err
	}

	s.mu.Lock()
	if pinned {
		s.pinned[id] = true
	} else {
		delete(s.pinned, id)
	}
	s.mu.Unlock()
	return nil
}

// Rename moves a record to the server-assigned id after a successful upload.
func (s *Store) Rename(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if !s.Has(oldID) {
		return common.ErrNotFound
	}

	if err := os.Rename(s.recordPath(oldID), s.recordPath(newID)); err != nil {
		return fmt.Errorf("rename record %s: %w", oldID, err)
	}
	if err := os.Rename(s.sidecarPath(oldID), s.sidecarPath(newID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename sidecar %s: %w", oldID, err)
	}

	s.mu.Lock()
	s.removeIDLocked(oldID)
	s.insertLocked(newID, s.pinned[oldID])
	delete(s.pinned, oldID)
	s.mu.Unlock()
	return nil
}

// Read loads one record by id.
func (s *Store) Read(id string) (Record, error) {
	if !s.Has(id) {
		return Record{}, common.ErrNotFound
	}
	return s.readFile(id)
}

// List returns all ids in chronological order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Newest returns the stream tip, or "" for an empty store.
func (s *Store) Newest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return ""
	}
	return s.ids[len(s.ids)-1]
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has(id)
}

// has is the locked-path lookup used during id allocation.
func (s *Store) has(id string) bool {
	i := sort.SearchStrings(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

func (s *Store) insertLocked(id string, pinned bool) {
	i := sort.SearchStrings(s.ids, id)
	if i < len(s.ids) && s.ids[i] == id {
		return
	}
	s.ids = append(s.ids, "")
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
	if pinned {
		s.pinned[id] = true
	}
}

func (s *Store) removeIDLocked(id string) {
	i := sort.SearchStrings(s.ids, id)
	if i < len(s.ids) && s.ids[i] == id {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
}

func (s *Store) dropIndexed(id string) {
	s.mu.Lock()
	s.removeIDLocked(id)
	delete(s.pinned, id)
	s.mu.Unlock()
}

// evict silently removes the oldest unpinned records while their count
// exceeds max_clipboard. No pending entries: the server truncates the same
// way on its side.
func (s *Store) evict() {
	for {
		s.mu.Lock()
		victim := ""
		unpinned := 0
		for _, id := range s.ids {
			if s.pinned[id] {
				continue
			}
			unpinned++
			if victim == "" {
				victim = id
			}
		}
		if s.maxClipboard <= 0 || unpinned <= s.maxClipboard || victim == "" {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if err := s.Remove(victim); err != nil {
			s.logger.Warn(context.Background(), "eviction failed", "id", victim, "error", err)
			return
		}
		s.logger.Debug(context.Background(), "evicted record", "id", victim)
	}
}
