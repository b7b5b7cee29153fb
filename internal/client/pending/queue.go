// Package pending holds the durable FIFO of outbound mutations that the
// server has not yet acknowledged. Every mutation of the queue is rewritten
// to disk atomically before the call returns, so power loss never loses an
// entry.
package pending

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dmitrijs2005/clipsync/internal/filex"
)

type Kind string

const (
	KindNew    Kind = "new"
	KindEdit   Kind = "edit"
	KindRemove Kind = "remove"
)

// Entry is one outbound mutation. ID is the key the entry pertains to: the
// record id for a new, the superseded id for an edit, the victim for a
// remove. NewID is set for edits only.
type Entry struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
	NewID string `json:"new_id,omitempty"`
	Typ   string `json:"typ,omitempty"`
}

// key is the record id a mutation is about from the server's point of view.
func (e Entry) key() string { return e.ID }

// Queue preserves insertion order; a push for an id already present
// coalesces with the existing entry instead of appending.
type Queue struct {
	mu       sync.Mutex
	path     string
	entries  []Entry
	inFlight bool
	notify   chan struct{}
}

func New(path string) (*Queue, error) {
	q := &Queue{path: path, notify: make(chan struct{}, 1)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, fmt.Errorf("read pending queue: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.entries); err != nil {
			return nil, fmt.Errorf("parse pending queue: %w", err)
		}
	}
	return q, nil
}

// Notify returns a channel that receives a token after every push; the sync
// engine selects on it to start draining.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Push appends or coalesces a mutation and persists the queue.
//
// Coalescing table:
//   - new + edit    → new under the edit's fresh id (the server never saw the old one)
//   - edit + edit   → one edit from the original id to the latest
//   - any + remove  → remove of the oldest server-known id
//   - dup remove    → collapses
func (q *Queue) Push(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.coalesceLocked(e)

	if err := q.persistLocked(); err != nil {
		return err
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) coalesceLocked(e Entry) {
	idx := -1
	for i, cur := range q.entries {
		// the pinned head is exactly what went over the wire; mutations
		// against it queue behind it instead of rewriting it
		if q.inFlight && i == 0 {
			continue
		}
		if cur.ID == e.ID || (cur.NewID != "" && cur.NewID == e.ID) {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.entries = append(q.entries, e)
		return
	}

	cur := q.entries[idx]
	switch {
	case e.Kind == KindRemove:
		// the server knows the entry under its original id
		q.entries[idx] = Entry{Kind: KindRemove, ID: cur.ID}
	case e.Kind == KindEdit && cur.Kind == KindNew:
		q.entries[idx] = Entry{Kind: KindNew, ID: e.NewID, Typ: e.Typ}
	case e.Kind == KindEdit && cur.Kind == KindEdit:
		q.entries[idx] = Entry{Kind: KindEdit, ID: cur.ID, NewID: e.NewID, Typ: e.Typ}
	default:
		q.entries[idx] = e
	}
}

// Peek returns the oldest entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Ack removes the entry keyed by id, unpins the head and persists.
func (q *Queue) Ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inFlight = false
	for i, cur := range q.entries {
		if cur.key() == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return q.persistLocked()
		}
	}
	return nil
}

// MarkInFlight pins the head entry while its upload awaits the server's
// reply, so a concurrent edit or remove cannot rewrite what was sent.
func (q *Queue) MarkInFlight() {
	q.mu.Lock()
	q.inFlight = true
	q.mu.Unlock()
}

// ClearInFlight unpins the head, e.g. when the session drops mid-upload and
// the entry will be re-sent.
func (q *Queue) ClearInFlight() {
	q.mu.Lock()
	q.inFlight = false
	q.mu.Unlock()
}

// RemapID rewrites every reference to old into new after the server assigned
// a different id to an upload, so queued mutations chase the id the server
// actually knows.
func (q *Queue) RemapID(old, new string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for i := range q.entries {
		if q.entries[i].ID == old {
			q.entries[i].ID = new
			changed = true
		}
		if q.entries[i].NewID == old {
			q.entries[i].NewID = new
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return q.persistLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// PendingIDs returns every id the queue references. The sync engine skips
// these when applying a server prune, since the server has not seen them yet.
func (q *Queue) PendingIDs() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make(map[string]struct{}, len(q.entries)*2)
	for _, e := range q.entries {
		ids[e.ID] = struct{}{}
		if e.NewID != "" {
			ids[e.NewID] = struct{}{}
		}
	}
	return ids
}

func (q *Queue) persistLocked() error {
	data, err := json.Marshal(q.entries)
	if err != nil {
		return fmt.Errorf("marshal pending queue: %w", err)
	}
	if err := filex.WriteAtomic(q.path, data, 0o660); err != nil {
		return fmt.Errorf("persist pending queue: %w", err)
	}
	return nil
}
