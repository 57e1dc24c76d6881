// Package storage keeps the index of saved chat sessions. The index is an
// append-only JSONL log guarded by a file lock, compacted once it grows well
// past the number of live sessions.
package storage

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrNoMatches is returned when no session matches the query.
	ErrNoMatches = errors.New("no sessions found")
	// ErrManyMatches is returned when several sessions match the query.
	ErrManyMatches = errors.New("multiple sessions matched the input")
)

const (
	indexFileName      = "index.jsonl"
	lockFileName       = "index.lock"
	compactMinOps      = 256
	compactScaleFactor = 4
)

const (
	opUpsert = "upsert"
	opDelete = "delete"
)

type event struct {
	Op      string   `json:"op"`
	ID      string   `json:"id,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Session is the index entry of a saved conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	API       string    `json:"api,omitempty"`
	Model     string    `json:"model,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	Messages  int       `json:"messages"`
}

// DB is the session index.
type DB struct {
	mu        sync.RWMutex
	indexPath string
	lock      *flock.Flock
	sessions  map[string]Session
	ops       int
}

// Open loads the index stored in dir, creating dir if needed.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create store directory: %w", err)
	}
	db := &DB{
		indexPath: filepath.Join(dir, indexFileName),
		lock:      flock.New(filepath.Join(dir, lockFileName)),
		sessions:  map[string]Session{},
	}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

// Save upserts s, stamping it with the current time.
func (db *DB) Save(s Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("save session: empty id")
	}
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("save session: empty title")
	}
	s.UpdatedAt = time.Now().UTC()

	db.mu.Lock()
	defer db.mu.Unlock()
	db.sessions[s.ID] = s
	if err := db.appendLocked(event{Op: opUpsert, Session: &s}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return db.compactIfNeededLocked()
}

// Delete removes the session with the given id.
func (db *DB) Delete(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoMatches, id)
	}
	delete(db.sessions, id)
	if err := db.appendLocked(event{Op: opDelete, ID: id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return db.compactIfNeededLocked()
}

// Latest returns the most recently updated session.
func (db *DB) Latest() (Session, error) {
	list := db.List()
	if len(list) == 0 {
		return Session{}, ErrNoMatches
	}
	return list[0], nil
}

// Find resolves a session by id prefix or exact title. Prefixes shorter
// than IDMinLen only match titles.
func (db *DB) Find(in string) (Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var found []Session
	for _, s := range db.sessions {
		if s.Title == in || (len(in) >= IDMinLen && strings.HasPrefix(s.ID, in)) {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return Session{}, fmt.Errorf("%w: %s", ErrNoMatches, in)
	case 1:
		return found[0], nil
	default:
		return Session{}, fmt.Errorf("%w: %s", ErrManyMatches, in)
	}
}

// List returns sessions, most recently updated first.
func (db *DB) List() []Session {
	db.mu.RLock()
	out := make([]Session, 0, len(db.sessions))
	for _, s := range db.sessions {
		out = append(out, s)
	}
	db.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Completions returns shell completion candidates for ids and titles.
func (db *DB) Completions(in string) []string {
	set := map[string]struct{}{}
	db.mu.RLock()
	for _, s := range db.sessions {
		if strings.HasPrefix(s.ID, in) {
			id := s.ID
			if len(in) < IDShort {
				id = ShortID(id)
			}
			set[id+"\t"+s.Title] = struct{}{}
		}
		if strings.HasPrefix(s.Title, in) {
			set[s.Title+"\t"+ShortID(s.ID)] = struct{}{}
		}
	}
	db.mu.RUnlock()

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func (db *DB) load() error {
	if err := db.lock.Lock(); err != nil {
		return fmt.Errorf("could not lock index file: %w", err)
	}
	defer func() { _ = db.lock.Unlock() }()

	file, err := os.Open(db.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not open index file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) //nolint:mnd
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var evt event
		if err := json.Unmarshal([]byte(text), &evt); err != nil {
			return fmt.Errorf("could not parse index line %d: %w", line, err)
		}
		if err := db.apply(evt); err != nil {
			return fmt.Errorf("index line %d: %w", line, err)
		}
		db.ops++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not scan index file: %w", err)
	}
	return nil
}

func (db *DB) apply(evt event) error {
	switch evt.Op {
	case opUpsert:
		if evt.Session == nil || strings.TrimSpace(evt.Session.ID) == "" {
			return errors.New("invalid upsert event")
		}
		db.sessions[evt.Session.ID] = *evt.Session
	case opDelete:
		if strings.TrimSpace(evt.ID) == "" {
			return errors.New("invalid delete event: empty id")
		}
		delete(db.sessions, evt.ID)
	default:
		return fmt.Errorf("invalid index event op: %q", evt.Op)
	}
	return nil
}

func (db *DB) appendLocked(evt event) error {
	if err := db.lock.Lock(); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() { _ = db.lock.Unlock() }()

	bts, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal index event: %w", err)
	}
	file, err := os.OpenFile(db.indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Write(append(bts, '\n')); err != nil {
		return fmt.Errorf("write index event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	db.ops++
	return nil
}

func (db *DB) compactIfNeededLocked() error {
	if db.ops < compactMinOps || db.ops < len(db.sessions)*compactScaleFactor {
		return nil
	}
	if err := db.compactLocked(); err != nil {
		return fmt.Errorf("compact index: %w", err)
	}
	return nil
}

// compactLocked rewrites the log with one upsert per live session, oldest
// first, and swaps it in with a rename.
func (db *DB) compactLocked() error {
	if err := db.lock.Lock(); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() { _ = db.lock.Unlock() }()

	items := make([]Session, 0, len(db.sessions))
	for _, s := range db.sessions {
		items = append(items, s)
	}
	slices.SortFunc(items, func(a, b Session) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	tmpPath := db.indexPath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	for _, s := range items {
		if err := enc.Encode(event{Op: opUpsert, Session: &s}); err != nil {
			_ = file.Close()
			return err
		}
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, db.indexPath); err != nil {
		return err
	}
	if d, err := os.Open(filepath.Dir(db.indexPath)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	db.ops = len(db.sessions)
	return nil
}
