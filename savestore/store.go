// Package savestore keeps VM snapshots in named save slots backed by SQLite.
package savestore

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/scivm/vm"
)

var log = commonlog.GetLogger("scivm.savestore")

// ErrSlotNotFound indicates the requested save slot doesn't exist
var ErrSlotNotFound = errors.New("save slot not found")

// ErrWrongVocabulary indicates a slot was saved under another vocabulary
var ErrWrongVocabulary = errors.New("save slot belongs to another vocabulary")

// Slot describes one saved game without its snapshot data.
type Slot struct {
	Name     string
	Identity []byte
	Size     int
	Created  time.Time
}

// Store handles SQLite storage for save slots
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if needed) the save database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		name     TEXT PRIMARY KEY,
		identity BLOB NOT NULL,
		data     BLOB NOT NULL,
		created  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened save store %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Save writes snapshot data to slot name, replacing any previous save.
// identity is the selector-table identity the snapshot was taken with.
func (s *Store) Save(name string, identity, data []byte) error {
	if name == "" {
		return errors.New("save slot name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO slots (name, identity, data, created) VALUES (?, ?, ?, ?)",
		name, identity, data, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving slot %s: %w", name, err)
	}
	log.Infof("saved slot %s (%d bytes)", name, len(data))
	return nil
}

// Load returns the snapshot data and identity stored in slot name.
func (s *Store) Load(name string) (data, identity []byte, err error) {
	err = s.db.QueryRow("SELECT data, identity FROM slots WHERE name = ?", name).Scan(&data, &identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSlotNotFound, name)
		}
		return nil, nil, fmt.Errorf("querying slot %s: %w", name, err)
	}
	return data, identity, nil
}

// List returns every slot, newest first.
func (s *Store) List() ([]Slot, error) {
	rows, err := s.db.Query("SELECT name, identity, length(data), created FROM slots ORDER BY created DESC, name")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var slot Slot
		var created int64
		if err := rows.Scan(&slot.Name, &slot.Identity, &slot.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slot.Created = time.Unix(0, created)
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// Delete removes slot name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM slots WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting slot %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, name)
	}
	return nil
}

// SaveVM captures machine into slot name.
func (s *Store) SaveVM(name string, machine *vm.VM) error {
	data, err := machine.Capture()
	if err != nil {
		return err
	}
	return s.Save(name, machine.Selectors.Identity(), data)
}

// RestoreVM restores machine from slot name. A slot saved under another
// vocabulary is refused before the snapshot is decoded.
func (s *Store) RestoreVM(name string, machine *vm.VM) error {
	data, identity, err := s.Load(name)
	if err != nil {
		return err
	}
	if !bytes.Equal(identity, machine.Selectors.Identity()) {
		return fmt.Errorf("%w: %s", ErrWrongVocabulary, name)
	}
	return machine.Restore(data)
}
