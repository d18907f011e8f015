package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cartFileName is the fixed storage key for the persisted cart, the
// equivalent of the browser's localStorage entry.
const cartFileName = "seatlease-cart.json"

// PersistedCart is the durable mirror of the active cart.  It is
// written on every change and read back on startup to reconstruct
// Active (or Degraded) state across reloads while the expiry is still
// in the future.
//
// Fields:
//  EventID   – event the seats belong to.
//  Seats     – the held seat set.
//  ExpiresAt – lease expiry; a past value means the cart resets.
//  Degraded  – whether the lease is a local-only simulation.
type PersistedCart struct {
	EventID   string    `json:"event_id"`
	Seats     []string  `json:"seats"`
	ExpiresAt time.Time `json:"expires_at"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Storage persists the cart across restarts.  Load returns (nil, nil)
// when nothing is stored.  Implementations must tolerate concurrent use
// from the controller's mutation path and its background loops.
type Storage interface {
	Load() (*PersistedCart, error)
	Save(cart *PersistedCart) error
	Clear() error
}

// MemoryStorage keeps the cart in process memory.  Used in tests and
// wherever persistence across restarts is not wanted.
type MemoryStorage struct {
	mu   sync.Mutex
	cart *PersistedCart
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

func (m *MemoryStorage) Load() (*PersistedCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cart == nil {
		return nil, nil
	}
	cp := *m.cart
	cp.Seats = append([]string(nil), m.cart.Seats...)
	return &cp, nil
}

func (m *MemoryStorage) Save(cart *PersistedCart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cart
	cp.Seats = append([]string(nil), cart.Seats...)
	m.cart = &cp
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = nil
	return nil
}

// FileStorage persists the cart as a JSON file under a directory,
// typically the user's cache dir.  Writes go through a temp file and
// rename so a crash mid-write never leaves a corrupt cart.
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileStorage returns a FileStorage rooted at dir, creating the
// directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path() string { return filepath.Join(f.dir, cartFileName) }

func (f *FileStorage) Load() (*PersistedCart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cart PersistedCart
	if err := json.Unmarshal(data, &cart); err != nil {
		// A corrupt cart file is treated as absent; the buyer just
		// starts with an empty cart.
		return nil, nil
	}
	return &cart, nil
}

func (f *FileStorage) Save(cart *PersistedCart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path())
}

func (f *FileStorage) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
