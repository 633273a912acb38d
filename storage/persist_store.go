package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrStatePathInUse is returned when a second writer opens a path that is
// already held open in this process.
var ErrStatePathInUse = errors.New("state path already open")

var (
	openPathsMu sync.Mutex
	openPaths   = make(map[string]struct{})
)

// PersistenceStore wraps LevelDB for raw key-value persistence.
// Thread-safe: LevelDB handles its own synchronization.
type PersistenceStore struct {
	db   *leveldb.DB
	path string

	closeOnce sync.Once
}

// NewPersistenceStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage. A path stays reserved until
// Close; LevelDB's own file lock covers other processes.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		memStorage := leveldbstorage.NewMemStorage()
		db, err = leveldb.Open(memStorage, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory database: %w", err)
		}
		return &PersistenceStore{db: db}, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	openPathsMu.Lock()
	defer openPathsMu.Unlock()
	if _, busy := openPaths[abs]; busy {
		return nil, fmt.Errorf("%w: %s", ErrStatePathInUse, abs)
	}
	db, err = leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", abs, err)
	}
	openPaths[abs] = struct{}{}
	log.Debug(log.Storage, "opened state store", "path", abs)
	return &PersistenceStore{db: db, path: abs}, nil
}

// NewMemoryPersistenceStore creates an in-memory PersistenceStore for testing.
func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

// Get retrieves a value by key. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %x: %w", key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Put(key []byte, value []byte) error {
	return ps.db.Put(key, value, nil)
}

func (ps *PersistenceStore) Delete(key []byte) error {
	return ps.db.Delete(key, nil)
}

// PutBatch applies all pairs in a single atomic LevelDB batch.
func (ps *PersistenceStore) PutBatch(pairs [][2][]byte) error {
	batch := new(leveldb.Batch)
	for _, kv := range pairs {
		batch.Put(kv[0], kv[1])
	}
	if err := ps.db.Write(batch, nil); err != nil {
		return fmt.Errorf("PutBatch of %d keys: %w", len(pairs), err)
	}
	return nil
}

// GetWithPrefix returns all key-value pairs with the given prefix.
// Returns pairs sorted by key order.
func (ps *PersistenceStore) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		// Copy key and value to avoid iterator reuse issues
		keyCopy := append([]byte(nil), iter.Key()...)
		valueCopy := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{keyCopy, valueCopy})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("GetWithPrefix %x: %w", prefix, err)
	}
	return results, nil
}

// GetHash returns error if not found (unlike Get which returns found=false).
func (ps *PersistenceStore) GetHash(key common.Hash) ([]byte, error) {
	return ps.db.Get(key.Bytes(), nil)
}

func (ps *PersistenceStore) PutHash(key common.Hash, value []byte) error {
	return ps.db.Put(key.Bytes(), value, nil)
}

// Close releases the database and its path reservation. Safe to call twice.
func (ps *PersistenceStore) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		err = ps.db.Close()
		if ps.path != "" {
			openPathsMu.Lock()
			delete(openPaths, ps.path)
			openPathsMu.Unlock()
			log.Debug(log.Storage, "closed state store", "path", ps.path)
		}
	})
	return err
}

// DB returns the underlying LevelDB instance for advanced operations.
// Use sparingly - prefer the wrapper methods.
func (ps *PersistenceStore) DB() *leveldb.DB {
	return ps.db
}
