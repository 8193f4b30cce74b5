package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store backing the ledger.
// Besides plain metadata reads and writes it exposes the trie node database
// so state tries and metadata share one backend.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func newKVDatabase(kv ethdb.KeyValueStore) *kvDatabase {
	return &kvDatabase{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, normaliseErr(err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	value, err := db.kv.Get(key)
	if err != nil {
		return nil, normaliseErr(err)
	}
	return value, nil
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db *kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *kvDatabase) Close() {
	if db.trieDB != nil {
		_ = db.trieDB.Close()
	}
	_ = db.kv.Close()
}

func normaliseErr(err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// --- In-Memory DB (for testing) ---

// MemDB keeps all state in memory.
type MemDB struct {
	*kvDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(memorydb.New())}
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*kvDatabase
}

const (
	levelDBCacheMB = 16
	levelDBHandles = 64
)

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := gethleveldb.New(path, levelDBCacheMB, levelDBHandles, "ghreward/db/", false)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{kvDatabase: newKVDatabase(kv)}, nil
}
