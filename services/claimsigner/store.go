package claimsigner

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAuthorizations = []byte("authorizations")
	bucketByLogin        = []byte("by_login")

	// ErrNotFound is returned when an authorization does not exist.
	ErrNotFound = errors.New("authorization not found")
)

// Authorization kinds.
const (
	KindLink  = "link"
	KindClaim = "claim"
)

// Authorization is the audit record of one issued signature.
type Authorization struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	Kind       string    `json:"kind"`
	Login      string    `json:"login"`
	Address    string    `json:"address"`
	Repository string    `json:"repository,omitempty"`
	IssueID    uint64    `json:"issueId,omitempty"`
	Reward     string    `json:"reward,omitempty"`
	Mint       string    `json:"mint,omitempty"`
	Signature  string    `json:"signature"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Store keeps an append-only audit trail of issued authorizations.
type Store struct {
	db *bolt.DB
}

// NewStore opens (and migrates) the BoltDB-backed audit store.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAuthorizations, bucketByLogin} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends an authorization. IDs must be unique.
func (s *Store) Record(auth Authorization) error {
	if strings.TrimSpace(auth.ID) == "" {
		return errors.New("authorization id required")
	}
	encoded, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAuthorizations)
		if bucket.Get([]byte(auth.ID)) != nil {
			return errors.New("authorization already recorded")
		}
		if err := bucket.Put([]byte(auth.ID), encoded); err != nil {
			return err
		}
		return tx.Bucket(bucketByLogin).Put(loginKey(auth.Login, auth.ID), []byte(auth.ID))
	})
}

// Get fetches one authorization by id.
func (s *Store) Get(id string) (Authorization, error) {
	var auth Authorization
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAuthorizations).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &auth)
	})
	return auth, err
}

// ByLogin lists every authorization issued to login, oldest first.
func (s *Store) ByLogin(login string) ([]Authorization, error) {
	prefix := loginKey(login, "")
	var out []Authorization
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketAuthorizations)
		cursor := tx.Bucket(bucketByLogin).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cursor.Next() {
			raw := records.Get(v)
			if raw == nil {
				continue
			}
			var auth Authorization
			if err := json.Unmarshal(raw, &auth); err != nil {
				return err
			}
			out = append(out, auth)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func loginKey(login, id string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(login)) + "\x00" + id)
}
