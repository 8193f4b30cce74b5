package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"ghreward/storage"
)

// Trie is the ledger's state trie. Callers hash keys themselves; the
// reward state manager uses keccak256(prefix || id).
//
// Not safe for concurrent use; core.Node serialises access.
type Trie struct {
	nodes *triedb.Database
	trie  *gethtrie.Trie
	// root is the last committed root. Hash() includes pending writes.
	root common.Hash
}

// NewTrie opens the trie at root. An empty root opens the empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	t := &Trie{nodes: store.TrieDB()}
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	if err := t.open(rootHash); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) open(root common.Hash) error {
	underlying, err := gethtrie.New(gethtrie.TrieID(root), t.nodes)
	if err != nil {
		return err
	}
	t.trie = underlying
	t.root = root
	return nil
}

// Get returns nil for absent keys.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.trie.Get(key)
}

// Update writes value under key; an empty value deletes it.
func (t *Trie) Update(key, value []byte) error {
	if len(value) == 0 {
		return t.trie.Delete(key)
	}
	return t.trie.Update(key, value)
}

func (t *Trie) Hash() common.Hash { return t.trie.Hash() }

func (t *Trie) Root() common.Hash { return t.root }

// Copy snapshots the trie for rollback. The copy shares the node database.
func (t *Trie) Copy() *Trie {
	return &Trie{nodes: t.nodes, trie: t.trie.Copy(), root: t.root}
}

// Commit writes dirty nodes at height and reopens the trie at the new root.
func (t *Trie) Commit(parent common.Hash, height uint64) (common.Hash, error) {
	newRoot, dirty := t.trie.Commit(false)
	if dirty != nil {
		set := trienode.NewMergedNodeSet()
		if err := set.Merge(dirty); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Update(newRoot, parent, height, set, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Commit(newRoot, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.open(newRoot); err != nil {
		return common.Hash{}, err
	}
	return newRoot, nil
}
