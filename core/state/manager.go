package state

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"ghreward/crypto"
	"ghreward/storage/trie"
)

// Manager reads and writes ledger records stored in the state trie. Values
// are RLP encoded and keyed by keccak256(prefix || id).
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie exposes the trie currently backing the manager.
func (m *Manager) Trie() *trie.Trie { return m.trie }

// Snapshot returns an independent copy of the current state that Revert can
// restore.
func (m *Manager) Snapshot() *trie.Trie { return m.trie.Copy() }

// Revert discards every mutation made since snapshot was taken.
func (m *Manager) Revert(snapshot *trie.Trie) {
	if snapshot != nil {
		m.trie = snapshot
	}
}

// TokenMetadata describes a registered token mint.
type TokenMetadata struct {
	Mint          crypto.Address
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority crypto.Address
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	noncePrefix   = []byte("nonce:")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.trie.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// RegisterToken stores mint metadata and records it in the token index.
func (m *Manager) RegisterToken(meta TokenMetadata) error {
	symbol := strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(meta.Name) == "" {
		return fmt.Errorf("token %s: name must not be empty", symbol)
	}
	if meta.Mint.IsZero() {
		return fmt.Errorf("token %s: mint address must not be zero", symbol)
	}
	existing, err := m.Token(meta.Mint)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %s already registered", meta.Mint)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	for _, mint := range list {
		other, err := m.Token(mint)
		if err != nil {
			return err
		}
		if other != nil && other.Symbol == symbol {
			return fmt.Errorf("token symbol %s already registered", symbol)
		}
	}
	list = append(list, meta.Mint)
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i][:], list[j][:]) < 0 })
	if err := m.put(tokenListKey, list); err != nil {
		return err
	}
	meta.Symbol = symbol
	return m.put(prefixedKey(tokenPrefix, meta.Mint[:]), &meta)
}

// Token returns the metadata for mint or nil when it is not registered.
func (m *Manager) Token(mint crypto.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.get(prefixedKey(tokenPrefix, mint[:]), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// TokenRegistered reports whether mint has metadata.
func (m *Manager) TokenRegistered(mint crypto.Address) (bool, error) {
	meta, err := m.Token(mint)
	return meta != nil, err
}

// TokenList returns all registered mints in byte order.
func (m *Manager) TokenList() ([]crypto.Address, error) {
	var list []crypto.Address
	if _, err := m.get(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// TokenBySymbol resolves a registered token by its symbol.
func (m *Manager) TokenBySymbol(symbol string) (*TokenMetadata, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	list, err := m.TokenList()
	if err != nil {
		return nil, err
	}
	for _, mint := range list {
		meta, err := m.Token(mint)
		if err != nil {
			return nil, err
		}
		if meta != nil && meta.Symbol == normalized {
			return meta, nil
		}
	}
	return nil, nil
}

// SetBalance stores the balance of holder for mint. Holders are account
// addresses or program-derived addresses.
func (m *Manager) SetBalance(holder []byte, mint crypto.Address, amount *big.Int) error {
	if len(holder) == 0 {
		return fmt.Errorf("holder must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	registered, err := m.TokenRegistered(mint)
	if err != nil {
		return err
	}
	if !registered {
		return fmt.Errorf("token %s not registered", mint)
	}
	key := prefixedKey(balancePrefix, mint[:], holder)
	if amount.Sign() == 0 {
		return m.trie.Update(key, nil)
	}
	return m.put(key, amount)
}

// Balance returns the balance of holder for mint.
func (m *Manager) Balance(holder []byte, mint crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.get(prefixedKey(balancePrefix, mint[:], holder), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Nonce returns the next expected transaction nonce for addr.
func (m *Manager) Nonce(addr crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.get(prefixedKey(noncePrefix, addr[:]), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce stores the next expected nonce for addr.
func (m *Manager) SetNonce(addr crypto.Address, nonce uint64) error {
	return m.put(prefixedKey(noncePrefix, addr[:]), nonce)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.put(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.get(kvKey(key), out)
}

// KVAppend appends value to the byte-slice list stored under key. Duplicate
// values are ignored to keep the index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if _, err := m.get(kvKey(key), &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.put(kvKey(key), list)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	ok, err := m.get(kvKey(key), out)
	if err != nil || ok {
		return err
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}
