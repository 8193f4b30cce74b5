package genesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ghreward/core/state"
	"ghreward/crypto"
	"ghreward/native/reward"
	"ghreward/storage"
	"ghreward/storage/trie"
)

// Build writes the genesis state described by spec into db and returns the
// committed state root.
func Build(spec *Spec, db storage.Database) (common.Hash, error) {
	if spec == nil {
		return common.Hash{}, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return common.Hash{}, fmt.Errorf("database must not be nil")
	}
	stateTrie, err := trie.NewTrie(db, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("init state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)
	parentRoot := stateTrie.Root()

	// 1) Tokens in declaration order.
	for i, token := range spec.Tokens {
		mint, _ := crypto.ParseAddress(token.Mint)
		meta := state.TokenMetadata{
			Mint:     mint,
			Symbol:   token.Symbol,
			Name:     token.Name,
			Decimals: token.Decimals,
		}
		if token.MintAuthority != "" {
			meta.MintAuthority, _ = crypto.ParseAddress(token.MintAuthority)
		}
		if err := manager.RegisterToken(meta); err != nil {
			return common.Hash{}, fmt.Errorf("tokens[%d]: %w", i, err)
		}
	}

	// 2) Allocations (sorted by address then symbol).
	addresses := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	for _, addrStr := range addresses {
		addr, _ := crypto.ParseAddress(addrStr)
		symbols := make([]string, 0, len(spec.Alloc[addrStr]))
		for symbol := range spec.Alloc[addrStr] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			meta, err := manager.TokenBySymbol(symbol)
			if err != nil {
				return common.Hash{}, err
			}
			if meta == nil {
				return common.Hash{}, fmt.Errorf("alloc[%q]: unknown token %q", addrStr, symbol)
			}
			amount, err := parseAmountString(spec.Alloc[addrStr][symbol])
			if err != nil {
				return common.Hash{}, fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			if err := manager.SetBalance(addr[:], meta.Mint, amount); err != nil {
				return common.Hash{}, fmt.Errorf("alloc[%q][%q]: %w", addrStr, strings.ToUpper(symbol), err)
			}
		}
	}

	// 3) Optional reward program authorities.
	if spec.Reward != nil {
		owner, _ := crypto.ParseAddress(spec.Reward.Owner)
		signer, _ := crypto.ParseAddress(spec.Reward.AuthorizationSigner)
		privileged, _ := crypto.ParseAddress(spec.Reward.PrivilegedAccount)
		if err := manager.PutRewardProgramState(&reward.ProgramState{
			Owner:               owner,
			AuthorizationSigner: signer,
			PrivilegedAccount:   privileged,
		}); err != nil {
			return common.Hash{}, fmt.Errorf("reward: %w", err)
		}
	}

	root, err := stateTrie.Commit(parentRoot, 0)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	return root, nil
}
