package core

import (
	"math/big"

	"github.com/gagliardetto/solana-go"

	"ghreward/core/state"
	"ghreward/crypto"
	"ghreward/native/reward"
)

// VaultInfo summarises the escrow vault of one mint.
type VaultInfo struct {
	Mint      crypto.Address
	Address   solana.PublicKey
	Authority solana.PublicKey
	Balance   *big.Int
	Liability *big.Int
}

func (n *Node) ProgramState() (*reward.ProgramState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ProgramState()
}

func (n *Node) Issue(repositoryName string, issueID uint64) (*reward.IssueRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Issue(repositoryName, issueID)
}

// Issues lists every escrow record in creation order.
func (n *Node) Issues() ([]*reward.IssueRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.RewardIssues()
}

func (n *Node) Identity(githubID string) (*reward.IdentityLink, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Identity(githubID)
}

func (n *Node) Balance(holder crypto.Address, mint crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Balance(holder[:], mint)
}

func (n *Node) Nonce(addr crypto.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Nonce(addr)
}

func (n *Node) Token(mint crypto.Address) (*state.TokenMetadata, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Token(mint)
}

func (n *Node) TokenBySymbol(symbol string) (*state.TokenMetadata, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenBySymbol(symbol)
}

func (n *Node) Vault(mint crypto.Address) (*VaultInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	address, err := n.engine.VaultAddress(mint)
	if err != nil {
		return nil, err
	}
	authority, err := n.engine.VaultAuthority()
	if err != nil {
		return nil, err
	}
	balance, liability, err := n.engine.VaultBalance(mint)
	if err != nil {
		return nil, err
	}
	return &VaultInfo{
		Mint:      mint,
		Address:   address,
		Authority: authority,
		Balance:   balance,
		Liability: liability,
	}, nil
}

// Close releases the backing database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.db.Close()
}
