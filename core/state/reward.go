package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ghreward/crypto"
	"ghreward/native/reward"
)

var (
	rewardProgramKey      = ethcrypto.Keccak256([]byte("reward/program"))
	rewardIssuePrefix     = []byte("reward/issue:")
	rewardIdentityPrefix  = []byte("reward/identity:")
	rewardLiabilityPrefix = []byte("reward/liability:")
	rewardIssueIndexKey   = []byte("reward/issue-index")
)

func rewardIssueKey(repositoryName string, issueID uint64) []byte {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, issueID)
	return prefixedKey(rewardIssuePrefix, ethcrypto.Keccak256([]byte(repositoryName)), id)
}

func rewardIdentityKey(githubID string) []byte {
	return prefixedKey(rewardIdentityPrefix, []byte(strings.ToLower(strings.TrimSpace(githubID))))
}

type storedProgramState struct {
	Owner               crypto.Address
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}

type storedIssue struct {
	RepositoryName         string
	IssueID                uint64
	TokenMint              crypto.Address
	Reward                 *big.Int
	Funder                 crypto.Address
	IsCompleted            bool
	Contributors           []string
	ContributorPercentages []byte
	Claimed                []string
	PaidOut                *big.Int
	CreatedAt              uint64
	CompletedAt            uint64
}

func newStoredIssue(r *reward.IssueRecord) *storedIssue {
	return &storedIssue{
		RepositoryName:         r.RepositoryName,
		IssueID:                r.IssueID,
		TokenMint:              r.TokenMint,
		Reward:                 nonNil(r.Reward),
		Funder:                 r.Funder,
		IsCompleted:            r.IsCompleted,
		Contributors:           append([]string{}, r.Contributors...),
		ContributorPercentages: append([]byte{}, r.ContributorPercentages...),
		Claimed:                append([]string{}, r.Claimed...),
		PaidOut:                nonNil(r.PaidOut),
		CreatedAt:              uint64(r.CreatedAt),
		CompletedAt:            uint64(r.CompletedAt),
	}
}

func (s *storedIssue) toRecord() *reward.IssueRecord {
	return &reward.IssueRecord{
		RepositoryName:         s.RepositoryName,
		IssueID:                s.IssueID,
		TokenMint:              s.TokenMint,
		Reward:                 nonNil(s.Reward),
		Funder:                 s.Funder,
		IsCompleted:            s.IsCompleted,
		Contributors:           append([]string(nil), s.Contributors...),
		ContributorPercentages: append([]uint8(nil), s.ContributorPercentages...),
		Claimed:                append([]string(nil), s.Claimed...),
		PaidOut:                nonNil(s.PaidOut),
		CreatedAt:              int64(s.CreatedAt),
		CompletedAt:            int64(s.CompletedAt),
	}
}

type storedIdentity struct {
	GithubID string
	Address  crypto.Address
	LinkedAt uint64
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// RewardProgramState loads the reward program singleton.
func (m *Manager) RewardProgramState() (*reward.ProgramState, bool, error) {
	stored := new(storedProgramState)
	ok, err := m.get(rewardProgramKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &reward.ProgramState{
		Owner:               stored.Owner,
		AuthorizationSigner: stored.AuthorizationSigner,
		PrivilegedAccount:   stored.PrivilegedAccount,
	}, true, nil
}

// PutRewardProgramState stores the reward program singleton.
func (m *Manager) PutRewardProgramState(p *reward.ProgramState) error {
	if p == nil {
		return fmt.Errorf("reward: nil program state")
	}
	return m.put(rewardProgramKey, &storedProgramState{
		Owner:               p.Owner,
		AuthorizationSigner: p.AuthorizationSigner,
		PrivilegedAccount:   p.PrivilegedAccount,
	})
}

// RewardIssue loads the escrow record for an issue.
func (m *Manager) RewardIssue(repositoryName string, issueID uint64) (*reward.IssueRecord, bool, error) {
	stored := new(storedIssue)
	ok, err := m.get(rewardIssueKey(repositoryName, issueID), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toRecord(), true, nil
}

// PutRewardIssue stores an escrow record and indexes new keys.
func (m *Manager) PutRewardIssue(r *reward.IssueRecord) error {
	if r == nil {
		return fmt.Errorf("reward: nil issue record")
	}
	key := rewardIssueKey(r.RepositoryName, r.IssueID)
	if err := m.put(key, newStoredIssue(r)); err != nil {
		return err
	}
	return m.KVAppend(rewardIssueIndexKey, key)
}

// RewardIssues returns every stored escrow record in creation order.
func (m *Manager) RewardIssues() ([]*reward.IssueRecord, error) {
	var keys [][]byte
	if err := m.KVGetList(rewardIssueIndexKey, &keys); err != nil {
		return nil, err
	}
	out := make([]*reward.IssueRecord, 0, len(keys))
	for _, key := range keys {
		stored := new(storedIssue)
		ok, err := m.get(key, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, stored.toRecord())
		}
	}
	return out, nil
}

// RewardIdentity loads the link for a GitHub login. Lookups are case
// insensitive.
func (m *Manager) RewardIdentity(githubID string) (*reward.IdentityLink, bool, error) {
	stored := new(storedIdentity)
	ok, err := m.get(rewardIdentityKey(githubID), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &reward.IdentityLink{GithubID: stored.GithubID, Address: stored.Address, LinkedAt: int64(stored.LinkedAt)}, true, nil
}

// PutRewardIdentity stores a GitHub login link.
func (m *Manager) PutRewardIdentity(link *reward.IdentityLink) error {
	if link == nil {
		return fmt.Errorf("reward: nil identity link")
	}
	return m.put(rewardIdentityKey(link.GithubID), &storedIdentity{
		GithubID: link.GithubID,
		Address:  link.Address,
		LinkedAt: uint64(link.LinkedAt),
	})
}

// VaultLiability returns the escrow still owed to contributors for mint.
func (m *Manager) VaultLiability(mint crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.get(prefixedKey(rewardLiabilityPrefix, mint[:]), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetVaultLiability stores the escrow owed for mint.
func (m *Manager) SetVaultLiability(mint crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("reward: invalid liability")
	}
	return m.put(prefixedKey(rewardLiabilityPrefix, mint[:]), amount)
}
