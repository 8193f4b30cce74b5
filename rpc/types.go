package rpc

import (
	"math/big"

	"ghreward/core"
	"ghreward/indexer"
	"ghreward/native/reward"
)

// BalanceResult reports a holder's balance of one mint.
type BalanceResult struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Symbol  string `json:"symbol,omitempty"`
	Balance string `json:"balance"`
}

// StatusResult reports the ledger head.
type StatusResult struct {
	ChainID   uint64 `json:"chainId"`
	Height    uint64 `json:"height"`
	StateRoot string `json:"stateRoot"`
	ProgramID string `json:"programId"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// ProgramStateResult describes the reward program authorities.
type ProgramStateResult struct {
	ProgramID           string `json:"programId"`
	StateAddress        string `json:"stateAddress"`
	VaultAuthority      string `json:"vaultAuthority"`
	Owner               string `json:"owner"`
	AuthorizationSigner string `json:"authorizationSigner"`
	PrivilegedAccount   string `json:"privilegedAccount"`
}

// IssueResult is the JSON view of an escrow record.
type IssueResult struct {
	Address                string   `json:"address"`
	RepositoryName         string   `json:"repositoryName"`
	IssueID                uint64   `json:"issueId"`
	TokenMint              string   `json:"tokenMint"`
	Reward                 string   `json:"reward"`
	Funder                 string   `json:"funder"`
	IsCompleted            bool     `json:"isCompleted"`
	Contributors           []string `json:"contributors"`
	ContributorPercentages []uint32 `json:"contributorPercentages"`
	Claimed                []string `json:"claimed"`
	PaidOut                string   `json:"paidOut"`
	Outstanding            string   `json:"outstanding"`
	CreatedAt              int64    `json:"createdAt"`
	CompletedAt            int64    `json:"completedAt,omitempty"`
}

type VaultResult struct {
	Mint      string `json:"mint"`
	Address   string `json:"address"`
	Authority string `json:"authority"`
	Balance   string `json:"balance"`
	Liability string `json:"liability"`
}

type IdentityResult struct {
	GithubID string `json:"githubId"`
	Address  string `json:"address"`
	LinkedAt int64  `json:"linkedAt"`
}

type ClaimResult struct {
	RepositoryName string `json:"repositoryName"`
	IssueID        uint64 `json:"issueId"`
	GithubID       string `json:"githubId"`
	Claimer        string `json:"claimer"`
	Mint           string `json:"mint"`
	Amount         string `json:"amount"`
	ClaimedAt      int64  `json:"claimedAt"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func issueResult(address string, r *reward.IssueRecord) *IssueResult {
	pcts := make([]uint32, len(r.ContributorPercentages))
	for i, p := range r.ContributorPercentages {
		pcts[i] = uint32(p)
	}
	contributors := r.Contributors
	if contributors == nil {
		contributors = []string{}
	}
	claimed := r.Claimed
	if claimed == nil {
		claimed = []string{}
	}
	return &IssueResult{
		Address:                address,
		RepositoryName:         r.RepositoryName,
		IssueID:                r.IssueID,
		TokenMint:              r.TokenMint.String(),
		Reward:                 amountString(r.Reward),
		Funder:                 r.Funder.String(),
		IsCompleted:            r.IsCompleted,
		Contributors:           contributors,
		ContributorPercentages: pcts,
		Claimed:                claimed,
		PaidOut:                amountString(r.PaidOut),
		Outstanding:            amountString(r.Outstanding()),
		CreatedAt:              r.CreatedAt,
		CompletedAt:            r.CompletedAt,
	}
}

func vaultResult(v *core.VaultInfo) *VaultResult {
	return &VaultResult{
		Mint:      v.Mint.String(),
		Address:   v.Address.String(),
		Authority: v.Authority.String(),
		Balance:   amountString(v.Balance),
		Liability: amountString(v.Liability),
	}
}

func claimResult(c indexer.Claim) ClaimResult {
	return ClaimResult{
		RepositoryName: c.Repository,
		IssueID:        c.IssueID,
		GithubID:       c.GithubID,
		Claimer:        c.Claimer,
		Mint:           c.Mint,
		Amount:         c.Amount,
		ClaimedAt:      c.ClaimedAt.Unix(),
	}
}
