package events

import (
	"math/big"
	"strings"

	"ghreward/core/types"
	"ghreward/crypto"
)

const (
	TypeRewardInitialized        = "reward.initialized"
	TypeRewardLocked             = "reward.locked"
	TypeRewardIssueCompleted     = "reward.issue.completed"
	TypeRewardClaimed            = "reward.claimed"
	TypeRewardIdentityLinked     = "reward.identity.linked"
	TypeRewardAuthoritiesUpdated = "reward.authorities.updated"
)

type RewardInitialized struct {
	Owner               crypto.Address
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}

func (RewardInitialized) EventType() string { return TypeRewardInitialized }

func (e RewardInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardInitialized,
		Attributes: map[string]string{
			"owner":               e.Owner.String(),
			"authorizationSigner": e.AuthorizationSigner.String(),
			"privilegedAccount":   e.PrivilegedAccount.String(),
		},
	}
}

// RewardLocked is emitted for the initial lock and every top-up. Total is
// the record reward after the lock.
type RewardLocked struct {
	Repository string
	IssueID    uint64
	Funder     crypto.Address
	Mint       crypto.Address
	Amount     *big.Int
	Total      *big.Int
	Vault      string
}

func (RewardLocked) EventType() string { return TypeRewardLocked }

func (e RewardLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardLocked,
		Attributes: map[string]string{
			"repository": e.Repository,
			"issueId":    uintToString(e.IssueID),
			"funder":     e.Funder.String(),
			"mint":       e.Mint.String(),
			"amount":     formatAmount(e.Amount),
			"total":      formatAmount(e.Total),
			"vault":      e.Vault,
		},
	}
}

type RewardIssueCompleted struct {
	Repository   string
	IssueID      uint64
	Contributors []string
	Percentages  []uint8
}

func (RewardIssueCompleted) EventType() string { return TypeRewardIssueCompleted }

func (e RewardIssueCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardIssueCompleted,
		Attributes: map[string]string{
			"repository":   e.Repository,
			"issueId":      uintToString(e.IssueID),
			"contributors": strings.Join(e.Contributors, ","),
			"percentages":  joinPercentages(e.Percentages),
		},
	}
}

type RewardClaimed struct {
	Repository string
	IssueID    uint64
	GithubID   string
	Claimer    crypto.Address
	Mint       crypto.Address
	Amount     *big.Int
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }

func (e RewardClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardClaimed,
		Attributes: map[string]string{
			"repository": e.Repository,
			"issueId":    uintToString(e.IssueID),
			"githubId":   e.GithubID,
			"claimer":    e.Claimer.String(),
			"mint":       e.Mint.String(),
			"amount":     formatAmount(e.Amount),
		},
	}
}

type RewardIdentityLinked struct {
	GithubID string
	Address  crypto.Address
}

func (RewardIdentityLinked) EventType() string { return TypeRewardIdentityLinked }

func (e RewardIdentityLinked) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardIdentityLinked,
		Attributes: map[string]string{
			"githubId": e.GithubID,
			"address":  e.Address.String(),
		},
	}
}

type RewardAuthoritiesUpdated struct {
	Owner               crypto.Address
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}

func (RewardAuthoritiesUpdated) EventType() string { return TypeRewardAuthoritiesUpdated }

func (e RewardAuthoritiesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardAuthoritiesUpdated,
		Attributes: map[string]string{
			"owner":               e.Owner.String(),
			"authorizationSigner": e.AuthorizationSigner.String(),
			"privilegedAccount":   e.PrivilegedAccount.String(),
		},
	}
}
