package types

import (
	"math/big"

	"ghreward/crypto"
)

// TransferPayload moves Amount of Mint from the sender to To.
type TransferPayload struct {
	Mint   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

// InitializePayload creates the program state with the sender as owner.
type InitializePayload struct {
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}

// LockRewardPayload escrows Reward of TokenMint for an issue.
type LockRewardPayload struct {
	RepositoryName string
	IssueID        uint64
	Reward         *big.Int
	TokenMint      crypto.Address
}

// CompleteIssuePayload records the contributor split for an issue.
type CompleteIssuePayload struct {
	RepositoryName         string
	IssueID                uint64
	Contributors           []string
	ContributorPercentages []uint8
}

// ClaimRewardPayload withdraws GithubID's share to the sender.
type ClaimRewardPayload struct {
	RepositoryName string
	IssueID        uint64
	GithubID       string
	Signature      []byte
}

// LinkIdentityPayload binds GithubID to the sender.
type LinkIdentityPayload struct {
	GithubID  string
	Signature []byte
}

// UpdateAuthoritiesPayload rotates program authorities. Zero addresses leave
// the corresponding field unchanged.
type UpdateAuthoritiesPayload struct {
	Owner               crypto.Address
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}
