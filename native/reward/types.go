package reward

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"ghreward/crypto"
)

const (
	// MaxContributors bounds the split stored on a single issue.
	MaxContributors = 32
	// MaxRepositoryNameLength bounds "owner/name" identifiers.
	MaxRepositoryNameLength = 140
	// PercentTotal is the required sum of a contributor split.
	PercentTotal = 100
)

var githubLoginPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)

// ProgramState holds the singleton authorities of the reward program.
type ProgramState struct {
	Owner               crypto.Address
	AuthorizationSigner crypto.Address
	PrivilegedAccount   crypto.Address
}

func (s *ProgramState) Clone() *ProgramState {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// IssueRecord is the escrow bound to one repository issue.
type IssueRecord struct {
	RepositoryName         string
	IssueID                uint64
	TokenMint              crypto.Address
	Reward                 *big.Int
	Funder                 crypto.Address
	IsCompleted            bool
	Contributors           []string
	ContributorPercentages []uint8
	Claimed                []string
	PaidOut                *big.Int
	CreatedAt              int64
	CompletedAt            int64
}

// Clone returns a deep copy of the record.
func (r *IssueRecord) Clone() *IssueRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Reward = cloneBigInt(r.Reward)
	clone.PaidOut = cloneBigInt(r.PaidOut)
	clone.Contributors = append([]string(nil), r.Contributors...)
	clone.ContributorPercentages = append([]uint8(nil), r.ContributorPercentages...)
	clone.Claimed = append([]string(nil), r.Claimed...)
	return &clone
}

// ShareOf returns the percentage assigned to githubID.
func (r *IssueRecord) ShareOf(githubID string) (uint8, bool) {
	for i, contributor := range r.Contributors {
		if sameLogin(contributor, githubID) {
			return r.ContributorPercentages[i], true
		}
	}
	return 0, false
}

// HasClaimed reports whether githubID already withdrew its share.
func (r *IssueRecord) HasClaimed(githubID string) bool {
	for _, claimed := range r.Claimed {
		if sameLogin(claimed, githubID) {
			return true
		}
	}
	return false
}

// Payout computes floor(reward * pct / 100).
func (r *IssueRecord) Payout(pct uint8) *big.Int {
	out := new(big.Int).Mul(cloneBigInt(r.Reward), big.NewInt(int64(pct)))
	return out.Quo(out, big.NewInt(PercentTotal))
}

// Outstanding is the portion of the reward not yet paid out. Once every
// contributor has claimed it equals the truncation remainder.
func (r *IssueRecord) Outstanding() *big.Int {
	return new(big.Int).Sub(cloneBigInt(r.Reward), cloneBigInt(r.PaidOut))
}

// IdentityLink binds a GitHub login to an account.
type IdentityLink struct {
	GithubID string
	Address  crypto.Address
	LinkedAt int64
}

// ValidateRepositoryName checks the "owner/name" shape.
func ValidateRepositoryName(name string) error {
	if name == "" || len(name) > MaxRepositoryNameLength {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidRepository, MaxRepositoryNameLength)
	}
	if strings.Count(name, "/") != 1 || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q must be owner/name", ErrInvalidRepository, name)
	}
	if strings.TrimSpace(name) != name || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidRepository, name)
	}
	return nil
}

// ValidateGithubLogin checks GitHub's login rules.
func ValidateGithubLogin(login string) error {
	if !githubLoginPattern.MatchString(login) {
		return fmt.Errorf("%w: %q", ErrInvalidContributor, login)
	}
	return nil
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func sameLogin(a, b string) bool {
	return strings.EqualFold(a, b)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
