package reward

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"ghreward/core/events"
	"ghreward/crypto"
	nativecommon "ghreward/native/common"
)

// ModuleName is the pause key guarding every mutating reward instruction.
const ModuleName = "reward"

type engineState interface {
	RewardProgramState() (*ProgramState, bool, error)
	PutRewardProgramState(*ProgramState) error
	RewardIssue(repositoryName string, issueID uint64) (*IssueRecord, bool, error)
	PutRewardIssue(*IssueRecord) error
	RewardIdentity(githubID string) (*IdentityLink, bool, error)
	PutRewardIdentity(*IdentityLink) error
	TokenRegistered(mint crypto.Address) (bool, error)
	Balance(holder []byte, mint crypto.Address) (*big.Int, error)
	SetBalance(holder []byte, mint crypto.Address, amount *big.Int) error
	VaultLiability(mint crypto.Address) (*big.Int, error)
	SetVaultLiability(mint crypto.Address, amount *big.Int) error
}

// Engine executes the reward escrow instructions against the configured
// state. It performs all validation before the first write; callers that
// need all-or-nothing semantics across storage failures wrap each call in a
// state snapshot.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	programID solana.PublicKey
	nowFn     func() int64
}

// NewEngine creates an engine bound to programID with a no-op emitter.
func NewEngine(programID solana.PublicKey) *Engine {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Engine{
		emitter:   events.NoopEmitter{},
		programID: programID,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the pause view consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source. Passing nil restores wall-clock time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// ProgramID returns the id used for address derivation.
func (e *Engine) ProgramID() solana.PublicKey { return e.programID }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Initialize creates the program state with caller as owner.
func (e *Engine) Initialize(caller, authorizationSigner, privilegedAccount crypto.Address) (*ProgramState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	_, exists, err := e.state.RewardProgramState()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyInitialized
	}
	if caller.IsZero() || authorizationSigner.IsZero() || privilegedAccount.IsZero() {
		return nil, ErrInvalidAccount
	}
	program := &ProgramState{
		Owner:               caller,
		AuthorizationSigner: authorizationSigner,
		PrivilegedAccount:   privilegedAccount,
	}
	if err := e.state.PutRewardProgramState(program); err != nil {
		return nil, err
	}
	e.emit(events.RewardInitialized{
		Owner:               program.Owner,
		AuthorizationSigner: program.AuthorizationSigner,
		PrivilegedAccount:   program.PrivilegedAccount,
	})
	return program.Clone(), nil
}

// UpdateAuthorities lets the owner rotate any of the program authorities.
// Zero addresses leave the corresponding field unchanged.
func (e *Engine) UpdateAuthorities(caller, owner, authorizationSigner, privilegedAccount crypto.Address) (*ProgramState, error) {
	program, err := e.loadProgram()
	if err != nil {
		return nil, err
	}
	if caller != program.Owner {
		return nil, ErrUnauthorized
	}
	if owner.IsZero() && authorizationSigner.IsZero() && privilegedAccount.IsZero() {
		return nil, ErrInvalidAccount
	}
	updated := program.Clone()
	if !owner.IsZero() {
		updated.Owner = owner
	}
	if !authorizationSigner.IsZero() {
		updated.AuthorizationSigner = authorizationSigner
	}
	if !privilegedAccount.IsZero() {
		updated.PrivilegedAccount = privilegedAccount
	}
	if err := e.state.PutRewardProgramState(updated); err != nil {
		return nil, err
	}
	e.emit(events.RewardAuthoritiesUpdated{
		Owner:               updated.Owner,
		AuthorizationSigner: updated.AuthorizationSigner,
		PrivilegedAccount:   updated.PrivilegedAccount,
	})
	return updated.Clone(), nil
}

// LockReward escrows amount of mint from caller against the issue. Locking an
// issue that already holds an open escrow in the same mint tops it up.
func (e *Engine) LockReward(caller crypto.Address, repositoryName string, issueID uint64, amount *big.Int, mint crypto.Address) (*IssueRecord, error) {
	if _, err := e.loadProgram(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := ValidateRepositoryName(repositoryName); err != nil {
		return nil, err
	}
	registered, err := e.state.TokenRegistered(mint)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrUnknownMint
	}
	record, exists, err := e.state.RewardIssue(repositoryName, issueID)
	if err != nil {
		return nil, err
	}
	if exists {
		if record.IsCompleted {
			return nil, ErrAlreadyCompleted
		}
		if record.TokenMint != mint {
			return nil, ErrDuplicateLock
		}
	} else {
		record = &IssueRecord{
			RepositoryName: repositoryName,
			IssueID:        issueID,
			TokenMint:      mint,
			Reward:         big.NewInt(0),
			Funder:         caller,
			PaidOut:        big.NewInt(0),
			CreatedAt:      e.now(),
		}
	}
	vault, err := e.vaultHolder(mint)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(caller[:], vault, mint, amount); err != nil {
		return nil, err
	}
	record.Reward = new(big.Int).Add(cloneBigInt(record.Reward), amount)
	if err := e.adjustLiability(mint, amount); err != nil {
		return nil, err
	}
	if err := e.state.PutRewardIssue(record); err != nil {
		return nil, err
	}
	e.emit(events.RewardLocked{
		Repository: repositoryName,
		IssueID:    issueID,
		Funder:     caller,
		Mint:       mint,
		Amount:     new(big.Int).Set(amount),
		Total:      cloneBigInt(record.Reward),
		Vault:      solana.PublicKeyFromBytes(vault).String(),
	})
	return record.Clone(), nil
}

// RegisterAndCompleteIssue records the contributor split and marks the issue
// completed. Only the privileged account may call it.
func (e *Engine) RegisterAndCompleteIssue(caller crypto.Address, repositoryName string, issueID uint64, contributors []string, percentages []uint8) (*IssueRecord, error) {
	program, err := e.loadProgram()
	if err != nil {
		return nil, err
	}
	if caller != program.PrivilegedAccount {
		return nil, ErrUnauthorized
	}
	record, exists, err := e.state.RewardIssue(repositoryName, issueID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrIssueNotFound
	}
	if record.IsCompleted {
		return nil, ErrAlreadyCompleted
	}
	if err := validateSplit(contributors, percentages); err != nil {
		return nil, err
	}
	record.Contributors = append([]string(nil), contributors...)
	record.ContributorPercentages = append([]uint8(nil), percentages...)
	record.IsCompleted = true
	record.CompletedAt = e.now()
	if err := e.state.PutRewardIssue(record); err != nil {
		return nil, err
	}
	e.emit(events.RewardIssueCompleted{
		Repository:   repositoryName,
		IssueID:      issueID,
		Contributors: append([]string(nil), contributors...),
		Percentages:  append([]uint8(nil), percentages...),
	})
	return record.Clone(), nil
}

func validateSplit(contributors []string, percentages []uint8) error {
	if len(contributors) != len(percentages) {
		return fmt.Errorf("%w: %d contributors, %d percentages", ErrLengthMismatch, len(contributors), len(percentages))
	}
	if len(contributors) == 0 || len(contributors) > MaxContributors {
		return fmt.Errorf("%w: need 1..%d contributors", ErrLengthMismatch, MaxContributors)
	}
	total := 0
	for _, pct := range percentages {
		if pct > PercentTotal {
			return fmt.Errorf("%w: share %d exceeds %d", ErrInvalidSplit, pct, PercentTotal)
		}
		total += int(pct)
	}
	if total != PercentTotal {
		return fmt.Errorf("%w: got %d", ErrInvalidSplit, total)
	}
	seen := make(map[string]struct{}, len(contributors))
	for _, contributor := range contributors {
		key := normalizeLogin(contributor)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateContributor, contributor)
		}
		seen[key] = struct{}{}
	}
	for _, contributor := range contributors {
		if err := ValidateGithubLogin(contributor); err != nil {
			return err
		}
	}
	return nil
}

// ClaimReward pays githubID's share of a completed issue to caller after
// verifying the off-chain authorization and the caller's identity link. It
// returns the amount paid.
func (e *Engine) ClaimReward(caller crypto.Address, repositoryName string, issueID uint64, githubID string, signature []byte) (*big.Int, error) {
	program, err := e.loadProgram()
	if err != nil {
		return nil, err
	}
	record, exists, err := e.state.RewardIssue(repositoryName, issueID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrIssueNotFound
	}
	if !record.IsCompleted {
		return nil, ErrNotCompleted
	}
	pct, ok := record.ShareOf(githubID)
	if !ok {
		return nil, ErrNotAContributor
	}
	if record.HasClaimed(githubID) {
		return nil, ErrAlreadyClaimed
	}
	if err := VerifyClaimAuthorization(record, caller, signature, program.AuthorizationSigner); err != nil {
		return nil, err
	}
	// The claim digest names the claimer but not the login, so the login must
	// already be linked to the claiming account.
	link, linked, err := e.state.RewardIdentity(githubID)
	if err != nil {
		return nil, err
	}
	if !linked || link.Address != caller {
		return nil, fmt.Errorf("%w: %s is not linked to %s", ErrUnauthorized, githubID, caller.String())
	}
	payout := record.Payout(pct)
	if payout.Sign() > 0 {
		vault, err := e.vaultHolder(record.TokenMint)
		if err != nil {
			return nil, err
		}
		if err := e.transfer(vault, caller[:], record.TokenMint, payout); err != nil {
			return nil, err
		}
		if err := e.adjustLiability(record.TokenMint, new(big.Int).Neg(payout)); err != nil {
			return nil, err
		}
	}
	record.Claimed = append(record.Claimed, canonicalLogin(record, githubID))
	record.PaidOut = new(big.Int).Add(cloneBigInt(record.PaidOut), payout)
	if err := e.state.PutRewardIssue(record); err != nil {
		return nil, err
	}
	e.emit(events.RewardClaimed{
		Repository: repositoryName,
		IssueID:    issueID,
		GithubID:   canonicalLogin(record, githubID),
		Claimer:    caller,
		Mint:       record.TokenMint,
		Amount:     new(big.Int).Set(payout),
	})
	return payout, nil
}

// canonicalLogin returns the login as spelled in the stored split.
func canonicalLogin(record *IssueRecord, githubID string) string {
	for _, contributor := range record.Contributors {
		if sameLogin(contributor, githubID) {
			return contributor
		}
	}
	return githubID
}

// LinkIdentity binds githubID to caller once the authorization signer has
// vouched for the pair. Later links for the same login replace earlier ones.
func (e *Engine) LinkIdentity(caller crypto.Address, githubID string, signature []byte) (*IdentityLink, error) {
	program, err := e.loadProgram()
	if err != nil {
		return nil, err
	}
	if err := ValidateGithubLogin(githubID); err != nil {
		return nil, err
	}
	if err := VerifyLinkAuthorization(githubID, caller, signature, program.AuthorizationSigner); err != nil {
		return nil, err
	}
	link := &IdentityLink{GithubID: githubID, Address: caller, LinkedAt: e.now()}
	if err := e.state.PutRewardIdentity(link); err != nil {
		return nil, err
	}
	e.emit(events.RewardIdentityLinked{GithubID: githubID, Address: caller})
	return link, nil
}

// ProgramState returns the current authorities.
func (e *Engine) ProgramState() (*ProgramState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	program, exists, err := e.state.RewardProgramState()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotInitialized
	}
	return program.Clone(), nil
}

// Issue returns the escrow record for an issue.
func (e *Engine) Issue(repositoryName string, issueID uint64) (*IssueRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, exists, err := e.state.RewardIssue(repositoryName, issueID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrIssueNotFound
	}
	return record.Clone(), nil
}

// Identity returns the account linked to githubID.
func (e *Engine) Identity(githubID string) (*IdentityLink, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.RewardIdentity(githubID)
}

// VaultAddress returns the vault token account for mint.
func (e *Engine) VaultAddress(mint crypto.Address) (solana.PublicKey, error) {
	vault, _, err := DeriveVaultPDA(e.programID, mint)
	return vault, err
}

// VaultAuthority returns the PDA owning all vaults.
func (e *Engine) VaultAuthority() (solana.PublicKey, error) {
	authority, _, err := DeriveVaultAuthorityPDA(e.programID)
	return authority, err
}

// VaultBalance returns the escrowed balance and outstanding liability for mint.
func (e *Engine) VaultBalance(mint crypto.Address) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	vault, err := e.vaultHolder(mint)
	if err != nil {
		return nil, nil, err
	}
	balance, err := e.state.Balance(vault, mint)
	if err != nil {
		return nil, nil, err
	}
	liability, err := e.state.VaultLiability(mint)
	if err != nil {
		return nil, nil, err
	}
	return balance, liability, nil
}

func (e *Engine) loadProgram() (*ProgramState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	program, exists, err := e.state.RewardProgramState()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotInitialized
	}
	return program, nil
}

func (e *Engine) vaultHolder(mint crypto.Address) ([]byte, error) {
	vault, _, err := DeriveVaultPDA(e.programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive vault: %w", err)
	}
	return vault.Bytes(), nil
}

func (e *Engine) adjustLiability(mint crypto.Address, delta *big.Int) error {
	current, err := e.state.VaultLiability(mint)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(cloneBigInt(current), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("reward: vault liability for %s would turn negative", mint)
	}
	return e.state.SetVaultLiability(mint, next)
}

// transfer moves amount of mint between holders, restoring the debited
// balance if the credit fails.
func (e *Engine) transfer(from, to []byte, mint crypto.Address, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := e.state.Balance(from, mint)
	if err != nil {
		return err
	}
	if cloneBigInt(fromBalance).Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	toBalance, err := e.state.Balance(to, mint)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from, mint, new(big.Int).Sub(fromBalance, amt)); err != nil {
		return err
	}
	if err := e.state.SetBalance(to, mint, new(big.Int).Add(cloneBigInt(toBalance), amt)); err != nil {
		if rollbackErr := e.state.SetBalance(from, mint, fromBalance); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("rollback debit: %w", rollbackErr))
		}
		return err
	}
	return nil
}
