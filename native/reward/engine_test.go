package reward

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ghreward/core/events"
	"ghreward/crypto"
	nativecommon "ghreward/native/common"
)

type issueKey struct {
	repo string
	id   uint64
}

type balanceKey struct {
	holder string
	mint   crypto.Address
}

type mockState struct {
	program     *ProgramState
	issues      map[issueKey]*IssueRecord
	identities  map[string]*IdentityLink
	tokens      map[crypto.Address]bool
	balances    map[balanceKey]*big.Int
	liabilities map[crypto.Address]*big.Int
	failCredit  []byte
}

func newMockState() *mockState {
	return &mockState{
		issues:      make(map[issueKey]*IssueRecord),
		identities:  make(map[string]*IdentityLink),
		tokens:      make(map[crypto.Address]bool),
		balances:    make(map[balanceKey]*big.Int),
		liabilities: make(map[crypto.Address]*big.Int),
	}
}

func newTestAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) RewardProgramState() (*ProgramState, bool, error) {
	if m.program == nil {
		return nil, false, nil
	}
	return m.program.Clone(), true, nil
}

func (m *mockState) PutRewardProgramState(p *ProgramState) error {
	m.program = p.Clone()
	return nil
}

func (m *mockState) RewardIssue(repo string, id uint64) (*IssueRecord, bool, error) {
	record, ok := m.issues[issueKey{repo, id}]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) PutRewardIssue(r *IssueRecord) error {
	m.issues[issueKey{r.RepositoryName, r.IssueID}] = r.Clone()
	return nil
}

func (m *mockState) RewardIdentity(login string) (*IdentityLink, bool, error) {
	link, ok := m.identities[strings.ToLower(login)]
	if !ok {
		return nil, false, nil
	}
	clone := *link
	return &clone, true, nil
}

func (m *mockState) PutRewardIdentity(link *IdentityLink) error {
	clone := *link
	m.identities[strings.ToLower(link.GithubID)] = &clone
	return nil
}

func (m *mockState) TokenRegistered(mint crypto.Address) (bool, error) {
	return m.tokens[mint], nil
}

func (m *mockState) Balance(holder []byte, mint crypto.Address) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey{string(holder), mint}]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetBalance(holder []byte, mint crypto.Address, amount *big.Int) error {
	if m.failCredit != nil && bytes.Equal(holder, m.failCredit) {
		return fmt.Errorf("credit rejected")
	}
	m.balances[balanceKey{string(holder), mint}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) VaultLiability(mint crypto.Address) (*big.Int, error) {
	if v, ok := m.liabilities[mint]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetVaultLiability(mint crypto.Address, amount *big.Int) error {
	m.liabilities[mint] = new(big.Int).Set(amount)
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

type fixture struct {
	engine     *Engine
	state      *mockState
	emitter    *recordingEmitter
	signer     *crypto.PrivateKey
	owner      crypto.Address
	privileged crypto.Address
	funder     crypto.Address
	alice      crypto.Address
	bob        crypto.Address
	mint       crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	f := &fixture{
		engine:     NewEngine(DefaultProgramID),
		state:      newMockState(),
		emitter:    &recordingEmitter{},
		signer:     signer,
		owner:      newTestAddress(0x01),
		privileged: newTestAddress(0x02),
		funder:     newTestAddress(0x03),
		alice:      newTestAddress(0x04),
		bob:        newTestAddress(0x05),
		mint:       newTestAddress(0xAA),
	}
	f.state.tokens[f.mint] = true
	f.state.balances[balanceKey{string(f.funder[:]), f.mint}] = big.NewInt(1_000)
	f.engine.SetState(f.state)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	_, err = f.engine.Initialize(f.owner, signer.Address(), f.privileged)
	require.NoError(t, err)
	f.link("alice", f.alice)
	f.link("bob", f.bob)
	return f
}

// link stores an identity link directly, as a prior LinkIdentity would.
func (f *fixture) link(login string, addr crypto.Address) {
	_ = f.state.PutRewardIdentity(&IdentityLink{GithubID: login, Address: addr, LinkedAt: 1_700_000_000})
}

func (f *fixture) claimSig(t *testing.T, repo string, issueID uint64, reward int64, claimer crypto.Address) []byte {
	t.Helper()
	sig, err := SignClaim(f.signer, repo, issueID, big.NewInt(reward), f.mint, claimer)
	require.NoError(t, err)
	return sig
}

func (f *fixture) balance(holder []byte) *big.Int {
	bal, _ := f.state.Balance(holder, f.mint)
	return bal
}

func (f *fixture) vault(t *testing.T) []byte {
	t.Helper()
	vault, err := f.engine.VaultAddress(f.mint)
	require.NoError(t, err)
	return vault.Bytes()
}

func requireAmount(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zero(t, big.NewInt(want).Cmp(got), "want %d, got %s", want, got)
}

func TestInitializeIsIdempotentFailure(t *testing.T) {
	f := newFixture(t)
	before := f.state.program.Clone()

	_, err := f.engine.Initialize(newTestAddress(0x09), newTestAddress(0x0A), newTestAddress(0x0B))
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.Equal(t, before, f.state.program)
}

func TestInitializeRejectsZeroAuthorities(t *testing.T) {
	engine := NewEngine(DefaultProgramID)
	engine.SetState(newMockState())
	_, err := engine.Initialize(newTestAddress(0x01), crypto.ZeroAddress, newTestAddress(0x02))
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestOperationsRequireInitialization(t *testing.T) {
	engine := NewEngine(DefaultProgramID)
	engine.SetState(newMockState())
	_, err := engine.LockReward(newTestAddress(0x03), "org/repo", 1, big.NewInt(1), newTestAddress(0xAA))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestEndToEndSplitScenario(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.NoError(t, err)
	requireAmount(t, 100, f.balance(f.vault(t)))
	requireAmount(t, 900, f.balance(f.funder[:]))

	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice", "bob"}, []uint8{70, 30})
	require.NoError(t, err)

	paid, err := f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.NoError(t, err)
	requireAmount(t, 70, paid)
	requireAmount(t, 70, f.balance(f.alice[:]))

	paid, err = f.engine.ClaimReward(f.bob, "org/repo", 1, "bob", f.claimSig(t, "org/repo", 1, 100, f.bob))
	require.NoError(t, err)
	requireAmount(t, 30, paid)
	require.Equal(t, 0, f.balance(f.vault(t)).Sign())

	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	record, err := f.engine.Issue("org/repo", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, record.Claimed)
	require.Equal(t, 0, record.Outstanding().Sign())

	_, liability, err := f.engine.VaultBalance(f.mint)
	require.NoError(t, err)
	require.Equal(t, 0, liability.Sign())

	var types []string
	for _, evt := range f.emitter.events {
		types = append(types, evt.EventType())
	}
	require.Equal(t, []string{
		events.TypeRewardInitialized,
		events.TypeRewardLocked,
		events.TypeRewardIssueCompleted,
		events.TypeRewardClaimed,
		events.TypeRewardClaimed,
	}, types)
}

func TestLockRewardValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(0), f.mint)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(5_000), f.mint)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireAmount(t, 1_000, f.balance(f.funder[:]))

	_, err = f.engine.LockReward(f.funder, "not-a-repo", 1, big.NewInt(5), f.mint)
	require.ErrorIs(t, err, ErrInvalidRepository)

	_, err = f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(5), newTestAddress(0xEE))
	require.ErrorIs(t, err, ErrUnknownMint)
	require.Empty(t, f.state.issues)
}

func TestLockRewardTopUpAndDuplicatePolicy(t *testing.T) {
	f := newFixture(t)
	other := newTestAddress(0xBB)
	f.state.tokens[other] = true
	f.state.balances[balanceKey{string(f.funder[:]), other}] = big.NewInt(50)

	_, err := f.engine.LockReward(f.funder, "org/repo", 7, big.NewInt(40), f.mint)
	require.NoError(t, err)
	record, err := f.engine.LockReward(f.funder, "org/repo", 7, big.NewInt(60), f.mint)
	require.NoError(t, err)
	requireAmount(t, 100, record.Reward)

	_, err = f.engine.LockReward(f.funder, "org/repo", 7, big.NewInt(10), other)
	require.ErrorIs(t, err, ErrDuplicateLock)

	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 7, []string{"alice"}, []uint8{100})
	require.NoError(t, err)
	_, err = f.engine.LockReward(f.funder, "org/repo", 7, big.NewInt(10), f.mint)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestRegisterAndCompleteValidationOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice"}, []uint8{100})
	require.ErrorIs(t, err, ErrIssueNotFound)

	_, err = f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.NoError(t, err)

	for _, caller := range []crypto.Address{f.funder, f.owner, f.alice} {
		_, err = f.engine.RegisterAndCompleteIssue(caller, "org/repo", 1, []string{"alice"}, []uint8{100})
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	record, err := f.engine.Issue("org/repo", 1)
	require.NoError(t, err)
	require.False(t, record.IsCompleted)
	require.Empty(t, record.Contributors)

	cases := []struct {
		name         string
		contributors []string
		percentages  []uint8
		want         error
	}{
		{"length mismatch", []string{"alice", "bob"}, []uint8{100}, ErrLengthMismatch},
		{"empty", nil, nil, ErrLengthMismatch},
		{"under 100", []string{"alice", "bob"}, []uint8{50, 40}, ErrInvalidSplit},
		{"over 100 wraps", []string{"alice", "bob"}, []uint8{200, 156}, ErrInvalidSplit},
		{"duplicate", []string{"alice", "Alice"}, []uint8{50, 50}, ErrDuplicateContributor},
		{"invalid login", []string{"alice", "bad login"}, []uint8{50, 50}, ErrInvalidContributor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, tc.contributors, tc.percentages)
			require.ErrorIs(t, err, tc.want)
			record, err := f.engine.Issue("org/repo", 1)
			require.NoError(t, err)
			require.False(t, record.IsCompleted)
		})
	}

	record, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice", "bob"}, []uint8{60, 40})
	require.NoError(t, err)
	require.True(t, record.IsCompleted)

	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"carol"}, []uint8{100})
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestClaimRewardValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", nil)
	require.ErrorIs(t, err, ErrIssueNotFound)

	_, err = f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.NoError(t, err)
	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrNotCompleted)

	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice", "bob"}, []uint8{70, 30})
	require.NoError(t, err)

	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "carol", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrNotAContributor)

	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformedSignature)

	// Signature issued to alice presented by bob's account.
	_, err = f.engine.ClaimReward(f.bob, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrInvalidSignature)

	stranger, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	forged, err := SignClaim(stranger, "org/repo", 1, big.NewInt(100), f.mint, f.alice)
	require.NoError(t, err)
	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", forged)
	require.ErrorIs(t, err, ErrInvalidSignature)

	requireAmount(t, 100, f.balance(f.vault(t)))
	record, err := f.engine.Issue("org/repo", 1)
	require.NoError(t, err)
	require.Empty(t, record.Claimed)
}

func TestClaimRequiresLinkedIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.NoError(t, err)
	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice", "bob", "carol"}, []uint8{60, 30, 10})
	require.NoError(t, err)

	paid, err := f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.NoError(t, err)
	requireAmount(t, 60, paid)

	// A valid authorization for alice's wallet does not reach bob's share.
	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "bob", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrUnauthorized)
	requireAmount(t, 60, f.balance(f.alice[:]))

	// carol never linked a wallet.
	carol := newTestAddress(0x06)
	_, err = f.engine.ClaimReward(carol, "org/repo", 1, "carol", f.claimSig(t, "org/repo", 1, 100, carol))
	require.ErrorIs(t, err, ErrUnauthorized)

	paid, err = f.engine.ClaimReward(f.bob, "org/repo", 1, "BOB", f.claimSig(t, "org/repo", 1, 100, f.bob))
	require.NoError(t, err)
	requireAmount(t, 30, paid)

	record, err := f.engine.Issue("org/repo", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, record.Claimed)
	requireAmount(t, 10, f.balance(f.vault(t)))
}

func TestSignatureBoundToIssue(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{1, 2} {
		_, err := f.engine.LockReward(f.funder, "org/repo", id, big.NewInt(100), f.mint)
		require.NoError(t, err)
		_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", id, []string{"alice"}, []uint8{100})
		require.NoError(t, err)
	}

	_, err := f.engine.ClaimReward(f.alice, "org/repo", 2, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimTruncationRemainderStaysInVault(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.LockReward(f.funder, "org/repo", 3, big.NewInt(10), f.mint)
	require.NoError(t, err)
	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 3, []string{"a", "b", "c"}, []uint8{33, 33, 34})
	require.NoError(t, err)

	total := big.NewInt(0)
	claimers := map[string]crypto.Address{"a": newTestAddress(0x11), "b": newTestAddress(0x12), "c": newTestAddress(0x13)}
	for login, addr := range claimers {
		f.link(login, addr)
	}
	for login, addr := range claimers {
		paid, err := f.engine.ClaimReward(addr, "org/repo", 3, login, f.claimSig(t, "org/repo", 3, 10, addr))
		require.NoError(t, err)
		total.Add(total, paid)
	}
	requireAmount(t, 9, total)
	requireAmount(t, 1, f.balance(f.vault(t)))

	record, err := f.engine.Issue("org/repo", 3)
	require.NoError(t, err)
	requireAmount(t, 1, record.Outstanding())
}

func TestZeroShareClaimIsRecorded(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.LockReward(f.funder, "org/repo", 4, big.NewInt(100), f.mint)
	require.NoError(t, err)
	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 4, []string{"alice", "bob"}, []uint8{100, 0})
	require.NoError(t, err)

	paid, err := f.engine.ClaimReward(f.bob, "org/repo", 4, "bob", f.claimSig(t, "org/repo", 4, 100, f.bob))
	require.NoError(t, err)
	require.Equal(t, 0, paid.Sign())
	_, err = f.engine.ClaimReward(f.bob, "org/repo", 4, "bob", f.claimSig(t, "org/repo", 4, 100, f.bob))
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestTransferRollsBackDebitWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	f.state.failCredit = f.vault(t)

	_, err := f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.Error(t, err)
	requireAmount(t, 1_000, f.balance(f.funder[:]))
	require.Empty(t, f.state.issues)
}

func TestUpdateAuthoritiesOwnerOnly(t *testing.T) {
	f := newFixture(t)
	next, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = f.engine.UpdateAuthorities(f.privileged, crypto.ZeroAddress, next.Address(), crypto.ZeroAddress)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.UpdateAuthorities(f.owner, crypto.ZeroAddress, crypto.ZeroAddress, crypto.ZeroAddress)
	require.ErrorIs(t, err, ErrInvalidAccount)

	state, err := f.engine.UpdateAuthorities(f.owner, crypto.ZeroAddress, next.Address(), crypto.ZeroAddress)
	require.NoError(t, err)
	require.Equal(t, f.owner, state.Owner)
	require.Equal(t, next.Address(), state.AuthorizationSigner)
	require.Equal(t, f.privileged, state.PrivilegedAccount)

	// Authorizations from the retired signer no longer verify.
	_, err = f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.NoError(t, err)
	_, err = f.engine.RegisterAndCompleteIssue(f.privileged, "org/repo", 1, []string{"alice"}, []uint8{100})
	require.NoError(t, err)
	_, err = f.engine.ClaimReward(f.alice, "org/repo", 1, "alice", f.claimSig(t, "org/repo", 1, 100, f.alice))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLinkIdentity(t *testing.T) {
	f := newFixture(t)
	sig, err := SignLink(f.signer, "alice", f.alice)
	require.NoError(t, err)

	_, err = f.engine.LinkIdentity(f.bob, "alice", sig)
	require.ErrorIs(t, err, ErrInvalidSignature)

	link, err := f.engine.LinkIdentity(f.alice, "alice", sig)
	require.NoError(t, err)
	require.Equal(t, f.alice, link.Address)

	stored, ok, err := f.engine.Identity("ALICE")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.alice, stored.Address)
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(nativecommon.NewPauseSet(map[string]bool{ModuleName: true}))

	_, err := f.engine.LockReward(f.funder, "org/repo", 1, big.NewInt(100), f.mint)
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
}

func TestErrorCodeCoversSentinels(t *testing.T) {
	require.Equal(t, "AlreadyClaimed", ErrorCode(fmt.Errorf("claim: %w", ErrAlreadyClaimed)))
	require.Equal(t, "", ErrorCode(errors.New("other")))
	require.Len(t, ErrorCodes(), len(errorCodes))
}
