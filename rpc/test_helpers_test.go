package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ghreward/core"
	"ghreward/core/genesis"
	"ghreward/core/types"
	"ghreward/crypto"
	"ghreward/native/reward"
	"ghreward/storage"
)

const testAuthToken = "rpc-test-token"

var testMint = crypto.BytesToAddress([]byte{0xAA})

type testEnv struct {
	node   *core.Node
	server *Server
	http   *httptest.Server
	client *Client

	owner, signer, privileged, funder, alice *crypto.PrivateKey
}

func newKey(t testing.TB) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newTestEnv(t *testing.T, claims ClaimIndex, cfg ServerConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		owner:      newKey(t),
		signer:     newKey(t),
		privileged: newKey(t),
		funder:     newKey(t),
		alice:      newKey(t),
	}
	spec, err := genesis.ParseSpec([]byte(fmt.Sprintf(`{
	  "genesisTime": "2024-01-01T00:00:00Z",
	  "chainId": 1337,
	  "tokens": [{"mint": %q, "symbol": "USDC", "name": "USD Coin", "decimals": 6}],
	  "alloc": {%q: {"USDC": "1000"}}
	}`, testMint.Hex(), env.funder.Address().Hex())))
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), core.Options{Genesis: spec, ProgramID: reward.DefaultProgramID})
	require.NoError(t, err)
	t.Cleanup(node.Close)

	if cfg.AuthToken == "" {
		cfg.AuthToken = testAuthToken
	}
	env.node = node
	env.server = NewServer(node, claims, cfg, nil)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	env.client = NewClient(env.http.URL, cfg.AuthToken)
	return env
}

func (env *testEnv) signedTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, payload interface{}) *types.Transaction {
	t.Helper()
	nonce, err := env.node.Nonce(key.Address())
	require.NoError(t, err)
	tx, err := types.NewTransaction(env.node.ChainID(), txType, nonce, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key))
	return tx
}

func (env *testEnv) send(t *testing.T, key *crypto.PrivateKey, txType types.TxType, payload interface{}) (*types.Receipt, error) {
	t.Helper()
	return env.client.SendTransaction(context.Background(), env.signedTx(t, key, txType, payload))
}

// completeIssue initializes the program, locks 100 on org/repo#1 and assigns
// it entirely to alice.
func (env *testEnv) completeIssue(t *testing.T) {
	t.Helper()
	_, err := env.send(t, env.owner, types.TxTypeInitialize, &types.InitializePayload{
		AuthorizationSigner: env.signer.Address(),
		PrivilegedAccount:   env.privileged.Address(),
	})
	require.NoError(t, err)
	_, err = env.send(t, env.funder, types.TxTypeLockReward, &types.LockRewardPayload{
		RepositoryName: "org/repo", IssueID: 1, Reward: big.NewInt(100), TokenMint: testMint,
	})
	require.NoError(t, err)
	_, err = env.send(t, env.privileged, types.TxTypeRegisterAndCompleteIssue, &types.CompleteIssuePayload{
		RepositoryName: "org/repo", IssueID: 1, Contributors: []string{"alice"}, ContributorPercentages: []uint8{100},
	})
	require.NoError(t, err)
}

// linkAlice binds login to alice's account with a signer attestation.
func (env *testEnv) linkAlice(t *testing.T, login string) {
	t.Helper()
	sig, err := reward.SignLink(env.signer, login, env.alice.Address())
	require.NoError(t, err)
	_, err = env.send(t, env.alice, types.TxTypeLinkIdentity, &types.LinkIdentityPayload{GithubID: login, Signature: sig})
	require.NoError(t, err)
}

func (env *testEnv) claimPayload(t *testing.T, claimer *crypto.PrivateKey) *types.ClaimRewardPayload {
	t.Helper()
	sig, err := reward.SignClaim(env.signer, "org/repo", 1, big.NewInt(100), testMint, claimer.Address())
	require.NoError(t, err)
	return &types.ClaimRewardPayload{RepositoryName: "org/repo", IssueID: 1, GithubID: "alice", Signature: sig}
}
