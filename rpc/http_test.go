package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"ghreward/core/events"
	"ghreward/core/types"
	"ghreward/indexer"
	"ghreward/native/reward"
)

func TestClientSourceIgnoresForwardedForWhenNotTrusted(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	require.Equal(t, "10.0.0.5", server.clientSource(req))

	trusted := NewServer(nil, nil, ServerConfig{TrustProxyHeaders: true}, nil)
	require.Equal(t, "203.0.113.9", trusted.clientSource(req))
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"empty", "", http.StatusBadRequest, codeInvalidRequest},
		{"not json", "{", http.StatusBadRequest, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"ghr_getNonce","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"eth_call","id":1}`, http.StatusNotFound, codeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","method":"reward_getIssue","id":1}`, http.StatusBadRequest, codeInvalidParams},
	}
	for _, tc := range cases {
		resp, err := http.Post(env.http.URL, "application/json", strings.NewReader(tc.body))
		require.NoError(t, err, tc.name)
		var decoded RPCResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded), tc.name)
		resp.Body.Close()
		require.Equal(t, tc.status, resp.StatusCode, tc.name)
		require.NotNil(t, decoded.Error, tc.name)
		require.Equal(t, tc.code, decoded.Error.Code, tc.name)
	}
}

func TestSendTransactionRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	tx := env.signedTx(t, env.owner, types.TxTypeInitialize, &types.InitializePayload{
		AuthorizationSigner: env.signer.Address(),
		PrivilegedAccount:   env.privileged.Address(),
	})

	anonymous := NewClient(env.http.URL, "")
	_, err := anonymous.SendTransaction(context.Background(), tx)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	wrong := NewClient(env.http.URL, "not-the-token")
	_, err = wrong.SendTransaction(context.Background(), tx)
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	_, err = env.client.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
}

func TestRewardLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	ctx := context.Background()
	env.completeIssue(t)

	issue, err := env.client.Issue(ctx, "org/repo", 1)
	require.NoError(t, err)
	require.True(t, issue.IsCompleted)
	require.Equal(t, "100", issue.Reward)
	require.Equal(t, []uint32{100}, issue.ContributorPercentages)
	require.Empty(t, issue.Claimed)
	pda, _, err := reward.DeriveIssuePDA(reward.DefaultProgramID, "org/repo", 1)
	require.NoError(t, err)
	require.Equal(t, pda.String(), issue.Address)

	vault, err := env.client.Vault(ctx, "USDC")
	require.NoError(t, err)
	require.Equal(t, "100", vault.Balance)
	require.Equal(t, "100", vault.Liability)

	_, err = env.send(t, env.alice, types.TxTypeClaimReward, env.claimPayload(t, env.alice))
	require.Equal(t, "Unauthorized", ErrorOutcome(err))

	env.linkAlice(t, "alice")
	receipt, err := env.send(t, env.alice, types.TxTypeClaimReward, env.claimPayload(t, env.alice))
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, events.TypeRewardClaimed, receipt.Events[0].Type)

	stored, err := env.client.Receipt(ctx, receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, receipt.Height, stored.Height)

	balance, err := env.client.Balance(ctx, env.alice.Address(), testMint.String())
	require.NoError(t, err)
	require.Equal(t, "100", balance.Balance)
	require.Equal(t, "USDC", balance.Symbol)

	_, err = env.send(t, env.alice, types.TxTypeClaimReward, env.claimPayload(t, env.alice))
	require.Equal(t, "AlreadyClaimed", ErrorOutcome(err))
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	code, ok := RewardErrorCode("AlreadyClaimed")
	require.True(t, ok)
	require.Equal(t, code, rpcErr.Code)

	program, err := env.client.ProgramState(ctx)
	require.NoError(t, err)
	require.Equal(t, env.signer.Address().String(), program.AuthorizationSigner)
	require.Equal(t, reward.DefaultProgramID.String(), program.ProgramID)
}

func TestStatusReportsHead(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	ctx := context.Background()

	before, err := env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1337), before.ChainID)
	require.Equal(t, uint64(0), before.Height)
	require.Equal(t, reward.DefaultProgramID.String(), before.ProgramID)

	env.completeIssue(t)
	after, err := env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), after.Height)
	require.NotEqual(t, before.StateRoot, after.StateRoot)
}

func TestQueriesReportLedgerErrors(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	ctx := context.Background()

	_, err := env.client.ProgramState(ctx)
	require.Equal(t, "NotInitialized", ErrorOutcome(err))

	env.completeIssue(t)
	_, err = env.client.Issue(ctx, "org/repo", 99)
	require.Equal(t, "IssueNotFound", ErrorOutcome(err))

	_, err = env.client.Identity(ctx, "alice")
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeNotFound, rpcErr.Code)
}

func TestRewardErrorCodesAreDistinct(t *testing.T) {
	seen := map[int]string{}
	for _, name := range reward.ErrorCodes() {
		code, ok := RewardErrorCode(name)
		require.True(t, ok, name)
		require.LessOrEqual(t, code, -32040)
		require.GreaterOrEqual(t, code, -32059)
		_, dup := seen[code]
		require.False(t, dup, name)
		seen[code] = name
	}
}

func TestLinkIdentityOverRPC(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	env.completeIssue(t)
	env.linkAlice(t, "Alice")

	link, err := env.client.Identity(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, env.alice.Address().String(), link.Address)
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	tx := env.signedTx(t, env.funder, types.TxTypeTransfer, &types.TransferPayload{
		Mint: testMint, To: env.alice.Address(), Amount: big.NewInt(1),
	})
	_, err := env.client.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	_, err = env.client.SendTransaction(context.Background(), tx)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeDuplicateTx, rpcErr.Code)
}

func TestSendTransactionRateLimited(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{TxPerMinute: 0.001, TxBurst: 1})
	_, err := env.send(t, env.funder, types.TxTypeTransfer, &types.TransferPayload{Mint: testMint, To: env.alice.Address(), Amount: big.NewInt(1)})
	require.NoError(t, err)
	_, err = env.send(t, env.funder, types.TxTypeTransfer, &types.TransferPayload{Mint: testMint, To: env.alice.Address(), Amount: big.NewInt(1)})
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeRateLimited, rpcErr.Code)
}

type stubClaims struct {
	repo  string
	issue *uint64
	out   []indexer.Claim
}

func (s *stubClaims) ListClaims(_ context.Context, repository string, issueID *uint64) ([]indexer.Claim, error) {
	s.repo, s.issue = repository, issueID
	return s.out, nil
}

func TestListClaimsUsesIndex(t *testing.T) {
	claimedAt := time.Unix(1700000000, 0)
	stub := &stubClaims{out: []indexer.Claim{{Repository: "org/repo", IssueID: 1, GithubID: "alice", Amount: "100", ClaimedAt: claimedAt}}}
	env := newTestEnv(t, stub, ServerConfig{})

	one := uint64(1)
	claims, err := env.client.ListClaims(context.Background(), "org/repo", &one)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "alice", claims[0].GithubID)
	require.Equal(t, claimedAt.Unix(), claims[0].ClaimedAt)
	require.Equal(t, "org/repo", stub.repo)
	require.NotNil(t, stub.issue)
	require.EqualValues(t, 1, *stub.issue)
}

func TestListClaimsDistinguishesIssueZero(t *testing.T) {
	stub := &stubClaims{}
	env := newTestEnv(t, stub, ServerConfig{})
	ctx := context.Background()

	zero := uint64(0)
	_, err := env.client.ListClaims(ctx, "org/repo", &zero)
	require.NoError(t, err)
	require.NotNil(t, stub.issue)
	require.Zero(t, *stub.issue)

	_, err = env.client.ListClaims(ctx, "org/repo", nil)
	require.NoError(t, err)
	require.Nil(t, stub.issue)
}

func TestListClaimsWithoutIndex(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	_, err := env.client.ListClaims(context.Background(), "", nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeServerError, rpcErr.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?type=reward."
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, err = env.send(t, env.funder, types.TxTypeTransfer, &types.TransferPayload{Mint: testMint, To: env.alice.Address(), Amount: big.NewInt(1)})
	require.NoError(t, err)
	_, err = env.send(t, env.owner, types.TxTypeInitialize, &types.InitializePayload{
		AuthorizationSigner: env.signer.Address(),
		PrivilegedAccount:   env.privileged.Address(),
	})
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypeRewardInitialized, evt.Type)
	require.Equal(t, env.owner.Address().String(), evt.Attributes["owner"])
}

func TestEventHubDropsClosedSubscribers(t *testing.T) {
	hub := NewEventHub()
	updates, cancel := hub.Subscribe()
	hub.Emit(events.RewardIdentityLinked{GithubID: "alice"})
	evt := <-updates
	require.Equal(t, events.TypeRewardIdentityLinked, evt.Type)

	cancel()
	cancel()
	_, ok := <-updates
	require.False(t, ok)

	hub.Close()
	late, _ := hub.Subscribe()
	_, ok = <-late
	require.False(t, ok)
}
