package claimsigner

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"ghreward/crypto"
	"ghreward/native/reward"
	"ghreward/rpc"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type stubIssues struct {
	issue *rpc.IssueResult
	err   error
}

func (s *stubIssues) Issue(_ context.Context, repositoryName string, issueID uint64) (*rpc.IssueResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.issue == nil || s.issue.RepositoryName != repositoryName || s.issue.IssueID != issueID {
		return nil, &rpc.RPCError{Code: -32004, Message: "issue not found", Data: "IssueNotFound"}
	}
	copied := *s.issue
	return &copied, nil
}

type signerEnv struct {
	server *Server
	store  *Store
	issues *stubIssues
	http   *httptest.Server
	now    time.Time
	wallet crypto.Address
	mint   crypto.Address
}

func newSignerEnv(t *testing.T, cfg ServerConfig) *signerEnv {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), &bolt.Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "ghreward-web"
	}
	if cfg.Audience == "" {
		cfg.Audience = "claim-signer"
	}
	issues := &stubIssues{}
	server, err := NewServer(key, issues, store, cfg, nil)
	require.NoError(t, err)
	env := &signerEnv{
		server: server,
		store:  store,
		issues: issues,
		now:    time.Unix(1_700_000_000, 0).UTC(),
		wallet: crypto.BytesToAddress(bytes.Repeat([]byte{0x04}, 20)),
		mint:   crypto.BytesToAddress(bytes.Repeat([]byte{0xAA}, 20)),
	}
	server.nowFn = func() time.Time { return env.now }
	env.http = httptest.NewServer(server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *signerEnv) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":          "ghreward-web",
		"aud":          "claim-signer",
		"sub":          "42",
		"exp":          e.now.Add(time.Hour).Unix(),
		"github_login": "alice",
		"wallet":       e.wallet.String(),
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (e *signerEnv) post(t *testing.T, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *signerEnv) completedIssue() *rpc.IssueResult {
	return &rpc.IssueResult{
		RepositoryName:         "org/repo",
		IssueID:                7,
		TokenMint:              e.mint.String(),
		Reward:                 "100",
		IsCompleted:            true,
		Contributors:           []string{"Alice", "bob"},
		ContributorPercentages: []uint32{70, 30},
	}
}

func TestVerifyTokenSignsIdentityLink(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{})

	resp, body := env.post(t, "/v1/verify-token", env.token(t, nil), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NotEmpty(t, resp.Header.Get(headerRequestID))

	var out linkResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "alice", out.Username)
	require.Equal(t, env.wallet.String(), out.Address)

	sig, err := hexutil.Decode(out.Signature)
	require.NoError(t, err)
	require.NoError(t, reward.VerifyLinkAuthorization("alice", env.wallet, sig, env.server.Signer()))

	audit, err := env.store.ByLogin("ALICE")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, KindLink, audit[0].Kind)
	require.Equal(t, resp.Header.Get(headerRequestID), audit[0].RequestID)
}

func TestClaimAuthorizationSignsRecordFields(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{})
	env.issues.issue = env.completedIssue()

	resp, body := env.post(t, "/v1/claim-authorization", env.token(t, nil), claimRequest{RepositoryName: "org/repo", IssueID: 7})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out claimResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "Alice", out.Username)
	require.Equal(t, "100", out.Reward)
	require.Equal(t, env.mint.String(), out.TokenMint)

	sig, err := hexutil.Decode(out.Signature)
	require.NoError(t, err)
	record := &reward.IssueRecord{
		RepositoryName: "org/repo",
		IssueID:        7,
		TokenMint:      env.mint,
		Reward:         big.NewInt(100),
	}
	require.NoError(t, reward.VerifyClaimAuthorization(record, env.wallet, sig, env.server.Signer()))

	record.IssueID = 8
	require.ErrorIs(t, reward.VerifyClaimAuthorization(record, env.wallet, sig, env.server.Signer()), reward.ErrInvalidSignature)

	audit, err := env.store.ByLogin("alice")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, KindClaim, audit[0].Kind)
	require.Equal(t, uint64(7), audit[0].IssueID)
}

func TestClaimAuthorizationRefusals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*rpc.IssueResult)
		req    claimRequest
		status int
		reason string
	}{
		{
			name:   "unknown issue",
			req:    claimRequest{RepositoryName: "org/repo", IssueID: 99},
			status: http.StatusNotFound,
			reason: "issue_not_found",
		},
		{
			name:   "not completed",
			mutate: func(r *rpc.IssueResult) { r.IsCompleted = false },
			req:    claimRequest{RepositoryName: "org/repo", IssueID: 7},
			status: http.StatusConflict,
			reason: "not_completed",
		},
		{
			name:   "not a contributor",
			mutate: func(r *rpc.IssueResult) { r.Contributors = []string{"carol"}; r.ContributorPercentages = []uint32{100} },
			req:    claimRequest{RepositoryName: "org/repo", IssueID: 7},
			status: http.StatusForbidden,
			reason: "not_contributor",
		},
		{
			name:   "already claimed",
			mutate: func(r *rpc.IssueResult) { r.Claimed = []string{"alice"} },
			req:    claimRequest{RepositoryName: "org/repo", IssueID: 7},
			status: http.StatusConflict,
			reason: "already_claimed",
		},
		{
			name:   "bad repository",
			req:    claimRequest{RepositoryName: "no-slash", IssueID: 7},
			status: http.StatusBadRequest,
			reason: "bad_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newSignerEnv(t, ServerConfig{})
			issue := env.completedIssue()
			if tc.mutate != nil {
				tc.mutate(issue)
			}
			env.issues.issue = issue

			resp, body := env.post(t, "/v1/claim-authorization", env.token(t, nil), tc.req)
			require.Equal(t, tc.status, resp.StatusCode, string(body))
			var out errorResponse
			require.NoError(t, json.Unmarshal(body, &out))
			require.Equal(t, tc.reason, out.Error)

			audit, err := env.store.ByLogin("alice")
			require.NoError(t, err)
			require.Empty(t, audit)
		})
	}
}

func TestClaimAuthorizationNodeUnavailable(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{})
	env.issues.err = context.DeadlineExceeded

	resp, _ := env.post(t, "/v1/claim-authorization", env.token(t, nil), claimRequest{RepositoryName: "org/repo", IssueID: 7})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSessionTokenValidation(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{ClockSkew: time.Second})

	cases := map[string]string{
		"missing":        "",
		"wrong audience": env.token(t, func(c jwt.MapClaims) { c["aud"] = "someone-else" }),
		"wrong issuer":   env.token(t, func(c jwt.MapClaims) { c["iss"] = "mallory" }),
		"expired":        env.token(t, func(c jwt.MapClaims) { c["exp"] = env.now.Add(-time.Minute).Unix() }),
		"no expiry":      env.token(t, func(c jwt.MapClaims) { delete(c, "exp") }),
		"bad login":      env.token(t, func(c jwt.MapClaims) { c["github_login"] = "-bad-" }),
		"bad wallet":     env.token(t, func(c jwt.MapClaims) { c["wallet"] = "not-an-address" }),
		"no wallet":      env.token(t, func(c jwt.MapClaims) { delete(c, "wallet") }),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "ghreward-web", "aud": "claim-signer", "exp": env.now.Add(time.Hour).Unix(),
		"github_login": "alice", "wallet": env.wallet.String(),
	}).SignedString([]byte("another-secret-another-secret-00"))
	require.NoError(t, err)
	cases["forged"] = forged

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := env.post(t, "/v1/verify-token", token, nil)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestSigningRequestsAreRateLimitedPerLogin(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{RequestsPerMinute: 1, Burst: 1})

	resp, _ := env.post(t, "/v1/verify-token", env.token(t, nil), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, "/v1/verify-token", env.token(t, nil), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	other := env.token(t, func(c jwt.MapClaims) { c["github_login"] = "bob" })
	resp, _ = env.post(t, "/v1/verify-token", other, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIdleLimitersAreEvicted(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{RequestsPerMinute: 60, Burst: 1, LimiterIdleTTL: time.Minute})

	require.True(t, env.server.allow("alice"))
	require.True(t, env.server.allow("bob"))
	require.Len(t, env.server.limiters, 2)

	env.now = env.now.Add(30 * time.Second)
	require.True(t, env.server.allow("carol"))
	require.Len(t, env.server.limiters, 3)

	// alice and bob have been idle a full minute; carol has not.
	env.now = env.now.Add(31 * time.Second)
	require.True(t, env.server.allow("dave"))
	require.Len(t, env.server.limiters, 2)
	require.Contains(t, env.server.limiters, "carol")
	require.Contains(t, env.server.limiters, "dave")
	require.NotContains(t, env.server.limiters, "alice")
}

func TestLimiterIdleTTLCoversRefill(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{RequestsPerMinute: 1, Burst: 30, LimiterIdleTTL: time.Second})
	require.Equal(t, 30*time.Minute, env.server.cfg.LimiterIdleTTL)
}

func TestHealthz(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{})
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientRoundTrip(t *testing.T) {
	env := newSignerEnv(t, ServerConfig{})
	env.issues.issue = env.completedIssue()
	client := NewClient(env.http.URL + "/")
	ctx := context.Background()

	link, err := client.VerifyToken(ctx, env.token(t, nil))
	require.NoError(t, err)
	require.NoError(t, reward.VerifyLinkAuthorization(link.Username, env.wallet, link.Signature, env.server.Signer()))

	claim, err := client.ClaimAuthorization(ctx, env.token(t, nil), "org/repo", 7)
	require.NoError(t, err)
	require.Equal(t, "Alice", claim.Username)
	require.Len(t, claim.Signature, 65)

	env.issues.issue.Claimed = []string{"Alice"}
	_, err = client.ClaimAuthorization(ctx, env.token(t, nil), "org/repo", 7)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, http.StatusConflict, reqErr.Status)
	require.Equal(t, "already_claimed", reqErr.Reason)
}
