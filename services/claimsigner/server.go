package claimsigner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"ghreward/crypto"
	"ghreward/native/reward"
	"ghreward/observability"
	"ghreward/observability/logging"
	"ghreward/rpc"
)

const (
	maxBodyBytes    = 1 << 14
	headerRequestID = "X-Request-ID"
)

var (
	errMissingToken = errors.New("bearer token required")
	errBadClaims    = errors.New("session token lacks login or wallet")
)

// IssueSource resolves escrow records on the ledger.
type IssueSource interface {
	Issue(ctx context.Context, repositoryName string, issueID uint64) (*rpc.IssueResult, error)
}

// ServerConfig carries the verification and throttling parameters.
type ServerConfig struct {
	Issuer            string
	Audience          string
	Secret            []byte
	ClockSkew         time.Duration
	LoginClaim        string
	WalletClaim       string
	RequestsPerMinute int
	Burst             int
	// LimiterIdleTTL drops a login's limiter once it has been idle this
	// long. Never shorter than the time a bucket takes to refill.
	LimiterIdleTTL time.Duration
}

// session is the identity asserted by a verified token.
type session struct {
	Login  string
	Wallet crypto.Address
}

// Server issues link and claim authorizations.
type Server struct {
	key     *crypto.PrivateKey
	issues  IssueSource
	store   *Store
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *observability.SignerMetrics
	nowFn   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer constructs the signer with the supplied dependencies.
func NewServer(key *crypto.PrivateKey, issues IssueSource, store *Store, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if key == nil {
		return nil, errors.New("signing key required")
	}
	if issues == nil {
		return nil, errors.New("issue source required")
	}
	if store == nil {
		return nil, errors.New("store required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginClaim == "" {
		cfg.LoginClaim = "github_login"
	}
	if cfg.WalletClaim == "" {
		cfg.WalletClaim = "wallet"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	refill := time.Duration(float64(cfg.Burst) / float64(cfg.RequestsPerMinute) * float64(time.Minute))
	if cfg.LimiterIdleTTL <= 0 {
		cfg.LimiterIdleTTL = 10 * time.Minute
	}
	if cfg.LimiterIdleTTL < refill {
		cfg.LimiterIdleTTL = refill
	}
	return &Server{
		key:      key,
		issues:   issues,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "claim-signer"),
		metrics:  observability.ClaimSigner(),
		nowFn:    time.Now,
		limiters: make(map[string]*limiterEntry),
	}, nil
}

// Signer returns the address every issued signature recovers to.
func (s *Server) Signer() crypto.Address { return s.key.Address() }

func (s *Server) now() time.Time {
	if s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

// Handler returns the HTTP surface of the signer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/verify-token", s.observe("verify-token", s.handleVerifyToken))
	r.Post("/v1/claim-authorization", s.observe("claim-authorization", s.handleClaimAuthorization))
	return otelhttp.NewHandler(r, "ghreward-claim-signer")
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	if l == nil {
		return fmt.Errorf("claim signer: nil listener")
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       time.Minute,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("claim signer listening", "addr", l.Addr().String(), "signer", s.Signer().String())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type linkResponse struct {
	Username  string `json:"username"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r)
	if !ok {
		return
	}
	sig, err := reward.SignLink(s.key, sess.Login, sess.Wallet)
	if err != nil {
		s.internalError(w, r, "sign link", err)
		return
	}
	encoded := hexutil.Encode(sig)
	if err := s.record(r, Authorization{
		Kind:      KindLink,
		Login:     sess.Login,
		Address:   sess.Wallet.String(),
		Signature: encoded,
	}); err != nil {
		s.internalError(w, r, "record link authorization", err)
		return
	}
	s.metrics.RecordSignature(KindLink)
	s.logger.Info("link authorized",
		"request_id", requestIDFrom(r),
		logging.Grant(KindLink, sess.Login, sess.Wallet.String(), "", 0, encoded))
	writeJSON(w, http.StatusOK, linkResponse{
		Username:  sess.Login,
		Address:   sess.Wallet.String(),
		Signature: encoded,
	})
}

type claimRequest struct {
	RepositoryName string `json:"repositoryName"`
	IssueID        uint64 `json:"issueId"`
}

type claimResponse struct {
	Username  string `json:"username"`
	Address   string `json:"address"`
	Reward    string `json:"reward"`
	TokenMint string `json:"tokenMint"`
	Signature string `json:"signature"`
}

func (s *Server) handleClaimAuthorization(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req claimRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := reward.ValidateRepositoryName(req.RepositoryName); err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	issue, err := s.issues.Issue(r.Context(), req.RepositoryName, req.IssueID)
	if err != nil {
		if rpc.ErrorOutcome(err) == reward.ErrorCode(reward.ErrIssueNotFound) {
			s.reject(w, http.StatusNotFound, "issue_not_found", "issue not found")
			return
		}
		s.logger.Error("issue lookup failed", "error", err, "request_id", requestIDFrom(r))
		s.reject(w, http.StatusBadGateway, "node_unavailable", "ledger unavailable")
		return
	}
	if !issue.IsCompleted {
		s.reject(w, http.StatusConflict, "not_completed", "issue has not been completed")
		return
	}
	login, ok := contributorLogin(issue, sess.Login)
	if !ok {
		s.reject(w, http.StatusForbidden, "not_contributor", "login is not a contributor of this issue")
		return
	}
	for _, claimed := range issue.Claimed {
		if strings.EqualFold(claimed, login) {
			s.reject(w, http.StatusConflict, "already_claimed", "reward already claimed")
			return
		}
	}
	amount, ok := new(big.Int).SetString(issue.Reward, 10)
	if !ok {
		s.internalError(w, r, "parse reward", fmt.Errorf("invalid reward %q", issue.Reward))
		return
	}
	mint, err := crypto.ParseAddress(issue.TokenMint)
	if err != nil {
		s.internalError(w, r, "parse mint", err)
		return
	}
	sig, err := reward.SignClaim(s.key, issue.RepositoryName, issue.IssueID, amount, mint, sess.Wallet)
	if err != nil {
		s.internalError(w, r, "sign claim", err)
		return
	}
	encoded := hexutil.Encode(sig)
	if err := s.record(r, Authorization{
		Kind:       KindClaim,
		Login:      login,
		Address:    sess.Wallet.String(),
		Repository: issue.RepositoryName,
		IssueID:    issue.IssueID,
		Reward:     amount.String(),
		Mint:       mint.String(),
		Signature:  encoded,
	}); err != nil {
		s.internalError(w, r, "record claim authorization", err)
		return
	}
	s.metrics.RecordSignature(KindClaim)
	s.logger.Info("claim authorized",
		"request_id", requestIDFrom(r),
		logging.Grant(KindClaim, login, sess.Wallet.String(), issue.RepositoryName, issue.IssueID, encoded))
	writeJSON(w, http.StatusOK, claimResponse{
		Username:  login,
		Address:   sess.Wallet.String(),
		Reward:    amount.String(),
		TokenMint: mint.String(),
		Signature: encoded,
	})
}

// contributorLogin returns the spelling recorded for login on the issue.
func contributorLogin(issue *rpc.IssueResult, login string) (string, bool) {
	for _, contributor := range issue.Contributors {
		if strings.EqualFold(contributor, login) {
			return contributor, true
		}
	}
	return "", false
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (session, bool) {
	sess, err := s.verifyToken(r.Header.Get("Authorization"))
	if err != nil {
		s.logger.Warn("session rejected", "reason", err.Error(), "request_id", requestIDFrom(r))
		s.reject(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return session{}, false
	}
	if !s.allow(sess.Login) {
		s.reject(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
		return session{}, false
	}
	return sess, true
}

func (s *Server) verifyToken(header string) (session, error) {
	raw := parseBearerToken(header)
	if raw == "" {
		return session{}, errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return session{}, err
	}
	if !token.Valid {
		return session{}, errors.New("token invalid")
	}
	login, _ := claims[s.cfg.LoginClaim].(string)
	wallet, _ := claims[s.cfg.WalletClaim].(string)
	login = strings.TrimSpace(login)
	if reward.ValidateGithubLogin(login) != nil || strings.TrimSpace(wallet) == "" {
		return session{}, errBadClaims
	}
	addr, err := crypto.ParseAddress(wallet)
	if err != nil {
		return session{}, fmt.Errorf("wallet claim: %w", err)
	}
	if addr.IsZero() {
		return session{}, errBadClaims
	}
	return session{Login: login, Wallet: addr}, nil
}

func parseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (s *Server) allow(login string) bool {
	key := strings.ToLower(login)
	now := s.now()
	s.mu.Lock()
	if now.Sub(s.lastSweep) >= s.cfg.LimiterIdleTTL {
		s.evictIdleLocked(now)
	}
	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(s.cfg.RequestsPerMinute)/60.0), s.cfg.Burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	s.mu.Unlock()
	return entry.limiter.Allow()
}

// evictIdleLocked drops limiters unused for LimiterIdleTTL. An evicted
// bucket would have refilled anyway. Caller holds s.mu.
func (s *Server) evictIdleLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) >= s.cfg.LimiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

func (s *Server) record(r *http.Request, auth Authorization) error {
	auth.ID = uuid.NewString()
	auth.RequestID = requestIDFrom(r)
	auth.IssuedAt = s.now()
	return s.store.Record(auth)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, message string) {
	s.metrics.RecordRejection(reason)
	writeJSON(w, status, errorResponse{Error: reason, Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", "error", err, "request_id", requestIDFrom(r))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
}

func (s *Server) observe(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(endpoint, rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}
