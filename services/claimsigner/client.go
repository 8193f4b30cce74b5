package claimsigner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client requests authorizations from a claim signer on behalf of a session.
type Client struct {
	baseURL string
	http    *http.Client
}

// LinkAuthorization is the signer's answer to verify-token.
type LinkAuthorization struct {
	Username  string
	Address   string
	Signature []byte
}

// ClaimAuthorization is the signer's answer to claim-authorization.
type ClaimAuthorization struct {
	Username  string
	Address   string
	Reward    string
	TokenMint string
	Signature []byte
}

// RequestError is a non-2xx answer from the signer.
type RequestError struct {
	Status  int
	Reason  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("claim signer: %d %s: %s", e.Status, e.Reason, e.Message)
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// VerifyToken exchanges a session token for an identity link signature.
func (c *Client) VerifyToken(ctx context.Context, sessionToken string) (*LinkAuthorization, error) {
	var out linkResponse
	if err := c.post(ctx, "/v1/verify-token", sessionToken, nil, &out); err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("claim signer: signature: %w", err)
	}
	return &LinkAuthorization{Username: out.Username, Address: out.Address, Signature: sig}, nil
}

// ClaimAuthorization requests the signature for claiming the session's share
// of an issue.
func (c *Client) ClaimAuthorization(ctx context.Context, sessionToken, repositoryName string, issueID uint64) (*ClaimAuthorization, error) {
	var out claimResponse
	body := claimRequest{RepositoryName: repositoryName, IssueID: issueID}
	if err := c.post(ctx, "/v1/claim-authorization", sessionToken, body, &out); err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("claim signer: signature: %w", err)
	}
	return &ClaimAuthorization{
		Username:  out.Username,
		Address:   out.Address,
		Reward:    out.Reward,
		TokenMint: out.TokenMint,
		Signature: sig,
	}, nil
}

func (c *Client) post(ctx context.Context, path, sessionToken string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(sessionToken))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("claim signer %s: %w", path, err)
	}
	defer resp.Body.Close()
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode/100 != 2 {
		var failure errorResponse
		_ = dec.Decode(&failure)
		return &RequestError{Status: resp.StatusCode, Reason: failure.Error, Message: failure.Message}
	}
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("claim signer %s: decode: %w", path, err)
	}
	return nil
}
