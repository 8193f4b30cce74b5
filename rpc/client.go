package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ghreward/core/types"
	"ghreward/crypto"
)

// Client talks to a node's JSON-RPC endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Uint64
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		token:    strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Call invokes method with a single parameter object (nil for none) and
// decodes the result into out. JSON-RPC failures are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
		ID      uint64        `json:"id"`
	}{JSONRPC: jsonRPCVersion, Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		req.Params = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes*8))
	if err != nil {
		return fmt.Errorf("rpc %s: read response: %w", method, err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("rpc %s: status %d: decode response: %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc %s: decode result: %w", method, err)
	}
	return nil
}

// ErrorOutcome extracts the ledger outcome code carried by an RPC error, or
// "" when err carries none.
func ErrorOutcome(err error) string {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return ""
	}
	if code, ok := rpcErr.Data.(string); ok {
		return code
	}
	return ""
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	receipt := new(types.Receipt)
	if err := c.Call(ctx, "ghr_sendTransaction", hexutil.Encode(raw), receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Status returns the chain id and head of the node.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	out := new(StatusResult)
	if err := c.Call(ctx, "ghr_status", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Nonce(ctx context.Context, addr crypto.Address) (uint64, error) {
	var out NonceResult
	if err := c.Call(ctx, "ghr_getNonce", addressParams{Address: addr.String()}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Balance looks up the balance of addr. token is a mint address or a symbol.
func (c *Client) Balance(ctx context.Context, addr crypto.Address, token string) (*BalanceResult, error) {
	params := balanceParams{Address: addr.String()}
	if _, err := crypto.ParseAddress(token); err == nil {
		params.Mint = token
	} else {
		params.Symbol = token
	}
	out := new(BalanceResult)
	if err := c.Call(ctx, "ghr_getBalance", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	out := new(types.Receipt)
	if err := c.Call(ctx, "ghr_getReceipt", receiptParams{Hash: hash.Hex()}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProgramState(ctx context.Context) (*ProgramStateResult, error) {
	out := new(ProgramStateResult)
	if err := c.Call(ctx, "reward_getProgramState", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Issue(ctx context.Context, repositoryName string, issueID uint64) (*IssueResult, error) {
	out := new(IssueResult)
	if err := c.Call(ctx, "reward_getIssue", issueParams{RepositoryName: repositoryName, IssueID: issueID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Vault(ctx context.Context, token string) (*VaultResult, error) {
	params := mintParams{}
	if _, err := crypto.ParseAddress(token); err == nil {
		params.Mint = token
	} else {
		params.Symbol = token
	}
	out := new(VaultResult)
	if err := c.Call(ctx, "reward_getVault", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Identity(ctx context.Context, githubID string) (*IdentityResult, error) {
	out := new(IdentityResult)
	if err := c.Call(ctx, "reward_getIdentity", identityParams{GithubID: githubID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListClaims queries the claim index. A nil issueID covers every issue of
// repositoryName.
func (c *Client) ListClaims(ctx context.Context, repositoryName string, issueID *uint64) ([]ClaimResult, error) {
	var out []ClaimResult
	if err := c.Call(ctx, "reward_listClaims", claimFilterParams{RepositoryName: repositoryName, IssueID: issueID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
