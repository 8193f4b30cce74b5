package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ghreward/core/types"
	"ghreward/crypto"
	"ghreward/native/reward"
)

type addressParams struct {
	Address string `json:"address"`
}

type balanceParams struct {
	Address string `json:"address"`
	Mint    string `json:"mint,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

type issueParams struct {
	RepositoryName string `json:"repositoryName"`
	IssueID        uint64 `json:"issueId"`
}

type mintParams struct {
	Mint   string `json:"mint,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// claimFilterParams leaves IssueID nil when the caller omits issueId, so
// issue 0 can still be selected explicitly.
type claimFilterParams struct {
	RepositoryName string  `json:"repositoryName,omitempty"`
	IssueID        *uint64 `json:"issueId,omitempty"`
}

type identityParams struct {
	GithubID string `json:"githubId"`
}

type receiptParams struct {
	Hash string `json:"hash"`
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "parameter object required"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func parseAddressParam(field, value string) (crypto.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s is required", field)}
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s", field), Data: err.Error()}
	}
	return addr, nil
}

// resolveMint accepts either a mint address or a registered token symbol.
func (s *Server) resolveMint(mint, symbol string) (crypto.Address, string, *RPCError) {
	if strings.TrimSpace(mint) != "" {
		addr, rpcErr := parseAddressParam("mint", mint)
		if rpcErr != nil {
			return crypto.Address{}, "", rpcErr
		}
		meta, err := s.node.Token(addr)
		if err != nil {
			return crypto.Address{}, "", &RPCError{Code: codeServerError, Message: "failed to load token", Data: err.Error()}
		}
		if meta == nil {
			return addr, "", nil
		}
		return addr, meta.Symbol, nil
	}
	if strings.TrimSpace(symbol) == "" {
		return crypto.Address{}, "", &RPCError{Code: codeInvalidParams, Message: "mint or symbol is required"}
	}
	meta, err := s.node.TokenBySymbol(symbol)
	if err != nil {
		return crypto.Address{}, "", &RPCError{Code: codeServerError, Message: "failed to load token", Data: err.Error()}
	}
	if meta == nil {
		return crypto.Address{}, "", &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown token %q", symbol)}
	}
	return meta.Mint, meta.Symbol, nil
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var encoded string
	if err := json.Unmarshal(req.Params[0], &encoded); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction must be a hex string", err.Error())
		return
	}
	raw, err := hexutil.Decode(strings.TrimSpace(encoded))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction encoding", err.Error())
		return
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}

	source := s.clientSource(r)
	if !s.allowSource(source) {
		s.metrics.RecordThrottle("rpc", "tx_rate")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", source)
		return
	}

	hash, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to hash transaction", err.Error())
		return
	}
	if !s.rememberTx(hash.Hex(), time.Now()) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "transaction has already been submitted", hash.Hex())
		return
	}

	receipt, err := s.node.ApplyTransaction(r.Context(), tx)
	if err != nil {
		s.forgetTx(hash.Hex())
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	mint, symbol, rpcErr := s.resolveMint(params.Mint, params.Symbol)
	if rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	balance, err := s.node.Balance(addr, mint)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: addr.String(),
		Mint:    mint.String(),
		Symbol:  symbol,
		Balance: amountString(balance),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, StatusResult{
		ChainID:   s.node.ChainID().Uint64(),
		Height:    s.node.Height(),
		StateRoot: s.node.StateRoot().Hex(),
		ProgramID: s.node.ProgramID().String(),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NonceResult{Address: addr.String(), Nonce: nonce})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params receiptParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	raw, err := hexutil.Decode(strings.TrimSpace(params.Hash))
	if err != nil || len(raw) != common.HashLength {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "hash must be 32 bytes of 0x-prefixed hex", nil)
		return
	}
	receipt, err := s.node.Receipt(common.BytesToHash(raw))
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetProgramState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	program, err := s.node.ProgramState()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	programID := s.node.ProgramID()
	statePDA, _, err := reward.DeriveStatePDA(programID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	authority, _, err := reward.DeriveVaultAuthorityPDA(programID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ProgramStateResult{
		ProgramID:           programID.String(),
		StateAddress:        statePDA.String(),
		VaultAuthority:      authority.String(),
		Owner:               program.Owner.String(),
		AuthorizationSigner: program.AuthorizationSigner.String(),
		PrivilegedAccount:   program.PrivilegedAccount.String(),
	})
}

func (s *Server) handleGetIssue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params issueParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	record, err := s.node.Issue(params.RepositoryName, params.IssueID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	pda, _, err := reward.DeriveIssuePDA(s.node.ProgramID(), record.RepositoryName, record.IssueID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, issueResult(pda.String(), record))
}

func (s *Server) handleGetVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	mint, _, rpcErr := s.resolveMint(params.Mint, params.Symbol)
	if rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	vault, err := s.node.Vault(mint)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultResult(vault))
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params identityParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
		return
	}
	if strings.TrimSpace(params.GithubID) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "githubId is required", nil)
		return
	}
	link, ok, err := s.node.Identity(params.GithubID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "identity not linked", params.GithubID)
		return
	}
	writeResult(w, req.ID, IdentityResult{GithubID: link.GithubID, Address: link.Address.String(), LinkedAt: link.LinkedAt})
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.claims == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "claim index unavailable", nil)
		return
	}
	var params claimFilterParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeRPCError(w, req.ID, http.StatusBadRequest, rpcErr)
			return
		}
	}
	claims, err := s.claims.ListClaims(r.Context(), strings.TrimSpace(params.RepositoryName), params.IssueID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list claims", err.Error())
		return
	}
	out := make([]ClaimResult, 0, len(claims))
	for _, c := range claims {
		out = append(out, claimResult(c))
	}
	writeResult(w, req.ID, out)
}
