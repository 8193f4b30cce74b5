package rpc

import (
	"errors"
	"net/http"

	"ghreward/core"
	nativecommon "ghreward/native/common"
	"ghreward/native/reward"
)

// codeRewardBase is the JSON-RPC code of the first reward error. Codes are
// assigned downwards in reward.ErrorCodes order.
const codeRewardBase = -32040

var rewardCodes = func() map[string]int {
	out := make(map[string]int)
	for i, code := range reward.ErrorCodes() {
		out[code] = codeRewardBase - i
	}
	return out
}()

// RewardErrorCode returns the JSON-RPC code assigned to a reward error code.
func RewardErrorCode(code string) (int, bool) {
	c, ok := rewardCodes[code]
	return c, ok
}

func rewardStatus(code string) int {
	switch code {
	case "IssueNotFound", "NotInitialized":
		return http.StatusNotFound
	case "Unauthorized":
		return http.StatusForbidden
	case "AlreadyInitialized", "AlreadyCompleted", "AlreadyClaimed", "DuplicateLock":
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// ledgerError maps errors returned by the node to a status and JSON-RPC
// error. The stable outcome string travels in data.
func ledgerError(err error) (int, *RPCError) {
	outcome := core.ErrorOutcome(err)
	if code, ok := rewardCodes[outcome]; ok {
		return rewardStatus(outcome), &RPCError{Code: code, Message: err.Error(), Data: outcome}
	}
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, &RPCError{Code: codeModulePaused, Message: err.Error(), Data: outcome}
	case errors.Is(err, core.ErrReceiptNotFound):
		return http.StatusNotFound, &RPCError{Code: codeNotFound, Message: err.Error()}
	case outcome != "Internal":
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: outcome}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	status, rpcErr := ledgerError(err)
	writeRPCError(w, id, status, rpcErr)
}
