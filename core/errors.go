package core

import "errors"

var (
	ErrNonceMismatch   = errors.New("core: nonce mismatch")
	ErrChainIDMismatch = errors.New("core: chain id mismatch")
	ErrUnknownTxType   = errors.New("core: unknown transaction type")
	ErrInvalidPayload  = errors.New("core: invalid transaction payload")
	ErrInvalidSender   = errors.New("core: invalid transaction signature")
	ErrNoGenesis       = errors.New("core: empty database and no genesis spec")
	ErrReceiptNotFound = errors.New("core: receipt not found")
)
