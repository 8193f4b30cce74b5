package types

import "github.com/ethereum/go-ethereum/common"

// Receipt describes a committed transaction.
type Receipt struct {
	TxHash    common.Hash `json:"txHash"`
	Type      string      `json:"type"`
	Height    uint64      `json:"height"`
	StateRoot common.Hash `json:"stateRoot"`
	Events    []Event     `json:"events"`
}
