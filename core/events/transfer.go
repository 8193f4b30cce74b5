package events

import (
	"math/big"

	"ghreward/core/types"
	"ghreward/crypto"
)

const TypeTokenTransferred = "token.transferred"

type TokenTransferred struct {
	Mint   crypto.Address
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (TokenTransferred) EventType() string { return TypeTokenTransferred }

func (e TokenTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransferred,
		Attributes: map[string]string{
			"mint":   e.Mint.String(),
			"from":   e.From.String(),
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}
