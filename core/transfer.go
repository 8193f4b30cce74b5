package core

import (
	"fmt"
	"math/big"

	"ghreward/core/events"
	"ghreward/core/types"
	"ghreward/crypto"
	nativecommon "ghreward/native/common"
	"ghreward/native/reward"
)

// TransferModule is the pause key for plain token transfers.
const TransferModule = "transfer"

func (n *Node) transfer(sender crypto.Address, p *types.TransferPayload, emitter events.Emitter) error {
	if err := nativecommon.Guard(n.pauses, TransferModule); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return reward.ErrInvalidAmount
	}
	if p.To.IsZero() {
		return reward.ErrInvalidAccount
	}
	registered, err := n.state.TokenRegistered(p.Mint)
	if err != nil {
		return err
	}
	if !registered {
		return reward.ErrUnknownMint
	}
	fromBalance, err := n.state.Balance(sender[:], p.Mint)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(p.Amount) < 0 {
		return reward.ErrInsufficientFunds
	}
	if err := n.state.SetBalance(sender[:], p.Mint, new(big.Int).Sub(fromBalance, p.Amount)); err != nil {
		return err
	}
	toBalance, err := n.state.Balance(p.To[:], p.Mint)
	if err != nil {
		return err
	}
	if err := n.state.SetBalance(p.To[:], p.Mint, new(big.Int).Add(toBalance, p.Amount)); err != nil {
		return err
	}
	emitter.Emit(events.TokenTransferred{
		Mint:   p.Mint,
		From:   sender,
		To:     p.To,
		Amount: new(big.Int).Set(p.Amount),
	})
	return nil
}
