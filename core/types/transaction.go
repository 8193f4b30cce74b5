package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"ghreward/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer                 TxType = 0x01 // Token transfer between accounts
	TxTypeInitialize               TxType = 0x10 // Create the reward program state
	TxTypeLockReward               TxType = 0x11 // Escrow a reward against an issue
	TxTypeRegisterAndCompleteIssue TxType = 0x12 // Record the contributor split
	TxTypeClaimReward              TxType = 0x13 // Contributor withdraws a share
	TxTypeLinkIdentity             TxType = 0x14 // Bind a GitHub login to the sender
	TxTypeUpdateAuthorities        TxType = 0x15 // Owner rotates program authorities
)

var txTypeNames = map[TxType]string{
	TxTypeTransfer:                 "transfer",
	TxTypeInitialize:               "initialize",
	TxTypeLockReward:               "lock_reward",
	TxTypeRegisterAndCompleteIssue: "register_and_complete_issue",
	TxTypeClaimReward:              "claim_reward",
	TxTypeLinkIdentity:             "link_identity",
	TxTypeUpdateAuthorities:        "update_authorities",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tx_type_%#x", byte(t))
}

// Valid reports whether the type is known to the ledger.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

var errUnsigned = errors.New("types: transaction is not signed")

// Transaction is a signed instruction. Data carries the RLP encoded payload
// matching Type.
type Transaction struct {
	ChainID *big.Int
	Type    TxType
	Nonce   uint64
	Data    []byte

	R, S, V *big.Int

	from *crypto.Address
}

type unsignedTx struct {
	ChainID *big.Int
	Type    TxType
	Nonce   uint64
	Data    []byte
}

// NewTransaction encodes payload and returns an unsigned transaction.
func NewTransaction(chainID *big.Int, txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	data, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	id := new(big.Int)
	if chainID != nil {
		id.Set(chainID)
	}
	return &Transaction{ChainID: id, Type: txType, Nonce: nonce, Data: data}, nil
}

// SigningHash is the digest covered by the sender signature.
func (tx *Transaction) SigningHash() (common.Hash, error) {
	chainID := tx.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	encoded, err := rlp.EncodeToBytes(&unsignedTx{ChainID: chainID, Type: tx.Type, Nonce: tx.Nonce, Data: tx.Data})
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Hash identifies the signed transaction.
func (tx *Transaction) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("types: nil signing key")
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash.Bytes(), key.PrivateKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetUint64(uint64(sig[64]) + 27)
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return crypto.Address{}, errUnsigned
	}
	if tx.R.BitLen() > 256 || tx.S.BitLen() > 256 || !tx.V.IsUint64() {
		return crypto.Address{}, crypto.ErrMalformedSignature
	}
	v := tx.V.Uint64()
	if v != 27 && v != 28 {
		return crypto.Address{}, crypto.ErrMalformedSignature
	}
	if !ethcrypto.ValidateSignatureValues(byte(v-27), tx.R, tx.S, true) {
		return crypto.Address{}, crypto.ErrMalformedSignature
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return crypto.Address{}, err
	}
	sig := make([]byte, ethcrypto.SignatureLength)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	sig[64] = byte(v - 27)
	pubKey, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return crypto.Address{}, err
	}
	addr := crypto.Address(ethcrypto.PubkeyToAddress(*pubKey))
	tx.from = &addr
	return addr, nil
}

// DecodePayload decodes Data into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	return rlp.DecodeBytes(tx.Data, out)
}

// MarshalBinary returns the RLP encoding of the signed transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// UnmarshalBinary decodes an RLP encoded signed transaction.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	var decoded Transaction
	if err := rlp.DecodeBytes(data, &decoded); err != nil {
		return err
	}
	*tx = decoded
	return nil
}
