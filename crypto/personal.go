package crypto

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r||s||v recoverable signature.
const SignatureLength = crypto.SignatureLength

// ErrMalformedSignature reports a signature that cannot be recovered.
var ErrMalformedSignature = errors.New("crypto: malformed signature")

// PersonalHash wraps a 32-byte digest in the personal-message envelope
// ("\x19Ethereum Signed Message:\n32" || digest) and hashes it.
func PersonalHash(digest []byte) []byte {
	return accounts.TextHash(digest)
}

// SignPersonal signs digest under the personal-message envelope. The returned
// signature carries v in {27, 28} as wallets produce it.
func SignPersonal(key *PrivateKey, digest []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(PersonalHash(digest), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverPersonal returns the address that produced sig over digest under the
// personal-message envelope. Both the {0,1} and {27,28} recovery id
// conventions are accepted. Signatures with high s values are rejected.
func RecoverPersonal(digest, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, ErrMalformedSignature
	}
	normalised := make([]byte, SignatureLength)
	copy(normalised, sig)
	v := normalised[crypto.RecoveryIDOffset]
	switch v {
	case 0, 1:
	case 27, 28:
		normalised[crypto.RecoveryIDOffset] = v - 27
	default:
		return Address{}, ErrMalformedSignature
	}
	if !crypto.ValidateSignatureValues(normalised[crypto.RecoveryIDOffset], new(big.Int).SetBytes(normalised[:32]), new(big.Int).SetBytes(normalised[32:64]), true) {
		return Address{}, ErrMalformedSignature
	}
	pub, err := crypto.SigToPub(PersonalHash(digest), normalised)
	if err != nil {
		return Address{}, ErrMalformedSignature
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}
