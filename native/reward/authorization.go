package reward

import (
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"ghreward/crypto"
)

// ClaimDigest returns keccak256(abi.encodePacked(string repositoryName,
// uint256 issueID, uint256 reward, address tokenMint, address claimer)).
// Off-chain signers hash the same tuple before personal-signing it.
func ClaimDigest(repositoryName string, issueID uint64, reward *big.Int, tokenMint, claimer crypto.Address) ([]byte, error) {
	if reward == nil || reward.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	rewardWord, overflow := uint256.FromBig(reward)
	if overflow {
		return nil, ErrInvalidAmount
	}
	issueWord := uint256.NewInt(issueID).Bytes32()
	amountWord := rewardWord.Bytes32()
	return ethcrypto.Keccak256(
		[]byte(repositoryName),
		issueWord[:],
		amountWord[:],
		tokenMint[:],
		claimer[:],
	), nil
}

// LinkDigest returns keccak256(abi.encodePacked(string githubID, address account)).
func LinkDigest(githubID string, account crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte(githubID), account[:])
}

// SignClaim produces the authorization a contributor presents to claimReward.
func SignClaim(key *crypto.PrivateKey, repositoryName string, issueID uint64, reward *big.Int, tokenMint, claimer crypto.Address) ([]byte, error) {
	digest, err := ClaimDigest(repositoryName, issueID, reward, tokenMint, claimer)
	if err != nil {
		return nil, err
	}
	return crypto.SignPersonal(key, digest)
}

// SignLink produces the authorization presented to linkIdentity.
func SignLink(key *crypto.PrivateKey, githubID string, account crypto.Address) ([]byte, error) {
	return crypto.SignPersonal(key, LinkDigest(githubID, account))
}

// VerifyClaimAuthorization checks that signature was produced by signer over
// the claim tuple of record for claimer. It is a pure function of its inputs.
func VerifyClaimAuthorization(record *IssueRecord, claimer crypto.Address, signature []byte, signer crypto.Address) error {
	if record == nil {
		return ErrIssueNotFound
	}
	digest, err := ClaimDigest(record.RepositoryName, record.IssueID, record.Reward, record.TokenMint, claimer)
	if err != nil {
		return err
	}
	return verifyDigest(digest, signature, signer)
}

// VerifyLinkAuthorization checks a linkIdentity signature.
func VerifyLinkAuthorization(githubID string, account crypto.Address, signature []byte, signer crypto.Address) error {
	return verifyDigest(LinkDigest(githubID, account), signature, signer)
}

func verifyDigest(digest, signature []byte, signer crypto.Address) error {
	recovered, err := crypto.RecoverPersonal(digest, signature)
	if err != nil {
		if errors.Is(err, crypto.ErrMalformedSignature) {
			return ErrMalformedSignature
		}
		return err
	}
	if recovered != signer {
		return ErrInvalidSignature
	}
	return nil
}
