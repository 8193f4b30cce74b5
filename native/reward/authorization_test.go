package reward

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"ghreward/crypto"
)

func TestClaimDigestMatchesPackedEncoding(t *testing.T) {
	mint := newTestAddress(0xAA)
	claimer := newTestAddress(0x04)

	digest, err := ClaimDigest("org/repo", 1, big.NewInt(100), mint, claimer)
	require.NoError(t, err)

	packed := append([]byte("org/repo"), common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(big.NewInt(100).Bytes(), 32)...)
	packed = append(packed, mint[:]...)
	packed = append(packed, claimer[:]...)
	require.Equal(t, ethcrypto.Keccak256(packed), digest)

	_, err = ClaimDigest("org/repo", 1, big.NewInt(-1), mint, claimer)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestVerifyClaimAuthorizationBindsEveryField(t *testing.T) {
	signer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	record := &IssueRecord{
		RepositoryName: "org/repo",
		IssueID:        1,
		TokenMint:      newTestAddress(0xAA),
		Reward:         big.NewInt(100),
	}
	claimer := newTestAddress(0x04)
	sig, err := SignClaim(signer, record.RepositoryName, record.IssueID, record.Reward, record.TokenMint, claimer)
	require.NoError(t, err)

	require.NoError(t, VerifyClaimAuthorization(record, claimer, sig, signer.Address()))

	mutations := map[string]func(r *IssueRecord){
		"repository": func(r *IssueRecord) { r.RepositoryName = "org/other" },
		"issue":      func(r *IssueRecord) { r.IssueID = 2 },
		"reward":     func(r *IssueRecord) { r.Reward = big.NewInt(101) },
		"mint":       func(r *IssueRecord) { r.TokenMint = newTestAddress(0xBB) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changed := record.Clone()
			mutate(changed)
			require.ErrorIs(t, VerifyClaimAuthorization(changed, claimer, sig, signer.Address()), ErrInvalidSignature)
		})
	}
	require.ErrorIs(t, VerifyClaimAuthorization(record, newTestAddress(0x05), sig, signer.Address()), ErrInvalidSignature)
	require.ErrorIs(t, VerifyClaimAuthorization(record, claimer, sig[:64], signer.Address()), ErrMalformedSignature)
}

func TestProgramAddressesAreDeterministic(t *testing.T) {
	first, _, err := DeriveIssuePDA(DefaultProgramID, "org/repo", 1)
	require.NoError(t, err)
	again, _, err := DeriveIssuePDA(DefaultProgramID, "org/repo", 1)
	require.NoError(t, err)
	other, _, err := DeriveIssuePDA(DefaultProgramID, "org/repo", 2)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.NotEqual(t, first, other)

	vaultA, _, err := DeriveVaultPDA(DefaultProgramID, newTestAddress(0xAA))
	require.NoError(t, err)
	vaultB, _, err := DeriveVaultPDA(DefaultProgramID, newTestAddress(0xBB))
	require.NoError(t, err)
	authority, _, err := DeriveVaultAuthorityPDA(DefaultProgramID)
	require.NoError(t, err)
	require.NotEqual(t, vaultA, vaultB)
	require.NotEqual(t, vaultA, authority)
}
