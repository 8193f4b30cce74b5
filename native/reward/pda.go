package reward

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"

	"ghreward/crypto"
)

// DefaultProgramID identifies the reward program when no deployment specific
// id is configured.
var DefaultProgramID = solana.MustPublicKeyFromBase58("9T4k3RZXv17Dy7bhExP45hHeQNEsjGokZZpe3hKrXS5f")

var (
	seedState    = []byte("state")
	seedVault    = []byte("vault")
	seedIssue    = []byte("issue")
	seedIdentity = []byte("identity")
)

// DeriveStatePDA returns the address of the program state singleton.
func DeriveStatePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedState}, programID)
}

// DeriveVaultAuthorityPDA returns the authority that owns every vault token
// account. No private key exists for it so only program logic moves funds.
func DeriveVaultAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedVault}, programID)
}

// DeriveVaultPDA returns the vault token account holding escrow for mint.
func DeriveVaultPDA(programID solana.PublicKey, mint crypto.Address) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedVault, mint[:]}, programID)
}

// DeriveIssuePDA returns the address of the escrow record for an issue. The
// repository name is hashed because seeds are capped at 32 bytes.
func DeriveIssuePDA(programID solana.PublicKey, repositoryName string, issueID uint64) (solana.PublicKey, uint8, error) {
	issueBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(issueBytes, issueID)
	return solana.FindProgramAddress([][]byte{seedIssue, ethcrypto.Keccak256([]byte(repositoryName)), issueBytes}, programID)
}

// DeriveIdentityPDA returns the address of a GitHub identity link.
func DeriveIdentityPDA(programID solana.PublicKey, githubID string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedIdentity, ethcrypto.Keccak256([]byte(normalizeLogin(githubID)))}, programID)
}
