package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"ghreward/core/types"
	"ghreward/crypto"
	"ghreward/services/claimsigner"
)

func (c *cli) initialize(args []string) error {
	fs := c.flags("initialize")
	signer := fs.String("signer", "", "authorization signer address")
	privileged := fs.String("privileged", "", "privileged account address")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	signerAddr, err := parseOptionalAddress("signer", *signer)
	if err != nil {
		return err
	}
	privilegedAddr, err := parseOptionalAddress("privileged", *privileged)
	if err != nil {
		return err
	}
	if signerAddr.IsZero() || privilegedAddr.IsZero() {
		return errors.New("--signer and --privileged are required")
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return c.submit(ctx, types.TxTypeInitialize, &types.InitializePayload{
		AuthorizationSigner: signerAddr,
		PrivilegedAccount:   privilegedAddr,
	})
}

func (c *cli) lock(args []string) error {
	fs := c.flags("lock")
	repo := fs.String("repo", "", "repository as owner/name")
	id := fs.Uint64("issue", 0, "issue number")
	amount := fs.String("amount", "", "reward in base units")
	token := fs.String("token", "", "mint address or token symbol")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	mint, err := c.resolveMint(ctx, *token)
	if err != nil {
		return err
	}
	return c.submit(ctx, types.TxTypeLockReward, &types.LockRewardPayload{
		RepositoryName: strings.TrimSpace(*repo),
		IssueID:        *id,
		Reward:         value,
		TokenMint:      mint,
	})
}

func (c *cli) complete(args []string) error {
	fs := c.flags("complete")
	repo := fs.String("repo", "", "repository as owner/name")
	id := fs.Uint64("issue", 0, "issue number")
	contributors := fs.String("contributors", "", "comma separated GitHub logins")
	percentages := fs.String("percentages", "", "comma separated shares summing to 100")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	logins := splitList(*contributors)
	shares, err := parsePercentages(*percentages)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return c.submit(ctx, types.TxTypeRegisterAndCompleteIssue, &types.CompleteIssuePayload{
		RepositoryName:         strings.TrimSpace(*repo),
		IssueID:                *id,
		Contributors:           logins,
		ContributorPercentages: shares,
	})
}

func (c *cli) claim(args []string) error {
	fs := c.flags("claim")
	repo := fs.String("repo", "", "repository as owner/name")
	id := fs.Uint64("issue", 0, "issue number")
	login := fs.String("login", "", "contributor GitHub login")
	signature := fs.String("signature", "", "hex claim authorization (omit to request one from --signer-url)")
	signerURL := fs.String("signer-url", "", "claim signer base URL")
	session := fs.String("session", os.Getenv(sessionTokenEnv), "session token presented to the claim signer")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	repoName := strings.TrimSpace(*repo)
	githubID := strings.TrimSpace(*login)
	ctx, cancel := withTimeout()
	defer cancel()

	var sig []byte
	if raw := strings.TrimSpace(*signature); raw != "" {
		decoded, err := hexutil.Decode(raw)
		if err != nil {
			return fmt.Errorf("--signature: %w", err)
		}
		sig = decoded
	} else {
		if strings.TrimSpace(*signerURL) == "" || strings.TrimSpace(*session) == "" {
			return errors.New("provide --signature or both --signer-url and --session")
		}
		auth, err := claimsigner.NewClient(*signerURL).ClaimAuthorization(ctx, *session, repoName, *id)
		if err != nil {
			return err
		}
		if err := c.checkAuthorizedAccount(auth.Address); err != nil {
			return err
		}
		if githubID == "" {
			githubID = auth.Username
		}
		sig = auth.Signature
	}
	if githubID == "" {
		return errors.New("--login is required")
	}
	return c.submit(ctx, types.TxTypeClaimReward, &types.ClaimRewardPayload{
		RepositoryName: repoName,
		IssueID:        *id,
		GithubID:       githubID,
		Signature:      sig,
	})
}

func (c *cli) link(args []string) error {
	fs := c.flags("link")
	login := fs.String("login", "", "GitHub login")
	signature := fs.String("signature", "", "hex link authorization (omit to request one from --signer-url)")
	signerURL := fs.String("signer-url", "", "claim signer base URL")
	session := fs.String("session", os.Getenv(sessionTokenEnv), "session token presented to the claim signer")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	githubID := strings.TrimSpace(*login)
	ctx, cancel := withTimeout()
	defer cancel()

	var sig []byte
	if raw := strings.TrimSpace(*signature); raw != "" {
		decoded, err := hexutil.Decode(raw)
		if err != nil {
			return fmt.Errorf("--signature: %w", err)
		}
		sig = decoded
	} else {
		if strings.TrimSpace(*signerURL) == "" || strings.TrimSpace(*session) == "" {
			return errors.New("provide --signature or both --signer-url and --session")
		}
		auth, err := claimsigner.NewClient(*signerURL).VerifyToken(ctx, *session)
		if err != nil {
			return err
		}
		if err := c.checkAuthorizedAccount(auth.Address); err != nil {
			return err
		}
		githubID = auth.Username
		sig = auth.Signature
	}
	if githubID == "" {
		return errors.New("--login is required")
	}
	return c.submit(ctx, types.TxTypeLinkIdentity, &types.LinkIdentityPayload{
		GithubID:  githubID,
		Signature: sig,
	})
}

func (c *cli) rotate(args []string) error {
	fs := c.flags("rotate")
	owner := fs.String("owner", "", "new owner (empty keeps the current one)")
	signer := fs.String("signer", "", "new authorization signer (empty keeps the current one)")
	privileged := fs.String("privileged", "", "new privileged account (empty keeps the current one)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	payload := &types.UpdateAuthoritiesPayload{}
	var err error
	if payload.Owner, err = parseOptionalAddress("owner", *owner); err != nil {
		return err
	}
	if payload.AuthorizationSigner, err = parseOptionalAddress("signer", *signer); err != nil {
		return err
	}
	if payload.PrivilegedAccount, err = parseOptionalAddress("privileged", *privileged); err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return c.submit(ctx, types.TxTypeUpdateAuthorities, payload)
}

func (c *cli) transfer(args []string) error {
	fs := c.flags("transfer")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in base units")
	token := fs.String("token", "", "mint address or token symbol")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	recipient, err := crypto.ParseAddress(*to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	mint, err := c.resolveMint(ctx, *token)
	if err != nil {
		return err
	}
	return c.submit(ctx, types.TxTypeTransfer, &types.TransferPayload{Mint: mint, To: recipient, Amount: value})
}

// checkAuthorizedAccount refuses signer answers issued for a different
// wallet than the keystore account, which the ledger would reject anyway.
func (c *cli) checkAuthorizedAccount(authorized string) error {
	addr, err := crypto.ParseAddress(authorized)
	if err != nil {
		return fmt.Errorf("claim signer returned invalid address: %w", err)
	}
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	if key.Address() != addr {
		return fmt.Errorf("claim signer authorized %s but the keystore holds %s", addr.String(), key.Address().String())
	}
	return nil
}
