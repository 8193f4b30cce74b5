package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"ghreward/cmd/internal/passphrase"
	"ghreward/core/types"
	"ghreward/crypto"
	"ghreward/native/reward"
	"ghreward/rpc"
)

const (
	rpcURLEnv       = "GHR_RPC_URL"
	rpcTokenEnv     = "GHR_RPC_TOKEN"
	keystoreEnv     = "GHR_KEYSTORE"
	keystorePassEnv = "GHR_KEYSTORE_PASSPHRASE"
	sessionTokenEnv = "GHR_SESSION_TOKEN"
	defaultRPCURL   = "http://127.0.0.1:8545"
	defaultKeystore = "./account.keystore"
	commandTimeout  = 30 * time.Second
)

var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(c *cli, args []string) error
}

var commands = map[string]command{
	"generate-key":   {"create an encrypted account keystore", (*cli).generateKey},
	"address":        {"print the keystore account address", (*cli).address},
	"balance":        {"query a token balance", (*cli).balance},
	"initialize":     {"create the reward program with the keystore account as owner", (*cli).initialize},
	"lock":           {"escrow a reward against an issue", (*cli).lock},
	"complete":       {"register the contributor split of an issue", (*cli).complete},
	"claim":          {"claim a contributor share", (*cli).claim},
	"link":           {"link a GitHub login to the keystore account", (*cli).link},
	"rotate":         {"rotate program authorities", (*cli).rotate},
	"transfer":       {"transfer tokens", (*cli).transfer},
	"issue":          {"show an issue escrow", (*cli).issue},
	"state":          {"show the node head and program authorities", (*cli).state},
	"vault":          {"show a reward vault", (*cli).vault},
	"claims":         {"list indexed claims", (*cli).claims},
	"export-payouts": {"write indexed payouts to a parquet file", (*cli).exportPayouts},
}

type cli struct {
	rpcURL   string
	rpcToken string
	keystore string
	stdout   io.Writer
	stderr   io.Writer

	passphrase func() (string, error)
	client     *rpc.Client

	// newPassphrase protects keystores created by generate-key. Falls back to
	// passphrase when nil.
	newPassphrase func() (string, error)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("ghreward-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.rpcURL, "rpc", envOr(rpcURLEnv, defaultRPCURL), "node JSON-RPC endpoint")
	fs.StringVar(&c.rpcToken, "token", os.Getenv(rpcTokenEnv), "bearer token for transaction submission")
	fs.StringVar(&c.keystore, "keystore", envOr(keystoreEnv, defaultKeystore), "account keystore file")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	c.passphrase = passphrase.NewSource(keystorePassEnv, "account keystore").Get
	c.newPassphrase = passphrase.NewSource(keystorePassEnv, "new keystore").WithConfirmation().Get
	return c.dispatch(fs.Args())
}

func (c *cli) dispatch(args []string) int {
	if len(args) == 0 {
		printUsage(c.stderr)
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		printUsage(c.stderr)
		return 1
	}
	if err := cmd.run(c, args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ghreward-cli [--rpc URL] [--token TOKEN] [--keystore FILE] <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected positional arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

func (c *cli) node() *rpc.Client {
	if c.client == nil {
		c.client = rpc.NewClient(c.rpcURL, c.rpcToken)
	}
	return c.client
}

func (c *cli) loadKey() (*crypto.PrivateKey, error) {
	pass, err := c.passphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(c.keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", c.keystore, err)
	}
	return key, nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// submit signs payload with the keystore account and sends it at the
// account's next nonce.
func (c *cli) submit(ctx context.Context, txType types.TxType, payload interface{}) error {
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	client := c.node()
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	nonce, err := client.Nonce(ctx, key.Address())
	if err != nil {
		return err
	}
	tx, err := types.NewTransaction(new(big.Int).SetUint64(status.ChainID), txType, nonce, payload)
	if err != nil {
		return err
	}
	if err := tx.Sign(key); err != nil {
		return err
	}
	receipt, err := client.SendTransaction(ctx, tx)
	if err != nil {
		if code := rpc.ErrorOutcome(err); code != "" {
			return fmt.Errorf("%s rejected: %s", txType, code)
		}
		return err
	}
	return c.printJSON(receipt)
}

// isOutcome reports whether err is a ledger rejection carrying sentinel's code.
func isOutcome(err error, sentinel error) bool {
	code := rpc.ErrorOutcome(err)
	return code != "" && code == reward.ErrorCode(sentinel)
}

// resolveMint accepts a mint address or a registered token symbol.
func (c *cli) resolveMint(ctx context.Context, token string) (crypto.Address, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return crypto.Address{}, errors.New("--token is required")
	}
	if addr, err := crypto.ParseAddress(token); err == nil {
		return addr, nil
	}
	vault, err := c.node().Vault(ctx, token)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("resolve token %s: %w", token, err)
	}
	return crypto.ParseAddress(vault.Mint)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseOptionalAddress(flagName, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("--%s: %w", flagName, err)
	}
	return addr, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePercentages(raw string) ([]uint8, error) {
	parts := splitList(raw)
	out := make([]uint8, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid percentage %q", part)
		}
		out = append(out, uint8(value))
	}
	return out, nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}
