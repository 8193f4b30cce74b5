package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"ghreward/crypto"
	"ghreward/indexer"
	"ghreward/native/reward"
)

func (c *cli) balance(args []string) error {
	fs := c.flags("balance")
	addr := fs.String("address", "", "account to query (defaults to the keystore account)")
	token := fs.String("token", "", "mint address or token symbol")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("--token is required")
	}
	holder, err := c.accountOrSelf(*addr)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	result, err := c.node().Balance(ctx, holder, *token)
	if err != nil {
		return err
	}
	return c.printJSON(result)
}

func (c *cli) issue(args []string) error {
	fs := c.flags("issue")
	repo := fs.String("repo", "", "repository as owner/name")
	id := fs.Uint64("issue", 0, "issue number")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	result, err := c.node().Issue(ctx, strings.TrimSpace(*repo), *id)
	if err != nil {
		return err
	}
	return c.printJSON(result)
}

func (c *cli) state(args []string) error {
	fs := c.flags("state")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	status, err := c.node().Status(ctx)
	if err != nil {
		return err
	}
	out := map[string]interface{}{"node": status}
	program, err := c.node().ProgramState(ctx)
	switch {
	case err == nil:
		out["program"] = program
	case isOutcome(err, reward.ErrNotInitialized):
		out["program"] = nil
	default:
		return err
	}
	return c.printJSON(out)
}

func (c *cli) vault(args []string) error {
	fs := c.flags("vault")
	token := fs.String("token", "", "mint address or token symbol")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("--token is required")
	}
	ctx, cancel := withTimeout()
	defer cancel()
	result, err := c.node().Vault(ctx, *token)
	if err != nil {
		return err
	}
	return c.printJSON(result)
}

func (c *cli) claims(args []string) error {
	fs := c.flags("claims")
	repo := fs.String("repo", "", "repository as owner/name (empty lists every claim)")
	id := fs.Uint64("issue", 0, "issue number (omit to list every issue)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	var issue *uint64
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "issue" {
			issue = id
		}
	})
	ctx, cancel := withTimeout()
	defer cancel()
	result, err := c.node().ListClaims(ctx, strings.TrimSpace(*repo), issue)
	if err != nil {
		return err
	}
	return c.printJSON(result)
}

// exportPayouts reads the indexer database directly; the node does not need
// to be running.
func (c *cli) exportPayouts(args []string) error {
	fs := c.flags("export-payouts")
	dsn := fs.String("dsn", "", "indexer database (sqlite path or postgres:// URL)")
	out := fs.String("out", "payouts.parquet", "parquet file to write")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		return errors.New("--dsn is required")
	}
	db, err := indexer.Open(*dsn)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	idx, err := indexer.New(db, slog.New(slog.NewTextHandler(c.stderr, nil)))
	if err != nil {
		return err
	}
	rows, err := idx.ExportPayoutsParquet(context.Background(), *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Exported %d payouts to %s\n", rows, *out)
	return nil
}

func (c *cli) accountOrSelf(raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) != "" {
		return crypto.ParseAddress(raw)
	}
	key, err := c.loadKey()
	if err != nil {
		return crypto.Address{}, err
	}
	return key.Address(), nil
}
