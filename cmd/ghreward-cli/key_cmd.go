package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ghreward/crypto"
)

func (c *cli) generateKey(args []string) error {
	fs := c.flags("generate-key")
	out := fs.String("out", c.keystore, "keystore file to create")
	light := fs.Bool("light", false, "use cheap scrypt parameters (development only)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		return errors.New("--out is required")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	source := c.newPassphrase
	if source == nil {
		source = c.passphrase
	}
	pass, err := source()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	strength := crypto.StandardKeystore
	if *light {
		strength = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystore(path, key, pass, strength); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Created %s\nAddress: %s\n", path, key.Address().String())
	return nil
}

func (c *cli) address(args []string) error {
	fs := c.flags("address")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	addr := key.Address()
	return c.printJSON(map[string]string{"address": addr.String(), "hex": addr.Hex()})
}
