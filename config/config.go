package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"

	"ghreward/crypto"
	"ghreward/native/reward"
)

// KeystorePassphraseEnv holds the passphrase used when the node keystore is
// created or unlocked.
const KeystorePassphraseEnv = "GHR_KEYSTORE_PASSPHRASE"

var lookupEnv = os.Getenv

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	GenesisFile   string `toml:"GenesisFile"`
	KeystorePath  string `toml:"KeystorePath"`
	// ProgramID is the base58 reward program id used for address derivation.
	ProgramID   string `toml:"ProgramID"`
	ChainID     uint64 `toml:"ChainID"`
	Environment string `toml:"Environment"`
	// IndexerDSN enables the event indexer. postgres:// URLs use postgres,
	// anything else is a sqlite path.
	IndexerDSN string `toml:"IndexerDSN"`

	Logging   Logging   `toml:"logging"`
	RPC       RPC       `toml:"rpc"`
	Telemetry Telemetry `toml:"telemetry"`
	Pauses    Pauses    `toml:"pauses"`
}

// Load loads the configuration from the given path, writing a default file
// and node keystore first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./ghr-data"
	}
	if strings.TrimSpace(c.ProgramID) == "" {
		c.ProgramID = reward.DefaultProgramID.String()
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.RPC.TxPerMinute <= 0 {
		c.RPC.TxPerMinute = 60
	}
	if c.RPC.TxBurst <= 0 {
		c.RPC.TxBurst = 10
	}
}

// ProgramKey parses ProgramID.
func (c *Config) ProgramKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(c.ProgramID))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("ProgramID: %w", err)
	}
	return key, nil
}

// LoadKey unlocks the node keystore.
func (c *Config) LoadKey() (*crypto.PrivateKey, error) {
	return crypto.LoadFromKeystore(c.KeystorePath, lookupEnv(KeystorePassphraseEnv))
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.KeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, lookupEnv(KeystorePassphraseEnv), crypto.StandardKeystore); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeystorePath != keystorePath {
		cfg.KeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, lookupEnv(KeystorePassphraseEnv), crypto.StandardKeystore); err != nil {
		return nil, err
	}

	cfg := &Config{
		KeystorePath: keystorePath,
		ChainID:      1337,
		RPC:          RPC{AuthTokenEnv: "GHR_RPC_TOKEN"},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "node.keystore")
}
