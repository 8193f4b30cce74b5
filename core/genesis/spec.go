package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"ghreward/crypto"
)

// Spec describes the initial ledger state.
type Spec struct {
	GenesisTime string                       `json:"genesisTime"`
	ChainID     uint64                       `json:"chainId"`
	Tokens      []TokenSpec                  `json:"tokens"`
	Alloc       map[string]map[string]string `json:"alloc"` // addr -> symbol -> amount
	Reward      *RewardSpec                  `json:"reward,omitempty"`

	genesisTimestamp time.Time
}

type TokenSpec struct {
	Mint          string `json:"mint"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Decimals      uint8  `json:"decimals"`
	MintAuthority string `json:"mintAuthority,omitempty"`
}

// RewardSpec pre-initializes the reward program at genesis.
type RewardSpec struct {
	Owner               string `json:"owner"`
	AuthorizationSigner string `json:"authorizationSigner"`
	PrivilegedAccount   string `json:"privilegedAccount"`
}

func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseSpec decodes and validates a JSON genesis document.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *Spec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *Spec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts
	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be set")
	}
	symbols := make(map[string]struct{}, len(s.Tokens))
	for i, token := range s.Tokens {
		if _, err := crypto.ParseAddress(token.Mint); err != nil {
			return fmt.Errorf("tokens[%d].mint: %w", i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("tokens[%d]: symbol required", i)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("tokens[%d]: duplicate symbol %s", i, symbol)
		}
		symbols[symbol] = struct{}{}
		if token.MintAuthority != "" {
			if _, err := crypto.ParseAddress(token.MintAuthority); err != nil {
				return fmt.Errorf("tokens[%d].mintAuthority: %w", i, err)
			}
		}
	}
	for addr, balances := range s.Alloc {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("alloc[%q]: %w", addr, err)
		}
		for symbol, amount := range balances {
			if _, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]; !ok {
				return fmt.Errorf("alloc[%q]: unknown token %q", addr, symbol)
			}
			if _, err := parseAmountString(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addr, symbol, err)
			}
		}
	}
	if s.Reward != nil {
		for name, value := range map[string]string{
			"owner":               s.Reward.Owner,
			"authorizationSigner": s.Reward.AuthorizationSigner,
			"privilegedAccount":   s.Reward.PrivilegedAccount,
		} {
			if _, err := crypto.ParseAddress(value); err != nil {
				return fmt.Errorf("reward.%s: %w", name, err)
			}
		}
	}
	return nil
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return ts.UTC(), nil
}

func parseAmountString(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}
