package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("ListenAddress: %w", err))
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		errs = append(errs, errors.New("DataDir must be set"))
	}
	if _, err := cfg.ProgramKey(); err != nil {
		errs = append(errs, err)
	}
	if cfg.ChainID == 0 && strings.TrimSpace(cfg.GenesisFile) == "" {
		errs = append(errs, errors.New("ChainID or GenesisFile must be set"))
	}
	if cfg.RPC.TxPerMinute < 0 || cfg.RPC.TxBurst < 0 {
		errs = append(errs, errors.New("rpc: rate limits must not be negative"))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry: SampleRatio %v outside [0,1]", r))
	}
	return errors.Join(errs...)
}
