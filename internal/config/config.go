package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRPCURL          = "http://localhost:8545"
	DefaultTokenAddress    = "0xe1Aa25618fA0c7A1CFDab5d6B456af611873b629"
	DefaultFactoryAddress  = "0xe1DA8919f262Ee86f9BE05059C9280142CF23f48"
	DefaultPassphraseEnv   = "CHESS_KEYSTORE_PASSPHRASE"
	DefaultPrivateKeyEnv   = "CHESS_PRIVATE_KEY"
	FeeModeLegacy          = "legacy"
	FeeModeDynamic         = "dynamic"
	envRPCURL              = "WEB3_PROVIDER_URI"
	envTokenAddress        = "CHESS_TOKEN_ADDRESS"
	envFactoryAddress      = "CHESS_FACTORY_ADDRESS"
	defaultJournalFileName = "journal.json"
	maxRetries             = 20
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

// Config is built once at startup, command-line overrides included, and
// handed to constructors. Nothing mutates it after that.
type Config struct {
	// ChainID of zero means the id is queried from the node.
	ChainID uint64 `yaml:"chain_id"`

	RPC struct {
		HTTP           string   `yaml:"http"`
		RequestTimeout Duration `yaml:"request_timeout"`
		RetryMax       int      `yaml:"retry_max"`
		RetryBackoff   Duration `yaml:"retry_backoff"`
	} `yaml:"rpc"`

	Contracts struct {
		Token   string `yaml:"token"`
		Factory string `yaml:"factory"`
	} `yaml:"contracts"`

	// ABI paths are optional; the bundled interface descriptions are used
	// for any path left empty.
	ABI struct {
		Token   string `yaml:"token"`
		Factory string `yaml:"factory"`
		Game    string `yaml:"game"`
	} `yaml:"abi"`

	Tx struct {
		FeeMode             string   `yaml:"fee_mode"`
		GasLimitMultiplier  float64  `yaml:"gas_limit_multiplier"`
		MaxFeeMultiplier    float64  `yaml:"max_fee_multiplier"`
		MinPriorityFeeGwei  float64  `yaml:"min_priority_fee_gwei"`
		ConfirmPollInterval Duration `yaml:"confirm_poll_interval"`
		ConfirmTimeout      Duration `yaml:"confirm_timeout"`
		ConfirmRetryMax     int      `yaml:"confirm_retry_max"`
	} `yaml:"tx"`

	KeyStore struct {
		PrivateKeyEnv string `yaml:"private_key_env"`
		PassphraseEnv string `yaml:"passphrase_env"`
	} `yaml:"keystore"`

	API struct {
		Listen    string `yaml:"listen"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"api"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads the YAML file at path. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envRPCURL)); v != "" && c.RPC.HTTP == "" {
		c.RPC.HTTP = v
	}
	if v := strings.TrimSpace(os.Getenv(envTokenAddress)); v != "" && c.Contracts.Token == "" {
		c.Contracts.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(envFactoryAddress)); v != "" && c.Contracts.Factory == "" {
		c.Contracts.Factory = v
	}
}

func (c *Config) applyDefaults() {
	if c.RPC.HTTP == "" {
		c.RPC.HTTP = DefaultRPCURL
	}
	if c.RPC.RequestTimeout.Duration == 0 {
		c.RPC.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.RPC.RetryMax == 0 {
		c.RPC.RetryMax = 3
	}
	if c.RPC.RetryBackoff.Duration == 0 {
		c.RPC.RetryBackoff = Duration{Duration: 500 * time.Millisecond}
	}
	if c.Contracts.Token == "" {
		c.Contracts.Token = DefaultTokenAddress
	}
	if c.Contracts.Factory == "" {
		c.Contracts.Factory = DefaultFactoryAddress
	}
	if c.Tx.FeeMode == "" {
		c.Tx.FeeMode = FeeModeLegacy
	}
	c.Tx.FeeMode = strings.ToLower(c.Tx.FeeMode)
	if c.Tx.GasLimitMultiplier == 0 {
		c.Tx.GasLimitMultiplier = 1.2
	}
	if c.Tx.MaxFeeMultiplier == 0 {
		c.Tx.MaxFeeMultiplier = 2.0
	}
	if c.Tx.ConfirmPollInterval.Duration == 0 {
		c.Tx.ConfirmPollInterval = Duration{Duration: time.Second}
	}
	if c.Tx.ConfirmTimeout.Duration == 0 {
		c.Tx.ConfirmTimeout = Duration{Duration: 120 * time.Second}
	}
	if c.Tx.ConfirmRetryMax == 0 {
		c.Tx.ConfirmRetryMax = 3
	}
	if c.KeyStore.PrivateKeyEnv == "" {
		c.KeyStore.PrivateKeyEnv = DefaultPrivateKeyEnv
	}
	if c.KeyStore.PassphraseEnv == "" {
		c.KeyStore.PassphraseEnv = DefaultPassphraseEnv
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join("data", defaultJournalFileName)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if !common.IsHexAddress(c.Contracts.Token) {
		return fmt.Errorf("contracts.token %q is not a hex address", c.Contracts.Token)
	}
	if !common.IsHexAddress(c.Contracts.Factory) {
		return fmt.Errorf("contracts.factory %q is not a hex address", c.Contracts.Factory)
	}
	switch c.Tx.FeeMode {
	case FeeModeLegacy, FeeModeDynamic:
	default:
		return fmt.Errorf("tx.fee_mode must be %q or %q", FeeModeLegacy, FeeModeDynamic)
	}
	if c.RPC.RetryMax < 0 || c.RPC.RetryMax > maxRetries {
		return fmt.Errorf("rpc.retry_max must be between 0 and %d", maxRetries)
	}
	if c.Tx.ConfirmRetryMax < 0 || c.Tx.ConfirmRetryMax > maxRetries {
		return fmt.Errorf("tx.confirm_retry_max must be between 0 and %d", maxRetries)
	}
	if c.Tx.GasLimitMultiplier < 1 {
		return fmt.Errorf("tx.gas_limit_multiplier must be >= 1")
	}
	if c.Tx.MinPriorityFeeGwei < 0 {
		return fmt.Errorf("tx.min_priority_fee_gwei must be non-negative")
	}
	if c.Tx.ConfirmTimeout.Duration < 0 || c.Tx.ConfirmPollInterval.Duration < 0 {
		return fmt.Errorf("tx confirm durations must be non-negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Contracts.Token)
}

func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Contracts.Factory)
}
