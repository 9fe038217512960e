// Package config loads the settlement run configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix is prepended to every environment variable, e.g. SETTLE_NODE_HOST.
const Prefix = "SETTLE"

// Config is the full configuration of one settlement run.
type Config struct {
	Node NodeConfig `json:"node"`
	Run  RunConfig  `json:"run"`
	Log  LogConfig  `json:"log"`
}

// NodeConfig holds the node RPC endpoint and credentials.
type NodeConfig struct {
	Host    string `split_words:"true" default:"127.0.0.1:18443" json:"host"`
	User    string `split_words:"true" default:"alice" json:"user"`
	Pass    string `split_words:"true" default:"password" json:"-"`
	Network string `split_words:"true" default:"regtest" json:"network"`
}

// RunConfig holds the scenario parameters.
type RunConfig struct {
	MinerWallet    string  `split_words:"true" default:"Miner" json:"miner_wallet"`
	TraderWallet   string  `split_words:"true" default:"Trader" json:"trader_wallet"`
	MaturityBlocks int64   `split_words:"true" default:"101" json:"maturity_blocks"`
	MinAmount      float64 `split_words:"true" default:"20" json:"min_amount"`
	TransferAmount float64 `split_words:"true" default:"20" json:"transfer_amount"`
	// Tolerance is the allowed amount conservation mismatch in satoshis.
	Tolerance  int64  `split_words:"true" default:"0" json:"tolerance"`
	OutputPath string `split_words:"true" default:"out.txt" json:"output_path"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `split_words:"true" default:"info" json:"level"`
	JSON  bool   `split_words:"true" default:"false" json:"json"`
}

// Load reads the configuration from the environment. When envFile is set it
// must exist; otherwise a .env in the working directory is used if present.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", envFile)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values envconfig cannot check by itself.
func (c *Config) Validate() error {
	if _, err := NetParams(c.Node.Network); err != nil {
		return err
	}
	if c.Run.MinerWallet == "" || c.Run.TraderWallet == "" {
		return errors.New("wallet names must not be empty")
	}
	if c.Run.MinerWallet == c.Run.TraderWallet {
		return errors.Errorf("miner and trader wallet must differ, both are %q", c.Run.MinerWallet)
	}
	if c.Run.MaturityBlocks <= 0 {
		return errors.Errorf("maturity blocks must be positive, got %d", c.Run.MaturityBlocks)
	}
	if c.Run.MinAmount <= 0 || c.Run.TransferAmount <= 0 {
		return errors.New("min and transfer amounts must be positive")
	}
	if c.Run.Tolerance < 0 {
		return errors.Errorf("tolerance must not be negative, got %d", c.Run.Tolerance)
	}
	if c.Run.OutputPath == "" {
		return errors.New("output path must not be empty")
	}

	return nil
}

// MinAmountSat returns the funding threshold in satoshis.
func (r RunConfig) MinAmountSat() (btcutil.Amount, error) {
	a, err := btcutil.NewAmount(r.MinAmount)
	return a, errors.Wrap(err, "min amount")
}

// TransferAmountSat returns the settlement amount in satoshis.
func (r RunConfig) TransferAmountSat() (btcutil.Amount, error) {
	a, err := btcutil.NewAmount(r.TransferAmount)
	return a, errors.Wrap(err, "transfer amount")
}

// NetParams maps a network name as reported by getblockchaininfo to its
// chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "main", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "test", "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", network)
	}
}
