package config

import (
	"errors"
	"fmt"
	"os"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

// environment overrides use this prefix, e.g. RELAYER_SERVER_REDIS_HOST
const ENV_PREFIX = "relayer"

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	return decoder.Decode(cfg)
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process(ENV_PREFIX, cfg)
}

func applyDefaults(cfg *Configuration) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DEFAULT_HTTP_ADDR
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.GasLimit == 0 {
			c.GasLimit = DEFAULT_GAS_LIMIT
		}
		if c.PayoutNative == "" {
			c.PayoutNative = DEFAULT_PAYOUT_NATIVE
		}
		if c.PayoutToken == "" {
			c.PayoutToken = DEFAULT_PAYOUT_TOKEN
		}
	}
}

// Load reads the yaml file at path, then lets the environment override it
func Load(path string) (*Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := readEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading config from environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Configuration) Validate() error {
	if len(cfg.Chains) == 0 {
		return errors.New("config: no chains configured")
	}

	seen := make(map[string]bool)
	for _, c := range cfg.Chains {
		if c.Name == "" {
			return errors.New("config: chain without name")
		}
		if seen[c.Name] {
			return fmt.Errorf("config: chain %s listed twice", c.Name)
		}
		seen[c.Name] = true

		if c.NativeAsset == "" {
			return fmt.Errorf("config: chain %s has no native asset", c.Name)
		}
		if len(c.RPCList) == 0 {
			return fmt.Errorf("config: chain %s has no RPC endpoints", c.Name)
		}
		if c.Router == "" || c.Vault == "" || c.Oracle == "" {
			return fmt.Errorf("config: chain %s needs router, vault and oracle contracts", c.Name)
		}
		if c.PrivateKey == "" {
			return fmt.Errorf("config: chain %s has no private key", c.Name)
		}
		if c.Signer != "" {
			if !common.IsHexAddress(c.Signer) || ethav.Validate(common.HexToAddress(c.Signer).Hex()) != nil {
				return fmt.Errorf("config: chain %s signer %q is not a valid address", c.Name, c.Signer)
			}
		}
	}
	return nil
}
