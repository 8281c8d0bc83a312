package config

import "time"

type Configuration struct {
	// Server config
	Server struct {
		HTTPAddr  string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
		Journal   bool   `yaml:"journal" envconfig:"JOURNAL"`
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" envconfig:"LEVEL"`
		Dev   bool   `yaml:"dev" envconfig:"DEV"`
	} `yaml:"log"`
	// where bridge contract sources live and which solc to build them with
	ContractsDir string `yaml:"contracts_dir" envconfig:"CONTRACTS_DIR"`
	SolcPath     string `yaml:"solc_path" envconfig:"SOLC_PATH"`
	SolcDir      string `yaml:"solc_dir" envconfig:"SOLC_DIR"`

	Chains []ChainConfig `yaml:"chains" ignored:"true"`
}

// one bridged chain
type ChainConfig struct {
	Name        string   `yaml:"name"`
	NativeAsset string   `yaml:"native_asset"`
	ChainID     int64    `yaml:"chain_id"`
	RPCList     []string `yaml:"rpc_list"`
	// important private stuff
	PrivateKey string `yaml:"private_key"`
	Signer     string `yaml:"signer"` // derived from private key when empty

	// contract names, each compiled from <ContractsDir>/<name>.sol
	Router string `yaml:"router"`
	Vault  string `yaml:"vault"`
	Oracle string `yaml:"oracle"`
	// vault entry points for native and token payouts
	PayoutNative string `yaml:"payout_native"`
	PayoutToken  string `yaml:"payout_token"`

	RelayDelay time.Duration `yaml:"relay_delay"`
	GasLimit   uint64        `yaml:"gas_limit"`
}

// gas given to every bridge transaction unless configured
const DEFAULT_GAS_LIMIT = 300000

// maximum number of EVM RPC dial attempts per endpoint
const EVM_RETRIES = 3

// payouts are valid on the destination vault for this long
const PAYOUT_EXPIRY = 10 * time.Second

const (
	DEFAULT_HTTP_ADDR     = ":8080"
	DEFAULT_TOKEN         = "CrossToken"
	DEFAULT_PAYOUT_NATIVE = "bridgeForwards"
	DEFAULT_PAYOUT_TOKEN  = "bridgeForwardsERC20"
)
