package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"crossrelay/compiler"
	"crossrelay/config"
	"crossrelay/registry"
	"crossrelay/types"
)

var ErrDeployment = errors.New("bridge deployment failed")

// Compiler builds contract sources
type Compiler interface {
	ExtractVersion(source string) (*compiler.VersionSpec, error)
	Compile(ctx context.Context, source, declaredName, deployName string, version *compiler.VersionSpec) (*types.Artifact, error)
}

// Sources returns the solidity source of a named contract
type Sources interface {
	Source(name string) (string, error)
}

// DirSources reads <dir>/<name>.sol
type DirSources string

func (d DirSources) Source(name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(string(d), name+".sol"))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BridgeConfig selects the contracts and payout entry points of one chain
type BridgeConfig struct {
	ChainName    string
	NativeAsset  string
	Token        string // defaults to CrossToken
	Router       string
	Vault        string
	Oracle       string
	PayoutNative string
	PayoutToken  string
	Signer       string // defaults to the first environment account
	GasLimit     uint64
	RelayDelay   time.Duration
}

// BridgeHandles are the four deployed bridge contracts of a chain
type BridgeHandles struct {
	Token  types.Contract
	Oracle types.Contract
	Router types.Contract
	Vault  types.Contract
}

// Deployer deploys bridge contracts, registers chains and attaches their router events
type Deployer struct {
	compiler   Compiler
	sources    Sources
	registry   *registry.Registry
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewDeployer(c Compiler, sources Sources, reg *registry.Registry, dispatcher *Dispatcher, logger *zap.Logger) *Deployer {
	return &Deployer{
		compiler:   c,
		sources:    sources,
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "deploy")),
	}
}

func (d *Deployer) deploy(ctx context.Context, ledger types.Ledger, env types.EnvInfo, name string, args ...interface{}) (types.Contract, error) {
	source, err := d.sources.Source(name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrDeployment, name, err)
	}
	version, err := d.compiler.ExtractVersion(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeployment, name, err)
	}
	artifact, err := d.compiler.Compile(ctx, source, name, name, version)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling %s: %w", ErrDeployment, name, err)
	}
	contract, err := ledger.Deploy(ctx, *artifact, env, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: deploying %s: %w", ErrDeployment, name, err)
	}
	return contract, nil
}

// DeployBridge deploys token, oracle, router and vault in that order, then registers the chain.
// Nothing is registered unless every step succeeds.
func (d *Deployer) DeployBridge(ctx context.Context, ledger types.Ledger, env types.EnvInfo, cfg BridgeConfig) (*BridgeHandles, error) {
	logger := d.logger.With(zap.String("chain", cfg.ChainName))
	if cfg.Token == "" {
		cfg.Token = config.DEFAULT_TOKEN
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = config.DEFAULT_GAS_LIMIT
	}
	if cfg.Signer == "" && len(env.Accounts) > 0 {
		cfg.Signer = env.Accounts[0]
	}
	if _, ok := d.registry.Lookup(cfg.ChainName); ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrDeployment, registry.ErrDuplicateChain, cfg.ChainName)
	}

	var (
		h   BridgeHandles
		err error
	)
	if h.Token, err = d.deploy(ctx, ledger, env, cfg.Token); err != nil {
		return nil, err
	}
	if h.Oracle, err = d.deploy(ctx, ledger, env, cfg.Oracle, cfg.ChainName+"."+cfg.NativeAsset); err != nil {
		return nil, err
	}
	if h.Router, err = d.deploy(ctx, ledger, env, cfg.Router, h.Token.Address()); err != nil {
		return nil, err
	}
	if h.Vault, err = d.deploy(ctx, ledger, env, cfg.Vault, h.Router.Address(), h.Oracle.Address()); err != nil {
		return nil, err
	}

	stream, err := ledger.SubscribeAllEvents(ctx, h.Router)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribing to %s events: %w", ErrDeployment, cfg.Router, err)
	}

	desc := &registry.ChainDescriptor{
		Name:         cfg.ChainName,
		Ledger:       ledger,
		NativeAsset:  cfg.NativeAsset,
		Signer:       cfg.Signer,
		Vault:        h.Vault,
		RelayDelay:   cfg.RelayDelay,
		PayoutNative: bindPayout(ledger, h.Vault, cfg.PayoutNative, types.AssetNative, types.CallOpts{From: cfg.Signer, GasLimit: cfg.GasLimit}),
		PayoutToken:  bindPayout(ledger, h.Vault, cfg.PayoutToken, types.AssetToken, types.CallOpts{From: cfg.Signer, GasLimit: cfg.GasLimit}),
	}
	if err := d.registry.Register(desc); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeployment, err)
	}
	chainsDeployed.Inc()

	d.dispatcher.Attach(cfg.ChainName, stream)
	logger.Info("bridge deployed",
		zap.String("token", h.Token.Address()),
		zap.String("oracle", h.Oracle.Address()),
		zap.String("router", h.Router.Address()),
		zap.String("vault", h.Vault.Address()),
		zap.Duration("relay_delay", cfg.RelayDelay))
	return &h, nil
}

// bindPayout fixes the vault entry point serving one asset kind.
// The token entry point takes the asset label in addition to the native arguments.
func bindPayout(ledger types.Ledger, vault types.Contract, method string, kind types.AssetKind, opts types.CallOpts) registry.PayoutFunc {
	if method == "" {
		return nil
	}
	return func(ctx context.Context, p registry.Payout) (*types.Receipt, error) {
		if kind == types.AssetNative {
			return ledger.Send(ctx, vault, method, opts, p.DestAddress, p.TargetAsset, p.Amount, p.SourceAsset, p.Memo, p.Expiry)
		}
		return ledger.Send(ctx, vault, method, opts, p.DestAddress, p.TargetAsset, p.Amount, p.SourceAsset, p.AssetLabel, p.Memo, p.Expiry)
	}
}
