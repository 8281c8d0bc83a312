package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crossrelay/EVMRPC"
	"crossrelay/compiler"
	"crossrelay/config"
	"crossrelay/redis"
	"crossrelay/registry"
	"crossrelay/types"
	"crossrelay/workers"
	"crossrelay/workers/handlers"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Deploy bridge contracts on every configured chain and relay deposits between them",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "path to the yaml config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting cross-chain relayer", zap.Int("chains", len(cfg.Chains)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var journal *redis.Journal
	if cfg.Server.Journal {
		journal = redis.New(net.JoinHostPort(cfg.Server.RedisHost, strconv.Itoa(cfg.Server.RedisPort)))
		defer journal.Close()
		// without persistence do not continue
		if err := journal.Ping(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	}

	reg := registry.New()
	relayer := workers.NewRelayer(reg, workers.NewRelayLock(), journalOrNil(journal), logger)
	dispatcher := workers.NewDispatcher(ctx, relayer, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("chain dispatch ended with error", zap.Error(err))
		}
	}()

	solc := compiler.NewSolc(cfg.SolcPath, cfg.SolcDir, logger)
	deployer := workers.NewDeployer(solc, workers.DirSources(cfg.ContractsDir), reg, dispatcher, logger)

	for _, chain := range cfg.Chains {
		client, err := EVMRPC.Dial(ctx, chain.Name, chain.RPCList, chain.PrivateKey, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		if chain.ChainID != 0 && client.ChainID().Int64() != chain.ChainID {
			return fmt.Errorf("chain %s: endpoint reports chain id %s, configured %d", chain.Name, client.ChainID(), chain.ChainID)
		}

		signer := chain.Signer
		if signer == "" {
			signer = client.SignerAddress()
		}
		env := types.EnvInfo{
			ChainID:    client.ChainID(),
			RPCAddress: chain.RPCList[0],
			Accounts:   []string{signer},
			PrivateKey: chain.PrivateKey,
			GasLimit:   chain.GasLimit,
		}

		_, err = deployer.DeployBridge(ctx, client, env, workers.BridgeConfig{
			ChainName:    chain.Name,
			NativeAsset:  chain.NativeAsset,
			Router:       chain.Router,
			Vault:        chain.Vault,
			Oracle:       chain.Oracle,
			PayoutNative: chain.PayoutNative,
			PayoutToken:  chain.PayoutToken,
			Signer:       signer,
			GasLimit:     chain.GasLimit,
			RelayDelay:   chain.RelayDelay,
		})
		if err != nil {
			return err
		}
	}

	h := &handlers.Handlers{Registry: reg, Logger: logger}
	if journal != nil {
		h.Store = journal
	}
	return workers.Worker_HTTP(ctx, cfg.Server.HTTPAddr, workers.NewRouter(h), logger)
}

// a nil *redis.Journal must not become a non-nil interface
func journalOrNil(j *redis.Journal) workers.Journal {
	if j == nil {
		return nil
	}
	return j
}
