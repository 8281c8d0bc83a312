package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"crossrelay/config"
	"crossrelay/types"
)

var ErrForeignContract = errors.New("contract handle does not belong to this client")

// Client is a types.Ledger backed by an EVM JSON-RPC endpoint.
// Subscriptions need a websocket or IPC endpoint.
type Client struct {
	name    string
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	logger  *zap.Logger
}

// Contract is a deployed contract bound to a Client
type Contract struct {
	name    string
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
}

func (c *Contract) Name() string    { return c.name }
func (c *Contract) Address() string { return c.address.Hex() }

func dial(ctx context.Context, url string) (*ethclient.Client, error) {
	var client *ethclient.Client
	op := func() error {
		var err error
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			return err
		}
		// a dial alone does not prove the endpoint is serving
		if _, err = client.ChainID(ctx); err != nil {
			client.Close()
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), config.EVM_RETRIES), ctx)
	return client, backoff.Retry(op, policy)
}

// Dial connects to the first serving endpoint of rpcList
func Dial(ctx context.Context, name string, rpcList []string, privateKeyHex string, logger *zap.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key for %s: %w", name, err)
	}
	logger = logger.With(zap.String("component", "evmrpc"), zap.String("chain", name))

	err = errors.New("no RPC endpoints")
	for _, url := range rpcList {
		var client *ethclient.Client
		client, err = dial(ctx, url)
		if err != nil {
			logger.Warn("error connecting to RPC", zap.String("url", url), zap.Error(err))
			continue
		}
		var chainID *big.Int
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			continue
		}
		logger.Info("connected", zap.String("url", url), zap.String("chain_id", chainID.String()))
		return &Client{name: name, eth: client, chainID: chainID, key: key, logger: logger}, nil
	}
	return nil, fmt.Errorf("connecting to %s: %w", name, err)
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SignerAddress is the account transactions are sent from
func (c *Client) SignerAddress() string {
	return crypto.PubkeyToAddress(c.key.PublicKey).Hex()
}

func (c *Client) transactor(ctx context.Context, key *ecdsa.PrivateKey, gasLimit uint64) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("error instantiating transactor: %w", err)
	}
	auth.Value = big.NewInt(0)
	auth.GasLimit = gasLimit
	auth.Context = ctx
	return auth, nil
}

func (c *Client) waitReceipt(ctx context.Context, tx *ethtypes.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	return &types.Receipt{
		Status:      receipt.Status == ethtypes.ReceiptStatusSuccessful,
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (c *Client) Deploy(ctx context.Context, artifact types.Artifact, env types.EnvInfo, args ...interface{}) (types.Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(artifact.ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing abi of %s: %w", artifact.Name, err)
	}

	key := c.key
	if env.PrivateKey != "" {
		if key, err = crypto.HexToECDSA(strings.TrimPrefix(env.PrivateKey, "0x")); err != nil {
			return nil, fmt.Errorf("error instantiating private key: %w", err)
		}
	}
	auth, err := c.transactor(ctx, key, env.GasLimit)
	if err != nil {
		return nil, err
	}

	params, err := coerceArgs(parsed.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("constructor of %s: %w", artifact.Name, err)
	}

	address, tx, bound, err := bind.DeployContract(auth, parsed, common.FromHex(artifact.Bytecode), c.eth, params...)
	if err != nil {
		return nil, fmt.Errorf("deploying %s: %w", artifact.Name, err)
	}
	receipt, err := c.waitReceipt(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !receipt.Status {
		return nil, fmt.Errorf("deploy of %s reverted: tx=%s", artifact.Name, receipt.TxHash)
	}

	c.logger.Info("contract deployed", zap.String("contract", artifact.Name), zap.String("address", address.Hex()), zap.String("tx", receipt.TxHash))
	return &Contract{name: artifact.Name, address: address, abi: parsed, bound: bound}, nil
}

func (c *Client) contract(handle types.Contract) (*Contract, error) {
	ct, ok := handle.(*Contract)
	if !ok || ct == nil {
		return nil, ErrForeignContract
	}
	return ct, nil
}

// Send transacts method on contract and waits for the receipt
func (c *Client) Send(ctx context.Context, handle types.Contract, method string, opts types.CallOpts, args ...interface{}) (*types.Receipt, error) {
	ct, err := c.contract(handle)
	if err != nil {
		return nil, err
	}
	m, ok := ct.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("contract %s has no method %s", ct.name, method)
	}
	if opts.From != "" && !strings.EqualFold(opts.From, c.SignerAddress()) {
		return nil, fmt.Errorf("sender %s is not the signer %s of %s", opts.From, c.SignerAddress(), c.name)
	}

	params, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ct.name, method, err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	auth, err := c.transactor(ctx, c.key, opts.GasLimit)
	if err != nil {
		return nil, err
	}

	tx, err := ct.bound.Transact(auth, method, params...)
	if err != nil {
		return nil, fmt.Errorf("error calling %s.%s: %w", ct.name, method, err)
	}
	c.logger.Debug("transaction sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))
	return c.waitReceipt(ctx, tx)
}

// coerceArgs converts loosely typed arguments (hex strings, ints) to what the abi packer expects
func coerceArgs(inputs abi.Arguments, args []interface{}) ([]interface{}, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(args))
	}

	out := make([]interface{}, len(args))
	for i, arg := range args {
		in := inputs[i]
		switch in.Type.T {
		case abi.AddressTy:
			if s, ok := arg.(string); ok {
				if !common.IsHexAddress(s) {
					return nil, fmt.Errorf("argument %s: %q is not an address", in.Name, s)
				}
				arg = common.HexToAddress(s)
			}
		case abi.UintTy, abi.IntTy:
			if in.Type.Size <= 64 {
				break
			}
			switch v := arg.(type) {
			case int:
				arg = big.NewInt(int64(v))
			case int64:
				arg = big.NewInt(v)
			case uint64:
				arg = new(big.Int).SetUint64(v)
			case string:
				n, ok := new(big.Int).SetString(v, 0)
				if !ok {
					return nil, fmt.Errorf("argument %s: %q is not a number", in.Name, v)
				}
				arg = n
			}
		}
		out[i] = arg
	}
	return out, nil
}
