package vaultbank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/igwedaniel/vaultbank/internal/bank"
	"github.com/igwedaniel/vaultbank/internal/session"
	"github.com/igwedaniel/vaultbank/internal/wallet"
)

func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	b := backend()
	if err := b.Setup(ctx, conf); err != nil {
		return nil, err
	}
	b.keystore = wallet.NewKeystore(conf.StorageView, b.Logger().Named("keystore"))
	return b, nil
}

// dialFunc connects to the chain named in the config.
type dialFunc func(ctx context.Context, cfg *bankConfig) (bank.Backend, func(), error)

type pluginBackend struct {
	*framework.Backend

	keystore *wallet.Keystore
	dial     dialFunc

	lock    sync.Mutex
	session *session.Coordinator
	close   func()
	stop    context.CancelFunc
}

// backend defines the target API backend
// for Vault. It must include each path
// and the secrets it will store.
func backend() *pluginBackend {
	var b = pluginBackend{dial: dialRPC}

	b.Backend = &framework.Backend{
		Help: backendHelp,
		PathsSpecial: &logical.Paths{
			SealWrapStorage: []string{
				wallet.WalletsPrefix,
			},
		},
		Paths: framework.PathAppend(
			pathConfig(&b),
			walletsPaths(&b),
			pathBank(&b),
		),
		Secrets:     []*framework.Secret{},
		BackendType: logical.TypeLogical,
		Invalidate:  b.invalidate,
		Clean:       b.clean,
	}
	return &b
}

// getSession returns the live session, opening one on first use. Opening a
// session connects to the chain and runs the mount refresh. Without a
// config the session has no wallet provider.
func (b *pluginBackend) getSession(ctx context.Context, s logical.Storage) (*session.Coordinator, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.session != nil {
		return b.session, nil
	}

	cfg, err := getConfig(ctx, s)
	if err != nil {
		return nil, err
	}

	logger := b.Logger().Named("session")
	if cfg == nil {
		b.session = session.New(logger, nil, nil)
		return b.session, nil
	}

	client, closeFn, err := b.dial(ctx, cfg)
	if err != nil {
		b.Logger().Error("Failed to connect to the chain", "rpc_url", cfg.RPCURL, "error", err)
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = queryChainID(ctx, client); err != nil {
			closeFn()
			return nil, err
		}
	}

	gateway := bank.NewGateway(common.HexToAddress(cfg.ContractAddress), client, b.keystore, chainID, b.Logger().Named("gateway"))
	coordinator := session.New(logger, b.keystore, gateway)

	watchCtx, stop := context.WithCancel(context.Background())
	go func() {
		if err := coordinator.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			logger.Error("Stopped following wallet accounts", "error", err)
		}
	}()

	b.session = coordinator
	b.close = closeFn
	b.stop = stop

	if err := coordinator.Start(ctx); err != nil {
		logger.Warn("Session started without a connected wallet", "error", err)
	}
	return coordinator, nil
}

// reset drops the session so the next request opens a fresh one.
func (b *pluginBackend) reset() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.stop != nil {
		b.stop()
	}
	if b.close != nil {
		b.close()
	}
	b.session, b.close, b.stop = nil, nil, nil
}

func (b *pluginBackend) invalidate(ctx context.Context, key string) {
	if key == configPath {
		b.reset()
	}
}

func (b *pluginBackend) clean(ctx context.Context) {
	b.reset()
}

func dialRPC(ctx context.Context, cfg *bankConfig) (bank.Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

func queryChainID(ctx context.Context, client bank.Backend) (*big.Int, error) {
	r, ok := client.(chainIDReader)
	if !ok {
		return nil, fmt.Errorf("chain_id is not configured and the backend cannot report it")
	}
	chainID, err := r.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	return chainID, nil
}

const backendHelp = `
The bank backend holds Ethereum wallets and drives a deployed bank contract:
read its name, owner and your balance, deposit and withdraw ether, and rename
the bank if the active wallet owns it.

Configure the chain with "config", create a wallet under "wallets/", then
"connect" and use the "bank" paths.
`
