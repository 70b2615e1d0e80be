package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/sdk/logical"
)

const (
	WalletsPrefix = "wallets/"
	activeKey     = "active_account"
)

// Keystore keeps Ethereum keys in Vault storage and acts as the wallet
// provider: it hands out accounts, signs transactions and announces
// account changes.
type Keystore struct {
	storage logical.Storage
	logger  hclog.Logger

	// serialises read-modify-write of the active pointer
	mu   sync.Mutex
	feed event.Feed
}

func NewKeystore(storage logical.Storage, logger hclog.Logger) *Keystore {
	return &Keystore{storage: storage, logger: logger}
}

// Create generates a new account. The first account created becomes active.
func (k *Keystore) Create(ctx context.Context) (*Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	wallet := &Wallet{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey))[2:],
	}

	entry, err := logical.StorageEntryJSON(WalletsPrefix+wallet.Address, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage entry for wallet: %w", err)
	}

	changed, err := k.update(func() (bool, error) {
		if err := k.storage.Put(ctx, entry); err != nil {
			return false, fmt.Errorf("failed to save wallet: %w", err)
		}
		active, err := k.active(ctx)
		if err != nil || active != (common.Address{}) {
			return false, err
		}
		return true, k.setActive(ctx, common.HexToAddress(wallet.Address))
	})
	if err != nil {
		return nil, err
	}
	k.publish(ctx, changed)
	return wallet, nil
}

// List returns the addresses of all stored wallets.
func (k *Keystore) List(ctx context.Context) ([]string, error) {
	return k.storage.List(ctx, WalletsPrefix)
}

// Delete removes a wallet. Removing the active one promotes the next
// account, if any, and announces the change.
func (k *Keystore) Delete(ctx context.Context, address common.Address) error {
	changed, err := k.update(func() (bool, error) {
		if _, err := k.load(ctx, address); err != nil {
			return false, err
		}
		if err := k.storage.Delete(ctx, WalletsPrefix+address.Hex()); err != nil {
			return false, fmt.Errorf("failed to delete wallet: %w", err)
		}
		active, err := k.active(ctx)
		if err != nil || active != address {
			return false, err
		}
		accounts, err := k.accounts(ctx, common.Address{})
		if err != nil {
			return false, err
		}
		next := common.Address{}
		if len(accounts) > 0 {
			next = accounts[0]
		}
		return true, k.setActive(ctx, next)
	})
	if err != nil {
		return err
	}
	k.publish(ctx, changed)
	return nil
}

// SetActive selects the account returned first by RequestAccounts.
func (k *Keystore) SetActive(ctx context.Context, address common.Address) error {
	changed, err := k.update(func() (bool, error) {
		if _, err := k.load(ctx, address); err != nil {
			return false, err
		}
		active, err := k.active(ctx)
		if err != nil || active == address {
			return false, err
		}
		return true, k.setActive(ctx, address)
	})
	if err != nil {
		return err
	}
	k.publish(ctx, changed)
	return nil
}

// Active returns the active account, or the zero address if there is none.
func (k *Keystore) Active(ctx context.Context) (common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active(ctx)
}

// RequestAccounts returns every account, the active one first.
func (k *Keystore) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	active, err := k.active(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := k.accounts(ctx, active)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return accounts, nil
}

func (k *Keystore) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	wallet, err := k.load(ctx, account)
	if err != nil {
		return nil, err
	}
	privateKey, err := crypto.HexToECDSA(wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// SubscribeAccounts delivers an AccountsEvent on ch whenever the active
// account changes or the last account goes away. Adding a wallet next to an
// active one is not announced.
func (k *Keystore) SubscribeAccounts(ch chan<- AccountsEvent) event.Subscription {
	return k.feed.Subscribe(ch)
}

func (k *Keystore) load(ctx context.Context, address common.Address) (*Wallet, error) {
	entry, err := k.storage.Get(ctx, WalletsPrefix+address.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, address.Hex())
	}
	var wallet Wallet
	if err := entry.DecodeJSON(&wallet); err != nil {
		return nil, fmt.Errorf("failed to decode wallet: %w", err)
	}
	return &wallet, nil
}

func (k *Keystore) active(ctx context.Context) (common.Address, error) {
	entry, err := k.storage.Get(ctx, activeKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read active account: %w", err)
	}
	if entry == nil {
		return common.Address{}, nil
	}
	return common.BytesToAddress(entry.Value), nil
}

func (k *Keystore) setActive(ctx context.Context, address common.Address) error {
	if address == (common.Address{}) {
		return k.storage.Delete(ctx, activeKey)
	}
	return k.storage.Put(ctx, &logical.StorageEntry{Key: activeKey, Value: address.Bytes()})
}

// accounts lists stored accounts sorted by address with first moved to the
// front when it is present.
func (k *Keystore) accounts(ctx context.Context, first common.Address) ([]common.Address, error) {
	keys, err := k.storage.List(ctx, WalletsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	sort.Strings(keys)

	accounts := make([]common.Address, 0, len(keys))
	for _, key := range keys {
		addr := common.HexToAddress(key)
		if addr == first {
			accounts = append([]common.Address{addr}, accounts...)
			continue
		}
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

// update runs fn under the keystore lock. fn reports whether the account
// list or the active account changed.
func (k *Keystore) update(fn func() (bool, error)) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return fn()
}

// publish announces the current account list when changed is set. Send
// blocks until every subscriber has taken the event, so it runs outside the
// lock and subscribers must keep draining their channel. The change itself is
// already stored, so a failed read only skips the announcement.
func (k *Keystore) publish(ctx context.Context, changed bool) {
	if !changed {
		return
	}
	accounts, err := k.RequestAccounts(ctx)
	if err != nil && !errors.Is(err, ErrNoAccounts) {
		k.logger.Warn("Failed to announce account change", "error", err)
		return
	}
	k.feed.Send(AccountsEvent{Accounts: accounts})
}
