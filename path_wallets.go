package vaultbank

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/igwedaniel/vaultbank/internal/wallet"
)

const addressRegex = `(?P<address>0x[0-9a-fA-F]{40})`

func walletsPaths(b *pluginBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern:      "wallets/?$",
			HelpSynopsis: "List all the wallets maintained by the plugin backend and create new ones.",
			HelpDescription: `

    LIST - list all wallets
    POST - create a new Ethereum account. The first account becomes active.

`,
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.ListOperation:   b.listWallets,
				logical.UpdateOperation: b.pathWalletsCreate,
			},
		},
		{
			Pattern:      "wallets/active$",
			HelpSynopsis: "Show or switch the active wallet account.",
			HelpDescription: `

    READ - the account used for bank operations
    POST - switch to another stored account; a connected session follows the switch

`,
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Description: "Address of a stored wallet.",
				},
			},
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.ReadOperation:   b.pathActiveRead,
				logical.UpdateOperation: b.pathActiveWrite,
			},
		},
		{
			Pattern:      "wallets/" + addressRegex,
			HelpSynopsis: "Remove a wallet.",
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Required:    true,
					Description: "Address of the wallet to remove.",
				},
			},
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.DeleteOperation: b.pathWalletDelete,
			},
		},
	}
}

func (b *pluginBackend) listWallets(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	vals, err := b.keystore.List(ctx)
	if err != nil {
		b.Logger().Error("Failed to retrieve the list of wallets", "error", err)
		return nil, err
	}

	return logical.ListResponse(vals), nil
}

func (b *pluginBackend) pathWalletsCreate(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	w, err := b.keystore.Create(ctx)
	if err != nil {
		b.Logger().Error("Failed to create wallet", "error", err)
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"address": w.Address,
		},
	}, nil
}

func (b *pluginBackend) pathActiveRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	active, err := b.keystore.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active == (common.Address{}) {
		return nil, nil
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"address": active.Hex(),
		},
	}, nil
}

func (b *pluginBackend) pathActiveWrite(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	address := d.Get("address").(string)
	if !common.IsHexAddress(address) {
		return logical.ErrorResponse("invalid address: %q", address), nil
	}

	err := b.keystore.SetActive(ctx, common.HexToAddress(address))
	if errors.Is(err, wallet.ErrUnknownAccount) {
		return nil, logical.CodedError(http.StatusNotFound, fmt.Sprintf("no wallet found for address: %s", address))
	}
	if err != nil {
		b.Logger().Error("Failed to switch active wallet", "address", address, "error", err)
		return nil, err
	}
	return b.pathActiveRead(ctx, req, d)
}

func (b *pluginBackend) pathWalletDelete(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	address := d.Get("address").(string)

	err := b.keystore.Delete(ctx, common.HexToAddress(address))
	if errors.Is(err, wallet.ErrUnknownAccount) {
		return nil, nil
	}
	if err != nil {
		b.Logger().Error("Failed to delete wallet", "address", address, "error", err)
		return nil, err
	}
	return nil, nil
}
