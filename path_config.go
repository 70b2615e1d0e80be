package vaultbank

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
)

const configPath = "config"

type bankConfig struct {
	RPCURL          string `json:"rpc_url"`
	ContractAddress string `json:"contract_address"`
	ChainID         uint64 `json:"chain_id"`
}

func pathConfig(b *pluginBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern:      configPath,
			HelpSynopsis: "Configure the chain and the bank contract the plugin talks to.",
			HelpDescription: `

    READ   - show the current configuration
    POST   - set the RPC endpoint, contract address and chain id
    DELETE - remove the configuration; the wallet provider becomes unavailable

Changing the configuration starts a new session.
`,
			Fields: map[string]*framework.FieldSchema{
				"rpc_url": {
					Type:        framework.TypeString,
					Description: "JSON-RPC endpoint of an Ethereum node (http, https, ws or wss).",
				},
				"contract_address": {
					Type:        framework.TypeString,
					Description: "Address of the deployed bank contract.",
				},
				"chain_id": {
					Type:        framework.TypeInt,
					Default:     0,
					Description: "Chain id used for signing. 0 asks the node.",
				},
			},

			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.ReadOperation:   b.pathConfigRead,
				logical.UpdateOperation: b.pathConfigWrite,
				logical.DeleteOperation: b.pathConfigDelete,
			},
		},
	}
}

func getConfig(ctx context.Context, s logical.Storage) (*bankConfig, error) {
	entry, err := s.Get(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	var cfg bankConfig
	if err := entry.DecodeJSON(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (b *pluginBackend) pathConfigRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	cfg, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"rpc_url":          cfg.RPCURL,
			"contract_address": cfg.ContractAddress,
			"chain_id":         cfg.ChainID,
		},
	}, nil
}

func (b *pluginBackend) pathConfigWrite(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	cfg, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &bankConfig{}
	}

	if v, ok := d.GetOk("rpc_url"); ok {
		cfg.RPCURL = v.(string)
	}
	if v, ok := d.GetOk("contract_address"); ok {
		cfg.ContractAddress = v.(string)
	}
	if v, ok := d.GetOk("chain_id"); ok {
		chainID := v.(int)
		if chainID < 0 {
			return logical.ErrorResponse("chain_id must not be negative"), nil
		}
		cfg.ChainID = uint64(chainID)
	}

	if cfg.RPCURL == "" {
		return logical.ErrorResponse("rpc_url is required"), nil
	}
	u, err := url.Parse(cfg.RPCURL)
	if err != nil || u.Scheme == "" {
		return logical.ErrorResponse("rpc_url must be an absolute URL"), nil
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return logical.ErrorResponse("invalid contract address: %q", cfg.ContractAddress), nil
	}
	cfg.ContractAddress = common.HexToAddress(cfg.ContractAddress).Hex()

	entry, err := logical.StorageEntryJSON(configPath, cfg)
	if err != nil {
		return nil, err
	}
	if err := req.Storage.Put(ctx, entry); err != nil {
		b.Logger().Error("Failed to save config", "error", err)
		return nil, err
	}
	b.reset()
	return nil, nil
}

func (b *pluginBackend) pathConfigDelete(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	if err := req.Storage.Delete(ctx, configPath); err != nil {
		b.Logger().Error("Failed to delete config", "error", err)
		return nil, err
	}
	b.reset()
	return nil, nil
}
