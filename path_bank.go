package vaultbank

import (
	"context"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/igwedaniel/vaultbank/internal/outcome"
	"github.com/igwedaniel/vaultbank/internal/session"
)

func pathBank(b *pluginBackend) []*framework.Path {
	amountField := map[string]*framework.FieldSchema{
		"amount": {
			Type:        framework.TypeString,
			Required:    true,
			Description: "Amount in ether, e.g. 0.0001.",
		},
	}

	return []*framework.Path{
		{
			Pattern:      "connect$",
			HelpSynopsis: "Connect the active wallet account to the bank.",
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.UpdateOperation: b.pathConnect,
			},
		},
		{
			Pattern:      "bank$",
			HelpSynopsis: "Show the bank name, owner, and the connected account with its balance.",
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.ReadOperation: b.pathBankRead,
			},
		},
		{
			Pattern:      "bank/refresh$",
			HelpSynopsis: "Fetch bank name, owner and balance from the contract again.",
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.UpdateOperation: b.pathBankRefresh,
			},
		},
		{
			Pattern:      "bank/name$",
			HelpSynopsis: "Set a new name for the bank. Only the bank owner can do this.",
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeString,
					Required:    true,
					Description: "New bank name, 2 to 31 bytes.",
				},
			},
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.UpdateOperation: b.pathBankRename,
			},
		},
		{
			Pattern:      "bank/deposit$",
			HelpSynopsis: "Deposit ether into the bank from the active account.",
			Fields:       amountField,
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.UpdateOperation: b.pathBankDeposit,
			},
		},
		{
			Pattern:      "bank/withdraw$",
			HelpSynopsis: "Withdraw ether from the bank to the active account.",
			Fields:       amountField,
			Callbacks: map[logical.Operation]framework.OperationFunc{
				logical.UpdateOperation: b.pathBankWithdraw,
			},
		},
	}
}

func (b *pluginBackend) pathConnect(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	return b.run(ctx, req, func(c *session.Coordinator) error {
		return c.Connect(ctx)
	})
}

func (b *pluginBackend) pathBankRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	c, err := b.getSession(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: stateData(c.State())}, nil
}

func (b *pluginBackend) pathBankRefresh(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	return b.run(ctx, req, func(c *session.Coordinator) error {
		return c.Refresh(ctx)
	})
}

func (b *pluginBackend) pathBankRename(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	name := d.Get("name").(string)
	return b.run(ctx, req, func(c *session.Coordinator) error {
		return c.Rename(ctx, name)
	})
}

func (b *pluginBackend) pathBankDeposit(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	amount := d.Get("amount").(string)
	return b.run(ctx, req, func(c *session.Coordinator) error {
		return c.Deposit(ctx, amount)
	})
}

func (b *pluginBackend) pathBankWithdraw(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	amount := d.Get("amount").(string)
	return b.run(ctx, req, func(c *session.Coordinator) error {
		return c.Withdraw(ctx, amount)
	})
}

// run executes op against the session. Precondition failures become error
// responses carrying the user notification; remote failures are reported as
// an outcome next to the unchanged state.
func (b *pluginBackend) run(ctx context.Context, req *logical.Request, op func(c *session.Coordinator) error) (*logical.Response, error) {
	c, err := b.getSession(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	err = op(c)
	if msg, ok := outcome.Message(err); ok {
		return logical.ErrorResponse(msg), nil
	}

	resp := &logical.Response{Data: stateData(c.State())}
	resp.Data["outcome"] = outcome.Of(err).String()
	if err != nil {
		b.Logger().Warn("Bank operation failed", "path", req.Path, "error", err)
		resp.AddWarning(err.Error())
	}
	return resp, nil
}

func stateData(s session.State) map[string]interface{} {
	data := map[string]interface{}{
		"connected":    s.Connection.Connected,
		"bank_name":    s.Bank.Name,
		"display_name": s.DisplayName(),
		"owner":        s.Bank.Owner,
		"is_owner":     s.Bank.IsOwner,
		"balance":      s.Balance.Amount,
		"inputs": map[string]interface{}{
			"deposit":   s.Form.Deposit,
			"withdraw":  s.Form.Withdraw,
			"bank_name": s.Form.BankName,
		},
	}
	if s.Connection.Connected {
		data["address"] = s.Connection.Address
	}
	return data
}
