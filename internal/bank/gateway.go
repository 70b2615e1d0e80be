package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/igwedaniel/vaultbank/internal/outcome"
)

// ErrReverted is returned when a transaction was mined but failed.
var ErrReverted = errors.New("transaction reverted")

// Backend is the part of an Ethereum node the gateway talks to.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.DeployBackend
}

// TxSigner signs transactions on behalf of a wallet account.
type TxSigner interface {
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Gateway is a typed handle on one deployed bank contract.
type Gateway struct {
	address  common.Address
	backend  Backend
	signer   TxSigner
	chainID  *big.Int
	contract *bind.BoundContract
	logger   hclog.Logger
}

func NewGateway(address common.Address, backend Backend, signer TxSigner, chainID *big.Int, logger hclog.Logger) *Gateway {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Gateway{
		address:  address,
		backend:  backend,
		signer:   signer,
		chainID:  new(big.Int).Set(chainID),
		contract: bind.NewBoundContract(address, contractABI, backend, backend, nil),
		logger:   logger,
	}
}

func (g *Gateway) Address() common.Address {
	return g.address
}

// BankName reads the stored name. An empty encoding yields "".
func (g *Gateway) BankName(ctx context.Context) (string, error) {
	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodBankName); err != nil {
		return "", outcome.Remotef(MethodBankName, err)
	}
	raw := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	name, err := ParseBytes32String(raw)
	if err != nil {
		return "", outcome.Remotef(MethodBankName, err)
	}
	return name, nil
}

func (g *Gateway) BankOwner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodBankOwner); err != nil {
		return common.Address{}, outcome.Remotef(MethodBankOwner, err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Balance reads the balance the contract holds for account, in ether.
func (g *Gateway) Balance(ctx context.Context, account common.Address) (string, error) {
	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx, From: account}, &out, MethodBalance); err != nil {
		return "", outcome.Remotef(MethodBalance, err)
	}
	wei := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return FormatEther(wei), nil
}

func (g *Gateway) SetBankName(ctx context.Context, from common.Address, name string) error {
	if err := ValidateName(name); err != nil {
		return outcome.Fail(MethodSetBankName, err)
	}
	encoded, err := FormatBytes32String(name)
	if err != nil {
		return outcome.Fail(MethodSetBankName, ErrNameTooLong)
	}
	return g.transact(ctx, from, nil, MethodSetBankName, encoded)
}

func (g *Gateway) Deposit(ctx context.Context, from common.Address, amount string) error {
	wei, err := ParseEther(amount)
	if err != nil {
		return outcome.Fail(MethodDeposit, err)
	}
	return g.transact(ctx, from, wei, MethodDeposit)
}

// Withdraw asks the contract to send amount back to from.
func (g *Gateway) Withdraw(ctx context.Context, from common.Address, amount string) error {
	wei, err := ParseEther(amount)
	if err != nil {
		return outcome.Fail(MethodWithdraw, err)
	}
	return g.transact(ctx, from, nil, MethodWithdraw, from, wei)
}

func (g *Gateway) transact(ctx context.Context, from common.Address, value *big.Int, method string, params ...interface{}) error {
	opID := uuid.NewString()
	logger := g.logger.With("op_id", opID, "method", method, "from", from.Hex())

	opts := &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Value:   value,
		Signer: func(account common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return g.signer.SignTx(ctx, account, tx, g.chainID)
		},
	}

	tx, err := g.contract.Transact(opts, method, params...)
	if err != nil {
		logger.Error("Failed to submit transaction", "error", err)
		return outcome.Remotef(method, err)
	}
	logger.Debug("Transaction submitted, waiting for receipt", "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, g.backend, tx)
	if err != nil {
		logger.Error("Failed to wait for transaction", "tx", tx.Hash().Hex(), "error", err)
		return outcome.Remotef(method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Error("Transaction reverted", "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
		return outcome.Remotef(method, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex()))
	}
	logger.Info("Transaction confirmed", "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}
