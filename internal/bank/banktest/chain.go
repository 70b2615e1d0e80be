// Package banktest provides an in-memory chain hosting a bank contract, for
// exercising the gateway without a node.
package banktest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractAddress is where the fake bank contract lives.
var ContractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

var errUnknownMethod = errors.New("banktest: unknown method")

// Chain is a single-contract chain. Every sent transaction is mined
// immediately into its own block.
type Chain struct {
	mu       sync.Mutex
	abi      abi.ABI
	chainID  *big.Int
	block    uint64
	owner    common.Address
	name     [32]byte
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	calls    map[string]int
	failures map[string]error
}

func NewChain(contractABI abi.ABI, chainID *big.Int, owner common.Address) *Chain {
	return &Chain{
		abi:      contractABI,
		chainID:  new(big.Int).Set(chainID),
		owner:    owner,
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// SetName stores an already encoded bank name.
func (c *Chain) SetName(name [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Chain) SetBalance(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(wei)
}

func (c *Chain) BalanceOf(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceOf(account)
}

// Fail makes every later call or transaction to method return err.
// A nil err clears the failure.
func (c *Chain) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// Calls reports how many times method was called or sent.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls reports the number of contract calls and transactions seen.
func (c *Chain) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.code(contract), nil
}

func (c *Chain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.code(account), nil
}

func (c *Chain) code(account common.Address) []byte {
	if account == ContractAddress {
		return []byte{0x60, 0x80}
	}
	return nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.block)}, nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != ContractAddress {
		return nil, nil
	}
	method, err := c.method(call.Data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method.Name]++
	if err := c.failures[method.Name]; err != nil {
		return nil, err
	}

	switch method.Name {
	case "bankName":
		return method.Outputs.Pack(c.name)
	case "bankOwner":
		return method.Outputs.Pack(c.owner)
	case "getCustomerBalance":
		return method.Outputs.Pack(c.balanceOf(call.From))
	}
	return nil, fmt.Errorf("%w: %s is not a view", errUnknownMethod, method.Name)
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if tx.To() == nil || *tx.To() != ContractAddress {
		return errors.New("banktest: transaction not addressed to the bank")
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("banktest: invalid signature: %w", err)
	}
	method, err := c.method(tx.Data())
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method.Name]++
	if err := c.failures[method.Name]; err != nil {
		return err
	}
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("banktest: nonce too low: have %d, want %d", tx.Nonce(), c.nonces[from])
	}
	c.nonces[from]++
	c.block++

	status := types.ReceiptStatusSuccessful
	switch method.Name {
	case "setBankName":
		if from != c.owner {
			status = types.ReceiptStatusFailed
			break
		}
		c.name = args[0].([32]byte)
	case "depositMoney":
		c.balances[from] = new(big.Int).Add(c.balanceOf(from), tx.Value())
	case "withDrawMoney":
		total := args[1].(*big.Int)
		balance := c.balanceOf(from)
		if balance.Cmp(total) < 0 {
			status = types.ReceiptStatusFailed
			break
		}
		c.balances[from] = new(big.Int).Sub(balance, total)
	default:
		status = types.ReceiptStatusFailed
	}

	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21_000,
	}
	return nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *Chain) method(data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, errUnknownMethod
	}
	return c.abi.MethodById(data[:4])
}

func (c *Chain) balanceOf(account common.Address) *big.Int {
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Signer signs with in-memory keys. It stands in for the Vault keystore.
type Signer struct {
	mu   sync.Mutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewSigner() *Signer {
	return &Signer{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// NewAccount generates a key and returns its address.
func (s *Signer) NewAccount() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	s.keys[addr] = key
	s.mu.Unlock()
	return addr
}

func (s *Signer) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	key, ok := s.keys[account]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("banktest: unknown account %s", account.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
