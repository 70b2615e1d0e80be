package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/igwedaniel/vaultbank/internal/bank"
	"github.com/igwedaniel/vaultbank/internal/outcome"
	"github.com/igwedaniel/vaultbank/internal/wallet"
)

type fakeProvider struct {
	mu       sync.Mutex
	accounts []common.Address
	err      error
	requests int
	feed     event.Feed
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if p.err != nil {
		return nil, p.err
	}
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *fakeProvider) SubscribeAccounts(ch chan<- wallet.AccountsEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *fakeProvider) switchTo(accounts ...common.Address) {
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()
	p.feed.Send(wallet.AccountsEvent{Accounts: accounts})
}

// fakeGateway keeps bank state in memory and counts every call.
type fakeGateway struct {
	mu       sync.Mutex
	name     string
	owner    common.Address
	balances map[common.Address]decimal.Decimal
	calls    map[string]int
	fail     map[string]error
	block    chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		owner:    ownerAddr,
		balances: make(map[common.Address]decimal.Decimal),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (g *fakeGateway) record(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[method]++
	return g.fail[method]
}

func (g *fakeGateway) count(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, v := range g.calls {
		n += v
	}
	return n
}

func (g *fakeGateway) failWith(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[method] = err
}

func (g *fakeGateway) BankName(ctx context.Context) (string, error) {
	if err := g.record(bank.MethodBankName); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name, nil
}

func (g *fakeGateway) BankOwner(ctx context.Context) (common.Address, error) {
	if err := g.record(bank.MethodBankOwner); err != nil {
		return common.Address{}, err
	}
	return g.owner, nil
}

func (g *fakeGateway) Balance(ctx context.Context, account common.Address) (string, error) {
	if err := g.record(bank.MethodBalance); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account].String(), nil
}

func (g *fakeGateway) SetBankName(ctx context.Context, from common.Address, name string) error {
	if err := g.record(bank.MethodSetBankName); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
	return nil
}

func (g *fakeGateway) Deposit(ctx context.Context, from common.Address, amount string) error {
	if err := g.record(bank.MethodDeposit); err != nil {
		return err
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[from] = g.balances[from].Add(decimal.RequireFromString(amount))
	return nil
}

func (g *fakeGateway) Withdraw(ctx context.Context, from common.Address, amount string) error {
	if err := g.record(bank.MethodWithdraw); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[from] = g.balances[from].Sub(decimal.RequireFromString(amount))
	return nil
}

func newTestCoordinator(t *testing.T, accounts ...common.Address) (*Coordinator, *fakeProvider, *fakeGateway) {
	t.Helper()
	p := &fakeProvider{accounts: accounts}
	g := newFakeGateway()
	return New(nil, p, g), p, g
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Wallet absent", func(t *testing.T) {
		c := New(nil, nil, nil)
		err := c.Connect(ctx)
		require.ErrorIs(t, err, ErrNoProvider)
		require.Equal(t, outcome.Precondition, outcome.Of(err))

		s := c.State()
		require.False(t, s.Connection.Connected)
		require.Empty(t, s.Connection.Address)
	})

	t.Run("Wallet approves", func(t *testing.T) {
		c, p, g := newTestCoordinator(t, customerAddr, ownerAddr)

		require.NoError(t, c.Connect(ctx))
		s := c.State()
		require.True(t, s.Connection.Connected)
		require.Equal(t, customerAddr.Hex(), s.Connection.Address)
		require.Equal(t, 1, p.requests)

		require.Equal(t, 1, g.count(bank.MethodBankName))
		require.Equal(t, 1, g.count(bank.MethodBankOwner))
		require.Equal(t, 1, g.count(bank.MethodBalance))

		require.NoError(t, c.Connect(ctx))
		require.Equal(t, 1, g.count(bank.MethodBankName), "no transition, no refresh")
	})

	t.Run("Wallet rejects", func(t *testing.T) {
		c, p, g := newTestCoordinator(t)
		p.err = errors.New("user rejected the request")

		err := c.Connect(ctx)
		require.Equal(t, outcome.Remote, outcome.Of(err))
		require.ErrorIs(t, err, p.err)
		require.False(t, c.State().Connection.Connected)
		require.Zero(t, g.total())
	})
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Connected on mount", func(t *testing.T) {
		c, _, g := newTestCoordinator(t, ownerAddr)
		g.name = "Vel"

		require.NoError(t, c.Start(ctx))
		s := c.State()
		require.True(t, s.Bank.IsOwner)
		require.Equal(t, "Vel", s.Bank.Name)
		require.Equal(t, 1, g.count(bank.MethodBankName))
	})

	t.Run("Rejected on mount still reads the bank", func(t *testing.T) {
		c, p, g := newTestCoordinator(t)
		p.err = wallet.ErrNoAccounts

		err := c.Start(ctx)
		require.Equal(t, outcome.Remote, outcome.Of(err))
		require.Equal(t, 1, g.count(bank.MethodBankName))
		require.Equal(t, 1, g.count(bank.MethodBankOwner))
		require.Zero(t, g.count(bank.MethodBalance), "no account to read a balance for")
		require.Equal(t, ownerAddr.Hex(), c.State().Bank.Owner)
	})
}

func TestRefreshIsIndependent(t *testing.T) {
	ctx := context.Background()
	c, _, g := newTestCoordinator(t, customerAddr)
	require.NoError(t, c.Connect(ctx))

	g.name = "Vel"
	g.balances[customerAddr] = decimal.RequireFromString("2")
	g.failWith(bank.MethodBankOwner, errors.New("rpc timeout"))

	err := c.Refresh(ctx)
	require.Error(t, err)
	require.Equal(t, outcome.Remote, outcome.Of(err))

	s := c.State()
	require.Equal(t, "Vel", s.Bank.Name)
	require.Equal(t, "2", s.Balance.Amount)
}

func TestEmptyNameKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	c, _, g := newTestCoordinator(t, customerAddr)
	g.name = "Vel"
	require.NoError(t, c.Connect(ctx))
	require.Equal(t, "Vel", c.State().Bank.Name)

	g.name = ""
	require.NoError(t, c.Refresh(ctx))
	require.Equal(t, "Vel", c.State().Bank.Name)
}

func TestPreconditionsMakeNoRemoteCall(t *testing.T) {
	ctx := context.Background()
	c, p, g := newTestCoordinator(t, ownerAddr)

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"rename empty", func() error { return c.Rename(ctx, "") }, bank.ErrNameTooShort},
		{"rename one char", func() error { return c.Rename(ctx, "J") }, bank.ErrNameTooShort},
		{"deposit zero", func() error { return c.Deposit(ctx, "0") }, bank.ErrNonPositiveAmount},
		{"deposit negative", func() error { return c.Deposit(ctx, "-0.1") }, bank.ErrNonPositiveAmount},
		{"deposit empty", func() error { return c.Deposit(ctx, "") }, bank.ErrNonPositiveAmount},
		{"withdraw zero", func() error { return c.Withdraw(ctx, "0") }, bank.ErrNonPositiveAmount},
		{"withdraw too precise", func() error { return c.Withdraw(ctx, "0.0000000000000000001") }, bank.ErrAmountPrecision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.ErrorIs(t, err, tc.want)
			msg, ok := outcome.Message(err)
			require.True(t, ok)
			require.NotEmpty(t, msg)
		})
	}
	require.Zero(t, g.total())
	require.Zero(t, p.requests)

	t.Run("Provider absent", func(t *testing.T) {
		c := New(nil, nil, nil)
		require.ErrorIs(t, c.Deposit(ctx, "1"), ErrNoProvider)
		require.ErrorIs(t, c.Withdraw(ctx, "1"), ErrNoProvider)
		require.ErrorIs(t, c.Rename(ctx, "Vel"), ErrNoProvider)
		require.ErrorIs(t, c.Refresh(ctx), ErrNoProvider)
		require.ErrorIs(t, c.Start(ctx), ErrNoProvider)
	})
}

func TestWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("Deposit adds to balance", func(t *testing.T) {
		c, _, g := newTestCoordinator(t, customerAddr)
		g.balances[customerAddr] = decimal.RequireFromString("1.25")
		require.NoError(t, c.Connect(ctx))
		before := decimal.RequireFromString(c.State().Balance.Amount)

		require.NoError(t, c.Deposit(ctx, "0.5"))
		after := decimal.RequireFromString(c.State().Balance.Amount)
		require.True(t, before.Add(decimal.RequireFromString("0.5")).Equal(after), "got %s", after)
		require.Equal(t, 2, g.count(bank.MethodBalance))
		require.Equal(t, 1, g.count(bank.MethodBankName), "deposit refreshes only the balance")
		require.Equal(t, "0.5", c.State().Form.Deposit)
	})

	t.Run("Withdraw subtracts from balance", func(t *testing.T) {
		c, _, g := newTestCoordinator(t, customerAddr)
		g.balances[customerAddr] = decimal.RequireFromString("3")
		require.NoError(t, c.Connect(ctx))

		require.NoError(t, c.Withdraw(ctx, "1"))
		require.Equal(t, "2", c.State().Balance.Amount)
	})

	t.Run("Rename refreshes only the name", func(t *testing.T) {
		c, _, g := newTestCoordinator(t, ownerAddr)
		require.NoError(t, c.Connect(ctx))
		require.True(t, c.State().Bank.IsOwner)

		require.NoError(t, c.Rename(ctx, "Vel"))
		require.Equal(t, "Vel", c.State().Bank.Name)
		require.Equal(t, 2, g.count(bank.MethodBankName))
		require.Equal(t, 1, g.count(bank.MethodBankOwner))
		require.Equal(t, 1, g.count(bank.MethodBalance))
	})

	t.Run("Write connects first", func(t *testing.T) {
		c, p, g := newTestCoordinator(t, customerAddr)

		require.NoError(t, c.Deposit(ctx, "1"))
		require.Equal(t, 1, p.requests)
		require.True(t, c.State().Connection.Connected)
		require.Equal(t, "1", c.State().Balance.Amount)
		require.Equal(t, 1, g.count(bank.MethodDeposit))
	})

	t.Run("Remote failure leaves state alone", func(t *testing.T) {
		c, _, g := newTestCoordinator(t, customerAddr)
		g.balances[customerAddr] = decimal.RequireFromString("1")
		require.NoError(t, c.Connect(ctx))
		g.failWith(bank.MethodWithdraw, bank.ErrReverted)

		err := c.Withdraw(ctx, "5")
		require.ErrorIs(t, err, bank.ErrReverted)
		require.Equal(t, outcome.Remote, outcome.Of(err))
		require.Equal(t, "1", c.State().Balance.Amount)
		require.Equal(t, 1, g.count(bank.MethodBalance))
	})
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	c, _, g := newTestCoordinator(t, customerAddr)
	require.NoError(t, c.Connect(ctx))

	g.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Deposit(ctx, "1") }()

	require.Eventually(t, func() bool {
		return g.count(bank.MethodDeposit) == 1
	}, time.Second, 5*time.Millisecond)

	err := c.Deposit(ctx, "1")
	require.ErrorIs(t, err, ErrInProgress)
	require.Equal(t, outcome.Precondition, outcome.Of(err))

	require.NoError(t, c.Withdraw(ctx, "0.1"), "other operations are not blocked")

	close(g.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, g.count(bank.MethodDeposit))

	require.NoError(t, c.Deposit(ctx, "1"), "guard is released")
}

func TestWatchAccountSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, p, g := newTestCoordinator(t, customerAddr)
	require.NoError(t, c.Connect(ctx))

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	require.Eventually(t, func() bool {
		return p.feed.Send(wallet.AccountsEvent{Accounts: []common.Address{customerAddr}}) > 0
	}, time.Second, 5*time.Millisecond, "watcher never subscribed")
	require.Equal(t, 1, g.count(bank.MethodBankName), "same account is not a transition")

	p.switchTo(ownerAddr)
	require.Eventually(t, func() bool {
		return c.State().Bank.IsOwner
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return g.count(bank.MethodBankName) == 2 &&
			g.count(bank.MethodBankOwner) == 2 &&
			g.count(bank.MethodBalance) == 2
	}, time.Second, 5*time.Millisecond)

	p.switchTo()
	require.Eventually(t, func() bool {
		return !c.State().Connection.Connected
	}, time.Second, 5*time.Millisecond)
	require.False(t, c.State().Bank.IsOwner)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
