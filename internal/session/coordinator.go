package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/igwedaniel/vaultbank/internal/bank"
	"github.com/igwedaniel/vaultbank/internal/outcome"
	"github.com/igwedaniel/vaultbank/internal/wallet"
)

const (
	OpConnect  = "connect"
	OpRefresh  = "refresh"
	OpRename   = "rename"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

var (
	ErrNoProvider = &outcome.PreconditionError{Message: "Please install a wallet provider"}
	ErrInProgress = &outcome.PreconditionError{Message: "Operation already in progress"}
)

// Gateway is the contract surface the coordinator drives.
type Gateway interface {
	BankName(ctx context.Context) (string, error)
	BankOwner(ctx context.Context) (common.Address, error)
	Balance(ctx context.Context, account common.Address) (string, error)
	SetBankName(ctx context.Context, from common.Address, name string) error
	Deposit(ctx context.Context, from common.Address, amount string) error
	Withdraw(ctx context.Context, from common.Address, amount string) error
}

// Provider is the wallet the user connects.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SubscribeAccounts(ch chan<- wallet.AccountsEvent) event.Subscription
}

// Coordinator owns the view state and applies the refresh policy around
// every wallet and contract operation.
type Coordinator struct {
	logger   hclog.Logger
	provider Provider
	gateway  Gateway

	mu       sync.Mutex
	state    State
	inflight map[string]struct{}

	reads singleflight.Group
}

// New builds a coordinator. A nil provider means no wallet is installed;
// every operation then fails with ErrNoProvider.
func New(logger hclog.Logger, provider Provider, gateway Gateway) *Coordinator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		logger:   logger,
		provider: provider,
		gateway:  gateway,
		inflight: make(map[string]struct{}),
	}
}

// State returns a copy of the current view state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) dispatch(e Event) (prev, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.state
	c.state = Reduce(c.state, e)
	return prev, c.state
}

// Start is run once when the session is opened: it tries to connect and
// makes sure every value has been fetched once.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.present() {
		return outcome.Fail(OpConnect, ErrNoProvider)
	}
	refreshed, err := c.connect(ctx)
	if !refreshed {
		c.refresh(ctx, RefreshAfter(TriggerConnection))
	}
	return err
}

// Connect asks the wallet for its accounts and makes the first one active.
func (c *Coordinator) Connect(ctx context.Context) error {
	if !c.present() {
		return outcome.Fail(OpConnect, ErrNoProvider)
	}
	_, err := c.connect(ctx)
	return err
}

// connect reports whether the connection state changed, in which case the
// connection refresh already ran.
func (c *Coordinator) connect(ctx context.Context) (bool, error) {
	release, err := c.acquire(OpConnect)
	if err != nil {
		return false, err
	}
	defer release()

	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		c.logger.Error("Wallet did not grant account access", "error", err)
		return false, outcome.Remotef(OpConnect, err)
	}
	return c.applyAccounts(ctx, accounts), nil
}

// HandleAccounts reacts to an account switch announced by the wallet. An
// empty list disconnects. Announcements are ignored until the user has
// connected once.
func (c *Coordinator) HandleAccounts(ctx context.Context, accounts []common.Address) {
	if !c.State().Connection.Connected {
		return
	}
	c.logger.Info("Wallet accounts changed", "accounts", len(accounts))
	c.applyAccounts(ctx, accounts)
}

func (c *Coordinator) applyAccounts(ctx context.Context, accounts []common.Address) bool {
	var e Event = Disconnected{}
	if len(accounts) > 0 {
		e = Connected{Address: accounts[0]}
	}
	prev, next := c.dispatch(e)
	if !ConnectionChanged(prev, next) {
		return false
	}
	c.logger.Debug("Connection changed", "connected", next.Connection.Connected, "address", next.Connection.Address)
	c.refresh(ctx, RefreshAfter(TriggerConnection))
	return true
}

// Watch follows account changes of the wallet until ctx is done or the
// subscription fails.
func (c *Coordinator) Watch(ctx context.Context) error {
	if !c.present() {
		return outcome.Fail(OpConnect, ErrNoProvider)
	}
	ch := make(chan wallet.AccountsEvent, 8)
	sub := c.provider.SubscribeAccounts(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-ch:
			c.HandleAccounts(ctx, ev.Accounts)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh fetches bank name, owner and balance again.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.present() {
		return outcome.Fail(OpRefresh, ErrNoProvider)
	}
	return c.refresh(ctx, ReadAll)
}

// refresh runs the requested reads independently; one failing read does not
// stop the others. Failures are logged and joined.
func (c *Coordinator) refresh(ctx context.Context, reads Read) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	run := func(fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if reads.Has(ReadName) {
		run(c.refreshName)
	}
	if reads.Has(ReadOwner) {
		run(c.refreshOwner)
	}
	if reads.Has(ReadBalance) {
		run(c.refreshBalance)
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) refreshName(ctx context.Context) error {
	v, err, _ := c.reads.Do(bank.MethodBankName, func() (interface{}, error) {
		return c.gateway.BankName(ctx)
	})
	if err != nil {
		c.logger.Error("Failed to fetch bank name", "error", err)
		return outcome.Remotef(bank.MethodBankName, err)
	}
	c.dispatch(NameFetched{Name: v.(string)})
	return nil
}

func (c *Coordinator) refreshOwner(ctx context.Context) error {
	v, err, _ := c.reads.Do(bank.MethodBankOwner, func() (interface{}, error) {
		return c.gateway.BankOwner(ctx)
	})
	if err != nil {
		c.logger.Error("Failed to fetch bank owner", "error", err)
		return outcome.Remotef(bank.MethodBankOwner, err)
	}
	c.dispatch(OwnerFetched{Owner: v.(common.Address)})
	return nil
}

// refreshBalance needs a connected account; without one the balance view
// is cleared instead.
func (c *Coordinator) refreshBalance(ctx context.Context) error {
	conn := c.State().Connection
	if !conn.Connected {
		c.dispatch(BalanceCleared{})
		return nil
	}
	account := common.HexToAddress(conn.Address)
	v, err, _ := c.reads.Do(bank.MethodBalance+":"+account.Hex(), func() (interface{}, error) {
		return c.gateway.Balance(ctx, account)
	})
	if err != nil {
		c.logger.Error("Failed to fetch customer balance", "address", account.Hex(), "error", err)
		return outcome.Remotef(bank.MethodBalance, err)
	}
	c.dispatch(BalanceFetched{Address: account, Amount: v.(string)})
	return nil
}

// Rename stores a new bank name. Only the contract owner can do this
// successfully; the contract enforces it.
func (c *Coordinator) Rename(ctx context.Context, name string) error {
	c.dispatch(InputChanged{Field: FieldBankName, Value: name})
	if err := bank.ValidateName(name); err != nil {
		return outcome.Fail(OpRename, err)
	}
	return c.submit(ctx, OpRename, TriggerRename, func(from common.Address) error {
		return c.gateway.SetBankName(ctx, from, name)
	})
}

func (c *Coordinator) Deposit(ctx context.Context, amount string) error {
	c.dispatch(InputChanged{Field: FieldDeposit, Value: amount})
	if _, err := bank.ParseEther(amount); err != nil {
		return outcome.Fail(OpDeposit, err)
	}
	return c.submit(ctx, OpDeposit, TriggerDeposit, func(from common.Address) error {
		return c.gateway.Deposit(ctx, from, amount)
	})
}

func (c *Coordinator) Withdraw(ctx context.Context, amount string) error {
	c.dispatch(InputChanged{Field: FieldWithdraw, Value: amount})
	if _, err := bank.ParseEther(amount); err != nil {
		return outcome.Fail(OpWithdraw, err)
	}
	return c.submit(ctx, OpWithdraw, TriggerWithdraw, func(from common.Address) error {
		return c.gateway.Withdraw(ctx, from, amount)
	})
}

// submit runs a state-changing call from the active account, connecting
// first if needed, then applies the refresh policy for trigger.
func (c *Coordinator) submit(ctx context.Context, op string, trigger Trigger, call func(from common.Address) error) error {
	if !c.present() {
		return outcome.Fail(op, ErrNoProvider)
	}
	release, err := c.acquire(op)
	if err != nil {
		return err
	}
	defer release()

	from, err := c.account(ctx)
	if err != nil {
		return err
	}
	if err := call(from); err != nil {
		if outcome.Of(err) == outcome.Remote {
			c.logger.Error("Operation failed", "op", op, "from", from.Hex(), "error", err)
		}
		return outcome.Remotef(op, err)
	}
	// read failures are logged by refresh and do not undo a confirmed write
	_ = c.refresh(ctx, RefreshAfter(trigger))
	return nil
}

func (c *Coordinator) account(ctx context.Context) (common.Address, error) {
	if conn := c.State().Connection; conn.Connected {
		return common.HexToAddress(conn.Address), nil
	}
	if _, err := c.connect(ctx); err != nil {
		return common.Address{}, err
	}
	conn := c.State().Connection
	if !conn.Connected {
		return common.Address{}, outcome.Remotef(OpConnect, wallet.ErrNoAccounts)
	}
	return common.HexToAddress(conn.Address), nil
}

// acquire marks op as in flight. A second caller gets ErrInProgress until
// the returned release func runs.
func (c *Coordinator) acquire(op string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[op]; busy {
		return nil, outcome.Fail(op, ErrInProgress)
	}
	c.inflight[op] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, op)
		c.mu.Unlock()
	}, nil
}

func (c *Coordinator) present() bool {
	return c.provider != nil && c.gateway != nil
}
