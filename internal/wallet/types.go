package wallet

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoAccounts     = errors.New("no wallet accounts available")
	ErrUnknownAccount = errors.New("unknown wallet account")
)

// Wallet is the stored form of an Ethereum account.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// AccountsEvent is published whenever the ordered account list changes.
// Accounts[0] is the active account; an empty list means no account is
// available any more.
type AccountsEvent struct {
	Accounts []common.Address
}

func (e AccountsEvent) Active() (common.Address, bool) {
	if len(e.Accounts) == 0 {
		return common.Address{}, false
	}
	return e.Accounts[0], true
}
