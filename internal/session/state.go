package session

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultBankName is shown while the contract has no name stored.
const DefaultBankName = "Jack"

type ConnectionState struct {
	Connected bool
	Address   string
}

type BankInfo struct {
	Name    string
	Owner   string
	IsOwner bool
}

// BalanceView holds the caller's balance in ether. Empty means unknown.
type BalanceView struct {
	Amount string
}

// FormInputs are the last values submitted for each form field. They are
// never cleared after a submission.
type FormInputs struct {
	Deposit  string
	Withdraw string
	BankName string
}

// State is everything the bank page shows. It only changes through Reduce.
type State struct {
	Connection ConnectionState
	Bank       BankInfo
	Balance    BalanceView
	Form       FormInputs
}

// DisplayName is the page title, e.g. "Vel's Bank".
func (s State) DisplayName() string {
	name := s.Bank.Name
	if name == "" {
		name = DefaultBankName
	}
	return name + "'s Bank"
}

// Event is a state transition input.
type Event interface {
	isEvent()
}

type Connected struct {
	Address common.Address
}

type Disconnected struct{}

type NameFetched struct {
	Name string
}

type OwnerFetched struct {
	Owner common.Address
}

// BalanceFetched carries the balance read for Address. It is dropped unless
// Address is still the connected account.
type BalanceFetched struct {
	Address common.Address
	Amount  string
}

type BalanceCleared struct{}

type InputChanged struct {
	Field Field
	Value string
}

func (Connected) isEvent()      {}
func (Disconnected) isEvent()   {}
func (NameFetched) isEvent()    {}
func (OwnerFetched) isEvent()   {}
func (BalanceFetched) isEvent() {}
func (BalanceCleared) isEvent() {}
func (InputChanged) isEvent()   {}

// Field names a form input.
type Field string

const (
	FieldDeposit  Field = "deposit"
	FieldWithdraw Field = "withdraw"
	FieldBankName Field = "bankName"
)

// Reduce applies e to s and returns the new state. It has no side effects.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case Connected:
		s.Connection = ConnectionState{Connected: true, Address: e.Address.Hex()}
	case Disconnected:
		s.Connection = ConnectionState{}
		s.Balance = BalanceView{}
	case NameFetched:
		// an empty encoding keeps whatever name was shown before
		if e.Name != "" {
			s.Bank.Name = e.Name
		}
	case OwnerFetched:
		s.Bank.Owner = e.Owner.Hex()
	case BalanceFetched:
		if s.Connection.Connected && strings.EqualFold(s.Connection.Address, e.Address.Hex()) {
			s.Balance.Amount = e.Amount
		}
	case BalanceCleared:
		s.Balance = BalanceView{}
	case InputChanged:
		switch e.Field {
		case FieldDeposit:
			s.Form.Deposit = e.Value
		case FieldWithdraw:
			s.Form.Withdraw = e.Value
		case FieldBankName:
			s.Form.BankName = e.Value
		}
	}
	s.Bank.IsOwner = isOwner(s)
	return s
}

func isOwner(s State) bool {
	if !s.Connection.Connected || s.Bank.Owner == "" {
		return false
	}
	return strings.EqualFold(s.Connection.Address, s.Bank.Owner)
}

// ConnectionChanged reports whether going from prev to next is a
// connection-state transition that calls for a refresh.
func ConnectionChanged(prev, next State) bool {
	return prev.Connection.Connected != next.Connection.Connected ||
		!strings.EqualFold(prev.Connection.Address, next.Connection.Address)
}
