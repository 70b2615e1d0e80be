package session

// Read is a set of values fetched from the contract.
type Read uint8

const (
	ReadName Read = 1 << iota
	ReadOwner
	ReadBalance
)

const (
	ReadNone Read = 0
	ReadAll  Read = ReadName | ReadOwner | ReadBalance
)

func (r Read) Has(o Read) bool {
	return r&o != 0
}

// Trigger is what happened before a refresh.
type Trigger int

const (
	TriggerConnection Trigger = iota
	TriggerRename
	TriggerDeposit
	TriggerWithdraw
)

// RefreshAfter is the refresh policy: which values have to be fetched again
// after trigger succeeded.
func RefreshAfter(trigger Trigger) Read {
	switch trigger {
	case TriggerConnection:
		return ReadAll
	case TriggerRename:
		return ReadName
	case TriggerDeposit, TriggerWithdraw:
		return ReadBalance
	}
	return ReadNone
}
