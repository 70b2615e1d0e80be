package bank

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names exposed by the deployed bank contract.
const (
	MethodBankName    = "bankName"
	MethodBankOwner   = "bankOwner"
	MethodBalance     = "getCustomerBalance"
	MethodSetBankName = "setBankName"
	MethodDeposit     = "depositMoney"
	MethodWithdraw    = "withDrawMoney"
)

//go:embed bank.abi.json
var abiJSON string

var contractABI = mustParseABI(abiJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("bank: invalid contract ABI: " + err.Error())
	}
	return parsed
}

// ABI returns the interface descriptor of the bank contract.
func ABI() abi.ABI {
	return contractABI
}
