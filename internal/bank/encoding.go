package bank

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/igwedaniel/vaultbank/internal/outcome"
)

// EtherDecimals is the number of fractional digits between ether and wei.
const EtherDecimals = 18

var (
	ErrNameTooShort      = &outcome.PreconditionError{Message: "Please provide more than 1 character"}
	ErrNameTooLong       = &outcome.PreconditionError{Message: "Bank name must be at most 31 bytes"}
	ErrNonPositiveAmount = &outcome.PreconditionError{Message: "Please provide more than 0"}
	ErrAmountPrecision   = &outcome.PreconditionError{Message: "Amount has more than 18 decimal places"}
	ErrAmountTooLarge    = &outcome.PreconditionError{Message: "Amount does not fit in uint256 wei"}

	errNoNullTerminator = errors.New("invalid bytes32 string: no null terminator")
	errInvalidUTF8      = errors.New("invalid bytes32 string: not valid utf-8")
)

// FormatBytes32String packs s into the fixed-length form the contract stores:
// UTF-8 bytes padded with zeros on the right, always ending in a zero byte.
func FormatBytes32String(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > 31 {
		return out, ErrNameTooLong
	}
	copy(out[:], s)
	return out, nil
}

// ParseBytes32String reverses FormatBytes32String. An all-zero value decodes
// to the empty string.
func ParseBytes32String(b [32]byte) (string, error) {
	if b[31] != 0 {
		return "", errNoNullTerminator
	}
	n := bytes.IndexByte(b[:], 0)
	if !utf8.Valid(b[:n]) {
		return "", errInvalidUTF8
	}
	return string(b[:n]), nil
}

// ValidateName checks a new bank name before anything is sent.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) < 2 {
		return ErrNameTooShort
	}
	if len(name) > 31 {
		return ErrNameTooLong
	}
	return nil
}

// maxEther is the largest amount whose wei value fits in a uint256.
var maxEther = decimal.NewFromBigInt(math.MaxBig256, -EtherDecimals)

// ParseEther converts a plain decimal ether amount to wei. Empty, malformed
// and non-positive inputs are all reported as ErrNonPositiveAmount, as the
// form treats them alike. Exponent notation counts as malformed.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if strings.ContainsAny(amount, "eE") {
		return nil, ErrNonPositiveAmount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if d.GreaterThan(maxEther) {
		return nil, ErrAmountTooLarge
	}
	wei := d.Shift(EtherDecimals)
	if !wei.IsInteger() {
		return nil, ErrAmountPrecision
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as ether. Whole amounts keep one decimal ("1.0").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -EtherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
