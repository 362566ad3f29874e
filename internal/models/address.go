package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"sealgate/internal/errs"
)

// AddressLength is the byte length of a ledger identity.
const AddressLength = 32

// Address is a normalized ledger identity: 0x followed by 64 lowercase hex digits.
type Address string

// ParseAddress validates and normalizes raw into an Address.
func ParseAddress(raw string) (Address, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(value, "0x") {
		return "", invalidAddress(raw)
	}
	digits := value[2:]
	if len(digits) != AddressLength*2 {
		return "", invalidAddress(raw)
	}
	if _, err := hex.DecodeString(digits); err != nil {
		return "", invalidAddress(raw)
	}
	return Address(value), nil
}

// MustAddress parses raw and panics on failure. Intended for tests and constants.
func MustAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return string(a)
}

// Short renders the address as 0x1234…abcd for log lines.
func (a Address) Short() string {
	s := string(a)
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func invalidAddress(raw string) error {
	return errs.WithReason(errs.InvalidInput, errs.ReasonInvalidAddress, fmt.Errorf("invalid address %q", strings.TrimSpace(raw)))
}
