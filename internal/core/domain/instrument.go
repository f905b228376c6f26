package domain

import (
	"math/bits"
	"strings"

	"github.com/rentgrid/rentd/pkg/errors"
)

// Address is an address-shaped identifier for callers, holders and payment
// instruments, lowercase hex with 0x prefix.
type Address string

// ZeroAddress is the sentinel for "no address". As an instrument identifier it
// denotes the native currency.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// NativeInstrument identifies the native currency in the fee ledger.
const NativeInstrument = ZeroAddress

// FeePrecision is the fixed denominator used to interpret fee percentage
// values. It never changes after deployment; a fee percentage equal to
// FeePrecision means a 100% protocol skim.
const FeePrecision uint64 = 10000

func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

func (a Address) Normalize() Address {
	return Address(strings.ToLower(string(a)))
}

// PaymentInstrument holds the global fee parameters of a fungible payment
// medium accepted for rent. Position is the insertion order in the enumerable
// instrument set; instruments are never removed from the set, deregistering
// only flips Accepted, so positions stay dense and are never reused.
type PaymentInstrument struct {
	ID            Address
	FeePercentage uint64
	Accepted      bool
	Position      uint64
}

// Split divides a gross rent amount into the owner share and the protocol
// share using the instrument's fee percentage. The two shares always sum to
// gross exactly; the protocol share is floor(gross * pct / FeePrecision).
func (i PaymentInstrument) Split(gross uint64) (ownerShare, protocolShare uint64, err error) {
	if i.FeePercentage > FeePrecision {
		return 0, 0, errors.INVALID_ARGUMENT.New(
			"fee percentage %d exceeds precision %d", i.FeePercentage, FeePrecision,
		)
	}
	hi, lo := bits.Mul64(gross, i.FeePercentage)
	if hi >= FeePrecision {
		return 0, 0, errors.ARITHMETIC_OVERFLOW.New(
			"fee split overflows for gross %d", gross,
		).WithMetadata(errors.OverflowMetadata{Op: "mul", A: gross, B: i.FeePercentage})
	}
	protocolShare, _ = bits.Div64(hi, lo, FeePrecision)
	ownerShare = gross - protocolShare
	return ownerShare, protocolShare, nil
}

// CheckedAdd returns a+b or ARITHMETIC_OVERFLOW if the sum wraps.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errors.ARITHMETIC_OVERFLOW.New(
			"unsigned add wraps",
		).WithMetadata(errors.OverflowMetadata{Op: "add", A: a, B: b})
	}
	return sum, nil
}
