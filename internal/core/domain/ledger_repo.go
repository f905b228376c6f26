package domain

import "context"

// LedgerRepository persists the fee ledger: the enumerable instrument set and
// the rent/protocol balances. Implementations must keep every write of a
// single call atomic.
type LedgerRepository interface {
	// UpsertInstrument registers or updates an instrument. The caller assigns
	// Position on first registration.
	UpsertInstrument(ctx context.Context, instrument PaymentInstrument) error
	// GetInstrument returns nil without error when the instrument was never
	// registered.
	GetInstrument(ctx context.Context, id Address) (*PaymentInstrument, error)
	// ListInstruments returns all registered instruments in insertion order.
	ListInstruments(ctx context.Context) ([]PaymentInstrument, error)

	GetRentBalance(ctx context.Context, asset uint64, instrument Address) (uint64, error)
	SetRentBalance(ctx context.Context, asset uint64, instrument Address, amount uint64) error
	// ListRentBalances returns the nonzero balances of an asset.
	ListRentBalances(ctx context.Context, asset uint64) ([]RentBalance, error)

	GetProtocolBalance(ctx context.Context, instrument Address) (uint64, error)
	SetProtocolBalance(ctx context.Context, instrument Address, amount uint64) error

	Close()
}
