package ports

import (
	"context"

	"github.com/rentgrid/rentd/internal/core/domain"
)

// PendingRent is a completed rental period not yet posted to the ledger.
type PendingRent struct {
	Instrument domain.Address
	Gross      uint64
}

// RentalSource is the external rental-agreement subsystem. The ledger drains
// it before an asset's rights change hands so no rent stays behind in the
// source once the owner changes.
type RentalSource interface {
	PendingRents(ctx context.Context, asset uint64) ([]PendingRent, error)
	MarkSettled(ctx context.Context, asset uint64) error
}
