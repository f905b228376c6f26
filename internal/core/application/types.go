package application

import (
	"context"

	"github.com/rentgrid/rentd/internal/core/domain"
)

// Payout reports one balance moved out of the ledger by a claim.
type Payout struct {
	Asset      uint64
	Instrument domain.Address
	Recipient  domain.Address
	Amount     uint64
}

// AssetSettler finalizes outstanding rent for an asset before its rights
// change hands. Implemented by the ledger service, consumed by the registry
// service as the pre-transfer guard.
type AssetSettler interface {
	SettleAsset(ctx context.Context, asset uint64) error
}
