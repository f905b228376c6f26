package domain

import "context"

// RegistryRepository persists ownership records, operator approvals and the
// dense enumeration indices. AddRecord assigns the enumeration positions;
// RemoveRecord and UpdateRecord keep them dense via swap-and-truncate, moving
// the last record of the affected enumeration into the freed slot.
type RegistryRepository interface {
	AddRecord(ctx context.Context, record OwnershipRecord) error
	// GetRecord returns nil without error when the asset was never minted.
	GetRecord(ctx context.Context, asset uint64) (*OwnershipRecord, error)
	// UpdateRecord persists holder/approval/consumer changes. When the holder
	// changed, the record is moved between the per-holder enumerations.
	UpdateRecord(ctx context.Context, record OwnershipRecord) error
	RemoveRecord(ctx context.Context, asset uint64) error

	TotalSupply(ctx context.Context) (uint64, error)
	AssetByIndex(ctx context.Context, index uint64) (uint64, error)
	AssetOfOwnerByIndex(ctx context.Context, owner Address, index uint64) (uint64, error)
	BalanceOf(ctx context.Context, owner Address) (uint64, error)

	SetOperatorApproval(ctx context.Context, owner, operator Address, approved bool) error
	IsOperatorApproved(ctx context.Context, owner, operator Address) (bool, error)

	Close()
}
