package domain

// OwnershipRecord is the registry entry of one asset: its holder, the single
// approved operator slot, the delegated consumer and the record's positions in
// the global and per-holder enumerations. Enumeration indices are kept dense
// by the repositories via swap-and-truncate removal.
type OwnershipRecord struct {
	Asset       uint64
	Holder      Address
	Approved    Address
	Consumer    Address
	GlobalIndex uint64
	OwnerIndex  uint64
}

// ClearTransientRights drops the rights that do not survive a change of
// holder. The single-slot approval is always cleared on transfer; the consumer
// delegate is cleared too, since it was granted by (or on behalf of) the
// previous holder and the new holder never consented to it.
func (r *OwnershipRecord) ClearTransientRights() {
	r.Approved = ZeroAddress
	r.Consumer = ZeroAddress
}

// IsApprovedOrOwner reports whether caller may move the asset: it is the
// holder, the single approved operator, or holds a blanket operator approval
// (resolved by the caller of this method).
func (r OwnershipRecord) IsApprovedOrOwner(caller Address, operatorApproved bool) bool {
	if caller.IsZero() {
		return false
	}
	return caller == r.Holder || caller == r.Approved || operatorApproved
}

// OperatorApproval is a blanket approval of operator over every asset held by
// Owner.
type OperatorApproval struct {
	Owner    Address
	Operator Address
}
