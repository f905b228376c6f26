package domain

// RentBalance is the rent accrued for an asset in a given instrument, owed to
// whoever owns the asset at the moment of claim.
type RentBalance struct {
	Asset      uint64
	Instrument Address
	Amount     uint64
}

// ProtocolBalance is the protocol share accrued for an instrument, owed to the
// administrator.
type ProtocolBalance struct {
	Instrument Address
	Amount     uint64
}
