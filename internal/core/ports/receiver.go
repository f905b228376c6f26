package ports

import (
	"context"

	"github.com/rentgrid/rentd/internal/core/domain"
)

// ReceiptAck is the acknowledgment value an AssetReceiver must return for a
// safe transfer to complete.
var ReceiptAck = [4]byte{'R', 'N', 'T', 'D'}

// AssetReceiver is the acceptance capability of a receiving party. Returning
// anything other than ReceiptAck, or an error, rejects the transfer.
type AssetReceiver interface {
	OnAssetReceived(
		ctx context.Context, operator, from domain.Address, asset uint64,
	) ([4]byte, error)
}

// ReceiverRegistry resolves a receiving address to its acceptance capability.
// Plain recipients resolve to (nil, false) and accept implicitly.
type ReceiverRegistry interface {
	Resolve(addr domain.Address) (AssetReceiver, bool)
}
