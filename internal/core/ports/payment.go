package ports

import (
	"context"

	"github.com/rentgrid/rentd/internal/core/domain"
)

// PaymentExecutor is the host's payment transfer primitive. For the native
// instrument it is a direct value transfer, for any other instrument a token
// transfer call. A failure aborts the enclosing claim.
type PaymentExecutor interface {
	Transfer(
		ctx context.Context, recipient, instrument domain.Address, amount uint64,
	) error
}
