package payments

import (
	"context"
	"sync"

	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// PayoutInstruction is one transfer handed over to the host for execution.
type PayoutInstruction struct {
	Recipient  domain.Address
	Instrument domain.Address
	Amount     uint64
}

type LogExecutor struct {
	lock    sync.Mutex
	payouts []PayoutInstruction
}

// NewLogExecutor returns a payment executor that records payout instructions
// and logs them. Moving the actual funds is up to the host.
func NewLogExecutor() *LogExecutor {
	return &LogExecutor{}
}

var _ ports.PaymentExecutor = (*LogExecutor)(nil)

func (e *LogExecutor) Transfer(
	ctx context.Context, recipient, instrument domain.Address, amount uint64,
) error {
	e.lock.Lock()
	e.payouts = append(e.payouts, PayoutInstruction{
		Recipient:  recipient,
		Instrument: instrument,
		Amount:     amount,
	})
	e.lock.Unlock()

	log.WithFields(log.Fields{
		"recipient":  recipient,
		"instrument": instrument,
		"amount":     amount,
	}).Info("recorded payout instruction")
	return nil
}

// Payouts returns the instructions recorded so far.
func (e *LogExecutor) Payouts() []PayoutInstruction {
	e.lock.Lock()
	defer e.lock.Unlock()
	payouts := make([]PayoutInstruction, len(e.payouts))
	copy(payouts, e.payouts)
	return payouts
}
