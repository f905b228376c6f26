package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSetTokenPayment EventType = "SET_TOKEN_PAYMENT"
	EventSetFee          EventType = "SET_FEE"
	EventClaimRentFee    EventType = "CLAIM_RENT_FEE"
	EventClaimProtocol   EventType = "CLAIM_PROTOCOL_FEE"
	EventSetBaseURI      EventType = "SET_BASE_URI"
	EventTransfer        EventType = "TRANSFER"
	EventApproval        EventType = "APPROVAL"
	EventApprovalForAll  EventType = "APPROVAL_FOR_ALL"
	EventConsumerChanged EventType = "CONSUMER_CHANGED"
)

// Event is one observable signal, persisted to an append-only log. Fields not
// meaningful for a given type stay at their zero value.
type Event struct {
	ID         string
	Type       EventType
	Asset      uint64
	Instrument Address
	From       Address
	To         Address
	Recipient  Address
	Amount     uint64
	FeePct     uint64
	Accepted   bool
	URI        string
	CreatedAt  int64
}

func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// EventRepository is the append-only signal log.
type EventRepository interface {
	Append(ctx context.Context, events ...Event) error
	// List returns events in append order, newest last. A zero limit means no
	// limit.
	List(ctx context.Context, limit int) ([]Event, error)
	Close()
}
