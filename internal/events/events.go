// Package events describes what a committed instruction did.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucra/lucra-backend/internal/address"
)

// Kind names the instruction that produced an event.
type Kind string

const (
	KindInitialize         Kind = "INITIALIZE"
	KindOriginate          Kind = "ORIGINATE"
	KindRefund             Kind = "REFUND"
	KindAddCollateral      Kind = "ADD_COLLATERAL"
	KindClose              Kind = "CLOSE"
	KindDeterminePenalty   Kind = "DETERMINE_PENALTY"
	KindHarvestPenalty     Kind = "HARVEST_PENALTY"
	KindCreatePriceHistory Kind = "CREATE_PRICE_HISTORY"
	KindRecordPriceSample  Kind = "RECORD_PRICE_SAMPLE"
	KindPegChanged         Kind = "PEG_CHANGED"
)

// Event is one committed effect. Loan is zero for system-wide events.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	Actor     address.Address `json:"actor"`
	Loan      address.Address `json:"loan"`
	Slot      uint64          `json:"slot"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// New stamps an event with a fresh ID. data is JSON-encoded; an encoding
// failure leaves Data empty.
func New(kind Kind, actor, loanAddr address.Address, slot uint64, ts int64, data any) Event {
	ev := Event{
		ID:        uuid.New(),
		Kind:      kind,
		Actor:     actor,
		Loan:      loanAddr,
		Slot:      slot,
		Timestamp: ts,
		CreatedAt: time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// HasLoan reports whether the event concerns a single loan.
func (e Event) HasLoan() bool {
	return !e.Loan.IsZero()
}
