package api

import (
	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/system"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Loan status values
const (
	LoanUninitialized = "uninitialized"
	LoanActive        = "active"
	LoanRepaid        = "repaid"
)

type LoanDTO struct {
	Address address.Address `json:"address"`
	Status  string          `json:"status"`
	Type    string          `json:"type,omitempty"`
	Loan    *loan.Active    `json:"loan,omitempty"`
}

func loanDTO(addr address.Address, rec loan.Record) LoanDTO {
	dto := LoanDTO{Address: addr, Status: LoanUninitialized}
	if a, ok := rec.(*loan.Active); ok && a != nil {
		dto.Status = LoanActive
		if a.Repaid {
			dto.Status = LoanRepaid
		}
		dto.Type = a.Type.String()
		dto.Loan = a
	}
	return dto
}

type LoanListDTO struct {
	Loans []address.Address `json:"loans"`
	Count int               `json:"count"`
}

type LoanEventsDTO struct {
	Loan   address.Address `json:"loan"`
	Events []events.Event  `json:"events"`
}

type SystemDTO struct {
	State *system.State `json:"state"`
	AsOf  ClockDTO      `json:"asOf"`
}

type ClockDTO struct {
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unixTimestamp"`
}

type PriceHistoryDTO struct {
	History *pricehistory.History `json:"history"`
	Params  pricehistory.Params   `json:"params"`
	// Entries holds the valid samples, oldest first.
	Entries []pricehistory.Snapshot `json:"entries"`
}

type FeedDTO struct {
	Market        oracle.Market `json:"market"`
	Mantissa      uint64        `json:"mantissa"`
	Exponent      uint8         `json:"exponent"`
	LastValidSlot uint64        `json:"lastValidSlot"`
	Status        uint8         `json:"status"`
	Volume        uint64        `json:"volume"`
	Price         string        `json:"price,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type OraclePricesDTO struct {
	Sol   string    `json:"sol,omitempty"`
	Lucra string    `json:"lucra,omitempty"`
	Mata  string    `json:"mata,omitempty"`
	Feeds []FeedDTO `json:"feeds"`
	AsOf  ClockDTO  `json:"asOf"`
}

type BalanceDTO struct {
	Asset  host.Asset `json:"asset"`
	Amount uint64     `json:"amount"`
}

type AccountDTO struct {
	Address  address.Address   `json:"address"`
	Balances []BalanceDTO      `json:"balances"`
	Stake    host.StakeAccount `json:"stake"`
}

type ReadinessDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
