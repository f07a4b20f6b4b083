// Package protoerr defines the error taxonomy shared by every instruction.
//
// A rejected instruction reports a Kind (what went wrong) plus a component
// and condition tag (where it went wrong). Callers match on the Kind with
// errors.Is; the tags are carried for logs only.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected instruction.
type Kind uint8

const (
	Default Kind = iota
	InvalidAmount
	InvalidAccountOwner
	InvalidAccountInput
	NotRentExempt
	Timelock
	InsufficientTimePassed
	MathError
	AccountNotSigner
	StakingNotEnabled
	LoansNotEnabled
	InvalidLoanType
	OracleStatusInvalid
	OracleStale
	NoPenaltyToHarvest
	NotImplemented
	InvalidState
)

var kindNames = map[Kind]string{
	Default:                "Default",
	InvalidAmount:          "InvalidAmount",
	InvalidAccountOwner:    "InvalidAccountOwner",
	InvalidAccountInput:    "InvalidAccountInput",
	NotRentExempt:          "NotRentExempt",
	Timelock:               "Timelock",
	InsufficientTimePassed: "InsufficientTimePassed",
	MathError:              "MathError",
	AccountNotSigner:       "AccountNotSigner",
	StakingNotEnabled:      "StakingNotEnabled",
	LoansNotEnabled:        "LoansNotEnabled",
	InvalidLoanType:        "InvalidLoanType",
	OracleStatusInvalid:    "OracleStatusInvalid",
	OracleStale:            "OracleStale",
	NoPenaltyToHarvest:     "NoPenaltyToHarvest",
	NotImplemented:         "NotImplemented",
	InvalidState:           "InvalidState",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a tagged instruction failure.
type Error struct {
	Kind      Kind
	Component string
	Condition string
}

// New builds a tagged error.
func New(kind Kind, component, condition string) *Error {
	return &Error{Kind: kind, Component: component, Condition: condition}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Component, e.Kind, e.Condition)
}

func (e *Error) Unwrap() error { return e.Kind }

// Check returns a tagged error when ok is false.
func Check(ok bool, kind Kind, component, condition string) error {
	if ok {
		return nil
	}
	return New(kind, component, condition)
}

// Math tags a checked-arithmetic failure.
func Math(component, condition string) *Error {
	return New(MathError, component, condition)
}

// KindOf extracts the Kind from err. ok is false for errors that did not
// originate from an instruction check (storage, transport).
func KindOf(err error) (Kind, bool) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind, true
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind, true
	}
	return Default, false
}

// Tags returns component and condition for logging; empty for untagged errors.
func Tags(err error) (component, condition string) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Component, tagged.Condition
	}
	return "", ""
}
