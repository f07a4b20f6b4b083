package store

import (
	"errors"
	"fmt"

	"github.com/fardream/go-bcs/bcs"
)

// Discriminant tags a persisted record. Zero is reserved so an all-zero
// buffer never decodes as a live record.
type Discriminant uint8

const (
	DiscSystem Discriminant = iota + 1
	DiscPriceHistory
	DiscLoan
	DiscBalance
	DiscStakeAccount
	DiscPool
	DiscStakePool
)

func (d Discriminant) String() string {
	switch d {
	case DiscSystem:
		return "system"
	case DiscPriceHistory:
		return "price_history"
	case DiscLoan:
		return "loan"
	case DiscBalance:
		return "balance"
	case DiscStakeAccount:
		return "stake_account"
	case DiscPool:
		return "pool"
	case DiscStakePool:
		return "stake_pool"
	default:
		return fmt.Sprintf("discriminant(%d)", uint8(d))
	}
}

// RecordVersion is the layout version written after the discriminant.
const RecordVersion uint8 = 1

const headerSize = 2

var (
	ErrUninitialized = errors.New("store: record not initialized")
	ErrWrongKind     = errors.New("store: record has unexpected discriminant")
	ErrCorrupt       = errors.New("store: record corrupt")
)

// Encode frames v as [discriminant][version][bcs payload].
func Encode(d Discriminant, v any) ([]byte, error) {
	if d == 0 {
		return nil, fmt.Errorf("encode: %w", ErrUninitialized)
	}
	payload, err := bcs.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d, err)
	}
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, byte(d), RecordVersion)
	return append(out, payload...), nil
}

// Decode checks the frame against want and fills v from the payload.
func Decode(data []byte, want Discriminant, v any) error {
	if len(data) < headerSize {
		return fmt.Errorf("decode %s: %w: %d bytes", want, ErrCorrupt, len(data))
	}
	switch got := Discriminant(data[0]); {
	case got == 0:
		return fmt.Errorf("decode %s: %w", want, ErrUninitialized)
	case got != want:
		return fmt.Errorf("decode %s: %w: found %s", want, ErrWrongKind, got)
	}
	if data[1] != RecordVersion {
		return fmt.Errorf("decode %s: %w: version %d", want, ErrCorrupt, data[1])
	}
	if _, err := bcs.Unmarshal(data[headerSize:], v); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	return nil
}
