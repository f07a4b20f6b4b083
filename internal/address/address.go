package address

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Size is the byte length of an account address.
const Size = 32

// Address identifies an account: a loan, an owner, a vault or a mint.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

var errInvalidLength = errors.New("address: decoded value is not 32 bytes")

// Parse decodes a base58 address.
func Parse(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("address: decode %q: %w", s, err)
	}
	if len(raw) != Size {
		return a, errInvalidLength
	}
	copy(a[:], raw)
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromPublicKey derives the account address owned by a secp256k1 key.
func FromPublicKey(pub *secp256k1.PublicKey) Address {
	return Address(sha3.Sum256(pub.SerializeCompressed()))
}

// FromSeed derives a deterministic address from a label. Used for
// program-owned accounts such as the derivative vault.
func FromSeed(seed string) Address {
	return Address(sha3.Sum256([]byte("lucra:" + seed)))
}

func (a Address) String() string { return base58.Encode(a[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Zero }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
