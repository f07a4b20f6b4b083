package address

import (
	"encoding/json"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	a := FromSeed("vault")
	parsed, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("0OIl")
	assert.Error(t, err)

	_, err = Parse("abc")
	assert.ErrorIs(t, err, errInvalidLength)
}

func TestFromPublicKeyIsStable(t *testing.T) {
	key := secp256k1.PrivKeyFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32})

	first := FromPublicKey(key.PubKey())
	second := FromPublicKey(key.PubKey())
	assert.Equal(t, first, second)
	assert.False(t, first.IsZero())
}

func TestJSONUsesBase58(t *testing.T) {
	a := FromSeed("owner")
	raw, err := json.Marshal(struct {
		Owner Address `json:"owner"`
	}{a})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"`+a.String()+`"}`, string(raw))

	var out struct {
		Owner Address `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, a, out.Owner)
}
