package peg

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/lucra/lucra-backend/internal/system"
)

func TestBroken(t *testing.T) {
	tests := []struct {
		price  string
		broken bool
	}{
		{"1", false},
		{"0.95", false},
		{"1.05", false},
		{"0.9499", true},
		{"1.0501", true},
		{"0.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			assert.Equal(t, tt.broken, Broken(decimal.RequireFromString(tt.price), 500))
		})
	}
}

func TestUpdate(t *testing.T) {
	s := &system.State{PegCheckEnabled: true, PegToleranceBps: 500}

	assert.True(t, Update(s, decimal.RequireFromString("0.90")))
	assert.True(t, s.PegBroken)

	assert.False(t, Update(s, decimal.RequireFromString("0.80")))
	assert.True(t, s.PegBroken)

	assert.True(t, Update(s, decimal.RequireFromString("0.99")))
	assert.False(t, s.PegBroken)
}

func TestUpdateDisabled(t *testing.T) {
	s := &system.State{PegToleranceBps: 500, PegBroken: true}
	assert.False(t, Update(s, decimal.NewFromInt(1)))
	assert.True(t, s.PegBroken)
}
