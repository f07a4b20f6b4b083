package prices

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucra/lucra-backend/internal/oracle"
)

// Registry maps oracle markets to provider symbols
type Registry struct {
	mappings map[oracle.Market]string
}

// NewRegistry creates a registry with the default market mappings
func NewRegistry() *Registry {
	r := &Registry{
		mappings: make(map[oracle.Market]string),
	}

	r.AddMapping(oracle.SolUSDC, "SOLUSDC")
	r.AddMapping(oracle.SolUSDT, "SOLUSDT")
	r.AddMapping(oracle.LucraSol, "LUCRASOL")
	r.AddMapping(oracle.SolMata, "SOLMATA")
	r.AddMapping(oracle.SolMataOrca, "SOLMATA.ORCA")
	r.AddMapping(oracle.SolMataRaydium, "SOLMATA.RAYDIUM")

	return r
}

// AddMapping adds a market to provider symbol mapping
func (r *Registry) AddMapping(market oracle.Market, providerSymbol string) {
	r.mappings[market] = strings.ToUpper(providerSymbol)
}

// Symbol returns the provider symbol for a market
func (r *Registry) Symbol(market oracle.Market) (string, error) {
	symbol, exists := r.mappings[market]
	if !exists {
		return "", fmt.Errorf("no mapping found for market: %s", market)
	}
	return symbol, nil
}

// Markets returns the mapped markets in a stable order
func (r *Registry) Markets() []oracle.Market {
	markets := make([]oracle.Market, 0, len(r.mappings))
	for m := range r.mappings {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i] < markets[j] })
	return markets
}

// GetAllMappings returns all configured mappings
func (r *Registry) GetAllMappings() map[string]string {
	result := make(map[string]string, len(r.mappings))
	for k, v := range r.mappings {
		result[string(k)] = v
	}
	return result
}
