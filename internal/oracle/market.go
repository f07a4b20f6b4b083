package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/protoerr"
)

// Market names an aggregated price source.
type Market string

const (
	SolUSDC        Market = "SOL/USDC"
	SolUSDT        Market = "SOL/USDT"
	LucraSol       Market = "LUCRA/SOL"
	SolMata        Market = "SOL/MATA"
	SolMataOrca    Market = "SOL/MATA@orca"
	SolMataRaydium Market = "SOL/MATA@raydium"
)

// Markets lists every market the facility reads.
func Markets() []Market {
	return []Market{SolUSDC, SolUSDT, LucraSol, SolMata, SolMataOrca, SolMataRaydium}
}

// Venue is a decentralized exchange the harvest flow can route through.
type Venue uint8

const (
	VenueNone Venue = iota
	VenueOrca
	VenueRaydium
)

func (v Venue) String() string {
	switch v {
	case VenueOrca:
		return "orca"
	case VenueRaydium:
		return "raydium"
	default:
		return "none"
	}
}

// ParseVenue maps a venue name to its Venue.
func ParseVenue(s string) (Venue, error) {
	switch s {
	case "orca":
		return VenueOrca, nil
	case "raydium":
		return VenueRaydium, nil
	case "", "none":
		return VenueNone, nil
	default:
		return VenueNone, fmt.Errorf("unknown venue %q", s)
	}
}

// VenueMarket is the per-venue SOL/MATA source carrying that venue's volume.
func VenueMarket(v Venue) (Market, bool) {
	switch v {
	case VenueOrca:
		return SolMataOrca, true
	case VenueRaydium:
		return SolMataRaydium, true
	default:
		return "", false
	}
}

// Alternative returns the venue a choice is compared against.
func (v Venue) Alternative() Venue {
	switch v {
	case VenueOrca:
		return VenueRaydium
	case VenueRaydium:
		return VenueOrca
	default:
		return VenueNone
	}
}

// Prices composes single-hop derivations into the prices instructions need.
type Prices struct {
	reader  FeedReader
	deriver Deriver
}

// NewPrices binds a feed reader to a deriver.
func NewPrices(reader FeedReader, deriver Deriver) *Prices {
	return &Prices{reader: reader, deriver: deriver}
}

func (p *Prices) derive(ctx context.Context, market Market, slot uint64) (decimal.Decimal, error) {
	feed, err := p.reader.ReadRawFeed(ctx, market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s feed: %w", market, err)
	}
	price, err := p.deriver.DerivePrice(feed, slot)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", market, err)
	}
	return price, nil
}

// Sol is the native coin's dollar price: the lower of its two stablecoin quotes.
func (p *Prices) Sol(ctx context.Context, slot uint64) (decimal.Decimal, error) {
	usdc, err := p.derive(ctx, SolUSDC, slot)
	if err != nil {
		return decimal.Zero, err
	}
	usdt, err := p.derive(ctx, SolUSDT, slot)
	if err != nil {
		return decimal.Zero, err
	}
	return Lower(usdc, usdt), nil
}

// Lucra is the governance token's dollar price via LUCRA/SOL × SOL/USD.
func (p *Prices) Lucra(ctx context.Context, slot uint64) (decimal.Decimal, error) {
	lucraSol, err := p.derive(ctx, LucraSol, slot)
	if err != nil {
		return decimal.Zero, err
	}
	solUSD, err := p.Sol(ctx, slot)
	if err != nil {
		return decimal.Zero, err
	}
	return lucraSol.Mul(solUSD), nil
}

// Mata is the synthetic asset's dollar price via (1 / SOL/MATA) × SOL/USD.
func (p *Prices) Mata(ctx context.Context, slot uint64) (decimal.Decimal, error) {
	solMata, err := p.derive(ctx, SolMata, slot)
	if err != nil {
		return decimal.Zero, err
	}
	solUSD, err := p.Sol(ctx, slot)
	if err != nil {
		return decimal.Zero, err
	}
	mataSol, err := Reciprocal(solMata)
	if err != nil {
		return decimal.Zero, err
	}
	return mataSol.Mul(solUSD), nil
}

// VerifyVenue checks the chosen venue out-traded the alternative.
func (p *Prices) VerifyVenue(ctx context.Context, venue Venue) error {
	chosenMarket, ok := VenueMarket(venue)
	if !ok {
		return protoerr.New(protoerr.NotImplemented, component, "venue_not_supported")
	}
	otherMarket, _ := VenueMarket(venue.Alternative())

	chosen, err := p.reader.ReadRawFeed(ctx, chosenMarket)
	if err != nil {
		return fmt.Errorf("read %s feed: %w", chosenMarket, err)
	}
	other, err := p.reader.ReadRawFeed(ctx, otherMarket)
	if err != nil {
		return fmt.Errorf("read %s feed: %w", otherMarket, err)
	}
	return VerifyVenueVolume(chosen, other)
}

// BestVenue returns the venue whose feed reports the higher volume. Ties go
// to Orca.
func (p *Prices) BestVenue(ctx context.Context) (Venue, error) {
	orca, err := p.reader.ReadRawFeed(ctx, SolMataOrca)
	if err != nil {
		return VenueNone, fmt.Errorf("read %s feed: %w", SolMataOrca, err)
	}
	raydium, err := p.reader.ReadRawFeed(ctx, SolMataRaydium)
	if err != nil {
		return VenueNone, fmt.Errorf("read %s feed: %w", SolMataRaydium, err)
	}
	if raydium.Volume > orca.Volume {
		return VenueRaydium, nil
	}
	return VenueOrca, nil
}
