package scryfall

import (
	"context"

	"github.com/shopspring/decimal"

	"mana-sync-service/internal/sync"
)

// Symbol is a Scryfall card symbol such as {W}, {2/U} or {T}.
type Symbol struct {
	Symbol             string          `json:"symbol"`
	LooseVariant       *string         `json:"loose_variant"`
	English            string          `json:"english"`
	SVGURI             *string         `json:"svg_uri"`
	Transposable       bool            `json:"transposable"`
	RepresentsMana     bool            `json:"represents_mana"`
	AppearsInManaCosts bool            `json:"appears_in_mana_costs"`
	ManaValue          decimal.Decimal `json:"mana_value"`
	Hybrid             bool            `json:"hybrid"`
	Phyrexian          bool            `json:"phyrexian"`
	Funny              bool            `json:"funny"`
	Colors             []string        `json:"colors"`
	GathererAlternates []string        `json:"gatherer_alternates"`
}

func (s Symbol) Key() string  { return s.Symbol }
func (s Symbol) Content() any { return s }

// FetchSymbols returns the full symbology catalog.
func (c *Client) FetchSymbols(ctx context.Context) ([]Symbol, error) {
	return fetchList[Symbol](ctx, c, c.baseURL+"/symbology")
}

// SymbolSource syncs the symbology catalog.
type SymbolSource struct {
	client *Client
}

func NewSymbolSource(client *Client) *SymbolSource {
	return &SymbolSource{client: client}
}

func (s *SymbolSource) Name() string { return "scryfall:symbology" }

func (s *SymbolSource) FetchCurrentRecords(ctx context.Context) ([]sync.Record, error) {
	symbols, err := s.client.FetchSymbols(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]sync.Record, len(symbols))
	for i, sym := range symbols {
		records[i] = sym
	}
	return records, nil
}
