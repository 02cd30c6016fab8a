package scryfall

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"mana-sync-service/internal/sync"
)

type ImageURIs struct {
	Small      string `json:"small,omitempty"`
	Normal     string `json:"normal,omitempty"`
	Large      string `json:"large,omitempty"`
	PNG        string `json:"png,omitempty"`
	ArtCrop    string `json:"art_crop,omitempty"`
	BorderCrop string `json:"border_crop,omitempty"`
}

// Prices are market prices as decimal strings; any of them may be null.
type Prices struct {
	USD     decimal.NullDecimal `json:"usd"`
	USDFoil decimal.NullDecimal `json:"usd_foil"`
	EUR     decimal.NullDecimal `json:"eur"`
	Tix     decimal.NullDecimal `json:"tix"`
}

type CardFace struct {
	Name       string     `json:"name"`
	ManaCost   string     `json:"mana_cost"`
	TypeLine   string     `json:"type_line,omitempty"`
	OracleText string     `json:"oracle_text,omitempty"`
	ImageURIs  *ImageURIs `json:"image_uris,omitempty"`
}

// Card is the subset of a Scryfall card object rendered by card references.
type Card struct {
	ID              string            `json:"id"`
	OracleID        string            `json:"oracle_id,omitempty"`
	Name            string            `json:"name"`
	Lang            string            `json:"lang"`
	ScryfallURI     string            `json:"scryfall_uri"`
	Layout          string            `json:"layout"`
	ManaCost        string            `json:"mana_cost,omitempty"`
	CMC             decimal.Decimal   `json:"cmc"`
	TypeLine        string            `json:"type_line"`
	OracleText      string            `json:"oracle_text,omitempty"`
	Power           string            `json:"power,omitempty"`
	Toughness       string            `json:"toughness,omitempty"`
	Colors          []string          `json:"colors,omitempty"`
	ColorIdentity   []string          `json:"color_identity"`
	Keywords        []string          `json:"keywords,omitempty"`
	Set             string            `json:"set"`
	SetName         string            `json:"set_name"`
	CollectorNumber string            `json:"collector_number"`
	Rarity          string            `json:"rarity"`
	ImageURIs       *ImageURIs        `json:"image_uris,omitempty"`
	CardFaces       []CardFace        `json:"card_faces,omitempty"`
	Prices          Prices            `json:"prices"`
	Legalities      map[string]string `json:"legalities,omitempty"`
}

func (c Card) Key() string  { return c.ID }
func (c Card) Content() any { return c }

// SearchCards runs a full-text Scryfall search and follows every page. A
// query matching nothing yields an empty slice.
func (c *Client) SearchCards(ctx context.Context, query string) ([]Card, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("unique", "cards")
	params.Set("order", "name")

	cards, err := fetchList[Card](ctx, c, c.baseURL+"/cards/search?"+params.Encode())
	if err != nil {
		var fetchErr *sync.FetchError
		var apiErr *APIError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound &&
			errors.As(err, &apiErr) && apiErr.Code == "not_found" {
			return nil, nil
		}
		return nil, err
	}
	return cards, nil
}

// CardSource syncs the result of one card search.
type CardSource struct {
	client *Client
	query  string
}

func NewCardSource(client *Client, query string) *CardSource {
	return &CardSource{client: client, query: query}
}

func (s *CardSource) Name() string { return "scryfall:cards?q=" + s.query }

func (s *CardSource) FetchCurrentRecords(ctx context.Context) ([]sync.Record, error) {
	cards, err := s.client.SearchCards(ctx, s.query)
	if err != nil {
		return nil, err
	}
	records := make([]sync.Record, len(cards))
	for i, card := range cards {
		records[i] = card
	}
	return records, nil
}
