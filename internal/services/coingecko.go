package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

	marketsPerPage      = 100
	marketsOrder        = "market_cap_desc"
	marketsChangeWindow = "1h,24h,7d"
)

// MarketFetcher trae el listado de mercado completo para una moneda.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, currency string) ([]models.Asset, error)
}

// CoinGeckoClient consulta el endpoint /coins/markets de CoinGecko.
type CoinGeckoClient struct {
	baseURL string
	apiKey  string
	cli     *http.Client
}

func NewCoinGeckoClient(baseURL, apiKey string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		cli:     &http.Client{Timeout: timeout},
	}
}

// coinMarket es la forma de cada elemento de la respuesta de CoinGecko.
// Campos nulos, ausentes o con un tipo inesperado quedan en cero.
type coinMarket struct {
	ID                       string         `json:"id"`
	Symbol                   lenientString  `json:"symbol"`
	Name                     lenientString  `json:"name"`
	Image                    lenientString  `json:"image"`
	CurrentPrice             lenientDecimal `json:"current_price"`
	MarketCap                lenientDecimal `json:"market_cap"`
	MarketCapRank            lenientDecimal `json:"market_cap_rank"`
	TotalVolume              lenientDecimal `json:"total_volume"`
	High24h                  lenientDecimal `json:"high_24h"`
	Low24h                   lenientDecimal `json:"low_24h"`
	PriceChange24h           lenientDecimal `json:"price_change_24h"`
	PriceChangePercentage24h lenientDecimal `json:"price_change_percentage_24h"`
	CirculatingSupply        lenientDecimal `json:"circulating_supply"`
	LastUpdated              lenientString  `json:"last_updated"`

	Change1hInCurrency  lenientDecimal `json:"price_change_percentage_1h_in_currency"`
	Change24hInCurrency lenientDecimal `json:"price_change_percentage_24h_in_currency"`
	Change7dInCurrency  lenientDecimal `json:"price_change_percentage_7d_in_currency"`
}

// lenientDecimal acepta números o strings numéricos. Cualquier otra cosa
// deja el valor en cero sin cortar la decodificación del elemento.
type lenientDecimal struct {
	Value decimal.Decimal
	Valid bool
}

func (d *lenientDecimal) UnmarshalJSON(b []byte) error {
	*d = lenientDecimal{}
	if string(b) == "null" {
		return nil
	}
	var v decimal.Decimal
	if err := v.UnmarshalJSON(b); err != nil {
		return nil
	}
	d.Value, d.Valid = v, true
	return nil
}

// lenientString acepta strings y números; el resto queda vacío.
type lenientString string

func (s *lenientString) UnmarshalJSON(b []byte) error {
	*s = ""
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = lenientString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*s = lenientString(num.String())
	}
	return nil
}

func (m coinMarket) toAsset() models.Asset {
	asset := models.Asset{
		ID:                    m.ID,
		Symbol:                string(m.Symbol),
		Name:                  string(m.Name),
		Image:                 string(m.Image),
		CurrentPrice:          m.CurrentPrice.Value,
		MarketCap:             m.MarketCap.Value,
		MarketCapRank:         int(m.MarketCapRank.Value.IntPart()),
		Volume24h:             m.TotalVolume.Value,
		High24h:               m.High24h.Value,
		Low24h:                m.Low24h.Value,
		PriceChange24h:        m.PriceChange24h.Value,
		PriceChangePercent24h: m.PriceChangePercentage24h.Value,
		CirculatingSupply:     m.CirculatingSupply.Value,
	}
	if m.Change1hInCurrency.Valid {
		asset.PriceChangePercent1h = m.Change1hInCurrency.Value
	}
	if m.Change24hInCurrency.Valid {
		asset.PriceChangePercent24h = m.Change24hInCurrency.Value
	}
	if m.Change7dInCurrency.Valid {
		asset.PriceChangePercent7d = m.Change7dInCurrency.Value
	}
	if t, err := time.Parse(time.RFC3339, string(m.LastUpdated)); err == nil {
		asset.LastUpdated = t.UTC()
	}
	return asset
}

func (c *CoinGeckoClient) marketsURL(currency string) string {
	q := url.Values{}
	q.Set("vs_currency", currency)
	q.Set("order", marketsOrder)
	q.Set("per_page", fmt.Sprint(marketsPerPage))
	q.Set("page", "1")
	q.Set("sparkline", "false")
	q.Set("price_change_percentage", marketsChangeWindow)
	return c.baseURL + "/coins/markets?" + q.Encode()
}

// FetchMarkets hace un único GET al listado de mercado. Cualquier error de red,
// de estado HTTP o de decodificación se devuelve envuelto en ErrUpstreamUnavailable.
func (c *CoinGeckoClient) FetchMarkets(ctx context.Context, currency string) ([]models.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.marketsURL(currency), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: coingecko http %d: %s", ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode markets: %w", ErrUpstreamUnavailable, err)
	}

	assets := make([]models.Asset, 0, len(raw))
	for i, item := range raw {
		var m coinMarket
		if err := json.Unmarshal(item, &m); err != nil {
			logs.Errorf("skipping market entry %d (%s), err: %+v", i, currency, err)
			continue
		}
		if m.ID == "" {
			continue
		}
		assets = append(assets, m.toAsset())
	}
	return assets, nil
}
