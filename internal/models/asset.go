package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset es un snapshot de mercado de una criptomoneda tal como lo entrega el proveedor.
// Nunca se persiste; ID es el id de la moneda en el proveedor (p. ej. "bitcoin").
type Asset struct {
	ID                    string          `json:"id"`
	Symbol                string          `json:"symbol"`
	Name                  string          `json:"name"`
	Image                 string          `json:"image"`
	CurrentPrice          decimal.Decimal `json:"current_price"`
	MarketCap             decimal.Decimal `json:"market_cap"`
	MarketCapRank         int             `json:"market_cap_rank"`
	Volume24h             decimal.Decimal `json:"total_volume"`
	High24h               decimal.Decimal `json:"high_24h"`
	Low24h                decimal.Decimal `json:"low_24h"`
	PriceChange24h        decimal.Decimal `json:"price_change_24h"`
	PriceChangePercent1h  decimal.Decimal `json:"price_change_percentage_1h"`
	PriceChangePercent24h decimal.Decimal `json:"price_change_percentage_24h"`
	PriceChangePercent7d  decimal.Decimal `json:"price_change_percentage_7d"`
	CirculatingSupply     decimal.Decimal `json:"circulating_supply"`
	LastUpdated           time.Time       `json:"last_updated"`
}
