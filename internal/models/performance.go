package models

import "github.com/shopspring/decimal"

type Performance struct {
	TopGainer *PerformanceDetail `json:"top_gainer"`
	TopLoser  *PerformanceDetail `json:"top_loser"`
}

type PerformanceDetail struct {
	AssetID      string          `json:"asset_id"`
	Symbol       string          `json:"symbol"`
	ChangePct24h decimal.Decimal `json:"change_percent_24h"`
	PriceChange  decimal.Decimal `json:"price_change"`
	ImageURL     string          `json:"image_url,omitempty"`
}
