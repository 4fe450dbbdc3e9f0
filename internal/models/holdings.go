package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holdings representa el resumen de las tenencias del usuario valuadas a precio de mercado
type Holdings struct {
	Currency          string          `json:"currency"`
	TotalCurrentValue decimal.Decimal `json:"total_current_value"` // Valor total actual de todas las criptomonedas
	TotalInvested     decimal.Decimal `json:"total_invested"`      // Costo de las tenencias actuales
	TotalProfit       decimal.Decimal `json:"total_profit"`        // Ganancia o pérdida no realizada
	ProfitPercentage  decimal.Decimal `json:"profit_percentage"`
	RealizedProfit    decimal.Decimal `json:"realized_profit"` // Ganancia acumulada por ventas
	Distribution      []HoldingDetail `json:"distribution"`
	Performance       Performance     `json:"performance"`
	PricesAsOf        time.Time       `json:"prices_as_of"`
}

// HoldingDetail es una posición valuada al precio actual de mercado.
// Priced es false cuando el activo no está en el listado de mercado.
type HoldingDetail struct {
	AssetID          string          `json:"asset_id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	ImageURL         string          `json:"image_url,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	AverageBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Value            decimal.Decimal `json:"value"`          // Amount * CurrentPrice
	TotalInvested    decimal.Decimal `json:"total_invested"` // Amount * AverageBuyPrice
	Profit           decimal.Decimal `json:"profit"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
	RealizedProfit   decimal.Decimal `json:"realized_profit"`
	Weight           decimal.Decimal `json:"weight"` // Porcentaje del portafolio (0-100)
	ChangePct24h     decimal.Decimal `json:"change_percent_24h"`
	Priced           bool            `json:"priced"`
}
