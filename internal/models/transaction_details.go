package models

import "github.com/shopspring/decimal"

// TransactionDetails agrega el contexto de mercado a una transacción guardada.
type TransactionDetails struct {
	Transaction     Transaction     `json:"transaction"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	CurrentValue    decimal.Decimal `json:"current_value"`     // Amount * CurrentPrice
	GainLoss        decimal.Decimal `json:"gain_loss"`         // CurrentValue - TotalPrice
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"` // (GainLoss / TotalPrice) * 100
	Priced          bool            `json:"priced"`
}
