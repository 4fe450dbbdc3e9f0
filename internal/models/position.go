package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position es la tenencia agregada de un activo para un usuario.
// Amount nunca es negativo; una posición que llega a cero se borra.
type Position struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	AverageCost decimal.Decimal `json:"average_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CostBasis devuelve Amount * AverageCost.
func (p Position) CostBasis() decimal.Decimal {
	return p.Amount.Mul(p.AverageCost)
}
