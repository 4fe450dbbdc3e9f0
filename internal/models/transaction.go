package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifica si una transacción es una compra o una venta
type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "buy"
	TransactionTypeSell TransactionType = "sell"
)

// Valid indica si t es un tipo de transacción soportado.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeBuy || t == TransactionTypeSell
}

// Transaction es una compra o venta de un activo por un usuario. TotalPrice es
// siempre Amount * UnitPrice.
type Transaction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	AssetID    string          `json:"asset_id"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Note       string          `json:"note,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
