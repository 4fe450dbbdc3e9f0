package services

import (
	"fmt"
	"slices"
	"strings"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/shopspring/decimal"
)

// costBasis acumula el costo promedio ponderado de una posición.
type costBasis struct {
	Amount      decimal.Decimal
	AverageCost decimal.Decimal
}

// buy suma el lote al promedio: (held*avg + amount*price) / (held+amount).
func (c *costBasis) buy(amount, unitPrice decimal.Decimal) {
	totalCost := c.Amount.Mul(c.AverageCost).Add(amount.Mul(unitPrice))
	c.Amount = c.Amount.Add(amount)
	c.AverageCost = totalCost.Div(c.Amount)
}

// sell reduce la cantidad sin tocar el costo promedio y devuelve la ganancia
// realizada amount*(unitPrice-avg). Una posición vendida hasta exactamente
// cero vuelve a costo promedio cero.
func (c *costBasis) sell(amount, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if c.Amount.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: selling %s with %s held", ErrInsufficientHoldings, amount, c.Amount)
	}
	realized := amount.Mul(unitPrice.Sub(c.AverageCost))
	c.Amount = c.Amount.Sub(amount)
	if c.Amount.IsZero() {
		c.AverageCost = decimal.Zero
	}
	return realized, nil
}

func (c *costBasis) apply(kind models.TransactionType, amount, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case models.TransactionTypeBuy:
		c.buy(amount, unitPrice)
		return decimal.Zero, nil
	case models.TransactionTypeSell:
		return c.sell(amount, unitPrice)
	default:
		return decimal.Zero, ErrInvalidKind
	}
}

// ReplayResult es el estado de una posición reconstruido desde su historial.
type ReplayResult struct {
	Amount       decimal.Decimal `json:"amount"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	RealizedGain decimal.Decimal `json:"realized_gain"`
}

// Closed indica si la posición reconstruida no tiene tenencia.
func (r ReplayResult) Closed() bool {
	return r.Amount.IsZero()
}

// Replay reconstruye una posición aplicando txs en el orden en que fueron
// registradas (created_at, luego id), que es el mismo orden en que
// ApplyTransaction las aceptó. Devuelve ErrInsufficientHoldings en la primera
// venta que supera la tenencia.
func Replay(txs []models.Transaction) (ReplayResult, error) {
	ordered := slices.Clone(txs)
	slices.SortStableFunc(ordered, func(a, b models.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	var (
		basis    costBasis
		realized = decimal.Zero
	)
	for _, tr := range ordered {
		gain, err := basis.apply(tr.Type, tr.Amount, tr.UnitPrice)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("transaction %s: %w", tr.ID, err)
		}
		realized = realized.Add(gain)
	}

	return ReplayResult{
		Amount:       basis.Amount,
		AverageCost:  basis.AverageCost,
		RealizedGain: realized,
	}, nil
}
