package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

var hundred = decimal.NewFromInt(100)

// PriceSource es la vista de solo lectura del mercado que necesitan los reportes.
type PriceSource interface {
	GetAssetList(ctx context.Context, currency string) []models.Asset
	LastUpdated(currency string) time.Time
	DefaultCurrency() string
}

// PortfolioService arma las vistas de lectura del portafolio de un usuario.
type PortfolioService struct {
	store  repository.Store
	market PriceSource
}

func NewPortfolioService(store repository.Store, market PriceSource) *PortfolioService {
	return &PortfolioService{store: store, market: market}
}

func (s *PortfolioService) ListTransactions(ctx context.Context, userID string, filter repository.TransactionFilter) ([]models.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

// GetTransactionDetails devuelve la transacción con su valor a precio de mercado.
func (s *PortfolioService) GetTransactionDetails(ctx context.Context, userID, id, currency string) (*models.TransactionDetails, error) {
	tr, err := s.store.GetTransaction(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	details := &models.TransactionDetails{Transaction: *tr}
	asset, ok := s.priceIndex(ctx, currency)[tr.AssetID]
	if !ok {
		return details, nil
	}

	details.Priced = true
	details.CurrentPrice = asset.CurrentPrice
	details.CurrentValue = tr.Amount.Mul(asset.CurrentPrice)
	details.GainLoss = details.CurrentValue.Sub(tr.TotalPrice)
	details.GainLossPercent = percentOf(details.GainLoss, tr.TotalPrice)
	return details, nil
}

func (s *PortfolioService) ListPositions(ctx context.Context, userID string) ([]models.Position, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = []models.Position{}
	}
	return positions, nil
}

func (s *PortfolioService) GetPosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	p, err := s.store.GetPosition(ctx, userID, assetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

// Holdings valúa las posiciones abiertas del usuario con los precios del cache.
// Los activos que faltan en el listado de mercado salen con Priced=false y
// quedan fuera de los totales de valor.
func (s *PortfolioService) Holdings(ctx context.Context, userID, currency string) (*models.Holdings, error) {
	if currency == "" {
		currency = s.market.DefaultCurrency()
	}

	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	realized, err := s.realizedByAsset(ctx, userID)
	if err != nil {
		return nil, err
	}
	prices := s.priceIndex(ctx, currency)

	h := &models.Holdings{
		Currency:          currency,
		TotalCurrentValue: decimal.Zero,
		TotalInvested:     decimal.Zero,
		TotalProfit:       decimal.Zero,
		ProfitPercentage:  decimal.Zero,
		RealizedProfit:    decimal.Zero,
		Distribution:      make([]models.HoldingDetail, 0, len(positions)),
		PricesAsOf:        s.market.LastUpdated(currency),
	}
	for _, gain := range realized {
		h.RealizedProfit = h.RealizedProfit.Add(gain)
	}

	pricedInvested := decimal.Zero
	for _, p := range positions {
		d := models.HoldingDetail{
			AssetID:         p.AssetID,
			Symbol:          p.AssetID,
			Name:            p.AssetID,
			Amount:          p.Amount,
			AverageBuyPrice: p.AverageCost,
			TotalInvested:   p.CostBasis(),
			RealizedProfit:  realized[p.AssetID],
		}
		h.TotalInvested = h.TotalInvested.Add(d.TotalInvested)

		if asset, ok := prices[p.AssetID]; ok {
			d.Priced = true
			d.Symbol = asset.Symbol
			d.Name = asset.Name
			d.ImageURL = asset.Image
			d.CurrentPrice = asset.CurrentPrice
			d.ChangePct24h = asset.PriceChangePercent24h
			d.Value = p.Amount.Mul(asset.CurrentPrice)
			d.Profit = d.Value.Sub(d.TotalInvested)
			d.ProfitPercentage = percentOf(d.Profit, d.TotalInvested)

			h.TotalCurrentValue = h.TotalCurrentValue.Add(d.Value)
			h.TotalProfit = h.TotalProfit.Add(d.Profit)
			pricedInvested = pricedInvested.Add(d.TotalInvested)
		}
		h.Distribution = append(h.Distribution, d)
	}
	h.ProfitPercentage = percentOf(h.TotalProfit, pricedInvested)

	for i := range h.Distribution {
		h.Distribution[i].Weight = percentOf(h.Distribution[i].Value, h.TotalCurrentValue)
	}
	sort.SliceStable(h.Distribution, func(i, j int) bool {
		return h.Distribution[i].Value.GreaterThan(h.Distribution[j].Value)
	})

	h.Performance = performanceOf(h.Distribution, prices)
	return h, nil
}

// realizedByAsset recorre todo el historial del usuario, posiciones cerradas incluidas.
func (s *PortfolioService) realizedByAsset(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	txs, err := s.store.ListTransactions(ctx, userID, repository.TransactionFilter{})
	if err != nil {
		return nil, err
	}

	byAsset := make(map[string][]models.Transaction)
	for _, tr := range txs {
		byAsset[tr.AssetID] = append(byAsset[tr.AssetID], tr)
	}

	realized := make(map[string]decimal.Decimal, len(byAsset))
	for assetID, history := range byAsset {
		result, err := Replay(history)
		if err != nil {
			logs.Errorf("historial inconsistente para %s/%s, err: %+v", userID, assetID, err)
			continue
		}
		realized[assetID] = result.RealizedGain
	}
	return realized, nil
}

func (s *PortfolioService) priceIndex(ctx context.Context, currency string) map[string]models.Asset {
	assets := s.market.GetAssetList(ctx, currency)
	index := make(map[string]models.Asset, len(assets))
	for _, a := range assets {
		index[a.ID] = a
	}
	return index
}

// performanceOf elige la mejor y la peor variación de 24h entre las tenencias
// con precio. Una tenencia que subió nunca es la peor, ni al revés.
func performanceOf(details []models.HoldingDetail, prices map[string]models.Asset) models.Performance {
	var perf models.Performance
	for _, d := range details {
		if !d.Priced {
			continue
		}
		detail := &models.PerformanceDetail{
			AssetID:      d.AssetID,
			Symbol:       d.Symbol,
			ChangePct24h: d.ChangePct24h,
			PriceChange:  prices[d.AssetID].PriceChange24h,
			ImageURL:     d.ImageURL,
		}
		if !d.ChangePct24h.IsNegative() {
			if perf.TopGainer == nil || d.ChangePct24h.GreaterThan(perf.TopGainer.ChangePct24h) {
				perf.TopGainer = detail
			}
		} else if perf.TopLoser == nil || d.ChangePct24h.LessThan(perf.TopLoser.ChangePct24h) {
			perf.TopLoser = detail
		}
	}
	return perf
}

// percentOf devuelve part/whole*100 redondeado a dos decimales, o cero si whole es cero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
