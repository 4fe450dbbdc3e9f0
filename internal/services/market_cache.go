package services

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval = 20 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
	DefaultCurrency        = "usd"
)

// MarketCacheOptions configura un MarketCache. Los valores cero usan los defaults.
type MarketCacheOptions struct {
	Currency        string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

// MarketStatus describe el estado del cache de una moneda.
type MarketStatus struct {
	Currency    string    `json:"currency"`
	Assets      int       `json:"assets"`
	FetchedAt   time.Time `json:"fetched_at"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// marketSnapshot no cambia una vez publicado; cada refresco publica uno nuevo.
type marketSnapshot struct {
	assets    []models.Asset
	index     map[string]int
	fetchedAt time.Time
	lastErr   string
	lastErrAt time.Time
}

func newMarketSnapshot(assets []models.Asset, fetchedAt time.Time) *marketSnapshot {
	index := make(map[string]int, len(assets))
	for i, a := range assets {
		index[a.ID] = i
	}
	return &marketSnapshot{assets: assets, index: index, fetchedAt: fetchedAt}
}

// MarketCache es el cache compartido del listado de mercado, una entrada por moneda.
//
// Las lecturas se sirven desde memoria. Una lectura en frío consulta al
// proveedor en el momento; el ciclo iniciado con Start vuelve a traer cada
// moneda que se cargó al menos una vez. Los errores del proveedor no llegan a
// los lectores: reciben el último listado bueno, o una lista vacía.
type MarketCache struct {
	fetcher         MarketFetcher
	defaultCurrency string
	interval        time.Duration
	timeout         time.Duration
	now             func() time.Time

	mu        sync.RWMutex
	snapshots map[string]*marketSnapshot

	group singleflight.Group

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMarketCache(fetcher MarketFetcher, opts MarketCacheOptions) *MarketCache {
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &MarketCache{
		fetcher:         fetcher,
		defaultCurrency: normalizeCurrency(opts.Currency, DefaultCurrency),
		interval:        opts.RefreshInterval,
		timeout:         opts.FetchTimeout,
		now:             time.Now,
		snapshots:       make(map[string]*marketSnapshot),
	}
}

// DefaultCurrency devuelve la moneda usada por GetAssetByID y AssetExists.
func (c *MarketCache) DefaultCurrency() string {
	return c.defaultCurrency
}

// Start inicia el refresco periódico. Llamarlo con el cache ya iniciado no hace nada.
func (c *MarketCache) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, c.done)

	logs.Infof("servicio de precios iniciado, intervalo %v, moneda %s", c.interval, c.defaultCurrency)
}

// Stop detiene el refresco y espera a que termine el ciclo en curso.
func (c *MarketCache) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	logs.Info("servicio de precios detenido")
}

func (c *MarketCache) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Actualizar inmediatamente al iniciar
	c.refreshAll(ctx)

	for {
		select {
		case <-ticker.C:
			c.refreshAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *MarketCache) refreshAll(ctx context.Context) {
	for _, currency := range c.trackedCurrencies() {
		if ctx.Err() != nil {
			return
		}
		c.load(ctx, currency, false)
	}
}

func (c *MarketCache) trackedCurrencies() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	currencies := []string{c.defaultCurrency}
	for currency := range c.snapshots {
		if currency != c.defaultCurrency {
			currencies = append(currencies, currency)
		}
	}
	sort.Strings(currencies[1:])
	return currencies
}

// load trae currency y publica el resultado. Cargas concurrentes de la misma
// moneda comparten una sola llamada al proveedor. Con cold, si otro llamador
// ya publicó un snapshot, se devuelve ese sin volver a consultar.
func (c *MarketCache) load(ctx context.Context, currency string, cold bool) *marketSnapshot {
	v, _, _ := c.group.Do(currency, func() (any, error) {
		if cold {
			if snap := c.snapshot(currency); snap != nil {
				return snap, nil
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		assets, err := c.fetcher.FetchMarkets(fetchCtx, currency)
		if err != nil {
			logs.Errorf("error al actualizar precios (%s), se mantiene el último snapshot, err: %+v", currency, err)
			return c.recordFailure(currency, err), nil
		}

		snap := newMarketSnapshot(assets, c.now())
		c.mu.Lock()
		c.snapshots[currency] = snap
		c.mu.Unlock()

		logs.Infof("precios actualizados (%s): %d activos", currency, len(assets))
		return snap, nil
	})

	snap, _ := v.(*marketSnapshot)
	return snap
}

// recordFailure conserva los activos anteriores y anota el error en una copia
// del snapshot. Las monedas que nunca cargaron no se siguen.
func (c *MarketCache) recordFailure(currency string, err error) *marketSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.snapshots[currency]
	if !ok {
		return nil
	}
	next := *prev
	next.lastErr = err.Error()
	next.lastErrAt = c.now()
	c.snapshots[currency] = &next
	return &next
}

func (c *MarketCache) snapshot(currency string) *marketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[currency]
}

// current devuelve el snapshot publicado de currency y lo trae primero si el
// cache está frío.
func (c *MarketCache) current(ctx context.Context, currency string) *marketSnapshot {
	if snap := c.snapshot(currency); snap != nil {
		return snap
	}
	// Un lector cancelado no debe hacer fallar la consulta que esperan los demás.
	return c.load(context.WithoutCancel(ctx), currency, true)
}

// GetAssetList devuelve el listado de mercado en currency (la moneda por defecto si
// está vacía). Nunca falla: ante un error del proveedor devuelve el último
// listado conocido o una lista vacía.
func (c *MarketCache) GetAssetList(ctx context.Context, currency string) []models.Asset {
	snap := c.current(ctx, normalizeCurrency(currency, c.defaultCurrency))
	if snap == nil {
		return []models.Asset{}
	}
	return slices.Clone(snap.assets)
}

// GetAssetByID busca un activo en el listado de la moneda por defecto.
func (c *MarketCache) GetAssetByID(ctx context.Context, id string) (models.Asset, bool) {
	return c.lookup(ctx, c.defaultCurrency, id)
}

// GetAssetIn busca un activo en el listado de currency.
func (c *MarketCache) GetAssetIn(ctx context.Context, currency, id string) (models.Asset, bool) {
	return c.lookup(ctx, normalizeCurrency(currency, c.defaultCurrency), id)
}

func (c *MarketCache) lookup(ctx context.Context, currency, id string) (models.Asset, bool) {
	snap := c.current(ctx, currency)
	if snap == nil {
		return models.Asset{}, false
	}
	i, ok := snap.index[id]
	if !ok {
		return models.Asset{}, false
	}
	return snap.assets[i], true
}

// AssetExists indica si id está en el listado actual de la moneda por defecto.
func (c *MarketCache) AssetExists(ctx context.Context, id string) bool {
	_, ok := c.GetAssetByID(ctx, id)
	return ok
}

// LastUpdated devuelve cuándo se cargó por última vez currency, o cero si nunca.
func (c *MarketCache) LastUpdated(currency string) time.Time {
	snap := c.snapshot(normalizeCurrency(currency, c.defaultCurrency))
	if snap == nil {
		return time.Time{}
	}
	return snap.fetchedAt
}

// Status devuelve el estado de cada moneda cargada, empezando por la default.
func (c *MarketCache) Status() []MarketStatus {
	currencies := c.trackedCurrencies()
	status := make([]MarketStatus, 0, len(currencies))
	for _, currency := range currencies {
		s := MarketStatus{Currency: currency}
		if snap := c.snapshot(currency); snap != nil {
			s.Assets = len(snap.assets)
			s.FetchedAt = snap.fetchedAt
			s.LastError = snap.lastErr
			s.LastErrorAt = snap.lastErrAt
		}
		status = append(status, s)
	}
	return status
}

func normalizeCurrency(currency, fallback string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return fallback
	}
	return currency
}
