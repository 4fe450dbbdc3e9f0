package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/config"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/database"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/yanun0323/logs"
)

// app contiene los servicios construidos una sola vez al arrancar el proceso.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	store      repository.Store
	users      repository.UserStore
	market     *services.MarketCache
	reconciler *services.Reconciler
	portfolio  *services.PortfolioService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.StoreKind {
	case config.StoreKindMemory:
		logs.Info("usando almacenamiento en memoria, los datos no se persisten")
		a.store = repository.NewMemoryStore()
		a.users = repository.NewMemoryUserRepository()
	default:
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.store = repository.NewPostgresStore(db)
		a.users = repository.NewUserRepository(db)
	}

	client := services.NewCoinGeckoClient(cfg.Market.APIURL, cfg.Market.APIKey, cfg.Market.FetchTimeout)
	a.market = services.NewMarketCache(client, services.MarketCacheOptions{
		Currency:        cfg.Market.Currency,
		RefreshInterval: cfg.Market.RefreshInterval,
		FetchTimeout:    cfg.Market.FetchTimeout,
	})
	a.reconciler = services.NewReconciler(a.store, a.market)
	a.portfolio = services.NewPortfolioService(a.store, a.market)

	return a, nil
}

// Close detiene el refresco de precios y cierra la base de datos, en ese orden.
func (a *app) Close() {
	a.market.Stop()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logs.Errorf("close database, err: %+v", err)
		}
	}
}
