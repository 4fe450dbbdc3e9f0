package middleware

import (
	"context"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/clerk/clerk-sdk-go/v2/user"
)

// MarketReader es lo que los handlers necesitan del cache de mercado.
type MarketReader interface {
	GetAssetList(ctx context.Context, currency string) []models.Asset
	GetAssetIn(ctx context.Context, currency, id string) (models.Asset, bool)
	Status() []services.MarketStatus
}

// Handlers agrupa las dependencias de todos los endpoints HTTP.
type Handlers struct {
	Users      repository.UserStore
	Reconciler *services.Reconciler
	Portfolio  *services.PortfolioService
	Market     MarketReader
	Tokens     *TokenIssuer

	// ClerkUsers es nil cuando Clerk no está configurado.
	ClerkUsers *user.Client

	now func() time.Time
}

func NewHandlers(users repository.UserStore, reconciler *services.Reconciler, portfolio *services.PortfolioService, market MarketReader, tokens *TokenIssuer) *Handlers {
	return &Handlers{
		Users:      users,
		Reconciler: reconciler,
		Portfolio:  portfolio,
		Market:     market,
		Tokens:     tokens,
		now:        time.Now,
	}
}
