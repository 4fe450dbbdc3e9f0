package routes

import (
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Options son las piezas de autenticación que dependen de la configuración.
type Options struct {
	// Auth protege las rutas del usuario: JWT local o sesión de Clerk.
	Auth               gin.HandlerFunc
	AdminKey           string
	ClerkWebhookSecret string
}

func RegisterRoutes(router *gin.Engine, h *middleware.Handlers, opts Options) {
	router.POST("/signup", h.Signup)
	router.POST("/login", h.Login)
	router.POST("/webhooks/clerk", middleware.ClerkWebhookHandler(opts.ClerkWebhookSecret, h.Users))

	router.GET("/markets", h.GetMarkets)
	router.GET("/markets/:id", h.GetMarket)

	protected := router.Group("/")
	protected.Use(opts.Auth)
	{
		protected.GET("/me", h.Me)
		protected.PUT("/users", h.UpdateUser)
		protected.DELETE("/users", h.DeleteUser)

		protected.POST("/transactions", h.CreateTransaction)
		protected.GET("/transactions", h.GetUserTransactions)
		protected.GET("/transactions/:id", h.GetTransactionDetails)
		protected.PUT("/transactions/:id", h.UpdateTransaction)
		protected.DELETE("/transactions/:id", h.DeleteTransaction)

		protected.GET("/positions", h.GetPositions)
		protected.GET("/positions/:assetId", h.GetPosition)
		protected.GET("/holdings", h.GetHoldings)
	}

	// Rutas de admin
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(opts.AdminKey))
	{
		admin.GET("/users", h.GetUsers)
		admin.POST("/reconcile", h.Reconcile)
		admin.GET("/market/status", h.MarketStatus)
	}
}
