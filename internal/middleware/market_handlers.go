package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetMarkets devuelve el listado de mercado cacheado. Nunca falla: si el
// proveedor no responde se sirve el último listado o uno vacío.
func (h *Handlers) GetMarkets(c *gin.Context) {
	currency := c.Query("currency")
	assets := h.Market.GetAssetList(c.Request.Context(), currency)

	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (h *Handlers) GetMarket(c *gin.Context) {
	id := strings.ToLower(strings.TrimSpace(c.Param("id")))

	asset, ok := h.Market.GetAssetIn(c.Request.Context(), c.Query("currency"), id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Criptomoneda no encontrada"})
		return
	}

	c.JSON(http.StatusOK, asset)
}
