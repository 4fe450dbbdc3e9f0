package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) GetPositions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	positions, err := h.Portfolio.ListPositions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (h *Handlers) GetPosition(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	position, err := h.Portfolio.GetPosition(c.Request.Context(), userID, c.Param("assetId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, position)
}

// GetHoldings devuelve las tenencias valuadas en la moneda pedida (?currency=).
func (h *Handlers) GetHoldings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	holdings, err := h.Portfolio.Holdings(c.Request.Context(), userID, c.Query("currency"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, holdings)
}
