package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/logs"
)

func (h *Handlers) GetUsers(c *gin.Context) {
	users, err := h.Users.GetAllUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al obtener usuarios"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
	})
}

// Reconcile recalcula todas las posiciones desde su historial.
func (h *Handlers) Reconcile(c *gin.Context) {
	report, err := h.Reconciler.ReconcileAll(c.Request.Context())
	if err != nil {
		logs.Errorf("reconcile finished with errors, err: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *Handlers) MarketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": h.Market.Status()})
}
