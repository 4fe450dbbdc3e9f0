package middleware

import (
	"errors"
	"net/http"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/yanun0323/logs"
)

// respondError traduce los errores de servicio a respuestas HTTP.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrUnknownAsset):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInsufficientHoldings):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transacción no encontrada"})
	case errors.Is(err, services.ErrPositionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Posición no encontrada"})
	case errors.Is(err, services.ErrTransactionFailed):
		logs.Errorf("%s %s, err: %+v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error interno del servidor"})
	case errors.Is(err, repository.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "El email ya está registrado"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Registro no encontrado"})
	default:
		logs.Errorf("%s %s, err: %+v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error interno del servidor"})
	}
}
