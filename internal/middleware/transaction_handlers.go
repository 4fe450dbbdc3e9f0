package middleware

import (
	"net/http"
	"strconv"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/gin-gonic/gin"
)

const maxPageSize = 500

// CreateTransaction registra una compra o venta del usuario autenticado
func (h *Handlers) CreateTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.TransactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Reconciler.ApplyTransaction(c.Request.Context(), userID, input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Transacción creada exitosamente",
		"transaction": result.Transaction,
		"position":    result.Position,
	})
}

// GetUserTransactions lista las transacciones del usuario, más recientes primero.
// Query: asset_id, limit, offset.
func (h *Handlers) GetUserTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit inválido"})
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset inválido"})
		return
	}

	transactions, err := h.Portfolio.ListTransactions(c.Request.Context(), userID, repository.TransactionFilter{
		AssetID: c.Query("asset_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

// GetTransactionDetails devuelve una transacción valuada al precio actual.
func (h *Handlers) GetTransactionDetails(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	details, err := h.Portfolio.GetTransactionDetails(c.Request.Context(), userID, c.Param("id"), c.Query("currency"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// UpdateTransaction reescribe una transacción y recalcula la posición.
func (h *Handlers) UpdateTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.TransactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Reconciler.EditTransaction(c.Request.Context(), userID, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Transacción actualizada exitosamente",
		"transaction": result.Transaction,
		"position":    result.Position,
	})
}

// DeleteTransaction borra una transacción y recalcula la posición.
func (h *Handlers) DeleteTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	position, err := h.Reconciler.DeleteTransaction(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Transacción eliminada exitosamente",
		"position": position,
	})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
