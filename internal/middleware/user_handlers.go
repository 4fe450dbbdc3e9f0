package middleware

import (
	"net/http"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) UpdateUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var update struct {
		Email string `json:"email" binding:"required,email"`
		Name  string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := &models.User{ID: userID, Email: update.Email, Name: update.Name}
	if err := h.Users.UpdateUser(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Usuario actualizado"})
}

func (h *Handlers) DeleteUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.Users.DeleteUser(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Usuario eliminado"})
}
