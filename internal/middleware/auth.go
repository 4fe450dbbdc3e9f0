package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	userIDKey     = "userId"
	tokenLifetime = 24 * time.Hour
)

// TokenIssuer firma y valida los JWT locales (HS256, claim "userId").
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: tokenLifetime, now: time.Now}
}

func (t *TokenIssuer) GenerateToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIDKey: userID,
		"iat":     t.now().Unix(),
		"exp":     t.now().Add(t.ttl).Unix(),
	})

	return token.SignedString(t.secret)
}

// ParseToken devuelve el userId de un token válido.
func (t *TokenIssuer) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	userID, _ := claims[userIDKey].(string)
	if userID == "" {
		return "", fmt.Errorf("token without %s claim", userIDKey)
	}
	return userID, nil
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func AuthMiddleware(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token no proporcionado"})
			c.Abort()
			return
		}

		userID, err := tokens.ParseToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// currentUser devuelve el id puesto por el middleware de autenticación.
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Usuario no autenticado"})
		return "", false
	}
	return userID, true
}

func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	}
}

func (h *Handlers) Login(c *gin.Context) {
	var login struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.GetUserByEmail(c.Request.Context(), login.Email)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Usuario no encontrado"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	// Los usuarios sincronizados desde Clerk no tienen contraseña local
	if !user.HasPassword() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Contraseña incorrecta"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(login.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Contraseña incorrecta"})
		return
	}

	token, err := h.Tokens.GenerateToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al generar el token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Inicio de sesión exitoso",
		"token":   token,
		"user":    userResponse(user),
	})
}

func (h *Handlers) Signup(c *gin.Context) {
	var signup struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
		Name     string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&signup); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(signup.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al procesar la contraseña"})
		return
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Email:     signup.Email,
		Password:  string(hashedPassword),
		Name:      signup.Name,
		CreatedAt: h.now().UTC(),
	}

	err = h.Users.CreateUser(c.Request.Context(), user)
	if errors.Is(err, repository.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "El email ya está registrado"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.Tokens.GenerateToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al generar el token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Registro exitoso",
		"token":   token,
		"user":    userResponse(user),
	})
}

// Me devuelve el perfil del usuario autenticado. Si no está en la base local y
// Clerk está configurado, se consulta a Clerk.
func (h *Handlers) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := h.Users.GetUserById(c.Request.Context(), userID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"user": userResponse(u)})
		return
	}
	if !errors.Is(err, repository.ErrNotFound) || h.ClerkUsers == nil {
		respondError(c, err)
		return
	}

	cu, err := h.ClerkUsers.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al obtener información del usuario"})
		return
	}

	var email string
	if len(cu.EmailAddresses) > 0 {
		email = cu.EmailAddresses[0].EmailAddress
	}
	var firstName, lastName string
	if cu.FirstName != nil {
		firstName = *cu.FirstName
	}
	if cu.LastName != nil {
		lastName = *cu.LastName
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    cu.ID,
			"email": email,
			"name":  strings.TrimSpace(firstName + " " + lastName),
		},
	})
}
