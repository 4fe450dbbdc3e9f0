package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"
	"github.com/yanun0323/logs"
)

// InitClerk configura el SDK de Clerk y devuelve el cliente de usuarios.
// Devuelve nil cuando no hay clave configurada.
func InitClerk(secretKey string) *user.Client {
	if secretKey == "" {
		logs.Info("CLERK_SECRET_KEY no configurada, autenticación con Clerk deshabilitada")
		return nil
	}

	clerk.SetKey(secretKey)

	config := &clerk.ClientConfig{}
	config.Key = &secretKey

	logs.Info("Clerk inicializado")
	return user.NewClient(config)
}

// SessionVerifier valida un token de sesión de Clerk y devuelve el id del usuario.
type SessionVerifier func(ctx context.Context, token string) (string, error)

// VerifyClerkSession verifica el token con el SDK de Clerk.
func VerifyClerkSession(ctx context.Context, token string) (string, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{Token: token})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ClerkAuthMiddleware valida tokens de sesión de Clerk.
func ClerkAuthMiddleware(verify SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token no proporcionado"})
			c.Abort()
			return
		}

		userID, err := verify(c.Request.Context(), tokenString)
		if err != nil {
			logs.Errorf("clerk token verification failed, err: %+v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
			c.Abort()
			return
		}
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido: no se pudo extraer el ID del usuario"})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

type clerkEvent struct {
	Type string        `json:"type"`
	Data clerkUserData `json:"data"`
}

type clerkUserData struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (d clerkUserData) primaryEmail() string {
	for _, e := range d.EmailAddresses {
		if e.EmailAddress != "" {
			return e.EmailAddress
		}
	}
	return ""
}

func (d clerkUserData) fullName(email string) string {
	fullName := strings.TrimSpace(d.FirstName + " " + d.LastName)
	if fullName == "" {
		fullName = strings.Split(email, "@")[0]
	}
	return fullName
}

// ClerkWebhookHandler sincroniza la tabla de usuarios con los eventos
// user.created, user.updated y user.deleted de Clerk, verificados con Svix.
func ClerkWebhookHandler(secret string, users repository.UserStore) gin.HandlerFunc {
	var (
		wh     *svix.Webhook
		whErr  error
		nowUTC = func() time.Time { return time.Now().UTC() }
	)
	if secret != "" {
		wh, whErr = svix.NewWebhook(secret)
	}

	return func(c *gin.Context) {
		if wh == nil {
			logs.Errorf("clerk webhook received but not configured, err: %+v", whErr)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook secret not configured"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
			return
		}

		if err := wh.Verify(body, c.Request.Header); err != nil {
			logs.Errorf("svix webhook verification failed, err: %+v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
			return
		}

		var event clerkEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
			return
		}
		if event.Data.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user ID"})
			return
		}

		ctx := c.Request.Context()
		switch event.Type {
		case "user.created", "user.updated":
			email := event.Data.primaryEmail()
			if email == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "No valid email found"})
				return
			}
			u := &models.User{
				ID:        event.Data.ID,
				Email:     email,
				Name:      event.Data.fullName(email),
				CreatedAt: nowUTC(),
			}

			if event.Type == "user.created" {
				err = users.CreateUser(ctx, u)
				if errors.Is(err, repository.ErrUserExists) {
					err = users.UpdateUser(ctx, u)
				}
			} else {
				err = users.UpdateUser(ctx, u)
				if errors.Is(err, repository.ErrNotFound) {
					err = users.CreateUser(ctx, u)
				}
			}
		case "user.deleted":
			err = users.DeleteUser(ctx, event.Data.ID)
			if errors.Is(err, repository.ErrNotFound) {
				err = nil
			}
		default:
			logs.Infof("clerk event %s not handled", event.Type)
			c.JSON(http.StatusOK, gin.H{"message": "Event received but not handled"})
			return
		}

		if err != nil {
			logs.Errorf("clerk event %s for user %s failed, err: %+v", event.Type, event.Data.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sync user"})
			return
		}

		logs.Infof("clerk event %s processed for user %s", event.Type, event.Data.ID)
		c.JSON(http.StatusOK, gin.H{"message": "User synced successfully"})
	}
}
