package models

import (
	"time"
)

// User es el dueño de las transacciones y posiciones.
// Los usuarios sincronizados desde Clerk no tienen contraseña local.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // El "-" evita que se serialice en JSON
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// HasPassword indica si el usuario puede entrar con credenciales locales.
func (u User) HasPassword() bool {
	return u.Password != ""
}
