package repository

import (
	"context"
	"errors"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
)

// Errores comunes
var (
	ErrNotFound   = errors.New("registro no encontrado")
	ErrUserExists = errors.New("el email ya está registrado")

	ErrDuplicateTransaction = errors.New("transaction already exists")
	ErrDuplicatePosition    = errors.New("position already exists")
)

// PositionKey identifica la única posición que un usuario puede tener de un activo.
type PositionKey struct {
	UserID  string
	AssetID string
}

// TransactionFilter acota ListTransactions. Los valores cero no filtran.
type TransactionFilter struct {
	AssetID string
	Limit   int
	Offset  int
}

// Store es el almacenamiento durable de transacciones y posiciones.
//
// Toda escritura pasa por WithinTx: fn corre dentro de una unidad de trabajo
// atómica que se confirma si fn devuelve nil y se revierte en otro caso.
// Las implementaciones pueden ejecutar fn más de una vez cuando la base pide
// reintentar, así que fn no debe tener efectos fuera de tx.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// ListTransactions devuelve las transacciones del usuario, más recientes primero.
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error)
	ListPositions(ctx context.Context, userID string) ([]models.Position, error)
	GetPosition(ctx context.Context, userID, assetID string) (*models.Position, error)
	// ListPositionKeys devuelve cada par (usuario, activo) con posición o con
	// al menos una transacción.
	ListPositionKeys(ctx context.Context) ([]PositionKey, error)
}

// Tx son las operaciones disponibles dentro de una unidad de trabajo.
type Tx interface {
	// LockPosition serializa a todos los escritores de (userID, assetID) hasta
	// que termina la unidad de trabajo. Devuelve la fila actual, o nil si no hay.
	LockPosition(ctx context.Context, userID, assetID string) (*models.Position, error)
	InsertPosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, p *models.Position) error
	DeletePosition(ctx context.Context, userID, assetID string) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	// GetTransaction bloquea la fila por el resto de la unidad de trabajo.
	GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	// ListAssetTransactions devuelve el historial de una posición en el orden
	// en que se registró (created_at, luego id).
	ListAssetTransactions(ctx context.Context, userID, assetID string) ([]models.Transaction, error)
}
