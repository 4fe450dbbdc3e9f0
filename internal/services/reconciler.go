package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// AssetCatalog indica si un id de activo existe en la fuente de mercado.
type AssetCatalog interface {
	AssetExists(ctx context.Context, id string) bool
}

// TransactionInput es lo que el cliente envía para registrar o editar una transacción.
type TransactionInput struct {
	AssetID    string                 `json:"asset_id"`
	Type       models.TransactionType `json:"type"`
	Amount     decimal.Decimal        `json:"amount"`
	UnitPrice  decimal.Decimal        `json:"unit_price"`
	OccurredAt time.Time              `json:"occurred_at"`
	Note       string                 `json:"note"`
}

func (in *TransactionInput) normalize() {
	in.AssetID = strings.ToLower(strings.TrimSpace(in.AssetID))
	in.Type = models.TransactionType(strings.ToLower(strings.TrimSpace(string(in.Type))))
	in.Note = strings.TrimSpace(in.Note)
}

// Validate revisa la forma de la entrada. No consulta los datos de mercado.
func (in TransactionInput) Validate() error {
	switch {
	case strings.TrimSpace(in.AssetID) == "":
		return ErrInvalidAsset
	case !in.Amount.IsPositive():
		return ErrInvalidAmount
	case !in.UnitPrice.IsPositive():
		return ErrInvalidPrice
	case !in.Type.Valid():
		return ErrInvalidKind
	}
	return nil
}

// ApplyResult es el resultado de una escritura reconciliada. Position es nil
// si la posición quedó cerrada.
type ApplyResult struct {
	Transaction models.Transaction `json:"transaction"`
	Position    *models.Position   `json:"position"`
}

// ReconcileReport resume una reconciliación completa.
type ReconcileReport struct {
	Positions int `json:"positions"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

// Reconciler mantiene las posiciones en sincronía con las transacciones.
//
// Cada escritura corre en una unidad de trabajo del store y primero bloquea
// las posiciones (usuario, activo) afectadas, así los escritores concurrentes
// de una misma posición quedan serializados.
type Reconciler struct {
	store  repository.Store
	assets AssetCatalog
	now    func() time.Time
	newID  func() string
}

func NewReconciler(store repository.Store, assets AssetCatalog) *Reconciler {
	return &Reconciler{
		store:  store,
		assets: assets,
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func (r *Reconciler) checkInput(userID string, in *TransactionInput) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	in.normalize()
	return in.Validate()
}

func (r *Reconciler) checkAsset(ctx context.Context, assetID string) error {
	if !r.assets.AssetExists(ctx, assetID) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return nil
}

// ApplyTransaction registra una compra o venta y actualiza la posición con costo
// promedio ponderado. La transacción y el cambio de posición se guardan juntos
// o no se guarda nada.
func (r *Reconciler) ApplyTransaction(ctx context.Context, userID string, in TransactionInput) (*ApplyResult, error) {
	if err := r.checkInput(userID, &in); err != nil {
		return nil, err
	}
	if err := r.checkAsset(ctx, in.AssetID); err != nil {
		return nil, err
	}

	var (
		tr       models.Transaction
		position *models.Position
	)
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		position = nil

		current, err := tx.LockPosition(ctx, userID, in.AssetID)
		if err != nil {
			return err
		}

		// El id y created_at se asignan con la posición bloqueada: definen el
		// orden en que el historial se vuelve a aplicar.
		now := r.now().UTC()
		occurredAt := in.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = now
		}
		tr = models.Transaction{
			ID:         r.newID(),
			UserID:     userID,
			AssetID:    in.AssetID,
			Type:       in.Type,
			Amount:     in.Amount,
			UnitPrice:  in.UnitPrice,
			TotalPrice: in.Amount.Mul(in.UnitPrice),
			Note:       in.Note,
			OccurredAt: occurredAt.UTC(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		var basis costBasis
		if current != nil {
			basis = costBasis{Amount: current.Amount, AverageCost: current.AverageCost}
		}
		if _, err := basis.apply(tr.Type, tr.Amount, tr.UnitPrice); err != nil {
			return err
		}

		if err := tx.InsertTransaction(ctx, &tr); err != nil {
			return err
		}

		position, err = r.persist(ctx, tx, userID, in.AssetID, current, basis, now)
		return err
	})
	if err != nil {
		return nil, r.fail("apply", userID, in.AssetID, err)
	}

	return &ApplyResult{Transaction: tr, Position: position}, nil
}

// EditTransaction reescribe una transacción existente y recalcula desde el
// historial completo cada posición afectada (la del activo anterior y la del
// nuevo, si cambió).
func (r *Reconciler) EditTransaction(ctx context.Context, userID, txID string, in TransactionInput) (*ApplyResult, error) {
	if err := r.checkInput(userID, &in); err != nil {
		return nil, err
	}

	stored, err := r.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return nil, r.fail("edit", userID, in.AssetID, transactionLookup(err))
	}
	if stored.AssetID != in.AssetID {
		if err := r.checkAsset(ctx, in.AssetID); err != nil {
			return nil, err
		}
	}

	var (
		updated  models.Transaction
		position *models.Position
	)
	err = r.store.WithinTx(ctx, func(tx repository.Tx) error {
		position = nil

		existing, err := tx.GetTransaction(ctx, userID, txID)
		if err != nil {
			return transactionLookup(err)
		}

		locked, err := r.lockPositions(ctx, tx, userID, existing.AssetID, in.AssetID)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		updated = *existing
		updated.AssetID = in.AssetID
		updated.Type = in.Type
		updated.Amount = in.Amount
		updated.UnitPrice = in.UnitPrice
		updated.TotalPrice = in.Amount.Mul(in.UnitPrice)
		updated.Note = in.Note
		if !in.OccurredAt.IsZero() {
			updated.OccurredAt = in.OccurredAt.UTC()
		}
		updated.UpdatedAt = now

		if err := tx.UpdateTransaction(ctx, &updated); err != nil {
			return err
		}

		for _, assetID := range sortedAssets(existing.AssetID, in.AssetID) {
			p, _, err := r.recompute(ctx, tx, userID, assetID, locked[assetID], now)
			if err != nil {
				return err
			}
			if assetID == in.AssetID {
				position = p
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.fail("edit", userID, in.AssetID, err)
	}

	return &ApplyResult{Transaction: updated, Position: position}, nil
}

// DeleteTransaction borra una transacción y recalcula la posición de su activo.
// Devuelve la posición resultante, o nil si quedó cerrada.
func (r *Reconciler) DeleteTransaction(ctx context.Context, userID, txID string) (*models.Position, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}

	var (
		assetID  string
		position *models.Position
	)
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		position = nil

		existing, err := tx.GetTransaction(ctx, userID, txID)
		if err != nil {
			return transactionLookup(err)
		}
		assetID = existing.AssetID

		locked, err := r.lockPositions(ctx, tx, userID, assetID)
		if err != nil {
			return err
		}

		if err := tx.DeleteTransaction(ctx, userID, txID); err != nil {
			return err
		}

		position, _, err = r.recompute(ctx, tx, userID, assetID, locked[assetID], r.now().UTC())
		return err
	})
	if err != nil {
		return nil, r.fail("delete", userID, assetID, err)
	}
	return position, nil
}

// RecomputePosition reconstruye la posición (userID, assetID) desde su historial.
func (r *Reconciler) RecomputePosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	position, _, err := r.recomputePosition(ctx, userID, assetID)
	return position, err
}

func (r *Reconciler) recomputePosition(ctx context.Context, userID, assetID string) (*models.Position, bool, error) {
	var (
		position *models.Position
		changed  bool
	)
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockPosition(ctx, userID, assetID)
		if err != nil {
			return err
		}
		position, changed, err = r.recompute(ctx, tx, userID, assetID, current, r.now().UTC())
		return err
	})
	if err != nil {
		return nil, false, r.fail("recompute", userID, assetID, err)
	}
	return position, changed, nil
}

// ReconcileAll recalcula todas las posiciones conocidas. Sigue ante errores
// individuales y los devuelve juntos.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	keys, err := r.store.ListPositionKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Positions++

		_, changed, err := r.recomputePosition(ctx, key.UserID, key.AssetID)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("%s/%s: %w", key.UserID, key.AssetID, err))
			continue
		}
		if changed {
			report.Changed++
		}
	}

	logs.Infof("reconciliación completa: %d posiciones, %d corregidas, %d con error", report.Positions, report.Changed, report.Failed)
	return report, errors.Join(errs...)
}

func sortedAssets(assetIDs ...string) []string {
	out := slices.Clone(assetIDs)
	slices.Sort(out)
	return slices.Compact(out)
}

// lockPositions bloquea cada activo distinto en un orden fijo.
func (r *Reconciler) lockPositions(ctx context.Context, tx repository.Tx, userID string, assetIDs ...string) (map[string]*models.Position, error) {
	locked := make(map[string]*models.Position, len(assetIDs))
	for _, assetID := range sortedAssets(assetIDs...) {
		p, err := tx.LockPosition(ctx, userID, assetID)
		if err != nil {
			return nil, err
		}
		locked[assetID] = p
	}
	return locked, nil
}

// recompute vuelve a aplicar el historial completo de una posición bloqueada y
// guarda el resultado. Indica si la fila guardada cambió.
func (r *Reconciler) recompute(ctx context.Context, tx repository.Tx, userID, assetID string, current *models.Position, now time.Time) (*models.Position, bool, error) {
	history, err := tx.ListAssetTransactions(ctx, userID, assetID)
	if err != nil {
		return nil, false, err
	}

	result, err := Replay(history)
	if err != nil {
		return nil, false, err
	}

	if current != nil && current.Amount.Equal(result.Amount) && current.AverageCost.Equal(result.AverageCost) {
		return current, false, nil
	}

	basis := costBasis{Amount: result.Amount, AverageCost: result.AverageCost}
	if current == nil && basis.Amount.IsZero() {
		return nil, false, nil
	}

	position, err := r.persist(ctx, tx, userID, assetID, current, basis, now)
	return position, true, err
}

// persist guarda basis como nuevo estado de la posición: la inserta si no
// existía, la borra si la cantidad llegó a cero y si no la actualiza.
func (r *Reconciler) persist(ctx context.Context, tx repository.Tx, userID, assetID string, current *models.Position, basis costBasis, now time.Time) (*models.Position, error) {
	if basis.Amount.IsZero() {
		if current == nil {
			return nil, nil
		}
		return nil, tx.DeletePosition(ctx, userID, assetID)
	}

	if current == nil {
		p := &models.Position{
			ID:          r.newID(),
			UserID:      userID,
			AssetID:     assetID,
			Amount:      basis.Amount,
			AverageCost: basis.AverageCost,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return p, tx.InsertPosition(ctx, p)
	}

	p := *current
	p.Amount = basis.Amount
	p.AverageCost = basis.AverageCost
	p.UpdatedAt = now
	return &p, tx.UpdatePosition(ctx, &p)
}

// transactionLookup traduce la ausencia de la transacción pedida. Cualquier
// otro ErrNotFound dentro de la unidad de trabajo es una falla del almacenamiento.
func transactionLookup(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTransactionNotFound
	}
	return err
}

func (r *Reconciler) fail(op, userID, assetID string, err error) error {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, ErrInsufficientHoldings),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnknownAsset):
		return err
	}

	logs.Errorf("%s transaction failed, user %s, asset %s, err: %+v", op, userID, assetID, err)
	return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
}
