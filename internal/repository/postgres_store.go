package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/lib/pq"
	"github.com/yanun0323/logs"
)

const defaultMaxAttempts = 3

// Códigos de error de Postgres que justifican reintentar la unidad de trabajo.
const (
	pqSerializationFailure pq.ErrorCode = "40001"
	pqDeadlockDetected     pq.ErrorCode = "40P01"
)

const transactionColumns = `id, user_id, asset_id, kind, amount, unit_price, total_price, note, occurred_at, created_at, updated_at`

const positionColumns = `id, user_id, asset_id, amount, average_cost, created_at, updated_at`

// PostgresStore implementa Store sobre database/sql y lib/pq.
type PostgresStore struct {
	db          *sql.DB
	maxAttempts int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, maxAttempts: defaultMaxAttempts}
}

// WithinTx corre fn en una transacción READ COMMITTED. La unidad de trabajo
// completa se reintenta si Postgres informa una falla de serialización o un deadlock.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		logs.Infof("retrying unit of work (attempt %d/%d), err: %+v", attempt, s.maxAttempts, err)
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logs.Errorf("rollback transaction, err: %+v", rbErr)
			}
		}
	}()

	if err = fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error) {
	var (
		query strings.Builder
		args  = []any{userID}
	)
	query.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`)
	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		fmt.Fprintf(&query, ` AND asset_id = $%d`, len(args))
	}
	query.WriteString(` ORDER BY occurred_at DESC, created_at DESC, id DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&query, ` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (s *PostgresStore) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND id = $2`
	return scanTransaction(s.db.QueryRowContext(ctx, query, userID, id))
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 ORDER BY asset_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 AND asset_id = $2`
	p, err := scanPosition(s.db.QueryRowContext(ctx, query, userID, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPositionKeys(ctx context.Context) ([]PositionKey, error) {
	query := `
		SELECT user_id, asset_id FROM positions
		UNION
		SELECT DISTINCT user_id, asset_id FROM transactions
		ORDER BY 1, 2`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []PositionKey
	for rows.Next() {
		var key PositionKey
		if err := rows.Scan(&key.UserID, &key.AssetID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// postgresTx es el Tx que reciben los callbacks de WithinTx.
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockPosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	// El advisory lock cubre también la fila que todavía no existe, que
	// FOR UPDATE por sí solo no puede bloquear.
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID+":"+assetID); err != nil {
		return nil, fmt.Errorf("lock position: %w", err)
	}

	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 AND asset_id = $2 FOR UPDATE`
	p, err := scanPosition(t.tx.QueryRowContext(ctx, query, userID, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (t *postgresTx) InsertPosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.AssetID,
		p.Amount,
		p.AverageCost,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (t *postgresTx) UpdatePosition(ctx context.Context, p *models.Position) error {
	query := `
		UPDATE positions
		SET amount = $1, average_cost = $2, updated_at = $3
		WHERE user_id = $4 AND asset_id = $5`

	res, err := t.tx.ExecContext(ctx, query, p.Amount, p.AverageCost, p.UpdatedAt, p.UserID, p.AssetID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *postgresTx) DeletePosition(ctx context.Context, userID, assetID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE user_id = $1 AND asset_id = $2`, userID, assetID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *postgresTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.tx.ExecContext(ctx, query,
		tr.ID,
		tr.UserID,
		tr.AssetID,
		string(tr.Type),
		tr.Amount,
		tr.UnitPrice,
		tr.TotalPrice,
		tr.Note,
		tr.OccurredAt,
		tr.CreatedAt,
		tr.UpdatedAt,
	)
	return err
}

func (t *postgresTx) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND id = $2 FOR UPDATE`
	return scanTransaction(t.tx.QueryRowContext(ctx, query, userID, id))
}

func (t *postgresTx) UpdateTransaction(ctx context.Context, tr *models.Transaction) error {
	query := `
		UPDATE transactions
		SET asset_id = $1, kind = $2, amount = $3, unit_price = $4, total_price = $5,
			note = $6, occurred_at = $7, updated_at = $8
		WHERE user_id = $9 AND id = $10`

	res, err := t.tx.ExecContext(ctx, query,
		tr.AssetID,
		string(tr.Type),
		tr.Amount,
		tr.UnitPrice,
		tr.TotalPrice,
		tr.Note,
		tr.OccurredAt,
		tr.UpdatedAt,
		tr.UserID,
		tr.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *postgresTx) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *postgresTx) ListAssetTransactions(ctx context.Context, userID, assetID string) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 AND asset_id = $2
		ORDER BY created_at, id`

	rows, err := t.tx.QueryContext(ctx, query, userID, assetID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tr   models.Transaction
		kind string
	)
	err := row.Scan(
		&tr.ID,
		&tr.UserID,
		&tr.AssetID,
		&kind,
		&tr.Amount,
		&tr.UnitPrice,
		&tr.TotalPrice,
		&tr.Note,
		&tr.OccurredAt,
		&tr.CreatedAt,
		&tr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tr.Type = models.TransactionType(kind)
	return &tr, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tr)
	}
	return transactions, rows.Err()
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.AssetID,
		&p.Amount,
		&p.AverageCost,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
