package repository

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
)

// MemoryStore es un Store en memoria. Un único mutex se mantiene durante toda
// la unidad de trabajo, así que las unidades quedan serializadas. Las
// escrituras se hacen sobre copias de los mapas y se publican al confirmar.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]models.Transaction
	positions    map[PositionKey]models.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]models.Transaction),
		positions:    make(map[PositionKey]models.Position),
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		transactions: maps.Clone(s.transactions),
		positions:    maps.Clone(s.positions),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.transactions = tx.transactions
	s.positions = tx.positions
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Transaction, 0)
	for _, tr := range s.transactions {
		if tr.UserID != userID {
			continue
		}
		if filter.AssetID != "" && tr.AssetID != filter.AssetID {
			continue
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	start := filter.Offset
	if start > len(out) {
		return []models.Transaction{}, nil
	}
	end := len(out)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return out[start:end], nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.transactions[id]
	if !ok || tr.UserID != userID {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (s *MemoryStore) ListPositions(ctx context.Context, userID string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Position
	for key, p := range s.positions {
		if key.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (s *MemoryStore) GetPosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[PositionKey{UserID: userID, AssetID: assetID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListPositionKeys(ctx context.Context) ([]PositionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[PositionKey]struct{}, len(s.positions))
	for key := range s.positions {
		seen[key] = struct{}{}
	}
	for _, tr := range s.transactions {
		seen[PositionKey{UserID: tr.UserID, AssetID: tr.AssetID}] = struct{}{}
	}

	keys := make([]PositionKey, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].AssetID < keys[j].AssetID
	})
	return keys, nil
}

type memoryTx struct {
	transactions map[string]models.Transaction
	positions    map[PositionKey]models.Position
}

func (t *memoryTx) LockPosition(ctx context.Context, userID, assetID string) (*models.Position, error) {
	p, ok := t.positions[PositionKey{UserID: userID, AssetID: assetID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) InsertPosition(ctx context.Context, p *models.Position) error {
	key := PositionKey{UserID: p.UserID, AssetID: p.AssetID}
	if _, ok := t.positions[key]; ok {
		return ErrDuplicatePosition
	}
	t.positions[key] = *p
	return nil
}

func (t *memoryTx) UpdatePosition(ctx context.Context, p *models.Position) error {
	key := PositionKey{UserID: p.UserID, AssetID: p.AssetID}
	current, ok := t.positions[key]
	if !ok {
		return ErrNotFound
	}
	current.Amount = p.Amount
	current.AverageCost = p.AverageCost
	current.UpdatedAt = p.UpdatedAt
	t.positions[key] = current
	return nil
}

func (t *memoryTx) DeletePosition(ctx context.Context, userID, assetID string) error {
	key := PositionKey{UserID: userID, AssetID: assetID}
	if _, ok := t.positions[key]; !ok {
		return ErrNotFound
	}
	delete(t.positions, key)
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if _, ok := t.transactions[tr.ID]; ok {
		return ErrDuplicateTransaction
	}
	t.transactions[tr.ID] = *tr
	return nil
}

func (t *memoryTx) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	tr, ok := t.transactions[id]
	if !ok || tr.UserID != userID {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memoryTx) UpdateTransaction(ctx context.Context, tr *models.Transaction) error {
	current, ok := t.transactions[tr.ID]
	if !ok || current.UserID != tr.UserID {
		return ErrNotFound
	}
	tr.CreatedAt = current.CreatedAt
	t.transactions[tr.ID] = *tr
	return nil
}

func (t *memoryTx) DeleteTransaction(ctx context.Context, userID, id string) error {
	current, ok := t.transactions[id]
	if !ok || current.UserID != userID {
		return ErrNotFound
	}
	delete(t.transactions, id)
	return nil
}

func (t *memoryTx) ListAssetTransactions(ctx context.Context, userID, assetID string) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tr := range t.transactions {
		if tr.UserID == userID && tr.AssetID == assetID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
