package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog map[string]bool

func (c stubCatalog) AssetExists(ctx context.Context, id string) bool {
	return c[id]
}

// newTestReconciler devuelve un reconciler sobre un store en memoria cuyo reloj
// avanza un segundo por llamada y cuyos ids son secuenciales.
func newTestReconciler(t *testing.T) (*Reconciler, *repository.MemoryStore) {
	t.Helper()

	store := repository.NewMemoryStore()
	r := NewReconciler(store, stubCatalog{"bitcoin": true, "ethereum": true})

	var (
		mu    sync.Mutex
		clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		seq   int
	)
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	r.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}
	return r, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(assetID, amount, price string) TransactionInput {
	return TransactionInput{AssetID: assetID, Type: models.TransactionTypeBuy, Amount: dec(amount), UnitPrice: dec(price)}
}

func sell(assetID, amount, price string) TransactionInput {
	return TransactionInput{AssetID: assetID, Type: models.TransactionTypeSell, Amount: dec(amount), UnitPrice: dec(price)}
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(expected).Equal(actual), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

func countTransactions(t *testing.T, store repository.Store, userID string) int {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), userID, repository.TransactionFilter{})
	require.NoError(t, err)
	return len(txs)
}

func TestApplyTransactionWeightedAverage(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)

	res, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "20000"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assertDecimal(t, "2", res.Position.Amount)
	assertDecimal(t, "15000", res.Position.AverageCost)
	assertDecimal(t, "20000", res.Transaction.TotalPrice)

	res, err = r.ApplyTransaction(ctx, "u1", sell("bitcoin", "0.5", "25000"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assertDecimal(t, "1.5", res.Position.Amount)
	assertDecimal(t, "15000", res.Position.AverageCost)
	assertDecimal(t, "12500", res.Transaction.TotalPrice)

	res, err = r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1.5", "30000"))
	require.NoError(t, err)
	assert.Nil(t, res.Position)

	_, err = store.GetPosition(ctx, "u1", "bitcoin")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 4, countTransactions(t, store, "u1"))
	assertDerivable(t, r, "u1", "bitcoin")
}

func TestApplyTransactionReopensClosedPosition(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	first, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)
	_, err = r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1", "12000"))
	require.NoError(t, err)

	res, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "2", "30000"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.NotEqual(t, first.Position.ID, res.Position.ID)
	assertDecimal(t, "30000", res.Position.AverageCost)
}

func TestApplyTransactionSellWithoutPosition(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1", "10000"))
	require.ErrorIs(t, err, ErrInsufficientHoldings)
	assert.NotErrorIs(t, err, ErrTransactionFailed)
	assert.Zero(t, countTransactions(t, store, "u1"))
}

func TestApplyTransactionUnknownAsset(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("dogecoin", "1", "0.1"))
	require.ErrorIs(t, err, ErrUnknownAsset)
	assert.Zero(t, countTransactions(t, store, "u1"))

	positions, err := store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestApplyTransactionValidation(t *testing.T) {
	testCases := []struct {
		name   string
		userID string
		input  TransactionInput
		err    error
	}{
		{"zero amount", "u1", buy("bitcoin", "0", "10"), ErrInvalidAmount},
		{"negative amount", "u1", buy("bitcoin", "-1", "10"), ErrInvalidAmount},
		{"zero price", "u1", buy("bitcoin", "1", "0"), ErrInvalidPrice},
		{"negative price", "u1", sell("bitcoin", "1", "-5"), ErrInvalidPrice},
		{"unknown kind", "u1", TransactionInput{AssetID: "bitcoin", Type: "hold", Amount: dec("1"), UnitPrice: dec("1")}, ErrInvalidKind},
		{"missing asset", "u1", buy("  ", "1", "1"), ErrInvalidAsset},
		{"missing user", "", buy("bitcoin", "1", "1"), ErrInvalidUser},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, store := newTestReconciler(t)
			_, err := r.ApplyTransaction(context.Background(), tc.userID, tc.input)
			require.ErrorIs(t, err, tc.err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, countTransactions(t, store, tc.userID))
		})
	}
}

func TestApplyTransactionNormalizesInput(t *testing.T) {
	r, _ := newTestReconciler(t)
	occurred := time.Date(2025, 1, 2, 10, 0, 0, 0, time.FixedZone("ART", -3*3600))

	in := TransactionInput{AssetID: " Bitcoin ", Type: "BUY", Amount: dec("1"), UnitPrice: dec("100"), OccurredAt: occurred}
	res, err := r.ApplyTransaction(context.Background(), "u1", in)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", res.Transaction.AssetID)
	assert.Equal(t, models.TransactionTypeBuy, res.Transaction.Type)
	assert.Equal(t, time.UTC, res.Transaction.OccurredAt.Location())
	assert.True(t, res.Transaction.OccurredAt.Equal(occurred))

	res, err = r.ApplyTransaction(context.Background(), "u1", buy("bitcoin", "1", "100"))
	require.NoError(t, err)
	assert.True(t, res.Transaction.OccurredAt.Equal(res.Transaction.CreatedAt), "zero occurred_at defaults to now")
}

func TestApplyTransactionAtomicity(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)

	_, err = r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1.0001", "12000"))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	assert.Equal(t, 1, countTransactions(t, store, "u1"))
	p, err := store.GetPosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assertDecimal(t, "1", p.Amount)
	assertDecimal(t, "10000", p.AverageCost)
}

func TestApplyTransactionWeightedAverageProperty(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	lots := []struct{ amount, price string }{
		{"0.013", "41250.5"},
		{"0.2", "38000"},
		{"1.75", "29999.99"},
		{"0.0004", "67123.45"},
		{"3", "15000.333"},
		{"0.5", "52000"},
	}

	totalCost, totalAmount := decimal.Zero, decimal.Zero
	var last *models.Position
	for _, lot := range lots {
		res, err := r.ApplyTransaction(ctx, "u1", buy("ethereum", lot.amount, lot.price))
		require.NoError(t, err)
		last = res.Position
		totalCost = totalCost.Add(dec(lot.amount).Mul(dec(lot.price)))
		totalAmount = totalAmount.Add(dec(lot.amount))
	}

	require.NotNil(t, last)
	assert.True(t, last.Amount.Equal(totalAmount))
	expected := totalCost.Div(totalAmount)
	assert.Truef(t, expected.Sub(last.AverageCost).Abs().LessThan(decimal.New(1, -10)),
		"expected average %s, got %s", expected, last.AverageCost)
	assertDerivable(t, r, "u1", "ethereum")
}

func TestApplyTransactionConcurrentSells(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		accepted     int
		insufficient int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ApplyTransaction(ctx, "u1", sell("bitcoin", "0.3", "11000"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInsufficientHoldings):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, 7, insufficient)

	p, err := store.GetPosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assertDecimal(t, "0.1", p.Amount)
	assert.Equal(t, 4, countTransactions(t, store, "u1"))
	assertDerivable(t, r, "u1", "bitcoin")
}

type failingStore struct {
	repository.Store
	err error
}

func (s failingStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.err
}

func TestApplyTransactionStorageFailure(t *testing.T) {
	cause := errors.New("connection reset")
	r := NewReconciler(failingStore{Store: repository.NewMemoryStore(), err: cause}, stubCatalog{"bitcoin": true})

	_, err := r.ApplyTransaction(context.Background(), "u1", buy("bitcoin", "1", "1"))
	require.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, cause)
}

func TestEditTransaction(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)
	second, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "20000"))
	require.NoError(t, err)

	res, err := r.EditTransaction(ctx, "u1", second.Transaction.ID, buy("bitcoin", "1", "30000"))
	require.NoError(t, err)
	assertDecimal(t, "30000", res.Transaction.TotalPrice)
	assert.True(t, res.Transaction.CreatedAt.Equal(second.Transaction.CreatedAt))
	require.NotNil(t, res.Position)
	assertDecimal(t, "2", res.Position.Amount)
	assertDecimal(t, "20000", res.Position.AverageCost)

	res, err = r.EditTransaction(ctx, "u1", second.Transaction.ID, buy("ethereum", "1", "3000"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.Equal(t, "ethereum", res.Position.AssetID)
	assertDecimal(t, "3000", res.Position.AverageCost)

	btc, err := store.GetPosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assertDecimal(t, "1", btc.Amount)
	assertDecimal(t, "10000", btc.AverageCost)
}

func TestEditTransactionRejectsNegativeHistory(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	first, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "2", "10000"))
	require.NoError(t, err)
	_, err = r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1.5", "12000"))
	require.NoError(t, err)

	_, err = r.EditTransaction(ctx, "u1", first.Transaction.ID, buy("bitcoin", "1", "10000"))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	stored, err := store.GetTransaction(ctx, "u1", first.Transaction.ID)
	require.NoError(t, err)
	assertDecimal(t, "2", stored.Amount, "edit rolled back")

	p, err := store.GetPosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assertDecimal(t, "0.5", p.Amount)
}

func TestEditTransactionUnknownAssetAndMissing(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	res, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)

	_, err = r.EditTransaction(ctx, "u1", res.Transaction.ID, buy("dogecoin", "1", "1"))
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = r.EditTransaction(ctx, "u2", res.Transaction.ID, buy("bitcoin", "1", "1"))
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = r.EditTransaction(ctx, "u1", "missing", buy("bitcoin", "1", "1"))
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	first, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)
	second, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "20000"))
	require.NoError(t, err)
	sold, err := r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1.5", "25000"))
	require.NoError(t, err)

	_, err = r.DeleteTransaction(ctx, "u1", first.Transaction.ID)
	require.ErrorIs(t, err, ErrInsufficientHoldings, "the sell needs the first buy")
	assert.Equal(t, 3, countTransactions(t, store, "u1"))

	p, err := r.DeleteTransaction(ctx, "u1", sold.Transaction.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assertDecimal(t, "2", p.Amount)
	assertDecimal(t, "15000", p.AverageCost)

	p, err = r.DeleteTransaction(ctx, "u1", first.Transaction.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assertDecimal(t, "1", p.Amount)
	assertDecimal(t, "20000", p.AverageCost)

	p, err = r.DeleteTransaction(ctx, "u1", second.Transaction.ID)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = store.GetPosition(ctx, "u1", "bitcoin")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = r.DeleteTransaction(ctx, "u1", second.Transaction.ID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReconcileAllRepairsDrift(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)
	_, err = r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "20000"))
	require.NoError(t, err)
	_, err = r.ApplyTransaction(ctx, "u2", buy("ethereum", "3", "2000"))
	require.NoError(t, err)

	require.NoError(t, store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPosition(ctx, "u1", "bitcoin")
		if err != nil {
			return err
		}
		p.Amount = dec("7")
		return tx.UpdatePosition(ctx, p)
	}))

	report, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Positions: 2, Changed: 1}, report)

	p, err := store.GetPosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assertDecimal(t, "2", p.Amount)
	assertDecimal(t, "15000", p.AverageCost)

	p, err = r.RecomputePosition(ctx, "u2", "ethereum")
	require.NoError(t, err)
	assertDecimal(t, "3", p.Amount)
}

// assertDerivable verifica que la posición guardada sea exactamente la que
// resulta de volver a aplicar su historial.
func assertDerivable(t *testing.T, r *Reconciler, userID, assetID string) {
	t.Helper()

	_, changed, err := r.recomputePosition(context.Background(), userID, assetID)
	require.NoError(t, err)
	assert.False(t, changed, "stored position %s/%s differs from its history", userID, assetID)
}

// gatedStore retiene la primera unidad de trabajo hasta que se cierra release.
type gatedStore struct {
	repository.Store

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestApplyTransactionOrderMatchesHistory(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)
	gate := &gatedStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	r.store = gate

	sellErr := make(chan error, 1)
	go func() {
		_, err := r.ApplyTransaction(ctx, "u1", sell("bitcoin", "1", "12000"))
		sellErr <- err
	}()

	<-gate.entered
	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)
	close(gate.release)

	require.NoError(t, <-sellErr, "the sell runs after the buy")

	history, err := store.ListTransactions(ctx, "u1", repository.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)

	p, err := r.RecomputePosition(ctx, "u1", "bitcoin")
	require.NoError(t, err)
	assert.Nil(t, p)
	assertDerivable(t, r, "u1", "bitcoin")
}

func TestApplyTransactionConcurrentMixed(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	inputs := []TransactionInput{
		buy("bitcoin", "0.5", "10000"),
		sell("bitcoin", "0.7", "11000"),
		buy("bitcoin", "1.25", "9000"),
		sell("bitcoin", "0.2", "12000"),
		buy("bitcoin", "0.1", "15000"),
		sell("bitcoin", "1", "10500"),
		buy("ethereum", "2", "2000"),
		sell("ethereum", "1.5", "2100"),
		buy("bitcoin", "0.3", "8000"),
		sell("bitcoin", "0.45", "9500"),
		sell("ethereum", "0.4", "2200"),
		buy("ethereum", "0.9", "1900"),
	}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, in := range inputs {
			wg.Add(1)
			go func(in TransactionInput) {
				defer wg.Done()
				_, err := r.ApplyTransaction(ctx, "u1", in)
				if err != nil && !errors.Is(err, ErrInsufficientHoldings) {
					t.Errorf("unexpected error: %v", err)
				}
			}(in)
		}
	}
	wg.Wait()

	assertDerivable(t, r, "u1", "bitcoin")
	assertDerivable(t, r, "u1", "ethereum")

	report, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
	assert.Zero(t, report.Failed)

	positions, err := store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	for _, p := range positions {
		assert.False(t, p.Amount.IsNegative(), p.AssetID)
	}
}

// vanishingStore simula una fila de posición borrada por fuera del reconciler.
type vanishingStore struct {
	*repository.MemoryStore
}

type vanishingTx struct {
	repository.Tx
}

func (tx vanishingTx) UpdatePosition(ctx context.Context, p *models.Position) error {
	return repository.ErrNotFound
}

func (s vanishingStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.MemoryStore.WithinTx(ctx, func(tx repository.Tx) error {
		return fn(vanishingTx{Tx: tx})
	})
}

func TestApplyTransactionMissingPositionRowIsAStorageFailure(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReconciler(t)

	_, err := r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "10000"))
	require.NoError(t, err)

	r.store = vanishingStore{MemoryStore: store}
	_, err = r.ApplyTransaction(ctx, "u1", buy("bitcoin", "1", "20000"))
	require.ErrorIs(t, err, ErrTransactionFailed)
	assert.NotErrorIs(t, err, ErrTransactionNotFound)
	assert.Equal(t, 1, countTransactions(t, store, "u1"))
}
