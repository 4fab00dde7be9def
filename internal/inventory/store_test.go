package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newStoreWithProduct(t *testing.T) (*Store, Product) {
	t.Helper()
	s := NewStore(Config{ServiceName: "test"})
	p, err := s.PutProduct(context.Background(), Product{Code: "TEE", Name: "Basic Tee", BasePrice: decimal.NewFromInt(20)})
	require.NoError(t, err)
	return s, p
}

func TestAddVariantDuplicate(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)

	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, "TEE-S-BLACK", v.SKU)
	assert.True(t, v.IsActive)
	assert.True(t, v.Price.Equal(decimal.NewFromInt(20)))

	_, err = s.AddVariant(ctx, p.ID, " s ", "BLACK", VariantAttrs{})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVariant)

	_, err = s.AddVariant(ctx, p.ID, "M", "Black", VariantAttrs{})
	assert.NoError(t, err)
}

func TestAddVariantValidation(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)

	_, err := s.AddVariant(ctx, p.ID, "", "Black", VariantAttrs{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = s.AddVariant(ctx, "nope", "S", "Black", VariantAttrs{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSKUOverrideAndCollision(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)

	a, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{SKU: ptr("CUSTOM-1")})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM-1", a.SKU)
	assert.True(t, a.SKUOverridden)

	_, err = s.AddVariant(ctx, p.ID, "M", "Black", VariantAttrs{SKU: ptr("CUSTOM-1")})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVariant)

	// "S/M" and "SM" normalize to the same derived code
	b, err := s.AddVariant(ctx, p.ID, "S/M", "Red", VariantAttrs{})
	require.NoError(t, err)
	c, err := s.AddVariant(ctx, p.ID, "SM", "Red", VariantAttrs{})
	require.NoError(t, err)
	assert.Equal(t, "TEE-SM-RED", b.SKU)
	assert.Equal(t, "TEE-SM-RED-2", c.SKU)
}

func TestAvailabilityScenario(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)

	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, Finite(10), v.AvailableQuantity)

	v, err = s.Reserve(ctx, v.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, Finite(7), v.AvailableQuantity)
	assert.Equal(t, 3, v.ReservedQuantity)

	v, err = s.UpdateVariant(ctx, v.ID, VariantAttrs{IsUnlimitedStock: ptr(true)})
	require.NoError(t, err)
	assert.True(t, v.AvailableQuantity.IsUnbounded())
	assert.Equal(t, 10, v.StockQuantity)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(8)})
	require.NoError(t, err)

	for _, qty := range []int{1, 4, 8} {
		before, err := s.Get(ctx, v.ID)
		require.NoError(t, err)
		_, err = s.Reserve(ctx, v.ID, qty)
		require.NoError(t, err)
		after, err := s.Release(ctx, v.ID, qty)
		require.NoError(t, err)
		assert.Equal(t, before.AvailableQuantity, after.AvailableQuantity, "qty=%d", qty)
	}
}

func TestReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(2)})
	require.NoError(t, err)

	_, err = s.Reserve(ctx, v.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	_, err = s.Reserve(ctx, v.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Release(ctx, v.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnlimitedReserveNeverFails(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{IsUnlimitedStock: ptr(true)})
	require.NoError(t, err)

	v, err = s.Reserve(ctx, v.ID, 1_000_000)
	require.NoError(t, err)
	assert.True(t, v.AvailableQuantity.IsUnbounded())
	assert.Equal(t, 1_000_000, v.ReservedQuantity)
}

func TestAdjustStockNeverNegative(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(5)})
	require.NoError(t, err)

	v, err = s.AdjustStock(ctx, v.ID, -1_000_000, "shrinkage")
	require.NoError(t, err)
	assert.Equal(t, 0, v.StockQuantity)
	assert.Equal(t, Finite(0), v.AvailableQuantity)

	_, err = s.AdjustStock(ctx, v.ID, 3, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ms, err := s.Movements(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, 5, ms[0].StockBefore)
	assert.Equal(t, 0, ms[0].StockAfter)
	assert.Equal(t, "shrinkage", ms[0].Reason)
}

func TestAdjustStockUnlimitedRecordsReason(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(4), IsUnlimitedStock: ptr(true)})
	require.NoError(t, err)

	v, err = s.AdjustStock(ctx, v.ID, 50, "restock")
	require.NoError(t, err)
	assert.Equal(t, 4, v.StockQuantity)

	ms, err := s.Movements(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "restock", ms[0].Reason)
	assert.Equal(t, 50, ms[0].Delta)
}

func TestUpdateVariantUniqueness(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	a, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{})
	require.NoError(t, err)
	_, err = s.AddVariant(ctx, p.ID, "M", "Black", VariantAttrs{})
	require.NoError(t, err)

	_, err = s.UpdateVariant(ctx, a.ID, VariantAttrs{Size: ptr("M")})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVariant)

	u, err := s.UpdateVariant(ctx, a.ID, VariantAttrs{Size: ptr("L")})
	require.NoError(t, err)
	assert.Equal(t, "TEE-L-BLACK", u.SKU)

	// the old pair is free again
	_, err = s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{})
	assert.NoError(t, err)

	_, err = s.UpdateVariant(ctx, a.ID, VariantAttrs{Color: ptr(" ")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteVariantInUse(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(5)})
	require.NoError(t, err)
	_, err = s.Reserve(ctx, v.ID, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteVariant(ctx, v.ID), apperr.ErrVariantInUse)

	_, err = s.Release(ctx, v.ID, 2)
	require.NoError(t, err)
	require.NoError(t, s.DeleteVariant(ctx, v.ID))

	_, err = s.Get(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{})
	assert.NoError(t, err)
}

func TestAggregateStock(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)

	p.BaseStock = Finite(6)
	p, err := s.PutProduct(ctx, p)
	require.NoError(t, err)

	agg, err := s.AggregateStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Finite(6), agg, "falls back to base stock without variants")

	_, err = s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(3)})
	require.NoError(t, err)
	_, err = s.AddVariant(ctx, p.ID, "M", "Black", VariantAttrs{StockQuantity: ptr(4)})
	require.NoError(t, err)
	_, err = s.AddVariant(ctx, p.ID, "L", "Black", VariantAttrs{StockQuantity: ptr(100), IsActive: ptr(false)})
	require.NoError(t, err)

	agg, err = s.AggregateStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Finite(7), agg)

	_, err = s.AddVariant(ctx, p.ID, "XL", "Black", VariantAttrs{IsUnlimitedStock: ptr(true)})
	require.NoError(t, err)
	agg, err = s.AggregateStock(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, agg.IsUnbounded())
}

func TestReserveAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	a, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(5)})
	require.NoError(t, err)
	b, err := s.AddVariant(ctx, p.ID, "M", "Black", VariantAttrs{StockQuantity: ptr(1)})
	require.NoError(t, err)

	err = s.ReserveAll(ctx, "order-1", []Allocation{{a.ID, 2}, {b.ID, 2}})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReservedQuantity)

	// duplicate lines for one variant are summed
	err = s.ReserveAll(ctx, "order-2", []Allocation{{a.ID, 2}, {a.ID, 3}})
	require.NoError(t, err)
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Finite(0), got.AvailableQuantity)

	require.NoError(t, s.FulfillAll(ctx, "order-2"))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)
	assert.Equal(t, 0, got.ReservedQuantity)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(50)})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(ctx, v.ID, 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, ok)
	assert.Equal(t, 50, got.ReservedQuantity)
	assert.Equal(t, Finite(0), got.AvailableQuantity)
}

func TestLowStockSignal(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(10), LowStockThreshold: ptr(3), ReorderPoint: ptr(2)})
	require.NoError(t, err)
	assert.False(t, v.IsLowStock)
	assert.Empty(t, s.LowStock(ctx))

	v, err = s.Reserve(ctx, v.ID, 7)
	require.NoError(t, err)
	assert.True(t, v.IsLowStock)
	assert.False(t, v.NeedsReorder)
	require.Len(t, s.LowStock(ctx), 1)

	v, err = s.Reserve(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.True(t, v.NeedsReorder)
}

type failingRepo struct{ err error }

func (r failingRepo) SaveProduct(context.Context, Product) error                 { return nil }
func (r failingRepo) SaveVariants(context.Context, []Variant, []Movement) error { return r.err }
func (r failingRepo) DeleteVariant(context.Context, string) error                { return r.err }

func TestPersistenceFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(5)})
	require.NoError(t, err)

	s.repo = failingRepo{err: errors.New("db down")}
	_, err = s.Reserve(ctx, v.ID, 2)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	_, err = s.AdjustStock(ctx, v.ID, 5, "restock")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
	assert.Equal(t, 0, got.ReservedQuantity)
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	p := Product{ID: "p1", Code: "P1", Name: "Hoodie"}
	v := Variant{ID: "v1", ProductID: "p1", Size: "M", Color: "Grey", SKU: "P1-M-GREY", StockQuantity: 4, IsActive: true}
	moves := []Movement{
		{ID: "m1", VariantID: "v1", Type: MovementAdjust, Delta: 6, StockAfter: 6, Reason: "initial count"},
		{ID: "m2", VariantID: "v1", Type: MovementAdjust, Delta: -2, StockBefore: 6, StockAfter: 4, Reason: "damaged"},
		{ID: "m3", VariantID: "gone", Type: MovementAdjust, Delta: 1},
	}
	s.Hydrate([]Product{p}, []Variant{v}, moves)

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, Finite(4), got.AvailableQuantity)

	ms, err := s.Movements(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "m1", ms[0].ID)
	assert.Equal(t, "damaged", ms[1].Reason)

	_, err = s.AdjustStock(ctx, "v1", 1, "found one")
	require.NoError(t, err)
	ms, err = s.Movements(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, ms, 3, "new movements append to the loaded history")

	_, err = s.AddVariant(ctx, "p1", "m", "grey", VariantAttrs{})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVariant)
}

func TestHydrateKeepsNewestMovements(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	v := Variant{ID: "v1", ProductID: "p1", Size: "M", Color: "Grey", SKU: "P1-M-GREY", IsActive: true}
	moves := make([]Movement, MovementsInMemory+5)
	for i := range moves {
		moves[i] = Movement{ID: fmt.Sprintf("m%d", i), VariantID: "v1", Type: MovementAdjust, Delta: 1}
	}
	s.Hydrate([]Product{{ID: "p1", Code: "P1", Name: "Hoodie"}}, []Variant{v}, moves)

	ms, err := s.Movements(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, ms, MovementsInMemory)
	assert.Equal(t, "m5", ms[0].ID)
	assert.Equal(t, fmt.Sprintf("m%d", MovementsInMemory+4), ms[len(ms)-1].ID)
}

func TestOrderHoldSurvivesManualRelease(t *testing.T) {
	ctx := context.Background()
	s, p := newStoreWithProduct(t)
	v, err := s.AddVariant(ctx, p.ID, "S", "Black", VariantAttrs{StockQuantity: ptr(5)})
	require.NoError(t, err)

	require.NoError(t, s.ReserveAll(ctx, "order-1", []Allocation{{v.ID, 3}}))
	assert.Equal(t, []Allocation{{v.ID, 3}}, s.Held("order-1"))

	_, err = s.Release(ctx, v.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrValidation, "units held by an order are not released manually")

	// manual reservations on top of the hold stay releasable
	_, err = s.Reserve(ctx, v.ID, 1)
	require.NoError(t, err)
	got, err := s.Release(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReservedQuantity)

	assert.ErrorIs(t, s.DeleteVariant(ctx, v.ID), apperr.ErrVariantInUse)

	require.NoError(t, s.ReleaseAll(ctx, "order-1"))
	assert.Empty(t, s.Held("order-1"))
	got, err = s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReservedQuantity)
	assert.Equal(t, Finite(5), got.AvailableQuantity)

	require.NoError(t, s.ReleaseAll(ctx, "order-1"), "releasing twice is a no-op")
	require.NoError(t, s.DeleteVariant(ctx, v.ID))
}

func TestSettleToleratesDriftedHolds(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	v := Variant{ID: "v1", ProductID: "p1", Size: "M", Color: "Grey", SKU: "P1-M-GREY", StockQuantity: 10, ReservedQuantity: 1, IsActive: true}
	s.Hydrate([]Product{{ID: "p1", Code: "P1", Name: "Hoodie"}}, []Variant{v}, nil)
	s.HydrateHolds("order-9", []Allocation{{"v1", 3}, {"gone", 2}})

	require.NoError(t, s.FulfillAll(ctx, "order-9"))
	assert.Empty(t, s.Held("order-9"))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.StockQuantity)
	assert.Equal(t, 0, got.ReservedQuantity)

	ms, err := s.Movements(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, MovementFulfill, ms[0].Type)
	assert.Equal(t, -3, ms[0].Delta)
	assert.Equal(t, "order-9", ms[0].Reference)

	s.HydrateHolds("order-10", []Allocation{{"v1", 4}})
	require.NoError(t, s.ReleaseAll(ctx, "order-10"), "release is capped at what is still reserved")
	got, err = s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReservedQuantity)
}

func TestPutProductRejectsMalformedID(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})

	_, err := s.PutProduct(ctx, Product{ID: "not-a-uuid", Code: "TEE", Name: "Tee"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	id := uuid.NewString()
	p, err := s.PutProduct(ctx, Product{ID: id, Code: "TEE", Name: "Tee"})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
}

func TestUpdateVariantSKUChangeDropsOldGaugeSeries(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	p, err := s.PutProduct(ctx, Product{Code: "GAUGE", Name: "Gauge Tee"})
	require.NoError(t, err)
	v, err := s.AddVariant(ctx, p.ID, "S", "Red", VariantAttrs{StockQuantity: ptr(1), LowStockThreshold: ptr(2)})
	require.NoError(t, err)
	require.Equal(t, "GAUGE-S-RED", v.SKU)

	v, err = s.UpdateVariant(ctx, v.ID, VariantAttrs{SKU: ptr("GAUGE-RED-SMALL")})
	require.NoError(t, err)

	assert.False(t, metrics.LowStockGauge.DeleteLabelValues("GAUGE-S-RED"), "old series removed")
	assert.True(t, metrics.LowStockGauge.DeleteLabelValues("GAUGE-RED-SMALL"), "new series present")
}
