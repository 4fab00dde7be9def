package inventory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/events"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MovementsInMemory is the per-variant movement tail kept in memory; the
// repository keeps the full history.
const MovementsInMemory = 500

// Repository is the write-through persistence of the store. Every write is
// issued while the affected variants are locked; a failed write leaves the
// in-memory state untouched.
type Repository interface {
	SaveProduct(ctx context.Context, p Product) error
	SaveVariants(ctx context.Context, vs []Variant, ms []Movement) error
	DeleteVariant(ctx context.Context, id string) error
}

type Config struct {
	Repo        Repository       // optional
	Publisher   events.Publisher // optional
	Logger      *zap.Logger
	ServiceName string
}

// Store owns per-variant stock. Each variant is mutated behind its own mutex;
// s.mu guards the maps and uniqueness indexes and is always taken before a
// variant mutex.
type Store struct {
	mu        sync.RWMutex
	products  map[string]Product
	variants  map[string]*entry
	byKey     map[variantKey]string
	bySKU     map[string]string
	byProduct map[string]map[string]struct{}

	// holdMu is taken last. A variant's holds only change while its entry
	// mutex is held.
	holdMu sync.Mutex
	holds  map[string]map[string]int // reference -> variant -> units
	held   map[string]int            // variant -> units held by all references

	repo    Repository
	pub     events.Publisher
	log     *zap.Logger
	service string
	now     func() time.Time
}

type entry struct {
	mu        sync.Mutex
	v         Variant
	movements []Movement
	deleted   bool
}

func NewStore(cfg Config) *Store {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Store{
		products:  map[string]Product{},
		variants:  map[string]*entry{},
		byKey:     map[variantKey]string{},
		bySKU:     map[string]string{},
		byProduct: map[string]map[string]struct{}{},
		holds:     map[string]map[string]int{},
		held:      map[string]int{},
		repo:      cfg.Repo,
		pub:       pub,
		log:       logger.OrNop(cfg.Logger),
		service:   cfg.ServiceName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Hydrate replaces the store content, e.g. with rows loaded at startup.
// Movements are attached to their variant in the given order and trimmed to
// MovementsInMemory; rows of unknown variants are ignored. Holds are cleared.
func (s *Store) Hydrate(products []Product, variants []Variant, movements []Movement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = make(map[string]Product, len(products))
	s.variants = make(map[string]*entry, len(variants))
	s.byKey = make(map[variantKey]string, len(variants))
	s.bySKU = make(map[string]string, len(variants))
	s.byProduct = map[string]map[string]struct{}{}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, v := range variants {
		s.index(v)
		s.variants[v.ID] = &entry{v: v}
	}
	for _, m := range movements {
		if e, ok := s.variants[m.VariantID]; ok {
			e.movements = append(e.movements, m)
		}
	}
	for _, e := range s.variants {
		if n := len(e.movements); n > MovementsInMemory {
			e.movements = e.movements[n-MovementsInMemory:]
		}
	}

	s.holdMu.Lock()
	s.holds = map[string]map[string]int{}
	s.held = map[string]int{}
	s.holdMu.Unlock()
}

// HydrateHolds records that reference already holds allocs, e.g. for an open
// order loaded at startup. Call it after Hydrate.
func (s *Store) HydrateHolds(reference string, allocs []Allocation) {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	s.addHoldsLocked(reference, allocs)
}

// ---- Products ----

func (s *Store) PutProduct(ctx context.Context, p Product) (Product, error) {
	const op = "inventory.putProduct"
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Product{}, apperr.New(apperr.KindValidation, op, "name is required")
	}
	if p.BasePrice.IsNegative() {
		return Product{}, apperr.New(apperr.KindValidation, op, "basePrice must be >= 0")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, err := uuid.Parse(p.ID); err != nil {
		return Product{}, apperr.New(apperr.KindValidation, op, "id %q is not a UUID", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if old, ok := s.products[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if s.repo != nil {
		if err := s.repo.SaveProduct(ctx, p); err != nil {
			return Product{}, apperr.Unavailable(op, err)
		}
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, apperr.New(apperr.KindNotFound, "inventory.getProduct", "product %s", id)
	}
	return p, nil
}

// AggregateStock sums stockQuantity over the product's active variants.
// An unlimited variant makes the aggregate Unbounded. Without active
// variants the product's base stock is returned.
func (s *Store) AggregateStock(_ context.Context, productID string) (Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return Stock{}, apperr.New(apperr.KindNotFound, "inventory.aggregateStock", "product %s", productID)
	}

	total := Finite(0)
	active := 0
	for id := range s.byProduct[productID] {
		v := s.variants[id].snapshot()
		if !v.IsActive {
			continue
		}
		active++
		if v.IsUnlimitedStock {
			return Unbounded(), nil
		}
		total = total.Add(Finite(v.StockQuantity))
	}
	if active == 0 {
		return p.BaseStock, nil
	}
	return total, nil
}

// ---- Variants ----

func (s *Store) AddVariant(ctx context.Context, productID, size, color string, attrs VariantAttrs) (VariantView, error) {
	const op = "inventory.addVariant"
	size, color = strings.TrimSpace(size), strings.TrimSpace(color)
	if size == "" || color == "" {
		return VariantView{}, apperr.New(apperr.KindValidation, op, "size and color are required")
	}
	if err := validateAttrs(op, attrs); err != nil {
		return VariantView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return VariantView{}, apperr.New(apperr.KindNotFound, op, "product %s", productID)
	}
	key := keyOf(productID, size, color)
	if _, dup := s.byKey[key]; dup {
		return VariantView{}, apperr.New(apperr.KindDuplicateVariant, op, "product %s already has size=%s color=%s", productID, size, color)
	}

	now := s.now()
	v := Variant{
		ID:        uuid.NewString(),
		ProductID: productID,
		Size:      size,
		Color:     color,
		Price:     p.BasePrice,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyAttrs(&v, attrs)

	if attrs.SKU != nil && strings.TrimSpace(*attrs.SKU) != "" {
		sku := strings.TrimSpace(*attrs.SKU)
		if _, taken := s.bySKU[sku]; taken {
			return VariantView{}, apperr.New(apperr.KindDuplicateVariant, op, "sku %s already in use", sku)
		}
		v.SKU, v.SKUOverridden = sku, true
	} else {
		v.SKU = s.uniqueSKU(GenerateSKU(p.skuPrefix(), size, color), v.ID)
	}

	if s.repo != nil {
		if err := s.repo.SaveVariants(ctx, []Variant{v}, nil); err != nil {
			return VariantView{}, apperr.Unavailable(op, err)
		}
	}
	s.index(v)
	s.variants[v.ID] = &entry{v: v}
	metrics.SetLowStock(v.SKU, v.IsLowStock())

	s.log.Info("variant added",
		zap.String("variant_id", v.ID),
		zap.String("product_id", productID),
		zap.String("sku", v.SKU))
	return v.View(), nil
}

// UpdateVariant applies a partial update. Changing size or color re-checks
// uniqueness and regenerates a SKU that was not set explicitly.
func (s *Store) UpdateVariant(ctx context.Context, id string, attrs VariantAttrs) (VariantView, error) {
	const op = "inventory.updateVariant"
	if err := validateAttrs(op, attrs); err != nil {
		return VariantView{}, err
	}

	s.mu.Lock()
	e, ok := s.variants[id]
	if !ok {
		s.mu.Unlock()
		return VariantView{}, apperr.New(apperr.KindNotFound, op, "variant %s", id)
	}
	e.mu.Lock()

	before := e.v
	after := before
	if attrs.Size != nil {
		after.Size = strings.TrimSpace(*attrs.Size)
	}
	if attrs.Color != nil {
		after.Color = strings.TrimSpace(*attrs.Color)
	}
	if after.Size == "" || after.Color == "" {
		e.mu.Unlock()
		s.mu.Unlock()
		return VariantView{}, apperr.New(apperr.KindValidation, op, "size and color cannot be empty")
	}

	oldKey, newKey := keyOf(before.ProductID, before.Size, before.Color), keyOf(after.ProductID, after.Size, after.Color)
	if newKey != oldKey {
		if _, dup := s.byKey[newKey]; dup {
			e.mu.Unlock()
			s.mu.Unlock()
			return VariantView{}, apperr.New(apperr.KindDuplicateVariant, op, "product %s already has size=%s color=%s", after.ProductID, after.Size, after.Color)
		}
	}
	applyAttrs(&after, attrs)

	switch {
	case attrs.SKU != nil && strings.TrimSpace(*attrs.SKU) != "":
		sku := strings.TrimSpace(*attrs.SKU)
		if owner, taken := s.bySKU[sku]; taken && owner != id {
			e.mu.Unlock()
			s.mu.Unlock()
			return VariantView{}, apperr.New(apperr.KindDuplicateVariant, op, "sku %s already in use", sku)
		}
		after.SKU, after.SKUOverridden = sku, true
	case attrs.SKU != nil, newKey != oldKey && !after.SKUOverridden:
		// empty override resets to the derived code
		after.SKUOverridden = false
		after.SKU = s.uniqueSKU(GenerateSKU(s.products[after.ProductID].skuPrefix(), after.Size, after.Color), id)
	}
	after.UpdatedAt = s.now()

	if s.repo != nil {
		if err := s.repo.SaveVariants(ctx, []Variant{after}, nil); err != nil {
			e.mu.Unlock()
			s.mu.Unlock()
			return VariantView{}, apperr.Unavailable(op, err)
		}
	}
	s.unindex(before)
	s.index(after)
	e.v = after
	e.mu.Unlock()
	s.mu.Unlock()

	if before.SKU != after.SKU {
		metrics.LowStockGauge.DeleteLabelValues(before.SKU)
	}
	s.signalLowStock(ctx, before, after)
	return after.View(), nil
}

// DeleteVariant refuses while units are reserved or an open order still
// holds the variant. Order lines keep their own snapshot of the variant.
func (s *Store) DeleteVariant(ctx context.Context, id string) error {
	const op = "inventory.deleteVariant"
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.variants[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, op, "variant %s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.v.ReservedQuantity > 0 {
		return apperr.New(apperr.KindVariantInUse, op, "variant %s has %d reserved units", id, e.v.ReservedQuantity)
	}
	if n := s.heldOn(id); n > 0 {
		return apperr.New(apperr.KindVariantInUse, op, "variant %s is held by open orders (%d units)", id, n)
	}
	if s.repo != nil {
		if err := s.repo.DeleteVariant(ctx, id); err != nil {
			return apperr.Unavailable(op, err)
		}
	}
	s.unindex(e.v)
	delete(s.variants, id)
	e.deleted = true
	metrics.LowStockGauge.DeleteLabelValues(e.v.SKU)
	s.log.Info("variant deleted", zap.String("variant_id", id), zap.String("sku", e.v.SKU))
	return nil
}

func (s *Store) Get(_ context.Context, id string) (VariantView, error) {
	e, err := s.entry("inventory.get", id)
	if err != nil {
		return VariantView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return VariantView{}, apperr.New(apperr.KindNotFound, "inventory.get", "variant %s", id)
	}
	return e.v.View(), nil
}

func (s *Store) ListByProduct(_ context.Context, productID string) ([]VariantView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.products[productID]; !ok {
		return nil, apperr.New(apperr.KindNotFound, "inventory.listByProduct", "product %s", productID)
	}
	out := make([]VariantView, 0, len(s.byProduct[productID]))
	for id := range s.byProduct[productID] {
		out = append(out, s.variants[id].snapshot().View())
	}
	sortViews(out)
	return out, nil
}

// LowStock lists active finite variants at or below their threshold.
func (s *Store) LowStock(_ context.Context) []VariantView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VariantView
	for _, e := range s.variants {
		v := e.snapshot()
		if v.IsActive && v.IsLowStock() {
			out = append(out, v.View())
		}
	}
	sortViews(out)
	return out
}

func (s *Store) Movements(_ context.Context, id string) ([]Movement, error) {
	e, err := s.entry("inventory.movements", id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Movement, len(e.movements))
	copy(out, e.movements)
	return out, nil
}

// ---- Stock primitives ----

// AdjustStock moves stockQuantity by delta, clamped at zero. On an unlimited
// variant the quantity is left alone but the movement is still recorded.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int, reason string) (VariantView, error) {
	const op = "inventory.adjustStock"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return VariantView{}, apperr.New(apperr.KindValidation, op, "reason is required")
	}
	e, err := s.entry(op, id)
	if err != nil {
		return VariantView{}, err
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return VariantView{}, apperr.New(apperr.KindNotFound, op, "variant %s", id)
	}
	before := e.v
	after := before
	if !after.IsUnlimitedStock {
		after.StockQuantity = clampAdd(after.StockQuantity, delta)
	}
	after.UpdatedAt = s.now()
	m := s.movement(before, after, MovementAdjust, delta, reason, "")

	if s.repo != nil {
		if err := s.repo.SaveVariants(ctx, []Variant{after}, []Movement{m}); err != nil {
			e.mu.Unlock()
			return VariantView{}, apperr.Unavailable(op, err)
		}
	}
	e.commit(after, m)
	e.mu.Unlock()

	s.log.Info("stock adjusted",
		zap.String("variant_id", id),
		zap.Int("delta", delta),
		zap.Int("stock", after.StockQuantity),
		zap.String("reason", reason))
	s.notify(ctx, before, after, m)
	return after.View(), nil
}

func (s *Store) Reserve(ctx context.Context, id string, qty int) (VariantView, error) {
	vs, err := s.apply(ctx, "inventory.reserve", MovementReserve, "", []Allocation{{VariantID: id, Qty: qty}}, reserveStep, nil)
	if err != nil {
		return VariantView{}, err
	}
	return vs[0].View(), nil
}

// Release frees manually reserved units. Units held by open orders are only
// given back through ReleaseAll or FulfillAll of that order.
func (s *Store) Release(ctx context.Context, id string, qty int) (VariantView, error) {
	step := func(op string, v *Variant, qty int) (int, error) {
		held := s.heldOn(v.ID)
		if free := v.ReservedQuantity - held; qty > free {
			return 0, apperr.New(apperr.KindValidation, op, "variant %s: release %d exceeds reserved %d (%d held by orders)", v.ID, qty, max(0, free), held)
		}
		v.ReservedQuantity -= qty
		return qty, nil
	}
	vs, err := s.apply(ctx, "inventory.release", MovementRelease, "", []Allocation{{VariantID: id, Qty: qty}}, step, nil)
	if err != nil {
		return VariantView{}, err
	}
	return vs[0].View(), nil
}

// ReserveAll reserves every allocation or none of them. A non-empty
// reference keeps the units as its hold until ReleaseAll or FulfillAll.
func (s *Store) ReserveAll(ctx context.Context, reference string, allocs []Allocation) error {
	var onCommit func()
	if reference != "" {
		onCommit = func() {
			s.holdMu.Lock()
			s.addHoldsLocked(reference, allocs)
			s.holdMu.Unlock()
		}
	}
	_, err := s.apply(ctx, "inventory.reserveAll", MovementReserve, reference, allocs, reserveStep, onCommit)
	return err
}

// ReleaseAll returns the units held by reference to availability, all or
// nothing. Without a hold it is a no-op.
func (s *Store) ReleaseAll(ctx context.Context, reference string) error {
	return s.settle(ctx, "inventory.releaseAll", MovementRelease, reference, settleRelease)
}

// FulfillAll deducts the units held by reference from both the reservation
// and the physical count, all or nothing.
func (s *Store) FulfillAll(ctx context.Context, reference string) error {
	return s.settle(ctx, "inventory.fulfillAll", MovementFulfill, reference, settleFulfill)
}

// Held returns the allocations currently held by reference, sorted by variant.
func (s *Store) Held(reference string) []Allocation {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	out := make([]Allocation, 0, len(s.holds[reference]))
	for id, n := range s.holds[reference] {
		out = append(out, Allocation{VariantID: id, Qty: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

// settle gives back a reference's hold. Variants that no longer exist are
// skipped; the rest is applied with step and the hold dropped on commit.
func (s *Store) settle(ctx context.Context, op string, mt MovementType, reference string, step stepFunc) error {
	if reference == "" {
		return apperr.New(apperr.KindValidation, op, "reference is required")
	}
	held := s.Held(reference)
	if len(held) == 0 {
		return nil
	}

	live := make([]Allocation, 0, len(held))
	s.mu.RLock()
	for _, a := range held {
		if _, ok := s.variants[a.VariantID]; ok {
			live = append(live, a)
			continue
		}
		s.log.Warn("held variant no longer exists",
			zap.String("op", op),
			zap.String("reference", reference),
			zap.String("variant_id", a.VariantID),
			zap.Int("qty", a.Qty))
	}
	s.mu.RUnlock()

	drop := func() {
		s.holdMu.Lock()
		s.dropHoldsLocked(reference)
		s.holdMu.Unlock()
	}
	if len(live) == 0 {
		drop()
		return nil
	}
	_, err := s.apply(ctx, op, mt, reference, live, step, drop)
	return err
}

// stepFunc mutates v for qty units and returns the units actually moved.
type stepFunc func(op string, v *Variant, qty int) (int, error)

func reserveStep(op string, v *Variant, qty int) (int, error) {
	if !v.Available().Covers(qty) {
		metrics.RecordReservationRejected()
		return 0, apperr.New(apperr.KindInsufficientStock, op, "variant %s: want %d, available %s", v.ID, qty, v.Available())
	}
	v.ReservedQuantity += qty
	return qty, nil
}

// settleRelease releases at most what is still reserved.
func settleRelease(_ string, v *Variant, qty int) (int, error) {
	qty = min(qty, v.ReservedQuantity)
	v.ReservedQuantity -= qty
	return qty, nil
}

// settleFulfill ships qty units: the physical count always drops by qty, the
// reservation by at most what is still reserved.
func settleFulfill(_ string, v *Variant, qty int) (int, error) {
	v.ReservedQuantity -= min(qty, v.ReservedQuantity)
	if !v.IsUnlimitedStock {
		v.StockQuantity = max(0, v.StockQuantity-qty)
	}
	return qty, nil
}

// apply locks the variants of allocs in id order, runs step on copies and
// commits only if every step and the persistence write succeed. onCommit, if
// set, runs after the commit while the variants are still locked.
func (s *Store) apply(ctx context.Context, op string, mt MovementType, reference string, allocs []Allocation, step stepFunc, onCommit func()) ([]Variant, error) {
	if len(allocs) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "no allocations")
	}
	qtys := make(map[string]int, len(allocs))
	for _, a := range allocs {
		if a.Qty <= 0 {
			return nil, apperr.New(apperr.KindValidation, op, "qty must be > 0 (variant %s)", a.VariantID)
		}
		qtys[a.VariantID] += a.Qty
	}
	ids := make([]string, 0, len(qtys))
	for id := range qtys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]*entry, len(ids))
	s.mu.RLock()
	for i, id := range ids {
		e, ok := s.variants[id]
		if !ok {
			s.mu.RUnlock()
			return nil, apperr.New(apperr.KindNotFound, op, "variant %s", id)
		}
		entries[i] = e
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
	}
	unlock := func() {
		for _, e := range entries {
			e.mu.Unlock()
		}
	}

	befores := make([]Variant, len(entries))
	afters := make([]Variant, len(entries))
	moves := make([]Movement, len(entries))
	now := s.now()
	for i, e := range entries {
		if e.deleted {
			unlock()
			return nil, apperr.New(apperr.KindNotFound, op, "variant %s", ids[i])
		}
		befores[i] = e.v
		after := e.v
		qty, err := step(op, &after, qtys[ids[i]])
		if err != nil {
			unlock()
			return nil, err
		}
		after.UpdatedAt = now
		afters[i] = after
		delta := qty
		if mt != MovementReserve {
			delta = -qty
		}
		moves[i] = s.movement(befores[i], after, mt, delta, "", reference)
	}

	if s.repo != nil {
		if err := s.repo.SaveVariants(ctx, afters, moves); err != nil {
			unlock()
			return nil, apperr.Unavailable(op, err)
		}
	}
	for i, e := range entries {
		e.commit(afters[i], moves[i])
	}
	if onCommit != nil {
		onCommit()
	}
	unlock()

	for i := range entries {
		s.notify(ctx, befores[i], afters[i], moves[i])
	}
	return afters, nil
}

// ---- helpers ----

func (s *Store) entry(op, id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.variants[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, op, "variant %s", id)
	}
	return e, nil
}

func (s *Store) heldOn(variantID string) int {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	return s.held[variantID]
}

func (s *Store) addHoldsLocked(reference string, allocs []Allocation) {
	h, ok := s.holds[reference]
	if !ok {
		h = map[string]int{}
		s.holds[reference] = h
	}
	for _, a := range allocs {
		h[a.VariantID] += a.Qty
		s.held[a.VariantID] += a.Qty
	}
}

func (s *Store) dropHoldsLocked(reference string) {
	for id, n := range s.holds[reference] {
		if s.held[id] -= n; s.held[id] <= 0 {
			delete(s.held, id)
		}
	}
	delete(s.holds, reference)
}

// index and unindex require s.mu held for writing.
func (s *Store) index(v Variant) {
	s.byKey[keyOf(v.ProductID, v.Size, v.Color)] = v.ID
	s.bySKU[v.SKU] = v.ID
	ids, ok := s.byProduct[v.ProductID]
	if !ok {
		ids = map[string]struct{}{}
		s.byProduct[v.ProductID] = ids
	}
	ids[v.ID] = struct{}{}
}

func (s *Store) unindex(v Variant) {
	delete(s.byKey, keyOf(v.ProductID, v.Size, v.Color))
	if s.bySKU[v.SKU] == v.ID {
		delete(s.bySKU, v.SKU)
	}
	delete(s.byProduct[v.ProductID], v.ID)
}

// uniqueSKU suffixes base with -2, -3, ... until no other variant owns it.
func (s *Store) uniqueSKU(base, id string) string {
	sku := base
	for i := 2; ; i++ {
		owner, taken := s.bySKU[sku]
		if !taken || owner == id {
			return sku
		}
		sku = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Store) movement(before, after Variant, mt MovementType, delta int, reason, reference string) Movement {
	return Movement{
		ID:             uuid.NewString(),
		VariantID:      after.ID,
		Type:           mt,
		Delta:          delta,
		StockBefore:    before.StockQuantity,
		StockAfter:     after.StockQuantity,
		ReservedBefore: before.ReservedQuantity,
		ReservedAfter:  after.ReservedQuantity,
		Reason:         reason,
		Reference:      reference,
		CreatedAt:      after.UpdatedAt,
	}
}

func (s *Store) notify(ctx context.Context, before, after Variant, m Movement) {
	metrics.RecordStockMovement(string(m.Type))
	s.publish(ctx, events.TopicStockAdjusted, events.EventStockAdjusted, after.ID, events.StockAdjustedPayload{
		VariantID:     after.ID,
		SKU:           after.SKU,
		Movement:      string(m.Type),
		Delta:         m.Delta,
		Reason:        m.Reason,
		StockQuantity: after.StockQuantity,
		Reserved:      after.ReservedQuantity,
		Available:     after.Available().IntPtr(),
	})
	s.signalLowStock(ctx, before, after)
}

// signalLowStock publishes when a variant crosses into low stock.
func (s *Store) signalLowStock(ctx context.Context, before, after Variant) {
	low := after.IsLowStock()
	metrics.SetLowStock(after.SKU, low)
	if !low || before.IsLowStock() || !after.IsActive {
		return
	}
	n, _ := after.Available().Count()
	s.log.Warn("variant low on stock",
		zap.String("variant_id", after.ID),
		zap.String("sku", after.SKU),
		zap.Int("available", n),
		zap.Int("threshold", after.LowStockThreshold))
	s.publish(ctx, events.TopicStockLow, events.EventStockLow, after.ID, events.StockLowPayload{
		VariantID:    after.ID,
		SKU:          after.SKU,
		Available:    n,
		Threshold:    after.LowStockThreshold,
		ReorderPoint: after.ReorderPoint,
		NeedsReorder: after.NeedsReorder(),
	})
}

func (s *Store) publish(ctx context.Context, topic, eventType, key string, payload any) {
	env, err := events.New(eventType, s.service, key, payload)
	if err == nil {
		err = s.pub.Publish(ctx, topic, env)
	}
	if err != nil {
		s.log.Warn("publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (e *entry) snapshot() Variant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.v
}

func (e *entry) commit(v Variant, m Movement) {
	e.v = v
	e.movements = append(e.movements, m)
	if n := len(e.movements); n > MovementsInMemory {
		e.movements = append([]Movement(nil), e.movements[n-MovementsInMemory:]...)
	}
}

func validateAttrs(op string, a VariantAttrs) error {
	switch {
	case a.StockQuantity != nil && *a.StockQuantity < 0:
		return apperr.New(apperr.KindValidation, op, "stockQuantity must be >= 0")
	case a.LowStockThreshold != nil && *a.LowStockThreshold < 0:
		return apperr.New(apperr.KindValidation, op, "lowStockThreshold must be >= 0")
	case a.ReorderPoint != nil && *a.ReorderPoint < 0:
		return apperr.New(apperr.KindValidation, op, "reorderPoint must be >= 0")
	case a.Price != nil && a.Price.IsNegative():
		return apperr.New(apperr.KindValidation, op, "price must be >= 0")
	}
	return nil
}

// applyAttrs copies the non-identity fields; size, color and SKU are handled
// by the caller because they touch the indexes.
func applyAttrs(v *Variant, a VariantAttrs) {
	if a.Price != nil {
		v.Price = *a.Price
	}
	if a.StockQuantity != nil {
		v.StockQuantity = *a.StockQuantity
	}
	if a.LowStockThreshold != nil {
		v.LowStockThreshold = *a.LowStockThreshold
	}
	if a.ReorderPoint != nil {
		v.ReorderPoint = *a.ReorderPoint
	}
	if a.IsUnlimitedStock != nil {
		v.IsUnlimitedStock = *a.IsUnlimitedStock
	}
	if a.IsActive != nil {
		v.IsActive = *a.IsActive
	}
}

func clampAdd(n, delta int) int {
	if delta > 0 && n > math.MaxInt-delta {
		return math.MaxInt
	}
	return max(0, n+delta)
}

func sortViews(vs []VariantView) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.Before(vs[j].CreatedAt)
		}
		return vs[i].SKU < vs[j].SKU
	})
}
