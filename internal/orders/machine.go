package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/bulk"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/events"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Inventory is the part of the variant store an order needs.
type Inventory interface {
	Get(ctx context.Context, id string) (inventory.VariantView, error)
	ReserveAll(ctx context.Context, reference string, allocs []inventory.Allocation) error
	ReleaseAll(ctx context.Context, reference string) error
	FulfillAll(ctx context.Context, reference string) error
	Held(reference string) []inventory.Allocation
	HydrateHolds(reference string, allocs []inventory.Allocation)
}

// Tracker receives the milestone event of each status change.
type Tracker interface {
	Open(ctx context.Context, orderID string) error
	AddEvent(ctx context.Context, orderID string, t tracking.EventType, description, location string) (tracking.Event, error)
}

type Repository interface {
	CreateOrder(ctx context.Context, o Order) error
	SaveOrder(ctx context.Context, o Order) error
}

type Config struct {
	Inventory   Inventory
	Tracker     Tracker          // optional
	Repo        Repository       // optional
	Publisher   events.Publisher // optional
	Bulk        *bulk.Coordinator
	Logger      *zap.Logger
	ServiceName string
}

// Machine owns order lifecycle state. Each order is mutated behind its own
// mutex; m.mu only guards the maps.
type Machine struct {
	mu         sync.RWMutex
	orders     map[string]*entry
	byExternal map[string]string
	createMu   sync.Mutex

	inv     Inventory
	tracker Tracker
	repo    Repository
	pub     events.Publisher
	bulk    *bulk.Coordinator
	log     *zap.Logger
	service string
	now     func() time.Time
}

type entry struct {
	mu sync.Mutex
	o  Order
}

func NewMachine(cfg Config) *Machine {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	b := cfg.Bulk
	if b == nil {
		b = bulk.New(1, cfg.Logger)
	}
	return &Machine{
		orders:     map[string]*entry{},
		byExternal: map[string]string{},
		inv:        cfg.Inventory,
		tracker:    cfg.Tracker,
		repo:       cfg.Repo,
		pub:        pub,
		bulk:       b,
		log:        logger.OrNop(cfg.Logger),
		service:    cfg.ServiceName,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Hydrate replaces the loaded orders and restores the inventory holds of
// those that still have stock reserved. Hydrate the inventory first.
func (m *Machine) Hydrate(orders []Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[string]*entry, len(orders))
	m.byExternal = map[string]string{}
	for _, o := range orders {
		m.orders[o.ID] = &entry{o: o}
		if o.ExternalID != "" {
			m.byExternal[o.ExternalID] = o.ID
		}
		if o.Status.HoldsStock() {
			m.inv.HydrateHolds(o.ID, allocations(o.Lines))
		}
	}
}

// Create snapshots the variants, reserves stock for every line and stores the
// order as PENDING. A known ExternalID returns the existing order with
// existed=true.
func (m *Machine) Create(ctx context.Context, in NewOrder) (o Order, existed bool, err error) {
	const op = "orders.create"
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.CustomerID == "" || len(in.Lines) == 0 {
		return Order{}, false, apperr.New(apperr.KindValidation, op, "customerId and lines are required")
	}

	if in.ExternalID != "" {
		m.createMu.Lock()
		defer m.createMu.Unlock()
		if prev, ok := m.lookupExternal(in.ExternalID); ok {
			return prev, true, nil
		}
	}

	lines := make([]Line, 0, len(in.Lines))
	allocs := make([]inventory.Allocation, 0, len(in.Lines))
	total := decimal.Zero
	for _, li := range in.Lines {
		if li.Qty <= 0 {
			return Order{}, false, apperr.New(apperr.KindValidation, op, "qty must be > 0 (variant %s)", li.VariantID)
		}
		v, err := m.inv.Get(ctx, li.VariantID)
		if err != nil {
			return Order{}, false, err
		}
		if !v.IsActive {
			return Order{}, false, apperr.New(apperr.KindValidation, op, "variant %s is not active", v.ID)
		}
		l := Line{
			VariantID: v.ID, ProductID: v.ProductID, SKU: v.SKU,
			Size: v.Size, Color: v.Color, UnitPrice: v.Price, Qty: li.Qty,
		}
		lines = append(lines, l)
		allocs = append(allocs, inventory.Allocation{VariantID: v.ID, Qty: li.Qty})
		total = total.Add(l.Total())
	}

	now := m.now()
	o = Order{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		CustomerID: in.CustomerID,
		Status:     StatusPending,
		Lines:      lines,
		Total:      total,
		Notes:      []Note{{At: now, To: StatusPending, Text: "order placed"}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.inv.ReserveAll(ctx, o.ID, allocs); err != nil {
		return Order{}, false, err
	}
	if m.repo != nil {
		if err := m.repo.CreateOrder(ctx, o); err != nil {
			if rerr := m.inv.ReleaseAll(ctx, o.ID); rerr != nil {
				m.log.Error("release after failed create", zap.String("order_id", o.ID), zap.Error(rerr))
			}
			return Order{}, false, apperr.Unavailable(op, err)
		}
	}

	m.mu.Lock()
	m.orders[o.ID] = &entry{o: o.clone()}
	if o.ExternalID != "" {
		m.byExternal[o.ExternalID] = o.ID
	}
	m.mu.Unlock()

	if m.tracker != nil {
		if err := m.tracker.Open(ctx, o.ID); err != nil {
			m.log.Error("open tracking", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			m.milestone(ctx, o.ID, StatusPending, "Order placed")
		}
	}
	m.publishChange(ctx, o.ID, "", StatusPending, "order placed", now)
	m.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.Int("lines", len(lines)),
		zap.String("total", total.String()))
	return o, false, nil
}

func (m *Machine) Get(_ context.Context, id string) (Order, error) {
	e, err := m.entry("orders.get", id)
	if err != nil {
		return Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.o.clone(), nil
}

// List returns orders oldest first, optionally filtered by status.
func (m *Machine) List(_ context.Context, status Status) []Order {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		o := e.o.clone()
		e.mu.Unlock()
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateStatus moves the order along the transition table and appends an
// audit note. The milestone tracking event of the new status is emitted.
func (m *Machine) UpdateStatus(ctx context.Context, id string, to Status, notes string) (Order, error) {
	return m.transition(ctx, "orders.updateStatus", id, to, notes, nil, true)
}

// Cancel is UpdateStatus(CANCELLED) for orders that have not started
// processing. Reserved stock goes back to the store.
func (m *Machine) Cancel(ctx context.Context, id, reason string) (Order, error) {
	const op = "orders.cancel"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, apperr.New(apperr.KindValidation, op, "reason is required")
	}
	guard := func(o Order) error {
		if !o.Status.Info().Cancellable {
			return apperr.New(apperr.KindNotCancellable, op, "order %s is %s", o.ID, o.Status)
		}
		return nil
	}
	return m.transition(ctx, op, id, StatusCancelled, reason, guard, true)
}

// SyncDelivered advances a SHIPPED order to DELIVERED after the ledger has
// recorded the delivery itself, so no milestone event is emitted. Orders in
// any other status are returned unchanged with advanced=false.
func (m *Machine) SyncDelivered(ctx context.Context, id, notes string) (o Order, advanced bool, err error) {
	const op = "orders.syncDelivered"
	skip := apperr.New(apperr.KindInvalidTransition, op, "not shipped")
	o, err = m.transition(ctx, op, id, StatusDelivered, notes, func(o Order) error {
		if o.Status != StatusShipped {
			return skip
		}
		return nil
	}, false)
	if err == skip {
		o, err = m.Get(ctx, id)
		return o, false, err
	}
	return o, err == nil, err
}

// BulkUpdateStatus validates and applies each order independently.
func (m *Machine) BulkUpdateStatus(ctx context.Context, ids []string, to Status, notes string) bulk.Result {
	return m.bulk.Run(ctx, "orders.bulkUpdateStatus", ids, func(ctx context.Context, id string) error {
		_, err := m.UpdateStatus(ctx, id, to, notes)
		return err
	})
}

func (m *Machine) transition(ctx context.Context, op, id string, to Status, notes string, guard func(Order) error, emit bool) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.New(apperr.KindValidation, op, "unknown status %q", to)
	}
	e, err := m.entry(op, id)
	if err != nil {
		return Order{}, err
	}

	e.mu.Lock()
	from := e.o.Status
	if guard != nil {
		if err := guard(e.o); err != nil {
			e.mu.Unlock()
			return Order{}, err
		}
	}
	if !CanTransition(from, to) {
		e.mu.Unlock()
		metrics.RecordTransition(string(from), string(to), false)
		return Order{}, apperr.New(apperr.KindInvalidTransition, op, "%s -> %s", from, to)
	}

	var undo func()
	switch to {
	case StatusCancelled:
		held := m.inv.Held(id)
		if err := m.inv.ReleaseAll(ctx, id); err != nil {
			e.mu.Unlock()
			return Order{}, err
		}
		undo = func() {
			if len(held) == 0 {
				return
			}
			if err := m.inv.ReserveAll(ctx, id, held); err != nil {
				m.log.Error("re-reserve after failed cancel", zap.String("order_id", id), zap.Error(err))
			}
		}
	case StatusShipped:
		if err := m.inv.FulfillAll(ctx, id); err != nil {
			e.mu.Unlock()
			return Order{}, err
		}
		undo = func() {
			m.log.Error("stock fulfilled but order not saved; reconcile manually", zap.String("order_id", id))
		}
	}

	now := m.now()
	next := e.o.clone()
	next.Status = to
	next.UpdatedAt = now
	next.Notes = append(next.Notes, Note{At: now, From: from, To: to, Text: strings.TrimSpace(notes)})

	if m.repo != nil {
		if err := m.repo.SaveOrder(ctx, next); err != nil {
			e.mu.Unlock()
			if undo != nil {
				undo()
			}
			return Order{}, apperr.Unavailable(op, err)
		}
	}
	e.o = next
	e.mu.Unlock()

	metrics.RecordTransition(string(from), string(to), true)
	m.log.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if emit {
		desc := fmt.Sprintf("Order %s", strings.ToLower(to.Info().DisplayName))
		if n := strings.TrimSpace(notes); n != "" {
			desc += ": " + n
		}
		m.milestone(ctx, id, to, desc)
	}
	m.publishChange(ctx, id, from, to, notes, now)
	return next.clone(), nil
}

func (m *Machine) milestone(ctx context.Context, id string, s Status, desc string) {
	if m.tracker == nil {
		return
	}
	ev := s.Info().Milestone
	if ev == "" {
		return
	}
	if _, err := m.tracker.AddEvent(ctx, id, ev, desc, ""); err != nil {
		m.log.Warn("milestone event not recorded",
			zap.String("order_id", id),
			zap.String("event_type", string(ev)),
			zap.Error(err))
	}
}

func (m *Machine) publishChange(ctx context.Context, id string, from, to Status, notes string, at time.Time) {
	env, err := events.New(events.EventOrderStatusChanged, m.service, id, events.OrderStatusChangedPayload{
		OrderID: id, From: string(from), To: string(to), Notes: notes, ChangedAt: at,
	})
	if err == nil {
		err = m.pub.Publish(ctx, events.TopicOrderStatusChanged, env)
	}
	if err != nil {
		m.log.Warn("publish failed", zap.String("order_id", id), zap.Error(err))
	}
}

func (m *Machine) entry(op, id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, op, "order %s", id)
	}
	return e, nil
}

func (m *Machine) lookupExternal(externalID string) (Order, bool) {
	m.mu.RLock()
	id, ok := m.byExternal[externalID]
	e := m.orders[id]
	m.mu.RUnlock()
	if !ok || e == nil {
		return Order{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.o.clone(), true
}

func allocations(lines []Line) []inventory.Allocation {
	out := make([]inventory.Allocation, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Allocation{VariantID: l.VariantID, Qty: l.Qty})
	}
	return out
}
