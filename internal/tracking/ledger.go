package tracking

import (
	"context"
	"fmt"
	"net/url"
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

type Repository interface {
	AppendEvent(ctx context.Context, ev Event, info Info) error
	SaveInfo(ctx context.Context, info Info) error
}

type Config struct {
	Repo        Repository       // optional
	Publisher   events.Publisher // optional
	Logger      *zap.Logger
	ServiceName string
	// StrictTerminal rejects events appended after a terminal one.
	StrictTerminal bool
}

// Ledger is an append-only event log per order. Appends to one order are
// serialized by that order's mutex.
type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*book

	repo    Repository
	pub     events.Publisher
	log     *zap.Logger
	service string
	strict  bool
	now     func() time.Time
}

type book struct {
	mu     sync.Mutex
	info   Info
	events []Event
}

func NewLedger(cfg Config) *Ledger {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{
		orders:  map[string]*book{},
		repo:    cfg.Repo,
		pub:     pub,
		log:     logger.OrNop(cfg.Logger),
		service: cfg.ServiceName,
		strict:  cfg.StrictTerminal,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Hydrate loads persisted infos and events; events are ordered by Seq.
func (l *Ledger) Hydrate(infos []Info, evs []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[string]*book, len(infos))
	for _, in := range infos {
		l.orders[in.OrderID] = &book{info: in}
	}
	for _, ev := range evs {
		b, ok := l.orders[ev.OrderID]
		if !ok {
			b = &book{info: Info{OrderID: ev.OrderID}}
			l.orders[ev.OrderID] = b
		}
		b.events = append(b.events, ev)
	}
	for _, b := range l.orders {
		sort.Slice(b.events, func(i, j int) bool { return b.events[i].Seq < b.events[j].Seq })
	}
}

// Open starts the ledger of an order. Opening twice is a no-op.
func (l *Ledger) Open(ctx context.Context, orderID string) error {
	const op = "tracking.open"
	if orderID == "" {
		return apperr.New(apperr.KindValidation, op, "orderId is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[orderID]; ok {
		return nil
	}
	info := Info{OrderID: orderID, UpdatedAt: l.now()}
	if l.repo != nil {
		if err := l.repo.SaveInfo(ctx, info); err != nil {
			return apperr.Unavailable(op, err)
		}
	}
	l.orders[orderID] = &book{info: info}
	return nil
}

// AddEvent appends an event stamped with the current time. It is the only
// way history grows; nothing is ever edited or removed.
func (l *Ledger) AddEvent(ctx context.Context, orderID string, t EventType, description, location string) (Event, error) {
	return l.append(ctx, "tracking.addEvent", orderID, t, description, location, time.Time{}, nil)
}

// MarkDelivered appends DELIVERED dated at d.Date (now when zero) and records
// the actual delivery date and recipient.
func (l *Ledger) MarkDelivered(ctx context.Context, orderID string, d Delivery) (Event, error) {
	desc := "Delivered"
	if d.DeliveredTo = strings.TrimSpace(d.DeliveredTo); d.DeliveredTo != "" {
		desc = "Delivered to " + d.DeliveredTo
	}
	return l.append(ctx, "tracking.markDelivered", orderID, EventDelivered, desc, d.Location, d.Date, func(in *Info) {
		in.DeliveredTo = d.DeliveredTo
	})
}

func (l *Ledger) append(ctx context.Context, op, orderID string, t EventType, description, location string, at time.Time, mutate func(*Info)) (Event, error) {
	if !t.Valid() {
		return Event{}, apperr.New(apperr.KindValidation, op, "unknown event type %q", t)
	}
	b, err := l.book(op, orderID)
	if err != nil {
		return Event{}, err
	}

	b.mu.Lock()
	last, hasLast := b.last()
	if hasLast && last.Type.IsTerminal() {
		if l.strict {
			b.mu.Unlock()
			return Event{}, apperr.New(apperr.KindInvalidTransition, op, "order %s already reached %s", orderID, last.Type)
		}
		l.log.Warn("tracking event after terminal status",
			zap.String("order_id", orderID),
			zap.String("terminal", string(last.Type)),
			zap.String("event_type", string(t)))
	}

	now := l.now()
	if at.IsZero() {
		at = now
	}
	pct, ok := t.Progress()
	if !ok && hasLast {
		pct = last.Progress
	}
	ev := Event{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Seq:         len(b.events) + 1,
		Type:        t,
		Description: strings.TrimSpace(description),
		Location:    strings.TrimSpace(location),
		EventDate:   at,
		Progress:    pct,
	}
	info := b.info
	if ev.Location != "" {
		info.CurrentLocation = ev.Location
	}
	if t == EventDelivered {
		d := at
		info.ActualDeliveryDate = &d
	}
	if mutate != nil {
		mutate(&info)
	}
	info.UpdatedAt = now

	if l.repo != nil {
		if err := l.repo.AppendEvent(ctx, ev, info); err != nil {
			b.mu.Unlock()
			return Event{}, apperr.Unavailable(op, err)
		}
	}
	b.events = append(b.events, ev)
	b.info = info
	b.mu.Unlock()

	metrics.RecordTrackingEvent(string(t))
	l.publish(ctx, ev)
	return ev, nil
}

// UpdateInfo sets carrier-facing fields.
func (l *Ledger) UpdateInfo(ctx context.Context, orderID string, u InfoUpdate) (Info, error) {
	const op = "tracking.updateInfo"
	if u.TrackingURL != nil && *u.TrackingURL != "" {
		if p, err := url.Parse(*u.TrackingURL); err != nil || p.Scheme == "" || p.Host == "" {
			return Info{}, apperr.New(apperr.KindValidation, op, "trackingUrl must be an absolute URL")
		}
	}
	b, err := l.book(op, orderID)
	if err != nil {
		return Info{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	info := b.info
	if u.TrackingNumber != nil {
		info.TrackingNumber = strings.TrimSpace(*u.TrackingNumber)
	}
	if u.Carrier != nil {
		info.Carrier = strings.TrimSpace(*u.Carrier)
	}
	if u.TrackingURL != nil {
		info.TrackingURL = strings.TrimSpace(*u.TrackingURL)
	}
	if u.EstimatedDeliveryDate != nil {
		d := u.EstimatedDeliveryDate.UTC()
		info.EstimatedDeliveryDate = &d
	}
	if u.CurrentLocation != nil {
		info.CurrentLocation = strings.TrimSpace(*u.CurrentLocation)
	}
	info.UpdatedAt = l.now()

	if l.repo != nil {
		if err := l.repo.SaveInfo(ctx, info); err != nil {
			return Info{}, apperr.Unavailable(op, err)
		}
	}
	b.info = info
	return info, nil
}

// Get derives the tracking view from the latest event.
func (l *Ledger) Get(_ context.Context, orderID string) (OrderTracking, error) {
	b, err := l.book("tracking.get", orderID)
	if err != nil {
		return OrderTracking{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := OrderTracking{
		Info:   b.info,
		Events: append([]Event{}, b.events...),
	}
	last, ok := b.last()
	if !ok {
		return out, nil
	}
	out.CurrentStatus = last.Type
	out.ProgressPercentage = last.Progress
	out.IsTerminal = last.Type.IsTerminal()
	for i, ev := range b.events[:len(b.events)-1] {
		if ev.Type.IsTerminal() {
			out.Warning = fmt.Sprintf("%d event(s) recorded after terminal status %s", len(b.events)-1-i, ev.Type)
			break
		}
	}
	return out, nil
}

func (l *Ledger) book(op, orderID string) (*book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.orders[orderID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, op, "no tracking for order %s", orderID)
	}
	return b, nil
}

func (b *book) last() (Event, bool) {
	if len(b.events) == 0 {
		return Event{}, false
	}
	return b.events[len(b.events)-1], true
}

func (l *Ledger) publish(ctx context.Context, ev Event) {
	env, err := events.New(events.EventTrackingEventAdded, l.service, ev.OrderID, events.TrackingEventAddedPayload{
		OrderID:     ev.OrderID,
		EventID:     ev.ID,
		EventType:   string(ev.Type),
		Description: ev.Description,
		Location:    ev.Location,
		EventDate:   ev.EventDate,
		Progress:    ev.Progress,
		Terminal:    ev.Type.IsTerminal(),
	})
	if err == nil {
		err = l.pub.Publish(ctx, events.TopicTrackingEvent, env)
	}
	if err != nil {
		l.log.Warn("publish failed", zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}
