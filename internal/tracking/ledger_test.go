package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T, cfg Config) (*Ledger, string) {
	t.Helper()
	l := NewLedger(cfg)
	require.NoError(t, l.Open(context.Background(), "order-1"))
	return l, "order-1"
}

func TestProgressTable(t *testing.T) {
	want := map[EventType]int{
		EventOrderPlaced:       10,
		EventPaymentConfirmed:  20,
		EventOrderProcessing:   30,
		EventOrderShipped:      50,
		EventInTransit:         70,
		EventOutForDelivery:    90,
		EventDelivered:         100,
		EventDeliveryAttempted: 85,
		EventReturnedToSender:  0,
		EventCancelled:         0,
		EventRefunded:          0,
	}
	for typ, pct := range want {
		got, ok := typ.Progress()
		assert.True(t, ok, typ)
		assert.Equal(t, pct, got, typ)
	}
	_, ok := EventException.Progress()
	assert.False(t, ok)
	assert.Len(t, EventTypes(), 12)
	for _, typ := range EventTypes() {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, EventType("LOST").Valid())
}

func TestTerminalTypes(t *testing.T) {
	terminal := map[EventType]bool{
		EventDelivered: true, EventReturnedToSender: true, EventCancelled: true, EventRefunded: true,
	}
	for _, typ := range EventTypes() {
		assert.Equal(t, terminal[typ], typ.IsTerminal(), typ)
	}
}

func TestLatestEventDrivesView(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})

	view, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EventType(""), view.CurrentStatus)
	assert.Equal(t, 0, view.ProgressPercentage)
	assert.Empty(t, view.Events)

	for _, typ := range []EventType{EventOrderPlaced, EventOrderShipped, EventInTransit} {
		_, err := l.AddEvent(ctx, id, typ, string(typ), "Hub A")
		require.NoError(t, err)
	}
	view, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EventInTransit, view.CurrentStatus)
	assert.Equal(t, 70, view.ProgressPercentage)
	assert.False(t, view.IsTerminal)
	assert.Equal(t, "Hub A", view.CurrentLocation)
	require.Len(t, view.Events, 3)
	assert.Equal(t, 3, view.Events[2].Seq)

	_, err = l.AddEvent(ctx, id, EventDelivered, "left at door", "Home")
	require.NoError(t, err)
	view, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, view.ProgressPercentage)
	assert.True(t, view.IsTerminal)
	require.NotNil(t, view.ActualDeliveryDate)
}

func TestCancelledAlwaysZero(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})
	_, err := l.AddEvent(ctx, id, EventOutForDelivery, "", "")
	require.NoError(t, err)
	ev, err := l.AddEvent(ctx, id, EventCancelled, "customer request", "")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.Progress)
}

func TestExceptionCarriesLastKnownProgress(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})

	ev, err := l.AddEvent(ctx, id, EventException, "label unreadable", "")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.Progress, "no prior progress")

	_, err = l.AddEvent(ctx, id, EventInTransit, "", "")
	require.NoError(t, err)
	ev, err = l.AddEvent(ctx, id, EventException, "weather delay", "Depot")
	require.NoError(t, err)
	assert.Equal(t, 70, ev.Progress)
	ev, err = l.AddEvent(ctx, id, EventException, "still delayed", "Depot")
	require.NoError(t, err)
	assert.Equal(t, 70, ev.Progress)

	view, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EventException, view.CurrentStatus)
	assert.Equal(t, 70, view.ProgressPercentage)
}

func TestPostTerminalEventsArePermittedAndFlagged(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})
	_, err := l.AddEvent(ctx, id, EventReturnedToSender, "", "")
	require.NoError(t, err)
	_, err = l.AddEvent(ctx, id, EventException, "dispute opened", "")
	require.NoError(t, err)

	view, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EventException, view.CurrentStatus)
	assert.False(t, view.IsTerminal)
	assert.Contains(t, view.Warning, "RETURNED_TO_SENDER")
}

func TestStrictTerminalRejects(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{StrictTerminal: true})
	_, err := l.AddEvent(ctx, id, EventRefunded, "", "")
	require.NoError(t, err)
	_, err = l.AddEvent(ctx, id, EventException, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})
	at := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	ev, err := l.MarkDelivered(ctx, id, Delivery{Date: at, Location: "Front desk", DeliveredTo: "J. Doe"})
	require.NoError(t, err)
	assert.Equal(t, EventDelivered, ev.Type)
	assert.Equal(t, "Delivered to J. Doe", ev.Description)
	assert.Equal(t, at, ev.EventDate)

	view, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, view.ProgressPercentage)
	assert.True(t, view.IsTerminal)
	assert.Equal(t, "J. Doe", view.DeliveredTo)
	assert.Equal(t, at, *view.ActualDeliveryDate)
	assert.Equal(t, "Front desk", view.CurrentLocation)
}

func TestAddEventValidation(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})
	_, err := l.AddEvent(ctx, id, "TELEPORTED", "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.AddEvent(ctx, "unknown", EventInTransit, "", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, l.Open(ctx, ""), apperr.ErrValidation)
	assert.NoError(t, l.Open(ctx, id), "open is idempotent")
}

func TestUpdateInfo(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{})
	eta := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	num, carrier, link, loc := "1Z999", "UPS", "https://ups.example/track/1Z999", "Memphis"

	info, err := l.UpdateInfo(ctx, id, InfoUpdate{
		TrackingNumber: &num, Carrier: &carrier, TrackingURL: &link,
		EstimatedDeliveryDate: &eta, CurrentLocation: &loc,
	})
	require.NoError(t, err)
	assert.Equal(t, "1Z999", info.TrackingNumber)
	assert.Equal(t, "Memphis", info.CurrentLocation)
	assert.Equal(t, eta, *info.EstimatedDeliveryDate)

	bad := "not a url"
	_, err = l.UpdateInfo(ctx, id, InfoUpdate{TrackingURL: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type failingRepo struct{}

func (failingRepo) AppendEvent(context.Context, Event, Info) error { return errors.New("db down") }
func (failingRepo) SaveInfo(context.Context, Info) error           { return nil }

func TestAppendFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	l, id := openLedger(t, Config{Repo: failingRepo{}})
	_, err := l.AddEvent(ctx, id, EventInTransit, "", "")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	view, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, view.Events)
}

func TestHydrateOrdersBySeq(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(Config{})
	l.Hydrate([]Info{{OrderID: "o"}}, []Event{
		{OrderID: "o", Seq: 2, Type: EventOrderShipped, Progress: 50},
		{OrderID: "o", Seq: 1, Type: EventOrderPlaced, Progress: 10},
	})
	view, err := l.Get(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, EventOrderShipped, view.CurrentStatus)

	ev, err := l.AddEvent(ctx, "o", EventInTransit, "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.Seq)
}
