package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/events"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type recorded struct {
	Path string
	Body map[string]any
}

func newAPI(t *testing.T, status int) (*APIClient, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, recorded{Path: r.URL.Path, Body: body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"x"}`))
	}))
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL), &reqs
}

func scanMessage(t *testing.T, p events.CarrierScanPayload) (kafkago.Message, string) {
	t.Helper()
	env, err := events.New(events.EventCarrierScanReceived, "jne-bridge", p.OrderID, p)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}, env.EventID
}

func TestHandleScanForwardsOnce(t *testing.T) {
	api, reqs := newAPI(t, http.StatusCreated)
	svc := &Service{API: api, Dedup: &memDedup{seen: map[string]bool{}}}
	m, _ := scanMessage(t, events.CarrierScanPayload{
		OrderID: "o-1", EventType: "in_transit", Description: "Departed hub", Location: "Surabaya",
	})

	require.NoError(t, svc.HandleScan(context.Background(), m))
	require.NoError(t, svc.HandleScan(context.Background(), m))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/tracking/o-1/events", got.Path)
	assert.Equal(t, string(tracking.EventInTransit), got.Body["eventType"])
	assert.Equal(t, "Surabaya", got.Body["location"])
}

func TestHandleScanDelivered(t *testing.T) {
	api, reqs := newAPI(t, http.StatusCreated)
	svc := &Service{API: api}
	m, _ := scanMessage(t, events.CarrierScanPayload{
		OrderID: "o-1", EventType: "DELIVERED", Location: "Depok", DeliveredTo: "Budi",
	})

	require.NoError(t, svc.HandleScan(context.Background(), m))
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/tracking/o-1/delivered", (*reqs)[0].Path)
	assert.Equal(t, "Budi", (*reqs)[0].Body["deliveredTo"])
	assert.NotEmpty(t, (*reqs)[0].Body["deliveryDate"])
}

func TestHandleScanRejectedIsCommitted(t *testing.T) {
	api, _ := newAPI(t, http.StatusNotFound)
	svc := &Service{API: api, Dedup: &memDedup{seen: map[string]bool{}}}
	m, _ := scanMessage(t, events.CarrierScanPayload{OrderID: "ghost", EventType: "IN_TRANSIT"})

	assert.NoError(t, svc.HandleScan(context.Background(), m))
}

func TestHandleScanServerErrorIsRetried(t *testing.T) {
	api, reqs := newAPI(t, http.StatusServiceUnavailable)
	dedup := &memDedup{seen: map[string]bool{}}
	svc := &Service{API: api, Dedup: dedup}
	m, id := scanMessage(t, events.CarrierScanPayload{OrderID: "o-1", EventType: "IN_TRANSIT"})

	err := svc.HandleScan(context.Background(), m)
	require.Error(t, err)
	var rej *RejectedError
	assert.False(t, errors.As(err, &rej))
	assert.False(t, dedup.seen[id], "claim must be released for the retry")

	require.Error(t, svc.HandleScan(context.Background(), m))
	assert.Len(t, *reqs, 2)
}

func TestHandleScanDropsInvalid(t *testing.T) {
	api, reqs := newAPI(t, http.StatusCreated)
	svc := &Service{API: api}

	assert.NoError(t, svc.HandleScan(context.Background(), kafkago.Message{Value: []byte("{")}))

	m, _ := scanMessage(t, events.CarrierScanPayload{OrderID: "o-1", EventType: "TELEPORTED"})
	assert.NoError(t, svc.HandleScan(context.Background(), m))

	m, _ = scanMessage(t, events.CarrierScanPayload{EventType: "IN_TRANSIT"})
	assert.NoError(t, svc.HandleScan(context.Background(), m))

	env, err := events.New(events.EventOrderStatusChanged, "x", "o-1", events.OrderStatusChangedPayload{})
	require.NoError(t, err)
	b, _ := json.Marshal(env)
	assert.NoError(t, svc.HandleScan(context.Background(), kafkago.Message{Value: b}))

	assert.Empty(t, *reqs)
}
