package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackingRepo implements tracking.Repository.
type TrackingRepo struct{ DB *pgxpool.Pool }

const upsertInfo = `
	INSERT INTO order_tracking (
		order_id, tracking_number, carrier, tracking_url, estimated_delivery_date,
		current_location, actual_delivery_date, delivered_to, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (order_id) DO UPDATE SET
		tracking_number = EXCLUDED.tracking_number,
		carrier = EXCLUDED.carrier,
		tracking_url = EXCLUDED.tracking_url,
		estimated_delivery_date = EXCLUDED.estimated_delivery_date,
		current_location = EXCLUDED.current_location,
		actual_delivery_date = EXCLUDED.actual_delivery_date,
		delivered_to = EXCLUDED.delivered_to,
		updated_at = EXCLUDED.updated_at`

func infoArgs(in tracking.Info) []any {
	return []any{
		in.OrderID, in.TrackingNumber, in.Carrier, in.TrackingURL, in.EstimatedDeliveryDate,
		in.CurrentLocation, in.ActualDeliveryDate, in.DeliveredTo, in.UpdatedAt,
	}
}

func (r *TrackingRepo) SaveInfo(ctx context.Context, in tracking.Info) error {
	defer metrics.TrackDBOperation("save_tracking_info")(time.Now())
	_, err := r.DB.Exec(ctx, upsertInfo, infoArgs(in)...)
	return err
}

// AppendEvent inserts the event and the info it produced atomically. The
// (order_id, seq) key rejects a concurrent writer that raced on the same seq.
func (r *TrackingRepo) AppendEvent(ctx context.Context, ev tracking.Event, in tracking.Info) error {
	defer metrics.TrackDBOperation("append_tracking_event")(time.Now())
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertInfo, infoArgs(in)...); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO tracking_events (id, order_id, seq, event_type, description, location, event_date, progress)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.OrderID, ev.Seq, string(ev.Type), ev.Description, ev.Location, ev.EventDate, ev.Progress,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *TrackingRepo) LoadTracking(ctx context.Context) ([]tracking.Info, []tracking.Event, error) {
	defer metrics.TrackDBOperation("load_tracking")(time.Now())
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, tracking_number, carrier, tracking_url, estimated_delivery_date,
		       current_location, actual_delivery_date, delivered_to, updated_at
		FROM order_tracking`)
	if err != nil {
		return nil, nil, err
	}
	var infos []tracking.Info
	for rows.Next() {
		var in tracking.Info
		if err := rows.Scan(&in.OrderID, &in.TrackingNumber, &in.Carrier, &in.TrackingURL, &in.EstimatedDeliveryDate,
			&in.CurrentLocation, &in.ActualDeliveryDate, &in.DeliveredTo, &in.UpdatedAt); err != nil {
			rows.Close()
			return nil, nil, err
		}
		infos = append(infos, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = r.DB.Query(ctx, `
		SELECT id, order_id, seq, event_type, description, location, event_date, progress
		FROM tracking_events ORDER BY order_id, seq`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var evs []tracking.Event
	for rows.Next() {
		var (
			ev tracking.Event
			t  string
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Seq, &t, &ev.Description, &ev.Location, &ev.EventDate, &ev.Progress); err != nil {
			return nil, nil, err
		}
		ev.Type = tracking.EventType(t)
		evs = append(evs, ev)
	}
	return infos, evs, rows.Err()
}
