package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrdersRepo implements orders.Repository.
type OrdersRepo struct{ DB *pgxpool.Pool }

func (r *OrdersRepo) CreateOrder(ctx context.Context, o orders.Order) error {
	defer metrics.TrackDBOperation("create_order")(time.Now())
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(o.Notes)
	if err != nil {
		return err
	}
	var externalID *string
	if o.ExternalID != "" {
		externalID = &o.ExternalID
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders (id, external_id, customer_id, status, total, lines, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, externalID, o.CustomerID, string(o.Status), o.Total, lines, notes, o.CreatedAt, o.UpdatedAt)
	return err
}

// SaveOrder writes the mutable part of an order: status and audit notes.
func (r *OrdersRepo) SaveOrder(ctx context.Context, o orders.Order) error {
	defer metrics.TrackDBOperation("save_order")(time.Now())
	notes, err := json.Marshal(o.Notes)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		UPDATE orders SET status = $2, notes = $3, updated_at = $4 WHERE id = $1`,
		o.ID, string(o.Status), notes, o.UpdatedAt)
	return err
}

func (r *OrdersRepo) LoadOrders(ctx context.Context) ([]orders.Order, error) {
	defer metrics.TrackDBOperation("load_orders")(time.Now())
	rows, err := r.DB.Query(ctx, `
		SELECT id, COALESCE(external_id, ''), customer_id, status, total, lines, notes, created_at, updated_at
		FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		var (
			o            orders.Order
			status       string
			lines, notes []byte
		)
		if err := rows.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &status, &o.Total, &lines, &notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = orders.Status(status)
		if err := json.Unmarshal(lines, &o.Lines); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(notes, &o.Notes); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
