package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryRepo implements inventory.Repository.
type InventoryRepo struct{ DB *pgxpool.Pool }

func (r *InventoryRepo) SaveProduct(ctx context.Context, p inventory.Product) error {
	defer metrics.TrackDBOperation("save_product")(time.Now())
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products (id, code, name, description, base_price, base_stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, description = EXCLUDED.description,
			base_price = EXCLUDED.base_price, base_stock = EXCLUDED.base_stock,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Code, p.Name, p.Description, p.BasePrice, p.BaseStock.IntPtr(), p.CreatedAt, p.UpdatedAt)
	return err
}

// SaveVariants writes the variants and their movements in one transaction.
func (r *InventoryRepo) SaveVariants(ctx context.Context, vs []inventory.Variant, ms []inventory.Movement) error {
	defer metrics.TrackDBOperation("save_variants")(time.Now())
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range vs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_variants (
				id, product_id, size, color, sku_code, sku_overridden, price,
				stock_quantity, reserved_quantity, low_stock_threshold, reorder_point,
				is_unlimited_stock, is_active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO UPDATE SET
				size = EXCLUDED.size, color = EXCLUDED.color,
				sku_code = EXCLUDED.sku_code, sku_overridden = EXCLUDED.sku_overridden,
				price = EXCLUDED.price,
				stock_quantity = EXCLUDED.stock_quantity,
				reserved_quantity = EXCLUDED.reserved_quantity,
				low_stock_threshold = EXCLUDED.low_stock_threshold,
				reorder_point = EXCLUDED.reorder_point,
				is_unlimited_stock = EXCLUDED.is_unlimited_stock,
				is_active = EXCLUDED.is_active,
				updated_at = EXCLUDED.updated_at`,
			v.ID, v.ProductID, v.Size, v.Color, v.SKU, v.SKUOverridden, v.Price,
			v.StockQuantity, v.ReservedQuantity, v.LowStockThreshold, v.ReorderPoint,
			v.IsUnlimitedStock, v.IsActive, v.CreatedAt, v.UpdatedAt,
		); err != nil {
			return err
		}
	}

	if len(ms) > 0 {
		rows := make([][]any, 0, len(ms))
		for _, m := range ms {
			rows = append(rows, []any{
				m.ID, m.VariantID, string(m.Type), m.Delta,
				m.StockBefore, m.StockAfter, m.ReservedBefore, m.ReservedAfter,
				m.Reason, m.Reference, m.CreatedAt,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stock_movements"},
			[]string{"id", "variant_id", "movement_type", "delta",
				"stock_before", "stock_after", "reserved_before", "reserved_after",
				"reason", "reference", "created_at"},
			pgx.CopyFromRows(rows)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *InventoryRepo) DeleteVariant(ctx context.Context, id string) error {
	defer metrics.TrackDBOperation("delete_variant")(time.Now())
	_, err := r.DB.Exec(ctx, `DELETE FROM product_variants WHERE id = $1`, id)
	return err
}

// LoadInventory reads every product and variant for Store.Hydrate.
func (r *InventoryRepo) LoadInventory(ctx context.Context) ([]inventory.Product, []inventory.Variant, error) {
	defer metrics.TrackDBOperation("load_inventory")(time.Now())
	rows, err := r.DB.Query(ctx, `
		SELECT id, code, name, description, base_price, base_stock, created_at, updated_at
		FROM products`)
	if err != nil {
		return nil, nil, err
	}
	var products []inventory.Product
	for rows.Next() {
		var (
			p         inventory.Product
			baseStock *int
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.BasePrice, &baseStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, nil, err
		}
		if baseStock == nil {
			p.BaseStock = inventory.Unbounded()
		} else {
			p.BaseStock = inventory.Finite(*baseStock)
		}
		products = append(products, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = r.DB.Query(ctx, `
		SELECT id, product_id, size, color, sku_code, sku_overridden, price,
		       stock_quantity, reserved_quantity, low_stock_threshold, reorder_point,
		       is_unlimited_stock, is_active, created_at, updated_at
		FROM product_variants`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var variants []inventory.Variant
	for rows.Next() {
		var v inventory.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.SKU, &v.SKUOverridden, &v.Price,
			&v.StockQuantity, &v.ReservedQuantity, &v.LowStockThreshold, &v.ReorderPoint,
			&v.IsUnlimitedStock, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, nil, err
		}
		variants = append(variants, v)
	}
	return products, variants, rows.Err()
}

// LoadMovements reads the newest perVariant movements of every variant,
// oldest first within a variant.
func (r *InventoryRepo) LoadMovements(ctx context.Context, perVariant int) ([]inventory.Movement, error) {
	defer metrics.TrackDBOperation("load_movements")(time.Now())
	rows, err := r.DB.Query(ctx, `
		SELECT id, variant_id, movement_type, delta,
		       stock_before, stock_after, reserved_before, reserved_after,
		       reason, reference, created_at
		FROM (
			SELECT *, row_number() OVER (PARTITION BY variant_id ORDER BY created_at DESC) AS rn
			FROM stock_movements
		) m
		WHERE rn <= $1
		ORDER BY variant_id, created_at`, perVariant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Movement
	for rows.Next() {
		var (
			m  inventory.Movement
			mt string
		)
		if err := rows.Scan(&m.ID, &m.VariantID, &mt, &m.Delta,
			&m.StockBefore, &m.StockAfter, &m.ReservedBefore, &m.ReservedAfter,
			&m.Reason, &m.Reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = inventory.MovementType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}
