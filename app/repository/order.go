package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/types"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrOrderStale is returned when a settlement races with another
	// writer and the order is no longer in the expected state. Callers
	// treat it as an idempotent no-op.
	ErrOrderStale = errors.New("order state changed concurrently")
)

const orderColumns = `id, public_id, buyer_name, buyer_email, buyer_phone, buyer_tax_id,
	quantity, unit_price_clp, total_clp, currency, status, paid_at, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (
			public_id, buyer_name, buyer_email, buyer_phone, buyer_tax_id,
			quantity, unit_price_clp, total_clp, currency, status, paid_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.PublicID,
		order.BuyerName,
		order.BuyerEmail,
		order.BuyerPhone,
		nullableStringValue(order.BuyerTaxID),
		order.Quantity,
		order.UnitPriceCLP,
		order.TotalCLP,
		order.Currency,
		order.Status,
		nullableTimeValue(order.PaidAt),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, id), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) FindByPublicID(ctx context.Context, publicID string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE public_id = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, publicID), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) ListPendingPastDeadline(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, int32(types.OrderStatusPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item := &entity.Order{}
		if err := scanOrder(rows, item); err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateStatus writes an order-only transition guarded on the expected
// current status. Used when no payment record participates (e.g. a
// gateway-rejected creation, or sweep-cancelling an order that never
// reached the gateway).
func (r *OrderRepository) UpdateStatus(ctx context.Context, order *entity.Order, fromStatus int32) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		order.Status,
		nullableTimeValue(order.PaidAt),
		order.UpdatedAt,
		order.ID,
		fromStatus,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderStale
	}

	return nil
}

// ApplySettlement writes the order transition and the payment-record
// snapshot in one transaction. The order row is locked for the span of
// the transaction and the UPDATE is guarded on fromStatus, so a
// concurrent settlement of the same order surfaces as ErrOrderStale
// instead of a double transition. Locking is scoped to this order's
// rows only.
func (r *OrderRepository) ApplySettlement(ctx context.Context, order *entity.Order, record *entity.PaymentRecord, fromStatus int32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus int32
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ? FOR UPDATE`, order.ID).Scan(&currentStatus)
	if err == sql.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if currentStatus != fromStatus {
		return ErrOrderStale
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		order.Status,
		nullableTimeValue(order.PaidAt),
		order.UpdatedAt,
		order.ID,
		fromStatus,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderStale
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_records SET
			gateway_status = ?,
			gateway_status_detail = ?,
			payer_email = ?,
			payer_name = ?,
			raw_payload = ?,
			updated_at = ?
		WHERE id = ?
	`,
		nullableStringValue(record.GatewayStatus),
		nullableStringValue(record.GatewayStatusDetail),
		nullableStringValue(record.PayerEmail),
		nullableStringValue(record.PayerName),
		nullableStringValue(record.RawPayload),
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var buyerTaxID sql.NullString
	var paidAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.PublicID,
		&order.BuyerName,
		&order.BuyerEmail,
		&order.BuyerPhone,
		&buyerTaxID,
		&order.Quantity,
		&order.UnitPriceCLP,
		&order.TotalCLP,
		&order.Currency,
		&order.Status,
		&paidAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.BuyerTaxID = stringPtrFromNull(buyerTaxID)
	order.PaidAt = timePtrFromNull(paidAt)

	return nil
}
