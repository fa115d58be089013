package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xKodda/realcars-payments/app/entity"
)

var (
	ErrPaymentRecordNotFound      = errors.New("payment record not found")
	ErrPaymentRecordAlreadyExists = errors.New("payment record already exists")
)

const paymentRecordColumns = `id, order_id, gateway_payment_id, notification_token, payment_url,
	gateway_status, gateway_status_detail, payer_email, payer_name, raw_payload,
	superseded, expires_at, created_at, updated_at`

type PaymentRecordRepository struct {
	db DBTX
}

func NewPaymentRecordRepository(db DBTX) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

func (r *PaymentRecordRepository) Create(ctx context.Context, record *entity.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (
			order_id, gateway_payment_id, notification_token, payment_url,
			gateway_status, gateway_status_detail, payer_email, payer_name, raw_payload,
			superseded, expires_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		record.OrderID,
		record.GatewayPaymentID,
		record.NotificationToken,
		record.PaymentURL,
		nullableStringValue(record.GatewayStatus),
		nullableStringValue(record.GatewayStatusDetail),
		nullableStringValue(record.PayerEmail),
		nullableStringValue(record.PayerName),
		nullableStringValue(record.RawPayload),
		record.Superseded,
		nullableTimeValue(record.ExpiresAt),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentRecordAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

func (r *PaymentRecordRepository) Update(ctx context.Context, record *entity.PaymentRecord) error {
	query := `
		UPDATE payment_records SET
			gateway_status = ?,
			gateway_status_detail = ?,
			payer_email = ?,
			payer_name = ?,
			raw_payload = ?,
			superseded = ?,
			expires_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(record.GatewayStatus),
		nullableStringValue(record.GatewayStatusDetail),
		nullableStringValue(record.PayerEmail),
		nullableStringValue(record.PayerName),
		nullableStringValue(record.RawPayload),
		record.Superseded,
		nullableTimeValue(record.ExpiresAt),
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentRecordNotFound
	}

	return nil
}

func (r *PaymentRecordRepository) FindByNotificationToken(ctx context.Context, token string) (*entity.PaymentRecord, error) {
	query := `SELECT ` + paymentRecordColumns + ` FROM payment_records WHERE notification_token = ? LIMIT 1`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, token), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *PaymentRecordRepository) FindActiveByOrderID(ctx context.Context, orderID uint64) (*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentRecordColumns + `
		FROM payment_records
		WHERE order_id = ? AND superseded = FALSE
		ORDER BY id DESC
		LIMIT 1
	`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, orderID), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *PaymentRecordRepository) Supersede(ctx context.Context, id uint64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_records SET superseded = TRUE, updated_at = ?
		WHERE id = ? AND superseded = FALSE
	`, now, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentRecordNotFound
	}

	return nil
}

func scanPaymentRecord(scan rowScanner, record *entity.PaymentRecord) error {
	var gatewayStatus sql.NullString
	var gatewayStatusDetail sql.NullString
	var payerEmail sql.NullString
	var payerName sql.NullString
	var rawPayload sql.NullString
	var expiresAt sql.NullTime

	err := scan.Scan(
		&record.ID,
		&record.OrderID,
		&record.GatewayPaymentID,
		&record.NotificationToken,
		&record.PaymentURL,
		&gatewayStatus,
		&gatewayStatusDetail,
		&payerEmail,
		&payerName,
		&rawPayload,
		&record.Superseded,
		&expiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	record.GatewayStatus = stringPtrFromNull(gatewayStatus)
	record.GatewayStatusDetail = stringPtrFromNull(gatewayStatusDetail)
	record.PayerEmail = stringPtrFromNull(payerEmail)
	record.PayerName = stringPtrFromNull(payerName)
	record.RawPayload = stringPtrFromNull(rawPayload)
	record.ExpiresAt = timePtrFromNull(expiresAt)

	return nil
}
