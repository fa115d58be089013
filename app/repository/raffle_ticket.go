package repository

import (
	"context"
	"time"
)

type RaffleTicketRepository struct {
	db DBTX
}

func NewRaffleTicketRepository(db DBTX) *RaffleTicketRepository {
	return &RaffleTicketRepository{db: db}
}

// IssueForOrder inserts one ticket row per unit. The unique key on
// (order_id, seq) makes re-issuance a no-op, so a duplicate settlement
// attempt can never mint extra tickets.
func (r *RaffleTicketRepository) IssueForOrder(ctx context.Context, orderID uint64, count int32, now time.Time) (int32, error) {
	issued := int32(0)
	for seq := int32(1); seq <= count; seq++ {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO raffle_tickets (order_id, seq, created_at)
			VALUES (?, ?, ?)
		`, orderID, seq, now)
		if err != nil {
			if isDuplicateEntryError(err) {
				continue
			}
			return issued, err
		}
		issued++
	}
	return issued, nil
}

func (r *RaffleTicketRepository) CountByOrderID(ctx context.Context, orderID uint64) (int32, error) {
	var count int32
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raffle_tickets WHERE order_id = ?
	`, orderID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
