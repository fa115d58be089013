package repository

import (
	"context"
	"database/sql"
	"time"
)

type ClaimOutcome int32

const (
	// ClaimProceed means this caller owns the token and must process
	// it, then Complete or Release the claim.
	ClaimProceed ClaimOutcome = 1

	// ClaimAlreadyDone means a prior delivery was processed to
	// completion. Acknowledge without side effects.
	ClaimAlreadyDone ClaimOutcome = 2

	// ClaimInFlight means another delivery holds a live claim.
	// Acknowledge and let it finish.
	ClaimInFlight ClaimOutcome = 3
)

type NoticeClaimRepository struct {
	db DBTX
}

func NewNoticeClaimRepository(db DBTX) *NoticeClaimRepository {
	return &NoticeClaimRepository{db: db}
}

// Claim atomically takes ownership of a notification token. The claim
// is a single conditional INSERT against the unique token key, never a
// check-then-act pair: under concurrent deliveries exactly one caller
// gets ClaimProceed. An uncompleted claim older than staleBefore can be
// taken over, so a crashed handler cannot strand the token.
func (r *NoticeClaimRepository) Claim(ctx context.Context, token string, now, staleBefore time.Time) (ClaimOutcome, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notice_claims (notification_token, completed, started_at)
		VALUES (?, FALSE, ?)
	`, token, now)
	if err == nil {
		return ClaimProceed, nil
	}
	if !isDuplicateEntryError(err) {
		return 0, err
	}

	var completed bool
	err = r.db.QueryRowContext(ctx, `
		SELECT completed FROM notice_claims WHERE notification_token = ?
	`, token).Scan(&completed)
	if err == sql.ErrNoRows {
		// The competing claim was released between our INSERT and
		// SELECT; treat it as in flight and let the gateway retry.
		return ClaimInFlight, nil
	}
	if err != nil {
		return 0, err
	}
	if completed {
		return ClaimAlreadyDone, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE notice_claims SET started_at = ?
		WHERE notification_token = ? AND completed = FALSE AND started_at <= ?
	`, now, token, staleBefore)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 1 {
		return ClaimProceed, nil
	}

	return ClaimInFlight, nil
}

func (r *NoticeClaimRepository) Complete(ctx context.Context, token string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notice_claims SET completed = TRUE, completed_at = ?
		WHERE notification_token = ?
	`, now, token)
	return err
}

// Release drops an uncompleted claim so a future delivery can retry.
// Used when the gateway could not be reached and no state was written.
func (r *NoticeClaimRepository) Release(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM notice_claims WHERE notification_token = ? AND completed = FALSE
	`, token)
	return err
}
