package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) InsertPaymentRequest(ctx context.Context, r PaymentRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_requests (id, user_id, amount, plan_type, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, r.ID, r.UserID, r.Amount, r.PlanType)
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPaymentRequest(ctx context.Context, requestID string) (PaymentRequest, error) {
	var item PaymentRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT pr.id, pr.user_id, pr.amount, pr.plan_type, pr.status,
			COALESCE(pr.processed_by_name, ''), pr.processed_at, pr.created_at,
			p.email, p.display_name
		FROM payment_requests pr
		JOIN profiles p ON p.id = pr.user_id
		WHERE pr.id=$1
	`, requestID).Scan(
		&item.ID, &item.UserID, &item.Amount, &item.PlanType, &item.Status,
		&item.ProcessedBy, &item.ProcessedAt, &item.CreatedAt,
		&item.UserEmail, &item.UserName,
	)
	if err != nil {
		return PaymentRequest{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListPaymentRequests(ctx context.Context, status string) ([]PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pr.id, pr.user_id, pr.amount, pr.plan_type, pr.status,
			COALESCE(pr.processed_by_name, ''), pr.processed_at, pr.created_at,
			p.email, p.display_name
		FROM payment_requests pr
		JOIN profiles p ON p.id = pr.user_id
		WHERE ($1='' OR pr.status=$1)
		ORDER BY pr.created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list payment requests: %w", err)
	}
	defer rows.Close()

	items := make([]PaymentRequest, 0)
	for rows.Next() {
		var item PaymentRequest
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Amount, &item.PlanType, &item.Status,
			&item.ProcessedBy, &item.ProcessedAt, &item.CreatedAt,
			&item.UserEmail, &item.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan payment request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment requests: %w", err)
	}
	return items, nil
}

// ProcessPaymentRequest transitions pending → verified|rejected. The pending
// guard is in the UPDATE itself so a request can be processed exactly once;
// zero rows affected means the request was absent or already processed.
func (s *PostgresStore) ProcessPaymentRequest(ctx context.Context, requestID, status, processedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET status=$2, processed_by_name=$3, processed_at=NOW()
		WHERE id=$1 AND status='pending'
	`, requestID, status, processedBy)
	if err != nil {
		return false, fmt.Errorf("process payment request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("process payment request rows: %w", err)
	}
	return affected > 0, nil
}

// AddCredits upserts the user's credit row and appends the matching
// transaction record in one database transaction.
func (s *PostgresStore) AddCredits(ctx context.Context, userID string, amount int, planType string, expiresAt *time.Time, transactionID, txnType, description string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add credits: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credits (user_id, balance, plan_type, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = credits.balance + EXCLUDED.balance,
			plan_type = EXCLUDED.plan_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, userID, amount, planType, expiresAt); err != nil {
		return fmt.Errorf("upsert credits: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, transactionID, userID, amount, txnType, description); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add credits: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCredits(ctx context.Context, userID string) (Credit, error) {
	var item Credit
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, COALESCE(plan_type, ''), expires_at, updated_at
		FROM credits
		WHERE user_id=$1
	`, userID).Scan(&item.UserID, &item.Balance, &item.PlanType, &item.ExpiresAt, &item.UpdatedAt)
	if err != nil {
		return Credit{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, COALESCE(description, ''), created_at
		FROM transactions
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := make([]Transaction, 0)
	for rows.Next() {
		var item Transaction
		if err := rows.Scan(&item.ID, &item.UserID, &item.Amount, &item.Type, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return items, nil
}
