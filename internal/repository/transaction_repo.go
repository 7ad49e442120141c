package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx appends one ledger entry inside the given transaction. The log is
// insert-only; there is no update or delete on this table.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	var opType *string
	if t.OperationType != "" {
		opType = &t.OperationType
	}
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (team_id, job_id, transaction_type, operation_type, amount, balance_before, balance_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, t.TeamID, t.JobID, t.TransactionType, opType, t.Amount, t.BalanceBefore, t.BalanceAfter, meta).Scan(&t.ID, &t.CreatedAt)
}

const transactionColumns = `id, team_id, job_id, transaction_type, operation_type, amount, balance_before, balance_after, metadata, created_at`

func scanTransaction(row pgx.Row) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	var opType *string
	var meta []byte
	err := row.Scan(&t.ID, &t.TeamID, &t.JobID, &t.TransactionType, &opType, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &meta, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if opType != nil {
		t.OperationType = *opType
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &t.Metadata)
	}
	return &t, nil
}

// GetByIDTx loads one entry inside the caller's transaction (rollback path).
func (r *TransactionRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*models.CreditTransaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1
	`, id))
}

func (r *TransactionRepo) ListByTeamID(ctx context.Context, teamID int64, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM credit_transactions
		WHERE team_id = $1 ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, teamID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SumByType returns the total amount of entries of one transaction type for a
// team, optionally grouped by operation type. Feeds the credit stats endpoint.
func (r *TransactionRepo) SumByType(ctx context.Context, teamID int64, txType string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(operation_type, ''), COALESCE(SUM(amount), 0)::text
		FROM credit_transactions
		WHERE team_id = $1 AND transaction_type = $2
		GROUP BY operation_type
	`, teamID, txType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]string)
	for rows.Next() {
		var op, total string
		if err := rows.Scan(&op, &total); err != nil {
			return nil, err
		}
		sums[op] = total
	}
	return sums, rows.Err()
}
