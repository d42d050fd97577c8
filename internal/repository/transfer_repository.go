package repository

import (
	"context"
	"fmt"
	"time"

	"spotex/internal/models"
)

// TransferRepository - депозиты и выводы (таблица transfers)
type TransferRepository struct {
	q Querier
}

// NewTransferRepository создает новый экземпляр репозитория
func NewTransferRepository(q Querier) *TransferRepository {
	return &TransferRepository{q: q}
}

// Create записывает перевод; повтор tx_hash возвращает ErrDuplicateTransfer
func (r *TransferRepository) Create(ctx context.Context, transfer *models.Transfer) error {
	query := `
		INSERT INTO transfers (owner_id, type, asset, amount, fee, address, tx_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	transfer.CreatedAt = time.Now().UTC()

	err := r.q.QueryRowContext(ctx, query,
		transfer.OwnerID,
		transfer.Type,
		transfer.Asset,
		transfer.Amount,
		transfer.Fee,
		transfer.Address,
		transfer.TxHash,
		transfer.Status,
		transfer.CreatedAt,
	).Scan(&transfer.ID)

	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransfer, transfer.TxHash)
		}
		return err
	}

	return nil
}

// ListByOwner возвращает историю переводов пользователя, новые первыми
func (r *TransferRepository) ListByOwner(ctx context.Context, ownerID int64, filter models.TransferFilter) ([]*models.Transfer, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	args := []any{ownerID}
	where := "owner_id = $1"
	if filter.Asset != "" {
		args = append(args, filter.Asset)
		where += fmt.Sprintf(" AND asset = $%d", len(args))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT id, owner_id, type, asset, amount, fee, address, tx_hash, status, created_at
		FROM transfers
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t := &models.Transfer{}
		err := rows.Scan(
			&t.ID,
			&t.OwnerID,
			&t.Type,
			&t.Asset,
			&t.Amount,
			&t.Fee,
			&t.Address,
			&t.TxHash,
			&t.Status,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return transfers, nil
}
