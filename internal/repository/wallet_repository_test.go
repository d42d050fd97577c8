package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ============================================================
// WalletRepository Tests
// ============================================================

func TestNewWalletRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewWalletRepository(db)
	if repo == nil {
		t.Fatal("NewWalletRepository returned nil")
	}
	if repo.q != db {
		t.Error("querier not set correctly")
	}
}

func TestWalletRepositoryGet(t *testing.T) {
	tests := []struct {
		name          string
		mockSetup     func(mock sqlmock.Sqlmock)
		wantAvailable string
		expectError   bool
	}{
		{
			name: "existing wallet",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"owner_id", "asset", "available", "locked", "updated_at"}).
					AddRow(7, "USDT", "150.5", "10", time.Now())
				mock.ExpectQuery(`SELECT owner_id, asset, available, locked, updated_at FROM wallets`).
					WithArgs(int64(7), "USDT").
					WillReturnRows(rows)
			},
			wantAvailable: "150.5",
		},
		{
			name: "missing wallet is zero balance",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT owner_id, asset, available, locked, updated_at FROM wallets`).
					WithArgs(int64(7), "USDT").
					WillReturnError(sql.ErrNoRows)
			},
			wantAvailable: "0",
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT owner_id, asset, available, locked, updated_at FROM wallets`).
					WithArgs(int64(7), "USDT").
					WillReturnError(errors.New("connection reset"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewWalletRepository(db)
			b, err := repo.Get(context.Background(), 7, "USDT")

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !b.Available.Equal(dec(tt.wantAvailable)) {
					t.Errorf("expected available=%s, got %s", tt.wantAvailable, b.Available)
				}
				if b.OwnerID != 7 || b.Asset != "USDT" {
					t.Errorf("unexpected key: %d/%s", b.OwnerID, b.Asset)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestWalletRepositoryLock(t *testing.T) {
	tests := []struct {
		name      string
		amount    decimal.Decimal
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name:   "success",
			amount: dec("100"),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE wallets`).
					WithArgs(int64(1), "USDT", dec("100"), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:   "insufficient balance",
			amount: dec("100"),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE wallets`).
					WithArgs(int64(1), "USDT", dec("100"), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrInsufficientBalance,
		},
		{
			name:      "zero amount is no-op",
			amount:    decimal.Zero,
			mockSetup: func(mock sqlmock.Sqlmock) {},
		},
		{
			name:      "negative amount",
			amount:    dec("-1"),
			mockSetup: func(mock sqlmock.Sqlmock) {},
			wantErr:   ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewWalletRepository(db)
			err = repo.Lock(context.Background(), 1, "USDT", tt.amount)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestWalletRepositoryUnlock_InvalidRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE wallets`).
		WithArgs(int64(1), "BTC", dec("2"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewWalletRepository(db)
	err = repo.Unlock(context.Background(), 1, "BTC", dec("2"))
	if !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("expected ErrInvalidRelease, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWalletRepositoryCreditDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO wallets`).
		WithArgs(int64(3), "ETH", dec("5"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE wallets`).
		WithArgs(int64(3), "ETH", dec("6"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewWalletRepository(db)
	ctx := context.Background()

	if err := repo.Credit(ctx, 3, "ETH", dec("5")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := repo.Debit(ctx, 3, "ETH", dec("6")); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := repo.Credit(ctx, 3, "ETH", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero credit, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWalletRepositorySettle(t *testing.T) {
	deltas := []models.BalanceDelta{
		{OwnerID: 2, Asset: "BTC", Locked: dec("-1")},
		{OwnerID: 1, Asset: "BTC", Available: dec("1")},
		{OwnerID: 2, Asset: "USDT", Available: dec("100")},
	}

	t.Run("commits merged deltas in key order", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectBegin()
		// (1, BTC): кошелька нет, создаётся через upsert
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs(int64(1), "BTC", dec("1"), decimal.Zero, sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO wallets`).
			WithArgs(int64(1), "BTC", dec("1"), decimal.Zero, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"available", "locked"}).AddRow("1", "0"))
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs(int64(2), "BTC", decimal.Zero, dec("-1"), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"available", "locked"}).AddRow("0", "0"))
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs(int64(2), "USDT", dec("100"), decimal.Zero, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"available", "locked"}).AddRow("100", "0"))
		mock.ExpectCommit()

		repo := NewWalletRepository(db)
		balances, err := repo.Settle(context.Background(), deltas)
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if len(balances) != 3 {
			t.Fatalf("expected 3 balances, got %d", len(balances))
		}
		if !balances[2].Available.Equal(dec("100")) {
			t.Errorf("unexpected USDT balance: %s", balances[2].Available)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("negative delta on missing wallet rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs(int64(9), "BTC", dec("-1"), decimal.Zero, sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		repo := NewWalletRepository(db)
		_, err = repo.Settle(context.Background(), []models.BalanceDelta{{OwnerID: 9, Asset: "BTC", Available: dec("-1")}})
		if !errors.Is(err, ErrNegativeBalance) {
			t.Errorf("expected ErrNegativeBalance, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("check constraint maps to ErrNegativeBalance", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs(int64(2), "BTC", decimal.Zero, dec("-1"), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: pgCheckViolation, Constraint: "wallets_locked_check"})
		mock.ExpectRollback()

		repo := NewWalletRepository(db)
		_, err = repo.Settle(context.Background(), deltas[:1])
		if !errors.Is(err, ErrNegativeBalance) {
			t.Errorf("expected ErrNegativeBalance, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}
