package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/pkg/crypto"
)

func newWalletService(t *testing.T) (*WalletService, *repository.MemoryStore, *recorder) {
	t.Helper()
	store := repository.NewMemoryStore()
	rec := &recorder{}
	return NewWalletService(store, testSymbols(t), rec, feeAccount, nil), store, rec
}

func TestWalletService_WithdrawalFee(t *testing.T) {
	svc, _, _ := newWalletService(t)

	tests := []struct {
		asset string
		want  string
	}{
		{"BTC", "0.0005"},
		{"eth", "0.005"},
		{"USDT", "1"},
		{"USD", "5"},
		{"SOL", "0.001"},
	}

	for _, tt := range tests {
		if got := svc.WithdrawalFee(tt.asset); !got.Equal(dec(tt.want)) {
			t.Errorf("WithdrawalFee(%s) = %s, want %s", tt.asset, got, tt.want)
		}
	}
}

func TestWalletService_Deposit(t *testing.T) {
	svc, store, rec := newWalletService(t)
	ctx := context.Background()

	transfer, err := svc.Deposit(ctx, 5, "usdt", &DepositRequest{Amount: "100.5"})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if transfer.ID == 0 || transfer.Type != models.TransferDeposit || transfer.Status != models.TransferCompleted {
		t.Errorf("unexpected transfer %+v", transfer)
	}
	if err := crypto.ValidateTxHash(transfer.TxHash); err != nil {
		t.Errorf("generated tx hash %q: %v", transfer.TxHash, err)
	}

	if got := balanceOf(t, store, 5, "USDT").Available; !got.Equal(dec("100.5")) {
		t.Errorf("available = %s, want 100.5", got)
	}

	if len(rec.events) != 1 || rec.events[0].Type != notify.EventBalanceUpdate || rec.events[0].OwnerID != 5 {
		t.Errorf("unexpected events %+v", rec.events)
	}
}

func TestWalletService_Deposit_DuplicateTxHash(t *testing.T) {
	svc, store, _ := newWalletService(t)
	ctx := context.Background()
	hash := "0x" + strings.Repeat("ab", 32)

	if _, err := svc.Deposit(ctx, 5, "BTC", &DepositRequest{Amount: "1", TxHash: hash}); err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}
	_, err := svc.Deposit(ctx, 5, "BTC", &DepositRequest{Amount: "1", TxHash: strings.ToUpper(hash[2:])})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("hash without 0x: expected ErrInvalidRequest, got %v", err)
	}
	_, err = svc.Deposit(ctx, 5, "BTC", &DepositRequest{Amount: "1", TxHash: hash})
	if !errors.Is(err, repository.ErrDuplicateTransfer) {
		t.Errorf("expected ErrDuplicateTransfer, got %v", err)
	}

	// повторный депозит не зачислен
	if got := balanceOf(t, store, 5, "BTC").Available; !got.Equal(dec("1")) {
		t.Errorf("available = %s, want 1", got)
	}
}

func TestWalletService_Deposit_Validation(t *testing.T) {
	svc, _, rec := newWalletService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		owner int64
		asset string
		req   DepositRequest
		want  error
	}{
		{"no owner", 0, "BTC", DepositRequest{Amount: "1"}, ErrInvalidOwner},
		{"unknown asset", 5, "DOGE", DepositRequest{Amount: "1"}, ErrUnknownAsset},
		{"bad asset", 5, "b", DepositRequest{Amount: "1"}, ErrInvalidRequest},
		{"zero amount", 5, "BTC", DepositRequest{Amount: "0"}, ErrInvalidRequest},
		{"garbage amount", 5, "BTC", DepositRequest{Amount: "lots"}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Deposit(ctx, tt.owner, tt.asset, &tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(rec.events) != 0 {
		t.Errorf("rejected deposits published %d events", len(rec.events))
	}
}

func TestWalletService_Withdraw(t *testing.T) {
	svc, store, rec := newWalletService(t)
	ctx := context.Background()
	fund(t, store, 5, "BTC", "1")

	transfer, err := svc.Withdraw(ctx, 5, "BTC", &WithdrawRequest{Amount: "0.5", Address: "bc1qexampleaddress000"})
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if !transfer.Fee.Equal(dec("0.0005")) || transfer.Type != models.TransferWithdrawal {
		t.Errorf("unexpected transfer %+v", transfer)
	}

	if got := balanceOf(t, store, 5, "BTC").Available; !got.Equal(dec("0.4995")) {
		t.Errorf("owner available = %s, want 0.4995", got)
	}
	if got := balanceOf(t, store, feeAccount, "BTC").Available; !got.Equal(dec("0.0005")) {
		t.Errorf("fee account = %s, want 0.0005", got)
	}

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 balance events, got %d", len(rec.events))
	}
	if rec.events[0].OwnerID != 5 || rec.events[1].OwnerID != feeAccount {
		t.Errorf("unexpected event owners %d, %d", rec.events[0].OwnerID, rec.events[1].OwnerID)
	}

	history, err := svc.ListTransfers(ctx, 5, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Address != "bc1qexampleaddress000" {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestWalletService_Withdraw_InsufficientIncludingFee(t *testing.T) {
	svc, store, rec := newWalletService(t)
	ctx := context.Background()
	fund(t, store, 5, "USDT", "100")

	_, err := svc.Withdraw(ctx, 5, "USDT", &WithdrawRequest{Amount: "100", Address: "TXexampleaddress0001"})
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := balanceOf(t, store, 5, "USDT").Available; !got.Equal(dec("100")) {
		t.Errorf("balance changed to %s", got)
	}
	if got := balanceOf(t, store, feeAccount, "USDT").Available; !got.IsZero() {
		t.Errorf("fee account credited %s", got)
	}
	history, _ := svc.ListTransfers(ctx, 5, "USDT", 0, 0)
	if len(history) != 0 {
		t.Errorf("failed withdrawal recorded")
	}
	if len(rec.events) != 0 {
		t.Errorf("failed withdrawal published events")
	}
}

func TestWalletService_Withdraw_Validation(t *testing.T) {
	svc, store, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, store, 5, "BTC", "1")
	fund(t, store, feeAccount, "BTC", "1")

	tests := []struct {
		name  string
		owner int64
		req   WithdrawRequest
		want  error
	}{
		{"bad address", 5, WithdrawRequest{Amount: "0.1", Address: "x"}, ErrInvalidRequest},
		{"bad amount", 5, WithdrawRequest{Amount: "-1", Address: "bc1qexampleaddress000"}, ErrInvalidRequest},
		{"fee account", feeAccount, WithdrawRequest{Amount: "0.1", Address: "bc1qexampleaddress000"}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Withdraw(ctx, tt.owner, "BTC", &tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWalletService_Balances(t *testing.T) {
	svc, store, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, store, 5, "BTC", "1")
	fund(t, store, 5, "USDT", "50")

	balances, err := svc.GetBalances(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(balances) != 2 {
		t.Errorf("expected 2 balances, got %d", len(balances))
	}

	empty, err := svc.GetBalances(ctx, 6)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}

	eth, err := svc.GetBalance(ctx, 5, "eth")
	if err != nil {
		t.Fatal(err)
	}
	if eth.Asset != "ETH" || !eth.Available.IsZero() {
		t.Errorf("unexpected ETH balance %+v", eth)
	}

	if _, err := svc.GetBalance(ctx, 5, "DOGE"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}
