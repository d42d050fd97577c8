package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/pkg/crypto"
	"spotex/pkg/utils"
)

// Плоская комиссия за вывод по активу
var withdrawalFees = map[string]decimal.Decimal{
	"BTC":  decimal.RequireFromString("0.0005"),
	"ETH":  decimal.RequireFromString("0.005"),
	"USDT": decimal.NewFromInt(1),
	"USD":  decimal.NewFromInt(5),
}

// DefaultWithdrawalFee - комиссия для активов без явной ставки
var DefaultWithdrawalFee = decimal.RequireFromString("0.001")

// DepositRequest - зачисление средств
type DepositRequest struct {
	Amount string `json:"amount"`
	// Хеш внешней транзакции. Пустой = сгенерировать.
	TxHash string `json:"tx_hash,omitempty"`
}

// WithdrawRequest - вывод средств на внешний адрес
type WithdrawRequest struct {
	Amount  string `json:"amount" validate:"amount"`
	Address string `json:"address" validate:"address"`
}

// WalletService - балансы, депозиты и выводы.
//
// Депозит и вывод проводятся сразу со статусом completed. Комиссия за вывод
// списывается сверх суммы и зачисляется на счёт комиссий биржи.
type WalletService struct {
	store        repository.Store
	symbols      *models.SymbolRegistry
	notifier     notify.Notifier
	feeAccountID int64
	logger       *utils.Logger
}

// NewWalletService создает новый экземпляр WalletService
func NewWalletService(store repository.Store, symbols *models.SymbolRegistry, notifier notify.Notifier, feeAccountID int64, logger *utils.Logger) *WalletService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = utils.L()
	}
	return &WalletService{
		store:        store,
		symbols:      symbols,
		notifier:     notifier,
		feeAccountID: feeAccountID,
		logger:       logger.WithComponent("wallet_service"),
	}
}

// WithdrawalFee возвращает комиссию за вывод актива
func (s *WalletService) WithdrawalFee(asset string) decimal.Decimal {
	if fee, ok := withdrawalFees[utils.NormalizeAsset(asset)]; ok {
		return fee
	}
	return DefaultWithdrawalFee
}

// asset нормализует код и проверяет что актив торгуется
func (s *WalletService) asset(raw string) (string, error) {
	asset := utils.NormalizeAsset(raw)
	if err := utils.ValidateAsset(asset); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !s.symbols.HasAsset(asset) {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return asset, nil
}

// Deposit зачисляет средства на available баланс
//
// Повторный tx_hash отклоняется с repository.ErrDuplicateTransfer,
// поэтому один внешний перевод не может быть зачислен дважды.
func (s *WalletService) Deposit(ctx context.Context, ownerID int64, rawAsset string, req *DepositRequest) (*models.Transfer, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	asset, err := s.asset(rawAsset)
	if err != nil {
		return nil, err
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	txHash := strings.TrimSpace(req.TxHash)
	if txHash == "" {
		if txHash, err = crypto.RandomTxHash("deposit", asset, amount.String()); err != nil {
			return nil, fmt.Errorf("generate tx hash: %w", err)
		}
	} else {
		txHash = strings.ToLower(txHash)
		if err := crypto.ValidateTxHash(txHash); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	transfer := &models.Transfer{
		OwnerID: ownerID,
		Type:    models.TransferDeposit,
		Asset:   asset,
		Amount:  amount,
		Fee:     decimal.Zero,
		TxHash:  txHash,
		Status:  models.TransferCompleted,
	}

	var balance *models.Balance
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Transfers().Create(ctx, transfer); err != nil {
			return err
		}
		if err := tx.Wallets().Credit(ctx, ownerID, asset, amount); err != nil {
			return err
		}
		balance, err = tx.Wallets().Get(ctx, ownerID, asset)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit completed", utils.UserID(ownerID), utils.Asset(asset), utils.Amount(amount))
	s.notifier.Publish(ctx, notify.BalanceUpdate(balance))
	return transfer, nil
}

// Withdraw списывает amount + комиссию с available баланса
func (s *WalletService) Withdraw(ctx context.Context, ownerID int64, rawAsset string, req *WithdrawRequest) (*models.Transfer, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	if ownerID == s.feeAccountID {
		return nil, fmt.Errorf("%w: fee account cannot withdraw", ErrInvalidRequest)
	}
	asset, err := s.asset(rawAsset)
	if err != nil {
		return nil, err
	}

	norm := WithdrawRequest{
		Amount:  strings.TrimSpace(req.Amount),
		Address: strings.TrimSpace(req.Address),
	}
	if errs := utils.ValidateStruct(&norm); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, errs)
	}
	amount := decimal.RequireFromString(norm.Amount)
	address := norm.Address

	fee := s.WithdrawalFee(asset)
	txHash, err := crypto.RandomTxHash("withdrawal", asset, address, amount.String())
	if err != nil {
		return nil, fmt.Errorf("generate tx hash: %w", err)
	}

	transfer := &models.Transfer{
		OwnerID: ownerID,
		Type:    models.TransferWithdrawal,
		Asset:   asset,
		Amount:  amount,
		Fee:     fee,
		Address: address,
		TxHash:  txHash,
		Status:  models.TransferCompleted,
	}

	var balances []*models.Balance
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		// Debit первым: при нехватке средств ничего не записывается
		if err := tx.Wallets().Debit(ctx, ownerID, asset, amount.Add(fee)); err != nil {
			return err
		}
		if err := tx.Wallets().Credit(ctx, s.feeAccountID, asset, fee); err != nil {
			return err
		}
		if err := tx.Transfers().Create(ctx, transfer); err != nil {
			return err
		}
		for _, owner := range []int64{ownerID, s.feeAccountID} {
			b, err := tx.Wallets().Get(ctx, owner, asset)
			if err != nil {
				return err
			}
			balances = append(balances, b)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: need %s %s including fee", err, amount.Add(fee), asset)
		}
		return nil, err
	}

	s.logger.Info("withdrawal completed", utils.UserID(ownerID), utils.Asset(asset),
		utils.Amount(amount), utils.Status(string(transfer.Status)))
	for _, b := range balances {
		s.notifier.Publish(ctx, notify.BalanceUpdate(b))
	}
	return transfer, nil
}

// GetBalances возвращает все кошельки владельца
func (s *WalletService) GetBalances(ctx context.Context, ownerID int64) ([]*models.Balance, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	balances, err := s.store.Wallets().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []*models.Balance{}
	}
	return balances, nil
}

// GetBalance возвращает кошелёк в одном активе, отсутствующий = нулевой
func (s *WalletService) GetBalance(ctx context.Context, ownerID int64, rawAsset string) (*models.Balance, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	asset, err := s.asset(rawAsset)
	if err != nil {
		return nil, err
	}
	return s.store.Wallets().Get(ctx, ownerID, asset)
}

// ListTransfers возвращает историю переводов, новые сверху. Пустой asset = все.
func (s *WalletService) ListTransfers(ctx context.Context, ownerID int64, rawAsset string, limit, offset int) ([]*models.Transfer, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	filter := models.TransferFilter{Limit: limit, Offset: offset}
	if rawAsset != "" {
		asset, err := s.asset(rawAsset)
		if err != nil {
			return nil, err
		}
		filter.Asset = asset
	}

	transfers, err := s.store.Transfers().ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	if transfers == nil {
		transfers = []*models.Transfer{}
	}
	return transfers, nil
}
