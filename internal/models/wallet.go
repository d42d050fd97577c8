package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Balance - кошелёк пользователя в одном активе
type Balance struct {
	OwnerID   int64           `json:"owner_id" db:"owner_id"`
	Asset     string          `json:"asset" db:"asset"`
	Available decimal.Decimal `json:"available" db:"available"`
	Locked    decimal.Decimal `json:"locked" db:"locked"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Total возвращает available + locked
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// BalanceKey - ключ кошелька
type BalanceKey struct {
	OwnerID int64
	Asset   string
}

// BalanceDelta - изменение кошелька при расчёте сделки
type BalanceDelta struct {
	OwnerID   int64
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Key возвращает ключ кошелька
func (d BalanceDelta) Key() BalanceKey {
	return BalanceKey{OwnerID: d.OwnerID, Asset: d.Asset}
}

// MergeDeltas складывает изменения одного кошелька и упорядочивает результат
// по (owner, asset), чтобы блокировки строк брались в одном порядке
func MergeDeltas(deltas []BalanceDelta) []BalanceDelta {
	index := make(map[BalanceKey]int, len(deltas))
	merged := make([]BalanceDelta, 0, len(deltas))
	for _, d := range deltas {
		if i, ok := index[d.Key()]; ok {
			merged[i].Available = merged[i].Available.Add(d.Available)
			merged[i].Locked = merged[i].Locked.Add(d.Locked)
			continue
		}
		index[d.Key()] = len(merged)
		merged = append(merged, d)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].OwnerID != merged[j].OwnerID {
			return merged[i].OwnerID < merged[j].OwnerID
		}
		return merged[i].Asset < merged[j].Asset
	})
	return merged
}

// TransferType - тип внешнего перевода
type TransferType string

const (
	TransferDeposit    TransferType = "deposit"
	TransferWithdrawal TransferType = "withdrawal"
)

// TransferStatus - статус внешнего перевода
type TransferStatus string

const (
	TransferCompleted TransferStatus = "completed"
)

// Transfer - запись о вводе или выводе средств
type Transfer struct {
	ID        int64           `json:"id" db:"id"`
	OwnerID   int64           `json:"owner_id" db:"owner_id"`
	Type      TransferType    `json:"type" db:"type"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Address   string          `json:"address,omitempty" db:"address"`
	TxHash    string          `json:"tx_hash" db:"tx_hash"`
	Status    TransferStatus  `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TransferFilter - параметры выборки переводов
type TransferFilter struct {
	Asset  string
	Limit  int
	Offset int
}
