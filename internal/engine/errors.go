package engine

import (
	"errors"

	"spotex/internal/repository"
)

// Ошибки торгового ядра
//
// Ошибки состояния совпадают с ошибками хранилища, поэтому errors.Is
// работает одинаково и для ответа движка, и для ответа репозитория.
var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrInsufficientBalance = repository.ErrInsufficientBalance
	ErrOrderNotFound       = repository.ErrOrderNotFound
	ErrInvalidState        = repository.ErrInvalidState
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrAlreadyRunning      = errors.New("engine already running")
	ErrEngineStopped       = errors.New("engine stopped")
)
