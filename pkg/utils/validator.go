package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// validator.go - валидация входных данных
//
// Возвращает error с описанием проблемы или nil.

// Ошибки валидации
var (
	ErrInvalidSymbol     = errors.New("invalid symbol format")
	ErrInvalidAsset      = errors.New("invalid asset code")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountNotPositive = errors.New("amount must be greater than 0")
	ErrTooManyDecimals   = errors.New("too many decimal places")
	ErrAmountTooLarge    = errors.New("amount too large")
	ErrInvalidAddress    = errors.New("invalid withdrawal address")
)

var (
	symbolRegex  = regexp.MustCompile(`^[A-Za-z0-9]{1,15}([-_/]?[A-Za-z0-9]{1,15})$`)
	assetRegex   = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	addressRegex = regexp.MustCompile(`^[A-Za-z0-9]{10,128}$`)
)

// ValidateSymbol проверяет формат символа (BTCUSDT, BTC/USDT, btc-usdt)
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 30 || !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду BTCUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

// NormalizeAsset приводит код актива к верхнему регистру
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// ValidateAsset проверяет код актива (BTC, USDT)
func ValidateAsset(asset string) error {
	if !assetRegex.MatchString(asset) {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return nil
}

// ParseAmount разбирает положительное число с точностью до AmountPrecision
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	// экспонента 1e7000000 разворачивается в миллионы цифр
	if strings.ContainsAny(raw, "eE") {
		return decimal.Zero, fmt.Errorf("%w: exponent notation not supported", ErrInvalidAmount)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(v); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

// ValidateAmount проверяет что значение > 0, укладывается в NUMERIC(36,18)
// и не длиннее AmountPrecision знаков после запятой
func ValidateAmount(v decimal.Decimal) error {
	if !v.IsPositive() {
		return ErrAmountNotPositive
	}
	if IntegerDigits(v) > MaxIntegerDigits {
		return fmt.Errorf("%w: at most %d integer digits allowed", ErrAmountTooLarge, MaxIntegerDigits)
	}
	if !FitsPrecision(v) {
		return fmt.Errorf("%w: at most %d allowed", ErrTooManyDecimals, AmountPrecision)
	}
	return nil
}

// ValidateAddress базовая проверка адреса вывода
func ValidateAddress(address string) error {
	if !addressRegex.MatchString(strings.TrimSpace(address)) {
		return ErrInvalidAddress
	}
	return nil
}

// ====================================================================
// Теги validate
// ====================================================================

var (
	structValidator *validator.Validate
	onceValidator   sync.Once
)

// getValidator создаёт validator с правилами домена:
// amount, symbol, address. Поля называются по json тегу.
func getValidator() *validator.Validate {
	onceValidator.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
			_, err := ParseAmount(fl.Field().String())
			return err == nil
		})
		v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
			return ValidateSymbol(fl.Field().String()) == nil
		})
		v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
			return ValidateAddress(fl.Field().String()) == nil
		})
		structValidator = v
	})
	return structValidator
}

// ValidateStruct проверяет теги validate; nil если ошибок нет
func ValidateStruct(s interface{}) ValidationErrors {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), describeTag(fe))
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "required_if":
		return "is required when " + conditionText(fe.Param())
	case "excluded_if":
		return "must be empty when " + conditionText(fe.Param())
	case "amount":
		return fmt.Sprintf("must be a positive number with at most %d integer digits and %d decimals", MaxIntegerDigits, AmountPrecision)
	case "symbol":
		return ErrInvalidSymbol.Error()
	case "address":
		return ErrInvalidAddress.Error()
	}
	return "failed " + fe.Tag() + " check"
}

// conditionText: "Type limit" -> "type is limit"
func conditionText(param string) string {
	field, value, ok := strings.Cut(param, " ")
	if !ok {
		return param
	}
	return strings.ToLower(field) + " is " + value
}

// ValidationErrors собирает несколько ошибок валидации
type ValidationErrors []ValidationError

// ValidationError ошибка конкретного поля
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// HasErrors возвращает true если есть ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
