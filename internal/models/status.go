package models

// OrderStatus - статус ордера
type OrderStatus string

const (
	// принят, средства зарезервированы, ещё не прошёл матчинг
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ValidTransitions определяет допустимые переходы между статусами
var ValidTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusOpen, OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusOpen:      {OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusPartial:   {OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusFilled:    {},
	OrderStatusCancelled: {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to OrderStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceStatuses возвращает статусы, из которых допустим переход в to
func SourceStatuses(to OrderStatus) []string {
	var out []string
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartial} {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

// IsTerminal возвращает true для filled и cancelled
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Valid проверяет что статус известен
func (s OrderStatus) Valid() bool {
	_, ok := ValidTransitions[s]
	return ok
}
