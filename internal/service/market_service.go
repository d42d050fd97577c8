package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
	"spotex/internal/repository"
)

// Ограничения рыночных запросов
const (
	DefaultBookDepth   = 20
	MaxBookDepth       = 100
	DefaultTradesLimit = 50
	MaxTradesLimit     = 500
	TickerWindow       = 24 * time.Hour
)

// Ticker - сводка по паре за последние 24 часа и лучшие цены стакана
type Ticker struct {
	models.MarketStats
	PriceChange        decimal.Decimal     `json:"price_change"`         // last - open
	PriceChangePercent decimal.Decimal     `json:"price_change_percent"` // к open, 2 знака
	BestBid            decimal.NullDecimal `json:"best_bid"`
	BestAsk            decimal.NullDecimal `json:"best_ask"`
}

// MarketService - публичные рыночные данные
type MarketService struct {
	engine  OrderEngine
	store   repository.Store
	symbols *models.SymbolRegistry
	now     func() time.Time
}

// NewMarketService создает новый экземпляр MarketService
func NewMarketService(eng OrderEngine, store repository.Store, symbols *models.SymbolRegistry) *MarketService {
	return &MarketService{
		engine:  eng,
		store:   store,
		symbols: symbols,
		now:     time.Now,
	}
}

// ListMarkets возвращает торгуемые пары по имени
func (s *MarketService) ListMarkets() []models.Symbol {
	return s.symbols.All()
}

func (s *MarketService) lookup(raw string) (models.Symbol, error) {
	sym, ok := s.symbols.Lookup(raw)
	if !ok {
		return models.Symbol{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, raw)
	}
	return sym, nil
}

// GetOrderBook возвращает снимок стакана. depth <= 0 = DefaultBookDepth.
func (s *MarketService) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error) {
	sym, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	if depth > MaxBookDepth {
		depth = MaxBookDepth
	}
	return s.engine.GetOrderBook(ctx, sym.Name, depth)
}

// RecentTrades возвращает последние сделки пары без данных участников
func (s *MarketService) RecentTrades(ctx context.Context, symbol string, limit int) ([]*models.PublicTrade, error) {
	sym, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTradesLimit
	}
	if limit > MaxTradesLimit {
		limit = MaxTradesLimit
	}

	trades, err := s.store.Trades().ListBySymbol(ctx, sym.Name, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PublicTrade, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.Public())
	}
	return out, nil
}

// Ticker считает агрегаты за TickerWindow и добавляет лучшие bid/ask
func (s *MarketService) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	sym, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.Trades().Stats(ctx, sym.Name, s.now().UTC().Add(-TickerWindow))
	if err != nil {
		return nil, fmt.Errorf("ticker stats: %w", err)
	}
	book, err := s.engine.GetOrderBook(ctx, sym.Name, 1)
	if err != nil {
		return nil, fmt.Errorf("ticker book: %w", err)
	}

	ticker := &Ticker{MarketStats: *stats}
	if stats.Open.IsPositive() {
		ticker.PriceChange = stats.Last.Sub(stats.Open)
		ticker.PriceChangePercent = ticker.PriceChange.Div(stats.Open).Mul(decimal.NewFromInt(100)).Round(2)
	}
	if bid, ok := book.BestBid(); ok {
		ticker.BestBid = decimal.NewNullDecimal(bid)
	}
	if ask, ok := book.BestAsk(); ok {
		ticker.BestAsk = decimal.NewNullDecimal(ask)
	}
	return ticker, nil
}
