package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Ошибки реестра торговых пар
var (
	ErrSymbolFormat    = errors.New("symbol must be in BASE/QUOTE format")
	ErrSymbolAmbiguous = errors.New("symbol concatenation is ambiguous")
)

// Symbol - торговая пара
type Symbol struct {
	Name  string `json:"symbol"` // BTCUSDT
	Base  string `json:"base"`   // BTC
	Quote string `json:"quote"`  // USDT
}

// LockAsset возвращает актив, который резервируется под ордер стороны side
func (s Symbol) LockAsset(side Side) string {
	if side == SideBuy {
		return s.Quote
	}
	return s.Base
}

// SymbolRegistry - явный справочник торговых пар
//
// Символ никогда не разбирается по суффиксу: BTCUSDT известен только потому,
// что в конфигурации задана пара BTC/USDT.
type SymbolRegistry struct {
	byName  map[string]Symbol
	ordered []Symbol
	assets  map[string]struct{}
}

// NewSymbolRegistry строит реестр из пар вида "BTC/USDT" (допускаются "-" и "_")
//
// Возвращает ErrSymbolAmbiguous, если две разные пары дают одинаковую склейку
// (например AB/C и A/BC).
func NewSymbolRegistry(pairs []string) (*SymbolRegistry, error) {
	r := &SymbolRegistry{
		byName: make(map[string]Symbol, len(pairs)),
		assets: make(map[string]struct{}),
	}

	for _, raw := range pairs {
		base, quote, ok := splitPair(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSymbolFormat, raw)
		}
		sym := Symbol{Name: base + quote, Base: base, Quote: quote}

		if existing, dup := r.byName[sym.Name]; dup {
			if existing == sym {
				continue
			}
			return nil, fmt.Errorf("%w: %s/%s and %s/%s", ErrSymbolAmbiguous,
				existing.Base, existing.Quote, sym.Base, sym.Quote)
		}

		r.byName[sym.Name] = sym
		r.ordered = append(r.ordered, sym)
		r.assets[base] = struct{}{}
		r.assets[quote] = struct{}{}
	}

	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Name < r.ordered[j].Name })
	return r, nil
}

func splitPair(raw string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 {
			base, quote = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if base != "" && quote != "" && base != quote {
				return base, quote, true
			}
			return "", "", false
		}
	}
	return "", "", false
}

// Lookup ищет пару по имени: BTCUSDT, BTC/USDT, btc-usdt
func (r *SymbolRegistry) Lookup(name string) (Symbol, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.NewReplacer("/", "", "-", "", "_", "").Replace(key)
	sym, ok := r.byName[key]
	return sym, ok
}

// All возвращает все пары, отсортированные по имени
func (r *SymbolRegistry) All() []Symbol {
	out := make([]Symbol, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// HasAsset проверяет что актив торгуется хотя бы в одной паре
func (r *SymbolRegistry) HasAsset(asset string) bool {
	_, ok := r.assets[strings.ToUpper(strings.TrimSpace(asset))]
	return ok
}
