// Package market identifies the single instrument an engine instance owns.
package market

import (
	"fmt"
	"strings"
)

// Symbol is a validated base/quote instrument identifier, e.g. btc/usdt.
type Symbol struct {
	Base  string
	Quote string
}

// New builds a Symbol from separate base and quote assets.
func New(base, quote string) (Symbol, error) {
	base = strings.ToLower(strings.TrimSpace(base))
	quote = strings.ToLower(strings.TrimSpace(quote))

	if base == "" || quote == "" {
		return Symbol{}, fmt.Errorf("market: base and quote must not be empty")
	}
	if base == quote {
		return Symbol{}, fmt.Errorf("market: base and quote must be different")
	}

	return Symbol{Base: base, Quote: quote}, nil
}

// FromString parses a "base_quote" identifier, e.g. "btc_usdt".
func FromString(s string) (Symbol, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return Symbol{}, fmt.Errorf("market: invalid symbol %q, expected base_quote", s)
	}
	return New(parts[0], parts[1])
}

// Join concatenates base and quote with sep, e.g. Join("") -> "btcusdt".
func (s Symbol) Join(sep string) string {
	return fmt.Sprintf("%s%s%s", s.Base, sep, s.Quote)
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s_%s", s.Base, s.Quote)
}

// Equal reports whether two symbols denote the same instrument.
func (s Symbol) Equal(other Symbol) bool {
	return s.Base == other.Base && s.Quote == other.Quote
}
