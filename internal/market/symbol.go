// internal/market/symbol.go
package market

import (
	"fmt"
	"strings"
)

// Symbol — тикер инструмента в верхнем регистре, например "BTCUSDT".
type Symbol string

// SymbolSet — неизменяемый набор поддерживаемых символов.
// Формируется один раз при старте из конфигурации; после этого только читается,
// поэтому внутренняя map не требует синхронизации.
type SymbolSet struct {
	members map[Symbol]struct{}
	ordered []Symbol
}

// NewSymbolSet нормализует список тикеров (trim + upper) и строит набор.
// Пустые строки и дубликаты отбрасываются; пустой итог — ошибка конфигурации.
func NewSymbolSet(raw []string) (*SymbolSet, error) {
	set := &SymbolSet{members: make(map[Symbol]struct{}, len(raw))}
	for _, s := range raw {
		sym := Symbol(strings.ToUpper(strings.TrimSpace(s)))
		if sym == "" {
			continue
		}
		if _, dup := set.members[sym]; dup {
			continue
		}
		set.members[sym] = struct{}{}
		set.ordered = append(set.ordered, sym)
	}
	if len(set.ordered) == 0 {
		return nil, fmt.Errorf("market: supported symbol list is empty")
	}
	return set, nil
}

// Contains сообщает, поддерживается ли символ.
func (s *SymbolSet) Contains(sym Symbol) bool {
	_, ok := s.members[sym]
	return ok
}

// List возвращает символы в порядке конфигурации (копия).
func (s *SymbolSet) List() []Symbol {
	out := make([]Symbol, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len возвращает размер набора.
func (s *SymbolSet) Len() int { return len(s.ordered) }
