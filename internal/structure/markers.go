package structure

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// Start - завершённый экземпляр структуры
type Start struct {
	Kind Kind
	Box  vec.Box
}

// MarkerRule - маркер, который ставится на центр структуры
type MarkerRule struct {
	Type  string
	Label string
}

// MarkerResolver ставит маркеры на завершённые структуры
type MarkerResolver struct {
	store marker.Store

	// Temporary передаётся хранилищу как флаг временного маркера
	Temporary bool

	mu     sync.RWMutex
	frozen bool
	rules  map[Kind]MarkerRule
}

// NewMarkerResolver создаёт резолвер, пишущий в store
func NewMarkerResolver(store marker.Store) *MarkerResolver {
	return &MarkerResolver{
		store: store,
		rules: make(map[Kind]MarkerRule),
	}
}

// RegisterMarker задаёт маркер для вида структуры; повторный вызов заменяет правило
func (r *MarkerResolver) RegisterMarker(kind Kind, markerType, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	r.rules[kind] = MarkerRule{Type: markerType, Label: label}
	return nil
}

// Freeze завершает фазу регистрации
func (r *MarkerResolver) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Rule возвращает правило вида
func (r *MarkerResolver) Rule(kind Kind) (MarkerRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[kind]
	return rule, ok
}

// Resolve ставит глобальный маркер в центр структуры.
// Возвращает false, если для вида нет правила.
func (r *MarkerResolver) Resolve(ctx context.Context, dim string, start Start) (marker.Marker, bool, error) {
	rule, ok := r.Rule(start.Kind)
	if !ok {
		return marker.Marker{}, false, nil
	}

	center := start.Box.Center()
	mk, err := r.store.PutGlobalMarker(ctx, dim, r.Temporary, rule.Type, rule.Label, center.X, center.Z)
	if err != nil {
		return marker.Marker{}, false, fmt.Errorf("put marker for %s: %w", start.Kind, err)
	}

	logging.GetStructureLogger().Debug("Маркер %s %q для %s в %s(%d,%d)", rule.Type, rule.Label, start.Kind, dim, center.X, center.Z)
	return mk, true, nil
}
