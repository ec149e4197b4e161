package structure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// ErrFrozen - регистрация после начала обработки мира
var ErrFrozen = errors.New("structure: registry is frozen")

// LowestPriority - приоритет незарегистрированного вида (никогда не перекрывает)
const LowestPriority = math.MaxInt

// Kind - идентификатор вида части структуры или структуры ("minecraft:village/plains/houses")
type Kind string

// Piece - размещённая часть структуры
type Piece struct {
	Kind Kind
	Box  vec.Box
}

// PriorityPolicy - как повторная регистрация влияет на приоритет вида
type PriorityPolicy uint8

const (
	// PriorityLastWins: каждая регистрация перезаписывает приоритет вида
	// для всех его правил
	PriorityLastWins PriorityPolicy = iota
	// PriorityFirstWins: приоритет задаёт первая регистрация вида
	PriorityFirstWins
)

// ParsePriorityPolicy разбирает политику из конфигурации
func ParsePriorityPolicy(s string) (PriorityPolicy, error) {
	switch s {
	case "", "last", "last_wins":
		return PriorityLastWins, nil
	case "first", "first_wins":
		return PriorityFirstWins, nil
	default:
		return PriorityLastWins, fmt.Errorf("unknown priority policy %q", s)
	}
}

// TileRule - тайл, который часть структуры кладёт на карту
type TileRule struct {
	Tile      tile.ID
	Placement Placement
}

// TileResolver решает, заменяет ли тайл части структуры тайл чанка.
// Меньшее значение приоритета побеждает.
type TileResolver struct {
	store  tile.Store
	policy PriorityPolicy

	mu         sync.RWMutex
	frozen     bool
	rules      map[Kind][]TileRule
	priorities map[Kind]int
	// tileKinds - какие виды кладут данный тайл; по нему определяется
	// приоритет уже лежащего на карте тайла
	tileKinds map[tile.ID][]Kind
}

// NewTileResolver создаёт резолвер, пишущий в store
func NewTileResolver(store tile.Store, policy PriorityPolicy) *TileResolver {
	return &TileResolver{
		store:      store,
		policy:     policy,
		rules:      make(map[Kind][]TileRule),
		priorities: make(map[Kind]int),
		tileKinds:  make(map[tile.ID][]Kind),
	}
}

// RegisterTile добавляет правило для вида части структуры.
// nil placement означает CenterChunk.
func (r *TileResolver) RegisterTile(kind Kind, priority int, id tile.ID, placement Placement) error {
	if placement == nil {
		placement = CenterChunk
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}

	r.rules[kind] = append(r.rules[kind], TileRule{Tile: id, Placement: placement})

	if _, seen := r.priorities[kind]; !seen || r.policy == PriorityLastWins {
		r.priorities[kind] = priority
	}

	for _, k := range r.tileKinds[id] {
		if k == kind {
			return nil
		}
	}
	r.tileKinds[id] = append(r.tileKinds[id], kind)
	return nil
}

// Freeze завершает фазу регистрации
func (r *TileResolver) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Priority возвращает приоритет вида; LowestPriority если вид не зарегистрирован
func (r *TileResolver) Priority(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.priorityLocked(kind)
}

func (r *TileResolver) priorityLocked(kind Kind) int {
	if p, ok := r.priorities[kind]; ok {
		return p
	}
	return LowestPriority
}

// tilePriorityLocked - приоритет тайла, уже лежащего на карте.
// Если тайл кладут несколько видов, берётся лучший из их приоритетов.
func (r *TileResolver) tilePriorityLocked(id tile.ID) int {
	best := LowestPriority
	for _, k := range r.tileKinds[id] {
		if p := r.priorityLocked(k); p < best {
			best = p
		}
	}
	return best
}

// TilePriority возвращает приоритет тайла, лежащего на карте;
// LowestPriority для тайлов, которые не кладёт ни одна структура
func (r *TileResolver) TilePriority(id tile.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tilePriorityLocked(id)
}

// Rules возвращает копию правил вида
func (r *TileResolver) Rules(kind Kind) []TileRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TileRule, len(r.rules[kind]))
	copy(out, r.rules[kind])
	return out
}

// Resolve применяет правила вида части к чанкам, которые она занимает.
// Возвращает количество записанных тайлов. Незарегистрированный вид - no-op.
func (r *TileResolver) Resolve(ctx context.Context, dim string, piece Piece) (int, error) {
	r.mu.RLock()
	rules := r.rules[piece.Kind]
	priority := r.priorityLocked(piece.Kind)
	r.mu.RUnlock()

	if len(rules) == 0 {
		return 0, nil
	}

	written := 0
	for _, rule := range rules {
		for _, pos := range rule.Placement.Matches(piece.Box) {
			ok, err := r.put(ctx, dim, piece.Kind, priority, pos, rule.Tile)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}
	return written, nil
}

// put записывает тайл, если приоритет вида выше приоритета существующего тайла
func (r *TileResolver) put(ctx context.Context, dim string, kind Kind, priority int, pos vec.Vec2, id tile.ID) (bool, error) {
	existing, found, err := r.store.GetTile(ctx, dim, pos)
	if err != nil {
		return false, fmt.Errorf("read tile %s(%d,%d): %w", dim, pos.X, pos.Y, err)
	}

	existingPriority := LowestPriority
	if found {
		r.mu.RLock()
		existingPriority = r.tilePriorityLocked(existing)
		r.mu.RUnlock()
	}

	if priority >= existingPriority {
		return false, nil
	}

	if err := r.store.PutTile(ctx, dim, id, pos); err != nil {
		return false, fmt.Errorf("write tile %s(%d,%d): %w", dim, pos.X, pos.Y, err)
	}
	logging.LogTileOverride(dim, pos.X, pos.Y, string(kind), string(existing), string(id))
	return true, nil
}
