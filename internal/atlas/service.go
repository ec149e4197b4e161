// Package atlas связывает классификатор, резолверы структур и хранилища
// в набор обработчиков событий хоста.
package atlas

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/annel0/mmo-atlas/internal/detector"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/metrics"
	"github.com/annel0/mmo-atlas/internal/structure"
	"github.com/annel0/mmo-atlas/internal/tile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/annel0/mmo-atlas/internal/atlas"

// Service - точка входа для хоста: чанк сгенерирован, часть структуры
// размещена, структура завершена
type Service struct {
	detector *detector.Detector
	tiles    tile.Store
	pieces   *structure.TileResolver
	starts   *structure.MarkerResolver

	metrics *metrics.Atlas
	tracer  trace.Tracer
	logger  *logging.Logger
}

// Option настраивает Service
type Option func(*Service)

// WithMetrics включает Prometheus-метрики
func WithMetrics(m *metrics.Atlas) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer задаёт tracer вместо глобального
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService создаёт сервис. Правила структур должны быть зарегистрированы заранее;
// резолверы замораживаются здесь.
func NewService(det *detector.Detector, tiles tile.Store, pieces *structure.TileResolver, starts *structure.MarkerResolver, opts ...Option) *Service {
	s := &Service{
		detector: det,
		tiles:    tiles,
		pieces:   pieces,
		starts:   starts,
		tracer:   otel.Tracer(tracerName),
		logger:   logging.GetDetectorLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pieces.Freeze()
	starts.Freeze()
	return s
}

// OnChunkGenerated классифицирует чанк и пишет тайл.
// "none" оставляет существующий тайл; тайл структуры биомом не перезаписывается.
func (s *Service) OnChunkGenerated(ctx context.Context, dim string, world detector.World, chunk detector.Chunk) (tile.ID, error) {
	if chunk == nil {
		return tile.None, nil
	}
	pos := chunk.Coords()

	ctx, span := s.tracer.Start(ctx, "atlas.OnChunkGenerated", trace.WithAttributes(
		attribute.String("atlas.dim", dim),
		attribute.Int("atlas.chunk.x", pos.X),
		attribute.Int("atlas.chunk.z", pos.Y),
	))
	defer span.End()

	start := time.Now()
	votes := s.detector.Tally(world, chunk)
	id := votes.Winner()
	if s.metrics != nil {
		s.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	}

	if id.IsNone() {
		s.countChunk(dim, "none")
		span.SetAttributes(attribute.Bool("atlas.none", true))
		return tile.None, nil
	}
	span.SetAttributes(attribute.String("atlas.tile", string(id)))

	existing, found, err := s.tiles.GetTile(ctx, dim, pos)
	if err != nil {
		return tile.None, s.fail(span, "chunk", fmt.Errorf("read tile %s(%d,%d): %w", dim, pos.X, pos.Y, err))
	}
	if found && s.pieces.TilePriority(existing) < structure.LowestPriority {
		s.countChunk(dim, "structure")
		s.logger.Trace("Чанк %s(%d,%d) занят структурой %s, биом %s пропущен", dim, pos.X, pos.Y, existing, id)
		return existing, nil
	}

	if err := s.tiles.PutTile(ctx, dim, id, pos); err != nil {
		return tile.None, s.fail(span, "chunk", fmt.Errorf("write tile %s(%d,%d): %w", dim, pos.X, pos.Y, err))
	}
	s.countChunk(dim, "tile")
	logging.LogChunkClassified(dim, pos.X, pos.Y, string(id), votes[id])
	return id, nil
}

// OnStructurePiecePlaced применяет тайловые правила части структуры.
// Возвращает количество записанных тайлов.
func (s *Service) OnStructurePiecePlaced(ctx context.Context, dim string, piece structure.Piece) (int, error) {
	ctx, span := s.tracer.Start(ctx, "atlas.OnStructurePiecePlaced", trace.WithAttributes(
		attribute.String("atlas.dim", dim),
		attribute.String("atlas.kind", string(piece.Kind)),
	))
	defer span.End()

	registered := s.pieces.Priority(piece.Kind) < structure.LowestPriority
	if s.metrics != nil {
		s.metrics.StructurePieces.WithLabelValues(dim, strconv.FormatBool(registered)).Inc()
	}

	n, err := s.pieces.Resolve(ctx, dim, piece)
	if n > 0 && s.metrics != nil {
		s.metrics.TilesWritten.WithLabelValues(dim).Add(float64(n))
	}
	span.SetAttributes(attribute.Int("atlas.tiles_written", n))
	if err != nil {
		return n, s.fail(span, "piece", err)
	}
	return n, nil
}

// OnStructureCompleted ставит маркер на завершённую структуру
func (s *Service) OnStructureCompleted(ctx context.Context, dim string, start structure.Start) (marker.Marker, bool, error) {
	ctx, span := s.tracer.Start(ctx, "atlas.OnStructureCompleted", trace.WithAttributes(
		attribute.String("atlas.dim", dim),
		attribute.String("atlas.kind", string(start.Kind)),
	))
	defer span.End()

	mk, ok, err := s.starts.Resolve(ctx, dim, start)
	if err != nil {
		return mk, false, s.fail(span, "start", err)
	}
	if ok {
		span.SetAttributes(attribute.String("atlas.marker", mk.ID))
		if s.metrics != nil {
			s.metrics.MarkersAdded.WithLabelValues(dim, mk.Type).Inc()
		}
		s.logger.Info("📍 Маркер %s на %s(%d,%d)", mk.Type, dim, mk.X, mk.Z)
	}
	return mk, ok, nil
}

func (s *Service) countChunk(dim, result string) {
	if s.metrics != nil {
		s.metrics.ChunksClassified.WithLabelValues(dim, result).Inc()
	}
}

func (s *Service) fail(span trace.Span, hook string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.metrics != nil {
		s.metrics.HookErrors.WithLabelValues(hook).Inc()
	}
	s.logger.Error("Хук %s: %v", hook, err)
	return err
}
