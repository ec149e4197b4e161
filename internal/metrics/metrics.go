package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Atlas - метрики конвейера карты.
//
// Метрики:
// * atlas_chunks_classified_total{dim,result} - классифицированные чанки (tile|none)
// * atlas_classify_duration_seconds - время классификации одного чанка
// * atlas_structure_tiles_written_total{dim} - тайлы, записанные частями структур
// * atlas_structure_pieces_total{dim,registered} - обработанные части структур
// * atlas_markers_added_total{dim,type} - поставленные маркеры
// * atlas_hook_errors_total{hook} - ошибки хуков хоста
type Atlas struct {
	ChunksClassified *prometheus.CounterVec
	ClassifyDuration prometheus.Histogram
	TilesWritten     *prometheus.CounterVec
	StructurePieces  *prometheus.CounterVec
	MarkersAdded     *prometheus.CounterVec
	HookErrors       *prometheus.CounterVec
}

// NewAtlas создаёт метрики и регистрирует их в reg; nil reg - глобальный регистр
func NewAtlas(reg prometheus.Registerer) *Atlas {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Atlas{
		ChunksClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "chunks_classified_total",
			Help:      "Количество классифицированных чанков.",
		}, []string{"dim", "result"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlas",
			Name:      "classify_duration_seconds",
			Help:      "Длительность классификации чанка.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		TilesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "structure_tiles_written_total",
			Help:      "Тайлы, перезаписанные частями структур.",
		}, []string{"dim"}),
		StructurePieces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "structure_pieces_total",
			Help:      "Обработанные части структур.",
		}, []string{"dim", "registered"}),
		MarkersAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "markers_added_total",
			Help:      "Глобальные маркеры, поставленные на завершённые структуры.",
		}, []string{"dim", "type"}),
		HookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "hook_errors_total",
			Help:      "Ошибки обработки событий хоста.",
		}, []string{"hook"}),
	}

	reg.MustRegister(m.ChunksClassified, m.ClassifyDuration, m.TilesWritten, m.StructurePieces, m.MarkersAdded, m.HookErrors)
	return m
}
