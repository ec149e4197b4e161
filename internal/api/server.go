// Package api - HTTP API atlasd: чтение карты, маркеры операторов, health и метрики.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/mmo-atlas/internal/auth"
	"github.com/annel0/mmo-atlas/internal/eventbus"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/middleware"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// MaxRegionArea - максимум чанков в одном запросе области
const MaxRegionArea = 64 * 64

// Config содержит конфигурацию HTTP сервера
type Config struct {
	Addr      string // адрес для запуска сервера
	Tiles     tile.Store
	Markers   marker.Store
	Signer    *auth.Signer
	Operators auth.Operators

	// Registerer/Gatherer для /metrics; nil - дефолтный регистр
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Stats - дополнительные разделы /api/stats (sync, eventbus и т.п.)
	Stats func() map[string]interface{}

	// Bus - источник событий для /ws/map/:dim; nil выключает WebSocket
	Bus eventbus.EventBus
}

// Server - HTTP API сервер
type Server struct {
	router    *gin.Engine
	http      *http.Server
	tiles     tile.Store
	markers   marker.Store
	signer    *auth.Signer
	operators auth.Operators
	metrics   *ServerMetrics
	stats     func() map[string]interface{}
	bus       eventbus.EventBus
	upgrader  websocket.Upgrader
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer создаёт HTTP сервер
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.NewRequestLogger(nil).Handler())
	router.Use(otelgin.Middleware("atlas_api"))

	promMw := middleware.NewPrometheusMiddleware("atlas_api", cfg.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	s := &Server{
		router:    router,
		tiles:     cfg.Tiles,
		markers:   cfg.Markers,
		signer:    cfg.Signer,
		operators: cfg.Operators,
		metrics:   NewServerMetrics(),
		stats:     cfg.Stats,
		bus:       cfg.Bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			// Карта открыта на чтение, как и GET /api/tiles
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/map/:dim", s.handleLive)

	api := s.router.Group("/api")
	api.POST("/auth/login", s.handleLogin)
	api.GET("/stats", s.handleStats)

	api.GET("/tiles/:dim", s.handleGetRegion)
	api.GET("/tiles/:dim/:x/:z", s.handleGetTile)
	api.GET("/markers/:dim", s.handleListMarkers)

	// Ручные маркеры ставят только администраторы
	admin := api.Group("/")
	admin.Use(s.jwtMiddleware(), s.adminMiddleware())
	admin.POST("/markers/:dim", s.handleAddMarker)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Неверный формат запроса"})
		return
	}

	op, ok := s.operators.Authenticate(req.Username, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Неверное имя пользователя или пароль"})
		return
	}

	token, err := s.signer.Issue(op.Name, op.IsAdmin)
	if err != nil {
		logging.Error("Ошибка генерации токена: %v", err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Ошибка генерации токена"})
		return
	}

	logging.Info("🔑 Оператор %s вошёл (admin=%v)", op.Name, op.IsAdmin)
	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
		IsAdmin: op.IsAdmin,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Report())
}

func (s *Server) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"server": s.metrics.Report(),
	}
	if s.stats != nil {
		for k, v := range s.stats() {
			stats[k] = v
		}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Статистика получена", Data: stats})
}

// TileResponse - тайл одного чанка
type TileResponse struct {
	Dimension string  `json:"dimension"`
	X         int     `json:"x"`
	Z         int     `json:"z"`
	Tile      tile.ID `json:"tile"`
}

func (s *Server) handleGetTile(c *gin.Context) {
	dim := c.Param("dim")
	x, errX := strconv.Atoi(c.Param("x"))
	z, errZ := strconv.Atoi(c.Param("z"))
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Координаты чанка должны быть целыми"})
		return
	}

	id, found, err := s.tiles.GetTile(c.Request.Context(), dim, vec.Vec2{X: x, Y: z})
	if err != nil {
		s.internalError(c, "чтение тайла", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Тайл не найден"})
		return
	}
	c.JSON(http.StatusOK, TileResponse{Dimension: dim, X: x, Z: z, Tile: id})
}

// handleGetRegion возвращает тайлы прямоугольника чанков [x0..x1]×[z0..z1].
// Без параметров отдаёт всё измерение (не больше MaxRegionArea тайлов).
func (s *Server) handleGetRegion(c *gin.Context) {
	dim := c.Param("dim")
	if len(c.Request.URL.Query()) == 0 {
		s.handleDumpDimension(c, dim)
		return
	}

	// Координаты чанков - int32, как в протоколе
	var bounds [4]int
	for i, name := range []string{"x0", "z0", "x1", "z1"} {
		v, err := strconv.ParseInt(c.Query(name), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{Message: "Параметры x0, z0, x1, z1 обязательны (int32)"})
			return
		}
		bounds[i] = int(v)
	}
	lo := vec.Vec2{X: min(bounds[0], bounds[2]), Y: min(bounds[1], bounds[3])}
	hi := vec.Vec2{X: max(bounds[0], bounds[2]), Y: max(bounds[1], bounds[3])}

	// Каждая сторона проверяется отдельно: произведение int64 сторон по 2^32 переполняется
	w := int64(hi.X) - int64(lo.X) + 1
	h := int64(hi.Y) - int64(lo.Y) + 1
	if w > MaxRegionArea || h > MaxRegionArea || w*h > MaxRegionArea {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Слишком большая область"})
		return
	}

	tiles := make([]TileResponse, 0)
	for i := 0; i < int(w); i++ {
		for j := 0; j < int(h); j++ {
			x, z := lo.X+i, lo.Y+j
			id, found, err := s.tiles.GetTile(c.Request.Context(), dim, vec.Vec2{X: x, Y: z})
			if err != nil {
				s.internalError(c, "чтение области", err)
				return
			}
			if found {
				tiles = append(tiles, TileResponse{Dimension: dim, X: x, Z: z, Tile: id})
			}
		}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Тайлы области", Data: tiles})
}

var errDumpLimit = errors.New("dump limit reached")

func (s *Server) handleDumpDimension(c *gin.Context, dim string) {
	tiles := make([]TileResponse, 0)
	err := tile.ScanStore(c.Request.Context(), s.tiles, dim, func(e tile.Entry) error {
		if len(tiles) >= MaxRegionArea {
			return errDumpLimit
		}
		tiles = append(tiles, TileResponse{Dimension: dim, X: e.Chunk.X, Z: e.Chunk.Y, Tile: e.Tile})
		return nil
	})
	switch {
	case errors.Is(err, tile.ErrScanUnsupported):
		c.JSON(http.StatusNotImplemented, GenericResponse{Message: "Хранилище не поддерживает выгрузку"})
		return
	case errors.Is(err, errDumpLimit):
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Выгрузка обрезана", Data: tiles})
		return
	case err != nil:
		s.internalError(c, "выгрузка измерения", err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Тайлы измерения", Data: tiles})
}

func (s *Server) handleListMarkers(c *gin.Context) {
	list, err := s.markers.List(c.Request.Context(), c.Param("dim"))
	if err != nil {
		s.internalError(c, "чтение маркеров", err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Маркеры измерения", Data: list})
}

// AddMarkerRequest - ручной маркер оператора
type AddMarkerRequest struct {
	Type      string `json:"type" binding:"required"`
	Label     string `json:"label"`
	X         int    `json:"x"`
	Z         int    `json:"z"`
	Temporary bool   `json:"temporary"`
}

func (s *Server) handleAddMarker(c *gin.Context) {
	var req AddMarkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
		return
	}

	dim := c.Param("dim")
	mk, err := s.markers.PutGlobalMarker(c.Request.Context(), dim, req.Temporary, req.Type, req.Label, req.X, req.Z)
	if err != nil {
		s.internalError(c, "сохранение маркера", err)
		return
	}

	logging.Info("📍 Оператор %s поставил маркер %s на %s(%d,%d)", c.GetString("operator"), mk.Type, dim, mk.X, mk.Z)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Маркер создан", Data: mk})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	logging.Error("API: %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Внутренняя ошибка сервера"})
}

// Start запускает HTTP сервер; блокирует до Stop
func (s *Server) Start() error {
	logging.Info("🌐 HTTP API слушает %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop выполняет graceful shutdown
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
