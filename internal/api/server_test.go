package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/annel0/mmo-atlas/internal/auth"
	"github.com/annel0/mmo-atlas/internal/marker"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overworld = "minecraft:overworld"

type fixture struct {
	srv     *Server
	tiles   *tile.MemoryStore
	markers *marker.MemoryStore
	signer  *auth.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := auth.NewSigner(auth.GenerateSecureSecret(), time.Hour)
	require.NoError(t, err)

	adminHash, err := auth.HashPassword("ChangeMe123!")
	require.NoError(t, err)
	viewerHash, err := auth.HashPassword("viewer")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &fixture{tiles: tile.NewMemoryStore(), markers: marker.NewMemoryStore(), signer: signer}
	f.srv = NewServer(Config{
		Tiles:   f.tiles,
		Markers: f.markers,
		Signer:  signer,
		Operators: auth.Operators{
			{Name: "admin", PasswordHash: adminHash, IsAdmin: true},
			{Name: "viewer", PasswordHash: viewerHash},
		},
		Registerer: reg,
		Gatherer:   reg,
		Stats: func() map[string]interface{} {
			return map[string]interface{}{"sync": map[string]int{"clients": 2}}
		},
	})
	return f
}

func (f *fixture) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, user, password string) string {
	t.Helper()
	w := f.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: user, Password: password}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Token
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Greater(t, report.Goroutines, 0)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clients":2`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/health", nil, "")

	w := f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "atlas_api_http_request_duration_seconds")
}

func TestGetTile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tiles.PutTile(context.Background(), overworld, "minecraft:plains", vec.Vec2{X: 2, Y: -3}))

	w := f.do(http.MethodGet, "/api/tiles/minecraft:overworld/2/-3", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp TileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, TileResponse{Dimension: overworld, X: 2, Z: -3, Tile: "minecraft:plains"}, resp)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/tiles/minecraft:overworld/0/0", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/tiles/minecraft:overworld/a/0", nil, "").Code)
}

func TestGetRegion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tiles.PutTile(ctx, overworld, "a", vec.Vec2{X: 0, Y: 0}))
	require.NoError(t, f.tiles.PutTile(ctx, overworld, "b", vec.Vec2{X: 1, Y: 1}))
	require.NoError(t, f.tiles.PutTile(ctx, overworld, "c", vec.Vec2{X: 5, Y: 5}))

	w := f.do(http.MethodGet, "/api/tiles/minecraft:overworld?x0=1&z0=1&x1=0&z1=0", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data []TileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, tile.ID("a"), resp.Data[0].Tile)
	assert.Equal(t, tile.ID("b"), resp.Data[1].Tile)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/tiles/minecraft:overworld?x0=1", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/tiles/minecraft:overworld?x0=0&z0=0&x1=100&z1=100", nil, "").Code)
}

func TestGetRegion_HugeBounds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tiles.PutTile(context.Background(), overworld, "edge", vec.Vec2{X: math.MaxInt32, Y: 0}))

	for _, query := range []string{
		// Стороны по 2^32: произведение площадей обнуляется при переполнении
		"x0=-2147483648&z0=-2147483648&x1=2147483647&z1=2147483647",
		"x0=0&z0=0&x1=4294967295&z1=4294967295",
		"x0=0&z0=0&x1=9223372036854775807&z1=0",
		"x0=0&z0=0&x1=5000&z1=0",
	} {
		w := f.do(http.MethodGet, "/api/tiles/minecraft:overworld?"+query, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}

	// Область у границы int32
	w := f.do(http.MethodGet, "/api/tiles/minecraft:overworld?x0=2147483646&z0=0&x1=2147483647&z1=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data []TileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, math.MaxInt32, resp.Data[0].X)
}

type getOnlyStore struct{ tile.Store }

func TestDumpDimension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tiles.PutTile(ctx, overworld, "b", vec.Vec2{X: 1, Y: 0}))
	require.NoError(t, f.tiles.PutTile(ctx, overworld, "a", vec.Vec2{X: 0, Y: 0}))

	w := f.do(http.MethodGet, "/api/tiles/minecraft:overworld", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data []TileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, tile.ID("a"), resp.Data[0].Tile)

	// Хранилище без Scan
	srv := NewServer(Config{Tiles: getOnlyStore{f.tiles}, Markers: f.markers, Signer: f.signer, Registerer: prometheus.NewRegistry()})
	req := httptest.NewRequest(http.MethodGet, "/api/tiles/minecraft:overworld", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "admin", "ChangeMe123!")

	claims, err := f.signer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Operator)
	assert.True(t, claims.IsAdmin)

	w := f.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddMarker(t *testing.T) {
	f := newFixture(t)
	req := AddMarkerRequest{Type: "antiqueatlas:red_x", Label: "Сокровище", X: 10, Z: -20}

	t.Run("Без токена", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/markers/minecraft:overworld", req, "").Code)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/markers/minecraft:overworld", req, "garbage").Code)
	})

	t.Run("Не администратор", func(t *testing.T) {
		token := f.login(t, "viewer", "viewer")
		assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/markers/minecraft:overworld", req, token).Code)
	})

	t.Run("Администратор", func(t *testing.T) {
		token := f.login(t, "admin", "ChangeMe123!")
		w := f.do(http.MethodPost, "/api/markers/minecraft:overworld", req, token)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = f.do(http.MethodGet, "/api/markers/minecraft:overworld", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []marker.Marker `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "Сокровище", resp.Data[0].Label)
		assert.Equal(t, -20, resp.Data[0].Z)
		assert.True(t, resp.Data[0].Persistent)
	})

	t.Run("Без типа", func(t *testing.T) {
		token := f.login(t, "admin", "ChangeMe123!")
		w := f.do(http.MethodPost, "/api/markers/minecraft:overworld", AddMarkerRequest{X: 1}, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
