package routing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах
	return logger
}

func TestClient_Estimate(t *testing.T) {
	// Подготовка
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"routes":[{"duration":125.7,"geometry":{"coordinates":[[2.35,48.85],[2.36,48.86]]}}]}`))
	}))
	defer srv.Close()
	client := NewClient(Options{BaseURL: srv.URL, Profile: "mapbox/driving", Token: "secret"}, newTestLogger())
	origin := models.Coordinates{Latitude: 48.85, Longitude: 2.35}

	// Действие
	route, err := client.Estimate(context.Background(), &origin, models.Coordinates{Latitude: 48.86, Longitude: 2.36})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, "/mapbox/driving/2.35,48.85;2.36,48.86", gotPath)
	assert.Contains(t, gotQuery, "geometries=geojson")
	assert.Contains(t, gotQuery, "overview=full")
	assert.Contains(t, gotQuery, "access_token=secret")
	assert.Equal(t, 125700*time.Millisecond, route.Duration)
	assert.Equal(t, [][2]float64{{2.35, 48.85}, {2.36, 48.86}}, route.Geometry)
	assert.Equal(t, "2 min 5 sec", FormatETA(route.Duration))
}

func TestClient_EstimateUnavailable(t *testing.T) {
	origin := models.Coordinates{Latitude: 1, Longitude: 1}
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		origin  *models.Coordinates
	}{
		{
			name:    "unknown origin",
			handler: func(w http.ResponseWriter, r *http.Request) { t.Error("service must not be called") },
			origin:  nil,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			origin:  &origin,
		},
		{
			name:    "no routes",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"routes":[]}`)) },
			origin:  &origin,
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"routes":`)) },
			origin:  &origin,
		},
		{
			name:    "invalid origin",
			handler: func(w http.ResponseWriter, r *http.Request) { t.Error("service must not be called") },
			origin:  &models.Coordinates{Latitude: 95},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			client := NewClient(Options{BaseURL: srv.URL}, newTestLogger())

			_, err := client.Estimate(context.Background(), tc.origin, models.Coordinates{Latitude: 2, Longitude: 2})

			assert.ErrorIs(t, err, models.ErrRouteUnavailable)
		})
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	// Подготовка
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	client := NewClient(Options{BaseURL: srv.URL}, newTestLogger())
	origin := models.Coordinates{Latitude: 1, Longitude: 1}

	// Действие
	var err error
	for i := 0; i < 7; i++ {
		_, err = client.Estimate(context.Background(), &origin, models.Coordinates{Latitude: 2, Longitude: 2})
	}

	// Проверки
	assert.Equal(t, int32(5), hits.Load())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, models.ErrRouteUnavailable)
}

func TestClient_MissingRoutesDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"routes":[]}`))
	}))
	defer srv.Close()
	client := NewClient(Options{BaseURL: srv.URL}, newTestLogger())
	origin := models.Coordinates{Latitude: 1, Longitude: 1}

	for i := 0; i < 7; i++ {
		_, _ = client.Estimate(context.Background(), &origin, models.Coordinates{Latitude: 2, Longitude: 2})
	}

	assert.Equal(t, int32(7), hits.Load())
}

func TestClient_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[{"duration":1}]}`))
	}))
	defer srv.Close()
	client := NewClient(Options{BaseURL: srv.URL, RPS: 1}, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	origin := models.Coordinates{Latitude: 1, Longitude: 1}

	_, err := client.Estimate(ctx, &origin, models.Coordinates{Latitude: 2, Longitude: 2})

	assert.ErrorIs(t, err, models.ErrRouteUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "0 min 0 sec", FormatETA(0))
	assert.Equal(t, "1 min 30 sec", FormatETA(90*time.Second+400*time.Millisecond))
	assert.Equal(t, "75 min 0 sec", FormatETA(75*time.Minute))
	assert.Equal(t, "unavailable", FormatETA(Unavailable))
}

func TestDisabled_AlwaysUnavailable(t *testing.T) {
	origin := models.Coordinates{Latitude: 1, Longitude: 1}

	_, err := Disabled{}.Estimate(context.Background(), &origin, models.Coordinates{})

	assert.ErrorIs(t, err, models.ErrRouteUnavailable)
}
