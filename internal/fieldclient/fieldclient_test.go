package fieldclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/alert"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/realtime"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах
	return logger
}

func TestPresenceBoard_LastAppliedUpdateWins(t *testing.T) {
	// Подготовка
	board := NewPresenceBoard()
	newer := models.LocationUpdateEvent{UserID: 1, UserName: "Alice", Latitude: 10, Longitude: 10}
	older := models.LocationUpdateEvent{UserID: 1, UserName: "Alice", Latitude: 5, Longitude: 5}

	// Действие: более старое обновление пришло последним из-за переупорядочивания
	board.Apply(newer)
	board.Apply(older)

	// Проверки
	record, ok := board.Get(1)
	require.True(t, ok)
	assert.Equal(t, models.Coordinates{Latitude: 5, Longitude: 5}, record.LastKnownPosition)
	assert.Len(t, board.All(), 1)
}

func TestPresenceBoard_OfflineRemovesMarker(t *testing.T) {
	board := NewPresenceBoard()
	board.Apply(models.LocationUpdateEvent{UserID: 1, UserName: "Alice"})
	board.Apply(models.LocationUpdateEvent{UserID: 2, UserName: "Bob"})

	board.Status(models.OnlineStatusEvent{UserID: 2, IsOnline: true})
	assert.Len(t, board.All(), 2)
	board.Status(models.OnlineStatusEvent{UserID: 2, IsOnline: false})

	all := board.All()
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].UserID)
}

func TestPresenceBoard_ResetReplacesRecords(t *testing.T) {
	board := NewPresenceBoard()
	board.Apply(models.LocationUpdateEvent{UserID: 7})

	board.Reset([]models.LocationUpdateEvent{{UserID: 3, UserName: "Carol", Latitude: 1, Longitude: 2}})

	_, stale := board.Get(7)
	assert.False(t, stale)
	record, ok := board.Get(3)
	require.True(t, ok)
	assert.Equal(t, "Carol", record.DisplayName)
}

func TestIncidentSource_ListIncidents(t *testing.T) {
	// Подготовка
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/incidents", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":1,"category":"fire","severity":"high","description":"a","latitude":1,"longitude":2,"created_at":"2024-01-01T00:00:00Z"},
			{"id":2,"category":"theft","severity":"low","description":"b","latitude":3,"longitude":4,"created_at":"2024-01-02T00:00:00Z"}
		]`)
	}))
	defer srv.Close()
	source := NewIncidentSource(srv.URL, "secret", time.Second)

	// Действие
	incidents, err := source.ListIncidents(context.Background())

	// Проверки
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, int64(1), incidents[0].ID)
	assert.Equal(t, models.SeverityHigh, incidents[0].Severity)
	assert.Equal(t, 4.0, incidents[1].Longitude)
}

func TestIncidentSource_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewIncidentSource(srv.URL, "bad", time.Second).ListIncidents(context.Background())

	assert.ErrorIs(t, err, models.ErrAuth)
}

func TestIncidentSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewIncidentSource(srv.URL, "token", time.Second).ListIncidents(context.Background())

	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrAuth)
}

// fakeServer - сценарный websocket-сервер
type fakeServer struct {
	srv      *httptest.Server
	received chan models.Envelope
}

func newFakeServer(t *testing.T, accept bool, afterAuth func(conn *websocket.Conn)) *fakeServer {
	t.Helper()
	f := &fakeServer{received: make(chan models.Envelope, 16)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := realtime.Decode(raw)
		if !assert.NoError(t, err) || !assert.Equal(t, models.EventAuthenticate, env.Type) {
			return
		}
		if !accept {
			writeEnvelope(t, conn, models.EventAuthenticated, models.AuthenticatedEvent{Success: false})
			return
		}
		writeEnvelope(t, conn, models.EventAuthenticated, models.AuthenticatedEvent{
			Success: true,
			User:    &models.UserSummary{ID: 1, Name: "Alice", Role: "police"},
		})
		if afterAuth != nil {
			afterAuth(conn)
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, err := realtime.Decode(raw); err == nil {
				f.received <- env
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	payload, err := realtime.Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func startSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return done
}

func TestSession_DispatchesServerEvents(t *testing.T) {
	// Подготовка
	srv := newFakeServer(t, true, func(conn *websocket.Conn) {
		writeEnvelope(t, conn, models.EventPresenceSnapshot, []models.LocationUpdateEvent{{UserID: 2, UserName: "Bob", Latitude: 1, Longitude: 1}})
		writeEnvelope(t, conn, models.EventLocationUpdate, models.LocationUpdateEvent{UserID: 3, UserName: "Carol", Latitude: 2, Longitude: 2})
		writeEnvelope(t, conn, models.EventNewReport, &models.Incident{ID: 9, Category: "fire", Severity: models.SeverityHigh, Description: "x"})
		writeEnvelope(t, conn, models.EventOnlineStatusUpdate, models.OnlineStatusEvent{UserID: 2, IsOnline: false})
	})
	board := NewPresenceBoard()
	var mu sync.Mutex
	var incidents []*models.Incident
	session, err := NewSession(srv.srv.URL, "token", board, func(i *models.Incident) {
		mu.Lock()
		defer mu.Unlock()
		incidents = append(incidents, i)
	}, newTestLogger())
	require.NoError(t, err)

	// Действие
	startSession(t, session)

	// Проверки
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, bobOnline := board.Get(2)
		_, carol := board.Get(3)
		return len(incidents) == 1 && !bobOnline && carol
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, int64(9), incidents[0].ID)
	assert.Equal(t, models.SeverityHigh, incidents[0].Severity)
	mu.Unlock()

	user, ok := session.User()
	require.True(t, ok)
	assert.Equal(t, "Alice", user.Name)
}

func TestSession_SendLocation(t *testing.T) {
	// Подготовка
	srv := newFakeServer(t, true, nil)
	session, err := NewSession(srv.srv.URL, "token", NewPresenceBoard(), nil, newTestLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, session.SendLocation(models.Coordinates{}), ErrNotConnected)
	startSession(t, session)
	assert.Eventually(t, func() bool { _, ok := session.User(); return ok }, 2*time.Second, 10*time.Millisecond)

	// Действие
	require.NoError(t, session.SendLocation(models.Coordinates{Latitude: 48.85, Longitude: 2.35}))

	// Проверки
	select {
	case env := <-srv.received:
		assert.Equal(t, models.EventLocationUpdate, env.Type)
		var payload map[string]float64
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, map[string]float64{"latitude": 48.85, "longitude": 2.35}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive location update")
	}
}

func TestSession_AuthenticationRejected(t *testing.T) {
	srv := newFakeServer(t, false, nil)
	session, err := NewSession(srv.srv.URL, "bad", NewPresenceBoard(), nil, newTestLogger())
	require.NoError(t, err)

	err = session.Serve(context.Background())

	assert.ErrorIs(t, err, models.ErrAuth)
	assert.ErrorIs(t, err, suture.ErrTerminateSupervisorTree)
}

func TestWebsocketURL(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/v1/ws"},
		{"https://falcon.example.org/", "wss://falcon.example.org/api/v1/ws"},
		{"http://host/prefix", "ws://host/prefix/api/v1/ws"},
	}
	for _, tc := range testCases {
		got, err := websocketURL(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestParsePosition(t *testing.T) {
	position, err := ParsePosition(" 40.7, -74.0 ")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinates{Latitude: 40.7, Longitude: -74.0}, position)

	for _, line := range []string{"", "40.7", "a,b", "91,0", "0,181", "1,2,3"} {
		_, err := ParsePosition(line)
		assert.ErrorIs(t, err, models.ErrValidation, line)
	}
}

func TestPositionWatcher_PublishesValidPositions(t *testing.T) {
	// Подготовка
	watcher := NewPositionWatcher(strings.NewReader("1,2\nbogus\n3,4\n"), newTestLogger())
	var mu sync.Mutex
	var got []models.Coordinates
	watcher.Subscribe(func(c models.Coordinates) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	_, known := watcher.Position()
	assert.False(t, known)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// Действие
	go func() { done <- watcher.Serve(ctx) }()

	// Проверки
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	position, known := watcher.Position()
	assert.True(t, known)
	assert.Equal(t, models.Coordinates{Latitude: 3, Longitude: 4}, position)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPositionWatcher_RoutesCommands(t *testing.T) {
	watcher := NewPositionWatcher(strings.NewReader("ack 5\n1,2\n\npatrol on\n"), newTestLogger())
	var mu sync.Mutex
	var commands []string
	watcher.HandleOther(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, line)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = watcher.Serve(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(commands) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"ack 5", "patrol on"}, commands)
	mu.Unlock()
	position, known := watcher.Position()
	assert.True(t, known)
	assert.Equal(t, models.Coordinates{Latitude: 1, Longitude: 2}, position)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestPositionWatcher_ReadError(t *testing.T) {
	watcher := NewPositionWatcher(failingReader{}, newTestLogger())

	err := watcher.Serve(context.Background())

	assert.ErrorContains(t, err, "device gone")
}

func TestCommandAudio_EmptyCommand(t *testing.T) {
	audio := NewCommandAudio(nil, newTestLogger())

	assert.NoError(t, audio.Play())
	assert.NoError(t, audio.Stop())
}

func TestLogNotifier_IncludesETA(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewLogNotifier(logger).Notify(alert.Notification{
		Incident: &models.Incident{ID: 5, Category: "fire", Severity: models.SeverityHigh},
		ETA:      125 * time.Second,
	})

	assert.Contains(t, buf.String(), `"eta":"2 min 5 sec"`)
	assert.Contains(t, buf.String(), `"incident_id":5`)
}
