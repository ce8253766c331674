package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/service"
	"github.com/shenikar/falconwatch/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type relayFixture struct {
	hub       *Hub
	auth      *mocks.MockAuthService
	incidents *mocks.MockIncidentService
	url       string
}

func newRelayFixture(t *testing.T, authTimeout time.Duration) *relayFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	hub := setupHub(t)
	authMock := mocks.NewMockAuthService(ctrl)
	incidentsMock := mocks.NewMockIncidentService(ctrl)
	relay := NewRelay(hub, authMock, incidentsMock, authTimeout, newTestLogger())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		relay.ServeConn(context.Background(), conn)
	}))
	t.Cleanup(srv.Close)

	return &relayFixture{
		hub:       hub,
		auth:      authMock,
		incidents: incidentsMock,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	payload, err := Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := Decode(raw)
	require.NoError(t, err)
	return env
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType string) models.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env.Type == eventType {
			return env
		}
	}
	t.Fatalf("did not receive %s", eventType)
	return models.Envelope{}
}

func authenticate(t *testing.T, f *relayFixture, conn *websocket.Conn, token string, user *models.UserSummary) {
	t.Helper()
	f.auth.EXPECT().Authenticate(gomock.Any(), token).Return(user, nil).Times(1)
	sendEnvelope(t, conn, models.EventAuthenticate, models.AuthenticateRequest{Token: token})

	env := readEnvelope(t, conn)
	require.Equal(t, models.EventAuthenticated, env.Type)
	var auth models.AuthenticatedEvent
	require.NoError(t, json.Unmarshal(env.Data, &auth))
	require.True(t, auth.Success)
	readUntil(t, conn, models.EventPresenceSnapshot)
}

func ptr(f float64) *float64 { return &f }

func TestRelay_AuthenticateAndRelayLocation(t *testing.T) {
	// Подготовка
	f := newRelayFixture(t, time.Second)
	alice := f.dial(t)
	bob := f.dial(t)
	authenticate(t, f, alice, "alice-token", &models.UserSummary{ID: 1, Name: "Alice", Role: "police"})
	authenticate(t, f, bob, "bob-token", &models.UserSummary{ID: 2, Name: "Bob", Role: "police"})
	readUntil(t, alice, models.EventOnlineStatusUpdate)

	// Действие
	// userId в полезной нагрузке игнорируется, отправитель берется из сессии
	sendEnvelope(t, bob, models.EventLocationUpdate, map[string]any{"latitude": 48.85, "longitude": 2.35, "userId": 99})

	// Проверки
	env := readUntil(t, alice, models.EventLocationUpdate)
	var update models.LocationUpdateEvent
	require.NoError(t, json.Unmarshal(env.Data, &update))
	assert.Equal(t, models.LocationUpdateEvent{UserID: 2, UserName: "Bob", Latitude: 48.85, Longitude: 2.35}, update)
}

func TestRelay_AuthenticationFailureTerminates(t *testing.T) {
	// Подготовка
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)

	// Ожидания
	f.auth.EXPECT().Authenticate(gomock.Any(), "bad").Return(nil, models.ErrAuth).Times(1)

	// Действие
	sendEnvelope(t, conn, models.EventAuthenticate, models.AuthenticateRequest{Token: "bad"})

	// Проверки
	env := readEnvelope(t, conn)
	assert.Equal(t, models.EventAuthenticated, env.Type)
	assert.JSONEq(t, `{"success":false}`, string(env.Data))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection must be closed after failed authentication")
	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_AuthenticationTimeout(t *testing.T) {
	f := newRelayFixture(t, 100*time.Millisecond)
	conn := f.dial(t)

	env := readEnvelope(t, conn)

	assert.Equal(t, models.EventAuthenticated, env.Type)
	assert.JSONEq(t, `{"success":false}`, string(env.Data))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestRelay_LocationBeforeAuthentication(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)

	sendEnvelope(t, conn, models.EventLocationUpdate, models.LocationPayload{Latitude: ptr(1), Longitude: ptr(2)})

	env := readEnvelope(t, conn)
	assert.Equal(t, models.EventError, env.Type)
	assert.Empty(t, f.hub.Presence())
}

func TestRelay_InvalidLocationKeepsConnectionOpen(t *testing.T) {
	// Подготовка
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)
	authenticate(t, f, conn, "token", &models.UserSummary{ID: 1, Name: "Alice"})

	cases := []any{
		map[string]any{"latitude": 91.0, "longitude": 0.0},
		map[string]any{"latitude": 10.0, "longitude": 181.0},
		map[string]any{"latitude": 10.0},
		"not an object",
	}
	for _, payload := range cases {
		// Действие
		sendEnvelope(t, conn, models.EventLocationUpdate, payload)

		// Проверки
		env := readEnvelope(t, conn)
		assert.Equal(t, models.EventError, env.Type)
	}

	sendEnvelope(t, conn, models.EventPing, nil)
	assert.Equal(t, models.EventPong, readEnvelope(t, conn).Type)
	assert.Empty(t, f.hub.Presence())
}

func TestRelay_MalformedMessage(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))

	assert.Equal(t, models.EventError, readEnvelope(t, conn).Type)
}

func TestRelay_ReportIncident(t *testing.T) {
	// Подготовка
	f := newRelayFixture(t, time.Second)
	alice := f.dial(t)
	bob := f.dial(t)
	authenticate(t, f, alice, "alice", &models.UserSummary{ID: 1, Name: "Alice"})
	authenticate(t, f, bob, "bob", &models.UserSummary{ID: 2, Name: "Bob"})
	readUntil(t, alice, models.EventOnlineStatusUpdate)

	// Ожидания
	f.incidents.EXPECT().
		CreateIncident(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, incident *models.Incident) error {
			reporter, ok := service.ReporterFromContext(ctx)
			assert.True(t, ok)
			assert.Equal(t, int64(1), reporter)
			assert.Equal(t, models.SeverityMedium, incident.Severity)
			incident.ID = 42
			f.hub.BroadcastIncident(incident)
			return nil
		}).
		Times(1)

	// Действие
	sendEnvelope(t, alice, models.EventReportIncident, models.ReportIncidentRequest{
		Category:    "theft",
		Description: "bike stolen",
		Latitude:    ptr(40.7),
		Longitude:   ptr(-74.0),
	})

	// Проверки
	readUntil(t, alice, models.EventReportSuccess)
	env := readUntil(t, bob, models.EventNewReport)
	var incident models.Incident
	require.NoError(t, json.Unmarshal(env.Data, &incident))
	assert.Equal(t, int64(42), incident.ID)
	assert.Equal(t, "theft", incident.Category)
}

func TestRelay_ReportIncidentRejectsUnknownSeverity(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)
	authenticate(t, f, conn, "token", &models.UserSummary{ID: 1, Name: "Alice"})

	sendEnvelope(t, conn, models.EventReportIncident, models.ReportIncidentRequest{
		Category:    "theft",
		Severity:    "apocalyptic",
		Description: "?",
		Latitude:    ptr(1),
		Longitude:   ptr(1),
	})

	assert.Equal(t, models.EventReportError, readEnvelope(t, conn).Type)
}

func TestRelay_SecondAuthenticateIsRejected(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	conn := f.dial(t)
	authenticate(t, f, conn, "token", &models.UserSummary{ID: 1, Name: "Alice"})

	sendEnvelope(t, conn, models.EventAuthenticate, models.AuthenticateRequest{Token: "token"})

	assert.Equal(t, models.EventError, readEnvelope(t, conn).Type)
	assert.Equal(t, 1, f.hub.SessionCount())
}

func TestRelay_DisconnectBroadcastsOffline(t *testing.T) {
	// Подготовка
	f := newRelayFixture(t, time.Second)
	alice := f.dial(t)
	bob := f.dial(t)
	authenticate(t, f, alice, "alice", &models.UserSummary{ID: 1, Name: "Alice"})
	authenticate(t, f, bob, "bob", &models.UserSummary{ID: 2, Name: "Bob"})
	readUntil(t, alice, models.EventOnlineStatusUpdate)

	// Действие
	require.NoError(t, bob.Close())

	// Проверки
	env := readUntil(t, alice, models.EventOnlineStatusUpdate)
	var status models.OnlineStatusEvent
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, models.OnlineStatusEvent{UserID: 2, IsOnline: false}, status)
}
