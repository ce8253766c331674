// Package fieldclient - клиентская сторона канала реального времени:
// websocket-сессия, доска присутствия, загрузка инцидентов и источники позиции.
package fieldclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/realtime"
	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 15 * time.Second
)

// ErrNotConnected - сессия еще не аутентифицирована или уже закрыта
var ErrNotConnected = errors.New("session is not connected")

// Session - websocket-сессия полевого клиента. Serve переподключается при перезапуске супервизором.
type Session struct {
	url    string
	token  string
	dialer *websocket.Dialer
	board  *PresenceBoard
	logger *logrus.Logger

	onIncident func(*models.Incident)

	mu   sync.Mutex
	conn *websocket.Conn
	user *models.UserSummary
}

// NewSession создает сессию. serverURL - базовый http(s) адрес сервера.
func NewSession(serverURL, token string, board *PresenceBoard, onIncident func(*models.Incident), logger *logrus.Logger) (*Session, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Session{
		url:        wsURL,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeWait},
		board:      board,
		logger:     logger,
		onIncident: onIncident,
	}, nil
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("fieldclient: parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	return u.String(), nil
}

// Serve подключается, аутентифицируется и обрабатывает события до отмены контекста
// или обрыва соединения. Реализует suture.Service: отказ в аутентификации
// останавливает дерево супервизоров, повторять его бессмысленно.
func (s *Session) Serve(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("fieldclient: dial %s: %w", s.url, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	user, err := s.authenticate(conn)
	if err != nil {
		if errors.Is(err, models.ErrAuth) {
			return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, err)
		}
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.user = user
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("Session authenticated")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fieldclient: read: %w", err)
		}
		s.dispatch(raw)
	}
}

func (s *Session) authenticate(conn *websocket.Conn) (*models.UserSummary, error) {
	payload, err := realtime.Encode(models.EventAuthenticate, models.AuthenticateRequest{Token: s.token})
	if err != nil {
		return nil, err
	}
	if err := writeMessage(conn, payload); err != nil {
		return nil, fmt.Errorf("fieldclient: send authenticate: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		return nil, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("fieldclient: await authenticated: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	env, err := realtime.Decode(raw)
	if err != nil {
		return nil, err
	}
	if env.Type != models.EventAuthenticated {
		return nil, fmt.Errorf("fieldclient: expected %s, got %s", models.EventAuthenticated, env.Type)
	}
	var result models.AuthenticatedEvent
	if err := realtime.DecodeData(env, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.User == nil {
		return nil, fmt.Errorf("fieldclient: %w", models.ErrAuth)
	}
	return result.User, nil
}

func (s *Session) dispatch(raw []byte) {
	env, err := realtime.Decode(raw)
	if err != nil {
		s.logger.WithError(err).Warn("Malformed message from server")
		return
	}
	log := s.logger.WithField("type", env.Type)

	switch env.Type {
	case models.EventNewReport:
		var incident models.Incident
		if err := realtime.DecodeData(env, &incident); err != nil {
			log.WithError(err).Warn("Failed to decode incident")
			return
		}
		if s.onIncident != nil {
			s.onIncident(&incident)
		}
	case models.EventLocationUpdate:
		var update models.LocationUpdateEvent
		if err := realtime.DecodeData(env, &update); err != nil {
			log.WithError(err).Warn("Failed to decode location update")
			return
		}
		s.board.Apply(update)
	case models.EventOnlineStatusUpdate:
		var status models.OnlineStatusEvent
		if err := realtime.DecodeData(env, &status); err != nil {
			log.WithError(err).Warn("Failed to decode online status")
			return
		}
		s.board.Status(status)
	case models.EventPresenceSnapshot:
		var snapshot []models.LocationUpdateEvent
		if err := json.Unmarshal(env.Data, &snapshot); err != nil {
			log.WithError(err).Warn("Failed to decode presence snapshot")
			return
		}
		s.board.Reset(snapshot)
	case models.EventError, models.EventReportError:
		var msg models.MessageEvent
		_ = json.Unmarshal(env.Data, &msg)
		log.WithField("message", msg.Message).Warn("Server reported an error")
	case models.EventReportSuccess:
		log.Info("Report accepted by server")
	case models.EventPong:
	default:
		log.Debug("Ignoring unknown message type")
	}
}

// SendLocation публикует позицию пользователя
func (s *Session) SendLocation(position models.Coordinates) error {
	return s.send(models.EventLocationUpdate, models.LocationPayload{
		Latitude:  &position.Latitude,
		Longitude: &position.Longitude,
	})
}

// Report отправляет отчет об инциденте через канал
func (s *Session) Report(req models.ReportIncidentRequest) error {
	return s.send(models.EventReportIncident, req)
}

// User возвращает аутентифицированного пользователя текущего соединения
func (s *Session) User() (models.UserSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.user == nil {
		return models.UserSummary{}, false
	}
	return *s.user, true
}

// send сериализует запись: gorilla допускает только одного писателя
func (s *Session) send(eventType string, data any) error {
	payload, err := realtime.Encode(eventType, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := writeMessage(s.conn, payload); err != nil {
		return fmt.Errorf("fieldclient: send %s: %w", eventType, err)
	}
	return nil
}

func writeMessage(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
