package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/service"
	"github.com/sirupsen/logrus"
)

// Relay разбирает сообщения соединений: аутентификация, позиции, отчеты об инцидентах
type Relay struct {
	hub         *Hub
	auth        service.AuthService
	incidents   service.IncidentService
	validate    *validator.Validate
	authTimeout time.Duration
	logger      *logrus.Logger
}

func NewRelay(hub *Hub, auth service.AuthService, incidents service.IncidentService, authTimeout time.Duration, logger *logrus.Logger) *Relay {
	return &Relay{
		hub:         hub,
		auth:        auth,
		incidents:   incidents,
		validate:    validator.New(),
		authTimeout: authTimeout,
		logger:      logger,
	}
}

// ServeConn обслуживает установленное websocket-соединение до его закрытия
func (r *Relay) ServeConn(ctx context.Context, conn *websocket.Conn) {
	c := newClient(r.hub, conn)
	if !r.hub.Register(c) {
		_ = conn.Close()
		return
	}
	go c.writePump(r)
	c.readPump(ctx, r)
}

// handle обрабатывает одно сообщение. false - соединение нужно закрыть.
func (r *Relay) handle(ctx context.Context, c *Client, raw []byte) bool {
	env, err := Decode(raw)
	if err != nil {
		r.sendError(c, err)
		return true
	}
	metrics.WSMessagesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case models.EventAuthenticate:
		return r.authenticate(ctx, c, env)
	case models.EventLocationUpdate:
		r.publishLocation(c, env)
	case models.EventReportIncident:
		r.reportIncident(ctx, c, env)
	case models.EventPing:
		r.hub.Send(c, mustMessage(models.EventPong, nil))
	default:
		r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: "unknown message type " + env.Type}))
	}
	return true
}

func (r *Relay) authenticate(ctx context.Context, c *Client, env models.Envelope) bool {
	if c.session != nil {
		r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: "connection is already authenticated"}))
		return true
	}

	var req models.AuthenticateRequest
	if err := DecodeData(env, &req); err != nil {
		req.Token = ""
	}

	authCtx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()

	user, err := r.auth.Authenticate(authCtx, req.Token)
	if err != nil {
		r.logger.WithError(err).WithField("connection_id", c.connID).Warn("Session authentication failed")
		c.hub.Reject(c, mustMessage(models.EventAuthenticated, models.AuthenticatedEvent{Success: false}))
		return false
	}

	c.authenticated.Store(true)
	c.session = models.NewSession(c.connID, *user, time.Now().UTC())
	r.hub.Bind(c, c.session)
	return true
}

func (r *Relay) publishLocation(c *Client, env models.Envelope) {
	if c.session == nil {
		r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: "authentication required"}))
		return
	}

	var payload models.LocationPayload
	if err := DecodeData(env, &payload); err != nil {
		r.sendError(c, err)
		return
	}
	if err := r.validate.Struct(payload); err != nil {
		r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: "invalid location: " + err.Error()}))
		return
	}
	position := payload.Coordinates()
	if err := position.Validate(); err != nil {
		r.sendError(c, err)
		return
	}

	r.hub.PublishLocation(c, position)
}

func (r *Relay) reportIncident(ctx context.Context, c *Client, env models.Envelope) {
	if c.session == nil {
		r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: "authentication required"}))
		return
	}
	log := r.logger.WithFields(logrus.Fields{
		"connection_id": c.connID,
		"user_id":       c.session.UserID,
	})

	var req models.ReportIncidentRequest
	if err := DecodeData(env, &req); err != nil {
		r.hub.Send(c, mustMessage(models.EventReportError, models.MessageEvent{Message: err.Error()}))
		return
	}
	if err := r.validate.Struct(req); err != nil {
		r.hub.Send(c, mustMessage(models.EventReportError, models.MessageEvent{Message: "invalid report: " + err.Error()}))
		return
	}

	severity := models.DefaultSeverity
	if strings.TrimSpace(req.Severity) != "" {
		parsed, err := models.ParseSeverity(req.Severity)
		if err != nil {
			r.hub.Send(c, mustMessage(models.EventReportError, models.MessageEvent{Message: err.Error()}))
			return
		}
		severity = parsed
	}

	incident := &models.Incident{
		Category:    req.Category,
		Severity:    severity,
		Description: req.Description,
		Coordinates: req.Coordinates(),
	}
	if err := r.incidents.CreateIncident(service.WithReporter(ctx, c.session.UserID), incident); err != nil {
		log.WithError(err).Warn("Incident report rejected")
		msg := "failed to submit report"
		if errors.Is(err, models.ErrValidation) {
			msg = err.Error()
		}
		r.hub.Send(c, mustMessage(models.EventReportError, models.MessageEvent{Message: msg}))
		return
	}

	log.WithField("incident_id", incident.ID).Info("Incident reported over websocket")
	r.hub.Send(c, mustMessage(models.EventReportSuccess, models.MessageEvent{Message: "report submitted"}))
}

func (r *Relay) sendError(c *Client, err error) {
	r.hub.Send(c, mustMessage(models.EventError, models.MessageEvent{Message: err.Error()}))
}
