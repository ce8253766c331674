package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
)

const broadcastBuffer = 256

type bindRequest struct {
	client  *Client
	session *models.Session
}

type locationRequest struct {
	client   *Client
	position models.Coordinates
}

type directMessage struct {
	client *Client
	msg    message
}

// Hub владеет реестром соединений, сессий и присутствия.
// Все изменения выполняются только в горутине Serve.
type Hub struct {
	// mu защищает чтение реестров из других горутин (REST, метрики)
	mu       sync.RWMutex
	clients  map[*Client]*models.Session
	presence map[uuid.UUID]models.PresenceRecord

	register   chan *Client
	unregister chan *Client
	kick       chan directMessage
	bind       chan bindRequest
	location   chan locationRequest
	direct     chan directMessage
	broadcast  chan message

	done     chan struct{}
	stopOnce sync.Once

	logger *logrus.Logger
	now    func() time.Time
}

// NewHub создает хаб. Обработка начинается после запуска Serve.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]*models.Session),
		presence:   make(map[uuid.UUID]models.PresenceRecord),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		kick:       make(chan directMessage),
		bind:       make(chan bindRequest),
		location:   make(chan locationRequest),
		direct:     make(chan directMessage),
		broadcast:  make(chan message, broadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Serve обрабатывает события хаба до отмены контекста. Реализует suture.Service.
//
// Сначала обрабатываются события жизненного цикла соединений, затем
// сообщения, чтобы рассылка всегда видела актуальный реестр.
func (h *Hub) Serve(ctx context.Context) error {
	h.logger.Info("Starting websocket hub")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		case m := <-h.kick:
			h.deliver(m.client, m.msg)
			h.removeClient(m.client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case m := <-h.kick:
			h.deliver(m.client, m.msg)
			h.removeClient(m.client)
		case req := <-h.bind:
			h.bindSession(req.client, req.session)
		case req := <-h.location:
			h.updateLocation(req.client, req.position)
		case m := <-h.direct:
			h.deliver(m.client, m.msg)
		case m := <-h.broadcast:
			h.fanOut(m, nil)
		}
	}
}

// Register добавляет неаутентифицированное соединение. false - хаб остановлен.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister освобождает соединение и его сессию
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Reject отправляет последнее сообщение и закрывает соединение
func (h *Hub) Reject(c *Client, msg message) {
	select {
	case h.kick <- directMessage{client: c, msg: msg}:
	case <-h.done:
	}
}

// Bind привязывает проверенную сессию к соединению
func (h *Hub) Bind(c *Client, session *models.Session) {
	select {
	case h.bind <- bindRequest{client: c, session: session}:
	case <-h.done:
	}
}

// PublishLocation фиксирует позицию сессии и рассылает ее остальным
func (h *Hub) PublishLocation(c *Client, position models.Coordinates) {
	select {
	case h.location <- locationRequest{client: c, position: position}:
	case <-h.done:
	}
}

// Send ставит сообщение в очередь одного соединения
func (h *Hub) Send(c *Client, msg message) {
	select {
	case h.direct <- directMessage{client: c, msg: msg}:
	case <-h.done:
	}
}

// BroadcastIncident рассылает новый инцидент всем аутентифицированным сессиям
func (h *Hub) BroadcastIncident(incident *models.Incident) {
	msg, err := newMessage(models.EventNewReport, incident)
	if err != nil {
		h.logger.WithError(err).WithField("incident_id", incident.ID).Error("Failed to encode incident for broadcast")
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.WithField("incident_id", incident.ID).Warn("Broadcast channel full, dropping incident message")
	}
}

// Presence возвращает копию текущих записей присутствия, отсортированную по времени обновления
func (h *Hub) Presence() []models.PresenceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presenceLocked()
}

// ClientCount возвращает число открытых соединений
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionCount возвращает число аутентифицированных сессий
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.clients {
		if s != nil {
			n++
		}
	}
	return n
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = nil
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.WithFields(logrus.Fields{
		"connection_id": c.connID,
		"total_clients": total,
	}).Debug("Websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	session, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	if session != nil {
		delete(h.presence, session.ConnectionID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	log := h.logger.WithFields(logrus.Fields{
		"connection_id": c.connID,
		"total_clients": total,
	})
	if session == nil {
		log.Debug("Unauthenticated websocket client disconnected")
		return
	}

	metrics.WSSessions.Dec()
	log.WithField("user_id", session.UserID).Info("Session closed")
	h.fanOut(mustMessage(models.EventOnlineStatusUpdate, models.OnlineStatusEvent{
		UserID:   session.UserID,
		IsOnline: false,
	}), c)
}

func (h *Hub) bindSession(c *Client, session *models.Session) {
	h.mu.Lock()
	current, ok := h.clients[c]
	if !ok || current != nil {
		// соединение уже закрыто или сессия уже привязана
		h.mu.Unlock()
		return
	}
	h.clients[c] = session
	snapshot := h.presenceLocked()
	h.mu.Unlock()

	metrics.WSSessions.Inc()
	h.logger.WithFields(logrus.Fields{
		"connection_id": session.ConnectionID,
		"user_id":       session.UserID,
		"role":          session.Role,
	}).Info("Session authenticated")

	user := &models.UserSummary{ID: session.UserID, Name: session.DisplayName, Role: session.Role}
	h.deliver(c, mustMessage(models.EventAuthenticated, models.AuthenticatedEvent{Success: true, User: user}))

	updates := make([]models.LocationUpdateEvent, 0, len(snapshot))
	for _, p := range snapshot {
		updates = append(updates, locationEvent(p))
	}
	h.deliver(c, mustMessage(models.EventPresenceSnapshot, updates))

	h.fanOut(mustMessage(models.EventOnlineStatusUpdate, models.OnlineStatusEvent{
		UserID:   session.UserID,
		IsOnline: true,
	}), c)
}

func (h *Hub) updateLocation(c *Client, position models.Coordinates) {
	h.mu.Lock()
	session, ok := h.clients[c]
	if !ok || session == nil {
		h.mu.Unlock()
		return
	}
	record := models.PresenceRecord{
		UserID:            session.UserID,
		DisplayName:       session.DisplayName,
		LastKnownPosition: position,
		LastUpdateTime:    h.now(),
	}
	h.presence[session.ConnectionID] = record
	h.mu.Unlock()

	h.fanOut(mustMessage(models.EventLocationUpdate, locationEvent(record)), c)
}

// deliver не блокирует хаб: переполненная очередь означает медленного клиента, он отключается
func (h *Hub) deliver(c *Client, msg message) {
	h.mu.RLock()
	_, ok := h.clients[c]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- msg.payload:
		metrics.WSMessagesSent.WithLabelValues(msg.kind).Inc()
	default:
		h.dropSlow(c)
	}
}

// fanOut рассылает сообщение всем аутентифицированным сессиям, кроме exclude.
// Порядок обхода детерминирован по id клиента.
func (h *Hub) fanOut(msg message, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c, s := range h.clients {
		if s != nil && c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].id < targets[j].id
	})

	var slow []*Client
	for _, c := range targets {
		select {
		case c.send <- msg.payload:
			metrics.WSMessagesSent.WithLabelValues(msg.kind).Inc()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropSlow(c)
	}
}

func (h *Hub) dropSlow(c *Client) {
	metrics.WSSlowConsumers.Inc()
	h.logger.WithField("connection_id", c.connID).Warn("Send buffer full, dropping websocket client")
	h.removeClient(c)
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	sessions := 0
	for c, s := range h.clients {
		clients = append(clients, c)
		if s != nil {
			sessions++
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.presence = make(map[uuid.UUID]models.PresenceRecord)
	h.mu.Unlock()

	metrics.WSConnections.Sub(float64(len(clients)))
	metrics.WSSessions.Sub(float64(sessions))
	h.logger.WithFields(logrus.Fields{
		"component":      "websocket-hub",
		"clients_closed": len(clients),
	}).Info("Websocket hub stopped")
}

func (h *Hub) presenceLocked() []models.PresenceRecord {
	out := make([]models.PresenceRecord, 0, len(h.presence))
	for _, p := range h.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdateTime.Equal(out[j].LastUpdateTime) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastUpdateTime.Before(out[j].LastUpdateTime)
	})
	return out
}

func locationEvent(p models.PresenceRecord) models.LocationUpdateEvent {
	return models.LocationUpdateEvent{
		UserID:    p.UserID,
		UserName:  p.DisplayName,
		Latitude:  p.LastKnownPosition.Latitude,
		Longitude: p.LastKnownPosition.Longitude,
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}
