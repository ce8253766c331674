package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/config"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/service"
	"github.com/sirupsen/logrus"
)

// PresenceProvider отдает текущее присутствие и счетчики соединений
type PresenceProvider interface {
	Presence() []models.PresenceRecord
	ClientCount() int
	SessionCount() int
}

// ConnServer обслуживает websocket-соединение после апгрейда
type ConnServer interface {
	ServeConn(ctx context.Context, conn *websocket.Conn)
}

type Handler struct {
	incidentService service.IncidentService
	authService     service.AuthService
	presence        PresenceProvider
	conns           ConnServer
	upgrader        websocket.Upgrader
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(
	incidentService service.IncidentService,
	authService service.AuthService,
	presence PresenceProvider,
	conns ConnServer,
	logger *logrus.Logger,
	cfg *config.Config,
) *Handler {
	return &Handler{
		incidentService: incidentService,
		authService:     authService,
		presence:        presence,
		conns:           conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Доступ определяется токеном в первом сообщении, а не origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// @Summary Create a new incident
// @Description Register an incident pushed by the upstream incident service and fan it out to all sessions. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param incident body CreateIncidentRequest true "Incident creation request"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model, err := DTOToIncidentModel(input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.incidentService.CreateIncident(c.Request.Context(), model); err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.WithError(err).Error("Failed to create incident in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(model))
}

// @Summary Get all incidents
// @Description Get every registered incident ordered by id. Used by field clients for the initial load.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")

	incidents, err := h.incidentService.ListIncidents(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get an incident by ID
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path int true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	log := h.logger.WithField("method", "getIncident")

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		log.WithError(err).Error("Failed to get incident from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Get current presence
// @Description Last known position of every session that reported one.
// @Tags Presence
// @Produce json
// @Security BearerAuth
// @Success 200 {array} PresenceResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /presence [get]
func (h *Handler) listPresence(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceToResponses(h.presence.Presence()))
}

// @Summary Open the realtime channel
// @Description Upgrade to websocket. The first message must be authenticate.
// @Tags Realtime
// @Success 101
// @Router /ws [get]
func (h *Handler) serveWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже записал ответ клиенту
		h.logger.WithError(err).Warn("Failed to upgrade websocket connection")
		return
	}
	h.conns.ServeConn(c.Request.Context(), conn)
}

// @Summary Health check
// @Description Check if the service is alive
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Clients:  h.presence.ClientCount(),
		Sessions: h.presence.SessionCount(),
	})
}
