package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/webhook"
	"github.com/sirupsen/logrus"
)

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id int64) (*models.Incident, error)
	ListAll(ctx context.Context) ([]*models.Incident, error)
	GetListFromCache(ctx context.Context) ([]*models.Incident, error)
	SetListCache(ctx context.Context, incidents []*models.Incident) error
	InvalidateListCache(ctx context.Context) error
}

// IncidentBroadcaster рассылает новый инцидент всем сессиям
type IncidentBroadcaster interface {
	BroadcastIncident(incident *models.Incident)
}

// IncidentService определяет контракт бизнес-логики инцидентов
type IncidentService interface {
	CreateIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id int64) (*models.Incident, error)
	ListIncidents(ctx context.Context) ([]*models.Incident, error)
}

type incidentService struct {
	repo        IncidentRepository
	broadcaster IncidentBroadcaster
	publisher   webhook.WebhookPublisher
	logger      *logrus.Logger
}

func NewIncidentService(repo IncidentRepository, broadcaster IncidentBroadcaster, publisher webhook.WebhookPublisher, logger *logrus.Logger) IncidentService {
	return &incidentService{
		repo:        repo,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger,
	}
}

// CreateIncident сохраняет инцидент, рассылает его сессиям и эскалирует высокую важность
func (s *incidentService) CreateIncident(ctx context.Context, incident *models.Incident) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":  "incident",
		"method":   "CreateIncident",
		"category": incident.Category,
	})
	log.Info("Attempting to create a new incident")

	incident.Category = strings.TrimSpace(incident.Category)
	if incident.Category == "" {
		return fmt.Errorf("service: category is required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(incident.Description) == "" {
		return fmt.Errorf("service: description is required: %w", models.ErrValidation)
	}
	if err := incident.Coordinates.Validate(); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	if incident.Severity == models.SeverityUnknown {
		incident.Severity = models.DefaultSeverity
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return fmt.Errorf("service: could not create incident: %w", err)
	}
	log = log.WithField("incident_id", incident.ID)
	log.Info("Incident created successfully")
	metrics.IncidentsCreated.WithLabelValues(incident.Severity.String()).Inc()

	if err := s.repo.InvalidateListCache(ctx); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident list cache")
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastIncident(incident)
	}

	if incident.IsHighPriority() && s.publisher != nil {
		event := webhook.NewEscalationEvent(incident, time.Now().UTC())
		if err := s.publisher.Publish(ctx, event); err != nil {
			// эскалация не должна откатывать уже сохраненный инцидент
			log.WithError(err).Error("Failed to publish escalation webhook event")
		}
	}
	return nil
}

// GetIncident получает инцидент по ID
func (s *incidentService) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})
	log.Info("Fetching incident by ID")

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to get incident in repository")
		return nil, fmt.Errorf("service: not get incident: %w", err)
	}

	log.Info("Incident fetched successfully")
	return incident, nil
}

// ListIncidents возвращает все инциденты по возрастанию id, сначала пробуя кэш
func (s *incidentService) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ListIncidents",
	})
	log.Info("Listing incidents")

	cached, err := s.repo.GetListFromCache(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident list from cache")
	}
	if cached != nil {
		log.WithField("count", len(cached)).Debug("Incidents served from cache")
		return cached, nil
	}

	incidents, err := s.repo.ListAll(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	if err := s.repo.SetListCache(ctx, incidents); err != nil {
		log.WithError(err).Warn("Failed to store incident list in cache")
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return incidents, nil
}
