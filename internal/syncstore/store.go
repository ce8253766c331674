package syncstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// IncidentSource - внешний сервис инцидентов для начальной загрузки
type IncidentSource interface {
	ListIncidents(ctx context.Context) ([]*models.Incident, error)
}

// Handler вызывается для каждого нового инцидента, пришедшего через push
type Handler func(incident *models.Incident)

// Store - клиентское зеркало инцидентов: начальная загрузка плюс push.
// Инциденты только добавляются, дубликаты по id отбрасываются.
//
// Обработчики вызываются один раз на каждый id, впервые пришедший через push,
// даже если начальная загрузка успела получить его раньше.
type Store struct {
	mu        sync.RWMutex
	source    IncidentSource
	byID      map[int64]*models.Incident
	pushed    map[int64]struct{}
	ordered   []*models.Incident
	handlers  []Handler
	conflicts int
	logger    *logrus.Logger
}

func New(source IncidentSource, logger *logrus.Logger) *Store {
	return &Store{
		source: source,
		byID:   make(map[int64]*models.Incident),
		pushed: make(map[int64]struct{}),
		logger: logger,
	}
}

// OnIncidentCreated регистрирует обработчик новых инцидентов
func (s *Store) OnIncidentCreated(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// LoadAll запрашивает все инциденты у источника и объединяет их с уже полученными.
// Обработчики для загруженных инцидентов не вызываются.
func (s *Store) LoadAll(ctx context.Context) ([]*models.Incident, error) {
	incidents, err := s.source.ListIncidents(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncstore: load incidents: %w", err)
	}

	s.mu.Lock()
	added := 0
	for _, incident := range incidents {
		if incident == nil {
			s.logger.Debug("Skipping empty loaded incident")
			continue
		}
		if err := s.insertLocked(incident); err != nil {
			s.logger.WithError(err).WithField("incident_id", incident.ID).Debug("Skipping loaded incident")
			continue
		}
		added++
	}
	total := len(s.ordered)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"loaded": added,
		"total":  total,
	}).Info("Incident store hydrated")
	return s.All(), nil
}

// Push добавляет инцидент из канала реального времени и вызывает обработчики.
// false - инцидент некорректен или уже приходил через push.
func (s *Store) Push(incident *models.Incident) bool {
	if incident == nil || incident.ID <= 0 {
		s.logger.Debug("Skipping pushed incident without id")
		return false
	}

	s.mu.Lock()
	if _, seen := s.pushed[incident.ID]; seen {
		s.conflicts++
		s.mu.Unlock()
		s.logger.WithField("incident_id", incident.ID).Debug("Skipping duplicate pushed incident")
		return false
	}
	s.pushed[incident.ID] = struct{}{}
	if err := s.insertLocked(incident); err != nil {
		// уже получен начальной загрузкой, обработчики увидят сохраненный экземпляр
		incident = s.byID[incident.ID]
	}
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(incident)
	}
	return true
}

// All возвращает инциденты в порядке возрастания id
func (s *Store) All() []*models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Incident, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Store) Get(id int64) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.byID[id]
	return incident, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Conflicts возвращает число отброшенных дубликатов
func (s *Store) Conflicts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflicts
}

func (s *Store) insertLocked(incident *models.Incident) error {
	if incident == nil || incident.ID <= 0 {
		return fmt.Errorf("%w: incident without id", models.ErrValidation)
	}
	if _, exists := s.byID[incident.ID]; exists {
		s.conflicts++
		return fmt.Errorf("%w: id %d", models.ErrSyncConflict, incident.ID)
	}
	if incident.Severity == models.SeverityUnknown {
		incident.Severity = models.DefaultSeverity
	}

	s.byID[incident.ID] = incident
	i := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].ID > incident.ID })
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = incident
	return nil
}
