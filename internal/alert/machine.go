// Package alert отслеживает подтверждение инцидентов высокой важности,
// управляет звуковым оповещением и режимом патрулирования.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/routing"
	"github.com/sirupsen/logrus"
)

// ErrUnknownIncident - инцидент не поступал в машину
var ErrUnknownIncident = errors.New("unknown incident")

// State - состояние инцидента с точки зрения оповещения
type State int

const (
	StateUnseen State = iota
	StateUnacknowledged
	StateAcknowledged
	StateNotApplicable
)

func (s State) String() string {
	switch s {
	case StateUnacknowledged:
		return "unacknowledged"
	case StateAcknowledged:
		return "acknowledged"
	case StateNotApplicable:
		return "not_applicable"
	}
	return "unseen"
}

// AckStore - постоянное хранилище подтверждений
type AckStore interface {
	Load(ctx context.Context) (map[int64]struct{}, error)
	Add(ctx context.Context, id int64) error
}

// Director ведет маршрут к назначенному инциденту
type Director interface {
	Start(dest models.Coordinates)
	Stop()
}

// PositionSource отдает текущую позицию пользователя, если она известна
type PositionSource interface {
	Position() (models.Coordinates, bool)
}

// Notification - активное оповещение режима патрулирования
type Notification struct {
	Incident *models.Incident
	// ETA равен routing.Unavailable, если маршрут построить не удалось
	ETA time.Duration
}

// Notifier показывает оповещение пользователю
type Notifier interface {
	Notify(n Notification)
}

// Deps - зависимости машины. Router, Director, Position и Notifier нужны только для патрулирования.
type Deps struct {
	Acks     AckStore
	Alarm    *Alarm
	Router   routing.Estimator
	Director Director
	Position PositionSource
	Notifier Notifier
	Logger   *logrus.Logger
}

// Machine - конечный автомат подтверждений. Безопасен для конкурентного использования.
type Machine struct {
	mu   sync.Mutex
	deps Deps
	// directing упорядочивает вызовы Director: последнее назначение или его снятие
	// всегда доходит до Director последним
	directing    sync.Mutex
	incidents    map[int64]*models.Incident
	arrived      map[int64]struct{}
	acknowledged map[int64]struct{}
	panelOpen    bool
	patrol       bool
	assigned     *models.Incident
}

func NewMachine(deps Deps) *Machine {
	return &Machine{
		deps:         deps,
		incidents:    make(map[int64]*models.Incident),
		arrived:      make(map[int64]struct{}),
		acknowledged: make(map[int64]struct{}),
	}
}

// Init загружает сохраненные подтверждения
func (m *Machine) Init(ctx context.Context) error {
	acks, err := m.deps.Acks.Load(ctx)
	if err != nil {
		return fmt.Errorf("alert: load acknowledgments: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range acks {
		m.acknowledged[id] = struct{}{}
	}
	m.recomputeLocked()
	return nil
}

// Observe регистрирует уже существующие инциденты (начальная загрузка) без оповещения патруля
func (m *Machine) Observe(incidents ...*models.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, incident := range incidents {
		m.incidents[incident.ID] = incident
	}
	m.recomputeLocked()
}

// IncidentArrived обрабатывает новый инцидент из канала реального времени.
// В режиме патрулирования новый неподтвержденный инцидент высокой важности
// вызывает оповещение с ETA, даже если начальная загрузка уже показала его через Observe.
// Маршрут запрашивается без удержания блокировки.
func (m *Machine) IncidentArrived(ctx context.Context, incident *models.Incident) {
	m.mu.Lock()
	_, repeated := m.arrived[incident.ID]
	m.arrived[incident.ID] = struct{}{}
	m.incidents[incident.ID] = incident
	m.recomputeLocked()
	notify := !repeated && m.patrol && m.stateLocked(incident.ID) == StateUnacknowledged
	m.mu.Unlock()

	if notify {
		m.notifyPatrol(ctx, incident)
	}
}

func (m *Machine) notifyPatrol(ctx context.Context, incident *models.Incident) {
	eta := routing.Unavailable
	if m.deps.Router != nil {
		var origin *models.Coordinates
		if m.deps.Position != nil {
			if pos, ok := m.deps.Position.Position(); ok {
				origin = &pos
			}
		}
		route, err := m.deps.Router.Estimate(ctx, origin, incident.Coordinates)
		if err != nil {
			m.deps.Logger.WithError(err).WithField("incident_id", incident.ID).Info("ETA unavailable for patrol notification")
		} else {
			eta = route.Duration
		}
	}
	if m.deps.Notifier != nil {
		m.deps.Notifier.Notify(Notification{Incident: incident, ETA: eta})
	}
}

// Acknowledge подтверждает инцидент. Подтверждение сохраняется до изменения состояния,
// повторный вызов ничего не меняет. Подтверждение неизвестного или не срочного
// инцидента тоже сохраняется.
func (m *Machine) Acknowledge(ctx context.Context, id int64) error {
	m.mu.Lock()
	_, done := m.acknowledged[id]
	m.mu.Unlock()
	if done {
		return nil
	}

	if err := m.deps.Acks.Add(ctx, id); err != nil {
		return fmt.Errorf("alert: persist acknowledgment %d: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acknowledged[id] = struct{}{}
	m.recomputeLocked()
	m.deps.Logger.WithField("incident_id", id).Info("Incident acknowledged")
	return nil
}

// SetPanelOpen фиксирует видимость панели уведомлений
func (m *Machine) SetPanelOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panelOpen = open
	m.recomputeLocked()
}

// ShouldAlert - панель открыта и есть хотя бы один неподтвержденный инцидент высокой важности
func (m *Machine) ShouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldAlertLocked()
}

func (m *Machine) State(id int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(id)
}

// Unacknowledged возвращает неподтвержденные инциденты высокой важности по возрастанию id
func (m *Machine) Unacknowledged() []*models.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Incident
	for id, incident := range m.incidents {
		if m.stateLocked(id) == StateUnacknowledged {
			out = append(out, incident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPatrol включает или выключает режим патрулирования. Выключение завершает назначение.
func (m *Machine) SetPatrol(on bool) {
	m.mu.Lock()
	m.patrol = on
	m.mu.Unlock()
	if !on {
		m.Conclude()
	}
}

func (m *Machine) Patrol() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patrol
}

// Respond назначает инцидент сессии, заменяя предыдущее назначение, и включает ведение маршрута
func (m *Machine) Respond(id int64) error {
	m.directing.Lock()
	defer m.directing.Unlock()

	m.mu.Lock()
	incident, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert: respond to %d: %w", id, ErrUnknownIncident)
	}
	m.assigned = incident
	m.mu.Unlock()

	if m.deps.Director != nil {
		m.deps.Director.Start(incident.Coordinates)
	}
	m.deps.Logger.WithField("incident_id", id).Info("Responding to incident")
	return nil
}

// Conclude снимает назначение и отменяет маршрут
func (m *Machine) Conclude() {
	m.directing.Lock()
	defer m.directing.Unlock()

	m.mu.Lock()
	had := m.assigned != nil
	m.assigned = nil
	m.mu.Unlock()

	if m.deps.Director != nil {
		m.deps.Director.Stop()
	}
	if had {
		m.deps.Logger.Info("Assignment concluded")
	}
}

// Assigned возвращает текущий назначенный инцидент
func (m *Machine) Assigned() (*models.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assigned, m.assigned != nil
}

func (m *Machine) stateLocked(id int64) State {
	incident, ok := m.incidents[id]
	if !ok {
		return StateUnseen
	}
	if !incident.IsHighPriority() {
		return StateNotApplicable
	}
	if _, acked := m.acknowledged[id]; acked {
		return StateAcknowledged
	}
	return StateUnacknowledged
}

func (m *Machine) shouldAlertLocked() bool {
	if !m.panelOpen {
		return false
	}
	for id := range m.incidents {
		if m.stateLocked(id) == StateUnacknowledged {
			return true
		}
	}
	return false
}

func (m *Machine) recomputeLocked() {
	if m.deps.Alarm != nil {
		m.deps.Alarm.Set(m.shouldAlertLocked())
	}
}
