// Package mapview связывает хранилище инцидентов, слой фильтрации и кластеризацию
// с текущей областью карты.
package mapview

import (
	"context"
	"fmt"
	"sync"

	"github.com/shenikar/falconwatch/internal/cluster"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/view"
	"github.com/sirupsen/logrus"
)

// IncidentLister - источник всех инцидентов, обычно syncstore.Store
type IncidentLister interface {
	All() []*models.Incident
}

// FilterStore сохраняет пользовательский фильтр между запусками
type FilterStore interface {
	Load(ctx context.Context) (models.FilterState, bool, error)
	Save(ctx context.Context, state models.FilterState) error
}

// Viewport - видимая область и масштаб карты
type Viewport struct {
	Bounds models.BoundingBox
	Zoom   float64
}

// Snapshot - то, что сейчас показывает карта
type Snapshot struct {
	Viewport Viewport
	Filter   models.FilterState
	Working  []*models.Incident
	Clusters []models.Cluster
	Counts   map[string]int
}

// Controller сериализует события карты: новые инциденты, изменение фильтра, панорамирование.
// Кластеры перестраиваются только при изменении рабочего набора.
type Controller struct {
	mu       sync.Mutex
	source   IncidentLister
	engine   *cluster.Engine
	filters  FilterStore
	state    models.FilterState
	viewport Viewport
	working  []*models.Incident
	clusters []models.Cluster
	// initialized - сохраненный фильтр уже прочитан. До этого фильтр не меняется и не сохраняется.
	initialized bool
	logger      *logrus.Logger
}

func NewController(source IncidentLister, engine *cluster.Engine, filters FilterStore, logger *logrus.Logger) *Controller {
	return &Controller{
		source:   source,
		engine:   engine,
		filters:  filters,
		state:    models.NewFilterState(),
		viewport: Viewport{Bounds: models.WorldBounds, Zoom: 2},
		logger:   logger,
	}
}

// Init восстанавливает сохраненный фильтр или выбирает все известные категории
func (c *Controller) Init(ctx context.Context) error {
	state, found, err := c.filters.Load(ctx)
	if err != nil {
		return fmt.Errorf("mapview: load filter: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.source.All()
	if !found {
		state = view.DefaultState(all)
	} else {
		view.AutoSelect(&state, all)
	}
	c.state = state
	if err := c.saveLocked(ctx); err != nil {
		return err
	}
	c.initialized = true
	c.rebuildLocked()
	return nil
}

// IncidentAdded вызывается после появления нового инцидента в хранилище.
// До Init карта только перестраивается: категорию выберет Init.
func (c *Controller) IncidentAdded(ctx context.Context, incident *models.Incident) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized && view.AutoSelect(&c.state, []*models.Incident{incident}) {
		if err := c.saveLocked(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to persist auto-selected category")
		}
	}
	c.rebuildLocked()
}

// SetCategories заменяет выбранный набор. После этого новые категории не выбираются автоматически.
func (c *Controller) SetCategories(ctx context.Context, categories ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	selected := models.NewFilterState(categories...).SelectedCategories
	return c.updateLocked(ctx, func(s *models.FilterState) {
		s.SelectedCategories = selected
		s.Customized = true
	})
}

// ToggleCategory включает или выключает одну категорию
func (c *Controller) ToggleCategory(ctx context.Context, category string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.NormalizeCategory(category)
	return c.updateLocked(ctx, func(s *models.FilterState) {
		selected := make(map[string]struct{}, len(s.SelectedCategories)+1)
		for k := range s.SelectedCategories {
			selected[k] = struct{}{}
		}
		if on {
			selected[key] = struct{}{}
		} else {
			delete(selected, key)
		}
		s.SelectedCategories = selected
		s.Customized = true
	})
}

// SetSort задает контрол сортировки: одиночная категория (пусто - все) и порядок по времени
func (c *Controller) SetSort(ctx context.Context, category string, order models.SortTimeOrder) error {
	if order != models.SortNewest && order != models.SortOldest {
		return fmt.Errorf("%w: unknown sort order %q", models.ErrValidation, order)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(ctx, func(s *models.FilterState) {
		s.SortCategory = models.NormalizeCategory(category)
		s.SortTimeOrder = order
	})
}

// SetViewport перезапрашивает кластеры без перестроения индекса
func (c *Controller) SetViewport(vp Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = vp
	c.clusters = c.engine.Clusters(vp.Bounds, vp.Zoom)
}

// ZoomInto центрирует карту на кластере и приближает ее до масштаба, на котором он распадается.
// Экранный размер области сохраняется.
func (c *Controller) ZoomInto(clusterID uint64) (Viewport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zoom, err := c.engine.ExpansionZoom(clusterID)
	if err != nil {
		return c.viewport, err
	}
	center, err := c.engine.Center(clusterID)
	if err != nil {
		return c.viewport, err
	}
	next := float64(zoom)
	c.viewport = Viewport{
		Bounds: cluster.Recenter(c.viewport.Bounds, center, c.viewport.Zoom, next),
		Zoom:   next,
	}
	c.clusters = c.engine.Clusters(c.viewport.Bounds, c.viewport.Zoom)
	return c.viewport, nil
}

// Zones возвращает сводку по зонам для текущего рабочего набора
func (c *Controller) Zones(zones []view.Zone) []view.ZoneReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return view.ZoneSummary(zones, c.working)
}

// Snapshot возвращает копию текущего состояния карты
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Viewport: c.viewport,
		Filter:   copyState(c.state),
		Working:  append([]*models.Incident(nil), c.working...),
		Clusters: append([]models.Cluster(nil), c.clusters...),
		Counts:   view.CategoryCounts(c.source.All()),
	}
}

// updateLocked сохраняет измененный фильтр до применения. При ошибке состояние не меняется.
func (c *Controller) updateLocked(ctx context.Context, mutate func(*models.FilterState)) error {
	prev := c.state
	next := copyState(c.state)
	mutate(&next)
	c.state = next
	if err := c.saveLocked(ctx); err != nil {
		c.state = prev
		return err
	}
	c.rebuildLocked()
	return nil
}

func (c *Controller) saveLocked(ctx context.Context) error {
	if err := c.filters.Save(ctx, c.state); err != nil {
		return fmt.Errorf("mapview: save filter: %w", err)
	}
	return nil
}

func (c *Controller) rebuildLocked() {
	c.working = view.Apply(c.source.All(), c.state)
	c.engine.Load(c.working)
	c.clusters = c.engine.Clusters(c.viewport.Bounds, c.viewport.Zoom)
	c.logger.WithFields(logrus.Fields{
		"working_set": len(c.working),
		"clusters":    len(c.clusters),
		"zoom":        c.viewport.Zoom,
	}).Debug("Map rebuilt")
}

func copyState(s models.FilterState) models.FilterState {
	out := s
	out.SelectedCategories = make(map[string]struct{}, len(s.SelectedCategories))
	for k := range s.SelectedCategories {
		out.SelectedCategories[k] = struct{}{}
	}
	return out
}
