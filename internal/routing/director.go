package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// Estimator строит маршрут между двумя точками
type Estimator interface {
	Estimate(ctx context.Context, origin *models.Coordinates, dest models.Coordinates) (Route, error)
}

// Result - маршрут одного поколения запросов
type Result struct {
	Generation  uint64
	Destination models.Coordinates
	Route       Route
	Err         error
}

// ApplyFunc получает только результат последнего запроса.
// Вызывается под блокировкой директора и не должна обращаться к нему.
type ApplyFunc func(Result)

// AutoDirector перестраивает маршрут к назначенной точке при каждом обновлении позиции.
// Новый запрос отменяет выполняющийся, применяется результат только последнего.
type AutoDirector struct {
	mu         sync.Mutex
	base       context.Context
	estimator  Estimator
	debounce   time.Duration
	apply      ApplyFunc
	logger     *logrus.Logger
	active     bool
	dest       models.Coordinates
	origin     *models.Coordinates
	timer      *time.Timer
	cancel     context.CancelFunc
	generation uint64
}

func NewAutoDirector(ctx context.Context, estimator Estimator, debounce time.Duration, apply ApplyFunc, logger *logrus.Logger) *AutoDirector {
	return &AutoDirector{
		base:      ctx,
		estimator: estimator,
		debounce:  debounce,
		apply:     apply,
		logger:    logger,
	}
}

// Start включает ведение к dest. Если позиция уже известна, маршрут запрашивается сразу.
func (d *AutoDirector) Start(dest models.Coordinates) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = true
	d.dest = dest
	d.stopTimerLocked()
	if d.origin != nil {
		d.issueLocked()
	}
}

// Stop отключает ведение, отменяя таймер и выполняющийся запрос
func (d *AutoDirector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = false
	d.generation++
	d.stopTimerLocked()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *AutoDirector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// UpdateOrigin запоминает текущую позицию и, если ведение включено,
// запрашивает маршрут после паузы debounce
func (d *AutoDirector) UpdateOrigin(origin models.Coordinates) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.origin = &origin
	if !d.active {
		return
	}
	d.stopTimerLocked()
	if d.debounce <= 0 {
		d.issueLocked()
		return
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)
}

func (d *AutoDirector) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.timer = nil
	d.issueLocked()
}

func (d *AutoDirector) issueLocked() {
	if d.cancel != nil {
		d.cancel()
	}
	d.generation++
	gen := d.generation
	ctx, cancel := context.WithCancel(d.base)
	d.cancel = cancel
	origin := *d.origin
	dest := d.dest

	go d.run(ctx, gen, origin, dest)
}

func (d *AutoDirector) run(ctx context.Context, gen uint64, origin, dest models.Coordinates) {
	route, err := d.estimator.Estimate(ctx, &origin, dest)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation || !d.active {
		d.logger.WithField("generation", gen).Debug("Discarding stale route result")
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.WithError(err).Warn("Route update failed")
	}
	d.apply(Result{Generation: gen, Destination: dest, Route: route, Err: err})
}

func (d *AutoDirector) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
