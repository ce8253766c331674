package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shenikar/falconwatch/internal/alert"
	"github.com/shenikar/falconwatch/internal/auth"
	"github.com/shenikar/falconwatch/internal/cluster"
	"github.com/shenikar/falconwatch/internal/config"
	"github.com/shenikar/falconwatch/internal/fieldclient"
	"github.com/shenikar/falconwatch/internal/localstore"
	"github.com/shenikar/falconwatch/internal/mapview"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/routing"
	"github.com/shenikar/falconwatch/internal/syncstore"
	"github.com/shenikar/falconwatch/pkg/badgerdb"
	"github.com/shenikar/falconwatch/pkg/logger"
	"github.com/shenikar/falconwatch/pkg/supervisor"
	"github.com/sirupsen/logrus"
)

const restTimeout = 10 * time.Second

// statusService периодически выводит состояние карты
type statusService struct {
	console  *console
	interval time.Duration
}

func (s *statusService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.console.status()
		}
	}
}

func (s *statusService) String() string {
	return "status-reporter"
}

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// stdout остается за оператором, логи идут в stderr
	log := logger.NewWithOutput(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	claims, err := auth.PeekClaims(cfg.AuthToken)
	if err != nil {
		log.Fatalf("Failed to read auth token: %v", err)
	}

	db, err := badgerdb.Open(filepath.Join(cfg.StateDir, "badger"), log)
	if err != nil {
		log.Fatalf("Failed to open local state: %v", err)
	}
	defer db.Close()

	store := syncstore.New(fieldclient.NewIncidentSource(cfg.ServerURL, cfg.AuthToken, restTimeout), log)
	board := fieldclient.NewPresenceBoard()
	session, err := fieldclient.NewSession(cfg.ServerURL, cfg.AuthToken, board, func(incident *models.Incident) {
		store.Push(incident)
	}, log)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	positions := fieldclient.NewPositionWatcher(os.Stdin, log)

	var estimator routing.Estimator = routing.Disabled{}
	if cfg.RoutingURL != "" {
		estimator = routing.NewClient(routing.Options{
			BaseURL: cfg.RoutingURL,
			Profile: cfg.RoutingProfile,
			Token:   cfg.RoutingToken,
			Timeout: cfg.RoutingTimeout,
			RPS:     cfg.RoutingRPS,
		}, log)
	} else {
		log.Warn("ROUTING_URL is not set, ETA will be unavailable")
	}
	director := routing.NewAutoDirector(ctx, estimator, cfg.RoutingDebounce, applyRoute(log), log)

	machine := alert.NewMachine(alert.Deps{
		Acks:     localstore.NewAckStore(db, cfg.DeviceID, claims.UserID),
		Alarm:    alert.NewAlarm(fieldclient.NewCommandAudio(cfg.AlertCommand, log), log),
		Router:   estimator,
		Director: director,
		Position: positions,
		Notifier: fieldclient.NewLogNotifier(log),
		Logger:   log,
	})
	if err := machine.Init(ctx); err != nil {
		log.Fatalf("Failed to load acknowledgments: %v", err)
	}
	// в терминале панель уведомлений всегда на экране
	machine.SetPanelOpen(true)
	machine.SetPatrol(cfg.PatrolMode)

	engine := cluster.NewEngine(cluster.Options{
		Radius:    cfg.ClusterRadius,
		MaxZoom:   cfg.ClusterMaxZoom,
		MinPoints: cfg.ClusterMinPoints,
	})
	mapctl := mapview.NewController(store, engine, localstore.NewFilterStore(db, cfg.DeviceID, claims.UserID), log)

	store.OnIncidentCreated(func(incident *models.Incident) {
		machine.IncidentArrived(ctx, incident)
		mapctl.IncidentAdded(ctx, incident)
	})

	con := &console{machine: machine, mapctl: mapctl, reports: session, logger: log}
	positions.HandleOther(func(line string) { con.Handle(ctx, line) })
	positions.Subscribe(func(position models.Coordinates) {
		if err := session.SendLocation(position); err != nil && !errors.Is(err, fieldclient.ErrNotConnected) {
			log.WithError(err).Warn("Failed to publish location")
		}
		director.UpdateOrigin(position)
	})

	root := supervisor.New("fieldagent", log)
	root.Add(session)
	root.Add(positions)
	root.Add(&statusService{console: con, interval: cfg.StatusInterval})
	errCh := root.ServeBackground(ctx)

	// Начальная загрузка идет параллельно с каналом, дубликаты отсекает хранилище
	incidents, err := store.LoadAll(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load incidents, continuing with live updates only")
	}
	machine.Observe(incidents...)
	if err := mapctl.Init(ctx); err != nil {
		log.WithError(err).Error("Failed to restore map filter")
	}
	log.WithFields(logrus.Fields{
		"user_id":   claims.UserID,
		"device_id": cfg.DeviceID,
		"incidents": len(incidents),
	}).Info("Field agent ready")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Field agent stopped with error")
	}
	director.Stop()
	log.Info("Field agent stopped")
}
