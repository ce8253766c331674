package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shenikar/falconwatch/internal/alert"
	"github.com/shenikar/falconwatch/internal/mapview"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/routing"
	"github.com/sirupsen/logrus"
)

var errUsage = errors.New("usage")

type reporter interface {
	Report(req models.ReportIncidentRequest) error
}

// console выполняет команды оператора, пришедшие в потоке ввода вместе с позициями
type console struct {
	machine *alert.Machine
	mapctl  *mapview.Controller
	reports reporter
	logger  *logrus.Logger
}

// Handle выполняет строку и пишет результат в лог
func (c *console) Handle(ctx context.Context, line string) {
	if err := c.exec(ctx, line); err != nil {
		c.logger.WithError(err).WithField("command", line).Warn("Command failed")
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "ack":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.machine.Acknowledge(ctx, id)
	case "respond":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.machine.Respond(id)
	case "conclude":
		c.machine.Conclude()
	case "patrol":
		on, err := switchArg(args, "on", "off")
		if err != nil {
			return err
		}
		c.machine.SetPatrol(on)
	case "panel":
		open, err := switchArg(args, "open", "close")
		if err != nil {
			return err
		}
		c.machine.SetPanelOpen(open)
	case "filter":
		var categories []string
		if len(args) > 0 {
			categories = strings.Split(strings.Join(args, " "), ",")
		}
		return c.mapctl.SetCategories(ctx, categories...)
	case "show", "hide":
		if len(args) == 0 {
			return fmt.Errorf("%w: %s <category>", errUsage, cmd)
		}
		return c.mapctl.ToggleCategory(ctx, strings.Join(args, " "), cmd == "show")
	case "sort":
		if len(args) == 0 {
			return fmt.Errorf("%w: sort newest|oldest [category]", errUsage)
		}
		return c.mapctl.SetSort(ctx, strings.Join(args[1:], " "), models.SortTimeOrder(strings.ToLower(args[0])))
	case "view":
		vp, err := viewportArg(args)
		if err != nil {
			return err
		}
		c.mapctl.SetViewport(vp)
	case "expand":
		if len(args) != 1 {
			return fmt.Errorf("%w: expand <cluster id>", errUsage)
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: expand <cluster id>", errUsage)
		}
		vp, err := c.mapctl.ZoomInto(id)
		if err != nil {
			return err
		}
		c.logger.WithField("zoom", vp.Zoom).Info("Zoomed into cluster")
	case "report":
		req, err := reportArg(args)
		if err != nil {
			return err
		}
		return c.reports.Report(req)
	case "status":
		c.status()
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

// status выводит текущую картину: рабочий набор, кластеры, неподтвержденные инциденты
func (c *console) status() {
	snap := c.mapctl.Snapshot()
	unacked := c.machine.Unacknowledged()
	ids := make([]int64, 0, len(unacked))
	for _, incident := range unacked {
		ids = append(ids, incident.ID)
	}
	entry := c.logger.WithFields(logrus.Fields{
		"working_set":     len(snap.Working),
		"clusters":        len(snap.Clusters),
		"zoom":            snap.Viewport.Zoom,
		"categories":      snap.Counts,
		"unacknowledged":  ids,
		"alert":           c.machine.ShouldAlert(),
		"patrol":          c.machine.Patrol(),
		"selected_filter": snap.Filter.Categories(),
	})
	if assigned, ok := c.machine.Assigned(); ok {
		entry = entry.WithField("assigned_incident", assigned.ID)
	}
	entry.Info("Map status")
}

// applyRoute выводит маршрут автоведения
func applyRoute(logger *logrus.Logger) routing.ApplyFunc {
	return func(r routing.Result) {
		entry := logger.WithFields(logrus.Fields{
			"generation": r.Generation,
			"latitude":   r.Destination.Latitude,
			"longitude":  r.Destination.Longitude,
		})
		if r.Err != nil {
			entry.WithError(r.Err).WithField("eta", routing.FormatETA(routing.Unavailable)).Warn("Route unavailable")
			return
		}
		entry.WithFields(logrus.Fields{
			"eta":    routing.FormatETA(r.Route.Duration),
			"points": len(r.Route.Geometry),
		}).Info("Route updated")
	}
}

func idArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected incident id", errUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid incident id %q", errUsage, args[0])
	}
	return id, nil
}

func switchArg(args []string, on, off string) (bool, error) {
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case on:
			return true, nil
		case off:
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: expected %s or %s", errUsage, on, off)
}

// viewportArg разбирает "west,south,east,north zoom"
func viewportArg(args []string) (mapview.Viewport, error) {
	if len(args) != 2 {
		return mapview.Viewport{}, fmt.Errorf("%w: view west,south,east,north zoom", errUsage)
	}
	parts := strings.Split(args[0], ",")
	if len(parts) != 4 {
		return mapview.Viewport{}, fmt.Errorf("%w: view west,south,east,north zoom", errUsage)
	}
	var bounds [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return mapview.Viewport{}, fmt.Errorf("%w: bad bound %q", errUsage, p)
		}
		bounds[i] = v
	}
	zoom, err := strconv.ParseFloat(args[1], 64)
	if err != nil || zoom < 0 {
		return mapview.Viewport{}, fmt.Errorf("%w: bad zoom %q", errUsage, args[1])
	}
	return mapview.Viewport{
		Bounds: models.BoundingBox{West: bounds[0], South: bounds[1], East: bounds[2], North: bounds[3]},
		Zoom:   zoom,
	}, nil
}

// reportArg разбирает "category severity lat,lng description..."
func reportArg(args []string) (models.ReportIncidentRequest, error) {
	if len(args) < 4 {
		return models.ReportIncidentRequest{}, fmt.Errorf("%w: report category severity lat,lng description", errUsage)
	}
	coords := strings.Split(args[2], ",")
	if len(coords) != 2 {
		return models.ReportIncidentRequest{}, fmt.Errorf("%w: bad coordinates %q", errUsage, args[2])
	}
	lat, errLat := strconv.ParseFloat(coords[0], 64)
	lng, errLng := strconv.ParseFloat(coords[1], 64)
	if errLat != nil || errLng != nil {
		return models.ReportIncidentRequest{}, fmt.Errorf("%w: bad coordinates %q", errUsage, args[2])
	}
	return models.ReportIncidentRequest{
		Category:    args[0],
		Severity:    args[1],
		Description: strings.Join(args[3:], " "),
		Latitude:    &lat,
		Longitude:   &lng,
	}, nil
}
