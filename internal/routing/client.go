package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Unavailable - значение ETA, когда маршрут построить нельзя
const Unavailable time.Duration = -1

// errNoRoute - сервис ответил, но маршрута между точками нет. Не считается отказом сервиса.
var errNoRoute = errors.New("no route between points")

// Route - результат построения маршрута
type Route struct {
	Duration time.Duration
	// Geometry - точки маршрута в порядке [долгота, широта]
	Geometry [][2]float64
}

type routeResponse struct {
	Routes []struct {
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Options - параметры клиента сервиса маршрутов
type Options struct {
	BaseURL string
	Profile string
	Token   string
	Timeout time.Duration
	// RPS - ограничение частоты запросов
	RPS float64
}

// Disabled - Estimator для клиента без настроенного сервиса маршрутов
type Disabled struct{}

func (Disabled) Estimate(context.Context, *models.Coordinates, models.Coordinates) (Route, error) {
	return Route{}, models.ErrRouteUnavailable
}

// Client обращается к внешнему сервису маршрутов
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*Route]
	limiter *rate.Limiter
	profile string
	token   string
	logger  *logrus.Logger
}

func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Profile == "" {
		opts.Profile = "driving"
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		limiter: rate.NewLimiter(limit, 1),
		profile: opts.Profile,
		token:   opts.Token,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Route](gobreaker.Settings{
		Name:        "routing-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Routing circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoRoute) || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Estimate строит маршрут от origin до dest. Неизвестная позиция (nil)
// и любой отказ сервиса возвращаются как ErrRouteUnavailable.
func (c *Client) Estimate(ctx context.Context, origin *models.Coordinates, dest models.Coordinates) (Route, error) {
	if origin == nil {
		return Route{}, fmt.Errorf("%w: current position unknown", models.ErrRouteUnavailable)
	}
	if err := origin.Validate(); err != nil {
		return Route{}, fmt.Errorf("%w: %w", models.ErrRouteUnavailable, err)
	}
	if err := dest.Validate(); err != nil {
		return Route{}, fmt.Errorf("%w: %w", models.ErrRouteUnavailable, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Route{}, fmt.Errorf("%w: %w", models.ErrRouteUnavailable, err)
	}

	route, err := c.breaker.Execute(func() (*Route, error) {
		return c.fetch(ctx, *origin, dest)
	})
	if err != nil {
		return Route{}, fmt.Errorf("%w: %w", models.ErrRouteUnavailable, err)
	}
	return *route, nil
}

func (c *Client) fetch(ctx context.Context, origin, dest models.Coordinates) (*Route, error) {
	path := fmt.Sprintf("/%s/%s;%s", c.profile, lonLat(origin), lonLat(dest))
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("geometries", "geojson").
		SetQueryParam("overview", "full")
	if c.token != "" {
		req.SetQueryParam("access_token", c.token)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("routing request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("routing service returned status %d", resp.StatusCode())
	}

	var body routeResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode routing response: %w", err)
	}
	if len(body.Routes) == 0 {
		return nil, errNoRoute
	}

	best := body.Routes[0]
	return &Route{
		Duration: time.Duration(best.Duration * float64(time.Second)),
		Geometry: best.Geometry.Coordinates,
	}, nil
}

func lonLat(c models.Coordinates) string {
	return strconv.FormatFloat(c.Longitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Latitude, 'f', -1, 64)
}

// FormatETA форматирует длительность как "M min S sec"
func FormatETA(d time.Duration) string {
	if d < 0 {
		return "unavailable"
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d min %d sec", minutes, seconds)
}
