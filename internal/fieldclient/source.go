package fieldclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/shenikar/falconwatch/internal/models"
)

// IncidentSource загружает накопленные инциденты через REST сервера
type IncidentSource struct {
	client *resty.Client
}

func NewIncidentSource(serverURL, token string, timeout time.Duration) *IncidentSource {
	client := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(json.Unmarshal)
	return &IncidentSource{client: client}
}

// ListIncidents возвращает все инциденты по возрастанию id
func (s *IncidentSource) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	var incidents []*models.Incident
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&incidents).
		Get("/api/v1/incidents")
	if err != nil {
		return nil, fmt.Errorf("fieldclient: list incidents: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return incidents, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("fieldclient: list incidents: %w", models.ErrAuth)
	default:
		return nil, fmt.Errorf("fieldclient: list incidents: unexpected status %d", resp.StatusCode())
	}
}
