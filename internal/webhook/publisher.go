package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/falconwatch/internal/models"
)

const (
	webhookQueueKey = "webhook_events"
)

// EscalationEvent - уведомление внешней системы о новом инциденте высокой важности
type EscalationEvent struct {
	IncidentID  int64     `json:"incident_id"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEscalationEvent собирает событие из сохраненного инцидента
func NewEscalationEvent(incident *models.Incident, now time.Time) EscalationEvent {
	return EscalationEvent{
		IncidentID:  incident.ID,
		Category:    incident.Category,
		Severity:    incident.Severity.String(),
		Description: incident.Description,
		Latitude:    incident.Latitude,
		Longitude:   incident.Longitude,
		CreatedAt:   incident.CreatedAt,
		Timestamp:   now,
	}
}

// WebhookPublisher - интерфейс для публикации вебхуков
type WebhookPublisher interface {
	Publish(ctx context.Context, event EscalationEvent) error
}

// RedisWebhookPublisher - реализация WebhookPublisher, использующая Redis
type RedisWebhookPublisher struct {
	redisClient *redis.Client
}

// NewRedisWebhookPublisher создает новый RedisWebhookPublisher
func NewRedisWebhookPublisher(client *redis.Client) *RedisWebhookPublisher {
	return &RedisWebhookPublisher{
		redisClient: client,
	}
}

// Publish публикует событие вебхука в очередь Redis
func (p *RedisWebhookPublisher) Publish(ctx context.Context, event EscalationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	// LPUSH в голову списка, воркер забирает с хвоста
	if err := p.redisClient.LPush(ctx, webhookQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish webhook event to Redis: %w", err)
	}
	return nil
}
