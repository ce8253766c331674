package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/falconwatch/internal/config"
	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// popTimeout ограничивает блокирующее чтение очереди, чтобы воркер замечал отмену контекста
const popTimeout = time.Second

// WebhookWorker - структура для обработки и отправки вебхуков
type WebhookWorker struct {
	redisClient *redis.Client
	logger      *logrus.Logger
	cfg         *config.Config
	httpClient  *resty.Client
}

// NewWebhookWorker создает новый WebhookWorker
func NewWebhookWorker(redisClient *redis.Client, logger *logrus.Logger, cfg *config.Config) *WebhookWorker {
	return &WebhookWorker{
		redisClient: redisClient,
		logger:      logger,
		cfg:         cfg,
		httpClient: resty.New().
			SetTimeout(cfg.WebhookTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Serve обрабатывает очередь до отмены контекста. Реализует suture.Service.
func (w *WebhookWorker) Serve(ctx context.Context) error {
	w.logger.Info("Starting webhook worker...")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping webhook worker.")
			return ctx.Err()
		default:
		}

		// BRPOP - блокирующее извлечение с хвоста очереди
		result, err := w.redisClient.BRPop(ctx, popTimeout, webhookQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.logger.WithError(err).Error("Failed to pop webhook event from Redis")
			sleepCtx(ctx, w.cfg.WebhookTimeout)
			continue
		}

		// result[0] - ключ, result[1] - значение
		payload := result[1]
		var event EscalationEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			w.logger.WithError(err).Error("Failed to unmarshal webhook event from Redis")
			continue
		}

		w.processWebhookEvent(ctx, event, payload)
	}
}

func (w *WebhookWorker) String() string {
	return "webhook-worker"
}

func (w *WebhookWorker) processWebhookEvent(ctx context.Context, event EscalationEvent, rawPayload string) {
	log := w.logger.WithFields(logrus.Fields{
		"incident_id": event.IncidentID,
		"severity":    event.Severity,
	})
	log.Debug("Processing webhook event...")

	if w.cfg.WebhookURL == "" {
		log.Warn("Webhook URL is not configured. Skipping webhook delivery.")
		metrics.WebhookDeliveries.WithLabelValues("skipped").Inc()
		return
	}

	maxRetries := w.cfg.WebhookMaxRetries
	baseDelay := w.cfg.WebhookBaseDelay

	for i := 0; i < maxRetries; i++ {
		req := w.httpClient.R().SetContext(ctx).SetBody(rawPayload)
		if w.cfg.WebhookSecret != "" {
			req.SetHeader("X-Webhook-Signature", generateHMACSHA256(rawPayload, w.cfg.WebhookSecret))
		}

		resp, err := req.Post(w.cfg.WebhookURL)
		switch {
		case err != nil:
			log.WithError(err).Warnf("Failed to send webhook for event. Retrying in %v. Retries left: %d", baseDelay, maxRetries-1-i)
		case resp.IsSuccess():
			log.Info("Webhook delivered successfully.")
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		default:
			log.Warnf("Webhook delivery failed with status code %d. Retrying in %v. Retries left: %d", resp.StatusCode(), baseDelay, maxRetries-1-i)
		}

		if i == maxRetries-1 {
			break
		}
		if !sleepCtx(ctx, baseDelay) {
			log.Warn("Webhook delivery interrupted by shutdown.")
			metrics.WebhookDeliveries.WithLabelValues("interrupted").Inc()
			return
		}
		baseDelay *= 2 // экспоненциальная задержка
	}

	log.Errorf("Failed to deliver webhook for event after %d retries.", maxRetries)
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
}

// sleepCtx ждет d или отмены контекста. Возвращает false, если контекст отменен.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// generateHMACSHA256 генерирует HMAC-SHA256 подпись для данных
func generateHMACSHA256(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
