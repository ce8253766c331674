package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/service"
)

const incidentListCacheKey = "incidents:all"

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (category, severity, description, location, media_ref, reporter_id)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, $7) RETURNING id, created_at;
	`
	err := r.db.QueryRow(ctx, query,
		incident.Category,
		incident.Severity.String(),
		incident.Description,
		incident.Longitude,
		incident.Latitude,
		incident.MediaRef,
		nullableReporter(ctx),
	).Scan(&incident.ID, &incident.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID возвращает инцидент по его идентификатору
func (r *IncidentRepository) GetByID(ctx context.Context, id int64) (*models.Incident, error) {
	query := `
		SELECT
			id,
			category,
			severity,
			description,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			created_at,
			media_ref
		FROM incidents
		WHERE id = $1;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// ListAll возвращает все инциденты по возрастанию id
func (r *IncidentRepository) ListAll(ctx context.Context) ([]*models.Incident, error) {
	query := `
		SELECT
			id,
			category,
			severity,
			description,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			created_at,
			media_ref
		FROM incidents
		ORDER BY id ASC;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return incidents, nil
}

// GetListFromCache пытается получить полный список инцидентов из Redis
func (r *IncidentRepository) GetListFromCache(ctx context.Context) ([]*models.Incident, error) {
	val, err := r.redisClient.Get(ctx, incidentListCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident list from cache: %w", err)
	}

	var incidents []*models.Incident
	if err := json.Unmarshal(val, &incidents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident list from cache: %w", err)
	}
	return incidents, nil
}

// SetListCache сохраняет полный список инцидентов в Redis
func (r *IncidentRepository) SetListCache(ctx context.Context, incidents []*models.Incident) error {
	val, err := json.Marshal(incidents)
	if err != nil {
		return fmt.Errorf("failed to marshal incident list for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, incidentListCacheKey, val, r.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set incident list in cache: %w", err)
	}
	return nil
}

// InvalidateListCache удаляет список инцидентов из Redis кэша
func (r *IncidentRepository) InvalidateListCache(ctx context.Context) error {
	if err := r.redisClient.Del(ctx, incidentListCacheKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident list cache: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	incident := &models.Incident{}
	var severity string
	err := row.Scan(
		&incident.ID,
		&incident.Category,
		&severity,
		&incident.Description,
		&incident.Latitude,
		&incident.Longitude,
		&incident.CreatedAt,
		&incident.MediaRef,
	)
	if err != nil {
		return nil, err
	}
	incident.Severity = models.DefaultSeverity
	if severity != "" {
		if parsed, err := models.ParseSeverity(severity); err == nil {
			incident.Severity = parsed
		}
	}
	return incident, nil
}

func nullableReporter(ctx context.Context) *int64 {
	if id, ok := service.ReporterFromContext(ctx); ok {
		return &id
	}
	return nil
}
