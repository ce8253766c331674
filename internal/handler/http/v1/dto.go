package v1

import (
	"time"
)

// CreateIncidentRequest DTO для создания инцидента внешним сервисом
// @Description DTO для создания инцидента
type CreateIncidentRequest struct {
	Category    string   `json:"category" validate:"required,max=64"`
	Severity    string   `json:"severity,omitempty" validate:"omitempty,max=16"`
	Description string   `json:"description" validate:"required,max=2000"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
	MediaRef    *string  `json:"media_ref,omitempty" validate:"omitempty,max=512"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
	MediaRef    *string   `json:"media_ref,omitempty"`
}

// PresenceResponse DTO последней известной позиции пользователя
// @Description DTO последней известной позиции пользователя
type PresenceResponse struct {
	UserID         int64     `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// HealthResponse DTO состояния сервиса
// @Description DTO состояния сервиса
type HealthResponse struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}
