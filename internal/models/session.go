package models

import (
	"time"

	"github.com/google/uuid"
)

// UserSummary - результат проверки учетных данных
type UserSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Session привязана к одному живому соединению и существует только после успешной аутентификации
type Session struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	UserID       int64     `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// NewSession создает сессию для соединения после проверки пользователя
func NewSession(connectionID uuid.UUID, user UserSummary, now time.Time) *Session {
	return &Session{
		ConnectionID: connectionID,
		UserID:       user.ID,
		DisplayName:  user.Name,
		Role:         user.Role,
		ConnectedAt:  now,
	}
}

// PresenceRecord - последняя известная позиция пользователя
type PresenceRecord struct {
	UserID            int64       `json:"user_id"`
	DisplayName       string      `json:"display_name"`
	LastKnownPosition Coordinates `json:"last_known_position"`
	LastUpdateTime    time.Time   `json:"last_update_time"`
}
