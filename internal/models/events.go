package models

import "encoding/json"

// Типы сообщений канала реального времени
const (
	EventAuthenticate       = "authenticate"
	EventAuthenticated      = "authenticated"
	EventLocationUpdate     = "locationUpdate"
	EventOnlineStatusUpdate = "onlineStatusUpdate"
	EventPresenceSnapshot   = "presenceSnapshot"
	EventReportIncident     = "reportIncident"
	EventNewReport          = "newReport"
	EventReportSuccess      = "reportSuccess"
	EventReportError        = "reportError"
	EventError              = "error"
	EventPing               = "ping"
	EventPong               = "pong"
)

// Envelope - конверт любого сообщения канала: {"type": ..., "data": ...}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthenticateRequest - первое сообщение клиента
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// AuthenticatedEvent - ответ на попытку аутентификации
type AuthenticatedEvent struct {
	Success bool         `json:"success"`
	User    *UserSummary `json:"user,omitempty"`
}

// LocationPayload - координаты, присланные клиентом. Nil означает, что поле не передано.
type LocationPayload struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// Coordinates возвращает координаты после успешной валидации
func (p LocationPayload) Coordinates() Coordinates {
	return Coordinates{Latitude: deref(p.Latitude), Longitude: deref(p.Longitude)}
}

// LocationUpdateEvent рассылается всем остальным сессиям
type LocationUpdateEvent struct {
	UserID    int64   `json:"userId"`
	UserName  string  `json:"userName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OnlineStatusEvent сообщает о появлении или уходе пользователя
type OnlineStatusEvent struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// ReportIncidentRequest - инцидент, отправленный сессией через канал
type ReportIncidentRequest struct {
	Category    string   `json:"category" validate:"required,max=64"`
	Severity    string   `json:"severity,omitempty" validate:"omitempty,max=16"`
	Description string   `json:"description" validate:"required,max=2000"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
}

// Coordinates возвращает точку инцидента
func (r ReportIncidentRequest) Coordinates() Coordinates {
	return Coordinates{Latitude: deref(r.Latitude), Longitude: deref(r.Longitude)}
}

// MessageEvent - текстовое сообщение для error/reportSuccess/reportError
type MessageEvent struct {
	Message string `json:"message"`
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
