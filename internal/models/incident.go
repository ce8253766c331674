package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Severity - закрытое перечисление уровней опасности инцидента
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

// DefaultSeverity присваивается инциденту, если источник не указал уровень
const DefaultSeverity = SeverityMedium

// ParseSeverity разбирает строковое представление уровня без учета регистра
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return SeverityUnknown, fmt.Errorf("%w: unknown severity %q", ErrValidation, s)
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if s == SeverityUnknown {
		return nil, fmt.Errorf("%w: cannot marshal unknown severity", ErrValidation)
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: severity must be a string", ErrValidation)
	}
	if raw == "" {
		*s = DefaultSeverity
		return nil
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Coordinates - географическая точка в WGS84
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate проверяет, что координаты конечны и лежат в допустимых диапазонах
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrValidation)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrValidation, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrValidation, c.Longitude)
	}
	return nil
}

// Incident - зарегистрированный инцидент. После создания не изменяется.
type Incident struct {
	ID          int64    `json:"id"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Coordinates
	CreatedAt time.Time `json:"created_at"`
	MediaRef  *string   `json:"media_ref,omitempty"`
}

// NormalizedCategory возвращает категорию в нижнем регистре для сравнения
func (i *Incident) NormalizedCategory() string {
	return NormalizeCategory(i.Category)
}

// IsHighPriority сообщает, участвует ли инцидент в тревожном оповещении
func (i *Incident) IsHighPriority() bool {
	return i.Severity == SeverityHigh
}

// NormalizeCategory приводит название категории к каноническому виду
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
