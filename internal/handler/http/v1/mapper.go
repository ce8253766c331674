package v1

import (
	"strings"

	"github.com/shenikar/falconwatch/internal/models"
)

// DTOToIncidentModel преобразует DTO создания в доменную модель
func DTOToIncidentModel(dto CreateIncidentRequest) (*models.Incident, error) {
	severity := models.DefaultSeverity
	if strings.TrimSpace(dto.Severity) != "" {
		parsed, err := models.ParseSeverity(dto.Severity)
		if err != nil {
			return nil, err
		}
		severity = parsed
	}

	incident := &models.Incident{
		Category:    dto.Category,
		Severity:    severity,
		Description: dto.Description,
		MediaRef:    dto.MediaRef,
	}
	if dto.Latitude != nil {
		incident.Latitude = *dto.Latitude
	}
	if dto.Longitude != nil {
		incident.Longitude = *dto.Longitude
	}
	return incident, nil
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:          model.ID,
		Category:    model.Category,
		Severity:    model.Severity.String(),
		Description: model.Description,
		Latitude:    model.Latitude,
		Longitude:   model.Longitude,
		CreatedAt:   model.CreatedAt,
		MediaRef:    model.MediaRef,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(incidents []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(incidents))
	for i, model := range incidents {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

// PresenceToResponses преобразует записи присутствия в DTO
func PresenceToResponses(records []models.PresenceRecord) []PresenceResponse {
	responses := make([]PresenceResponse, len(records))
	for i, r := range records {
		responses[i] = PresenceResponse{
			UserID:         r.UserID,
			DisplayName:    r.DisplayName,
			Latitude:       r.LastKnownPosition.Latitude,
			Longitude:      r.LastKnownPosition.Longitude,
			LastUpdateTime: r.LastUpdateTime,
		}
	}
	return responses
}
