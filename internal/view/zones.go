package view

import (
	"github.com/shenikar/falconwatch/internal/models"
)

// Zone - именованный полигон на карте
type Zone struct {
	Name    string               `json:"name"`
	Polygon []models.Coordinates `json:"polygon"`
}

// ZoneReport - сводка инцидентов внутри зоны
type ZoneReport struct {
	Zone           string         `json:"zone"`
	Total          int            `json:"total"`
	CategoryCounts map[string]int `json:"category_counts"`
	// MajoritySeverity равен SeverityUnknown, если в зоне нет инцидентов
	MajoritySeverity models.Severity `json:"-"`
}

// ZoneSummary считает инциденты в каждой зоне и выбирает преобладающую важность.
// При равенстве побеждает более высокая важность.
func ZoneSummary(zones []Zone, incidents []*models.Incident) []ZoneReport {
	reports := make([]ZoneReport, 0, len(zones))
	for _, zone := range zones {
		report := ZoneReport{Zone: zone.Name, CategoryCounts: make(map[string]int)}
		bySeverity := make(map[models.Severity]int)
		for _, incident := range incidents {
			if !containsPoint(zone.Polygon, incident.Coordinates) {
				continue
			}
			report.Total++
			report.CategoryCounts[incident.NormalizedCategory()]++
			bySeverity[incident.Severity]++
		}

		best := 0
		for _, s := range []models.Severity{models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
			if bySeverity[s] > best {
				best = bySeverity[s]
				report.MajoritySeverity = s
			}
		}
		reports = append(reports, report)
	}
	return reports
}

// containsPoint - проверка попадания точки в полигон методом луча
func containsPoint(polygon []models.Coordinates, p models.Coordinates) bool {
	inside := false
	n := len(polygon)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Latitude > p.Latitude) != (b.Latitude > p.Latitude) {
			cross := (b.Longitude-a.Longitude)*(p.Latitude-a.Latitude)/(b.Latitude-a.Latitude) + a.Longitude
			if p.Longitude < cross {
				inside = !inside
			}
		}
	}
	return inside
}
