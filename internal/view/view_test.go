package view

import (
	"testing"
	"time"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func inc(id int64, category string, minutes int) *models.Incident {
	return &models.Incident{
		ID:        id,
		Category:  category,
		Severity:  models.SeverityMedium,
		CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func ids(incidents []*models.Incident) []int64 {
	out := make([]int64, len(incidents))
	for i, v := range incidents {
		out[i] = v.ID
	}
	return out
}

func TestApply(t *testing.T) {
	all := []*models.Incident{
		inc(1, "Fire", 10),
		inc(2, "theft", 30),
		inc(3, "FIRE", 20),
		inc(4, "vandalism", 5),
		inc(5, "fire", 20),
	}

	testCases := []struct {
		name  string
		state func() models.FilterState
		want  []int64
	}{
		{
			name:  "empty selection yields empty result",
			state: func() models.FilterState { return models.NewFilterState() },
			want:  []int64{},
		},
		{
			name:  "newest first with id tiebreak",
			state: func() models.FilterState { return models.NewFilterState("fire", "theft") },
			want:  []int64{2, 3, 5, 1},
		},
		{
			name: "oldest first",
			state: func() models.FilterState {
				s := models.NewFilterState("fire", "theft", "vandalism")
				s.SortTimeOrder = models.SortOldest
				return s
			},
			want: []int64{4, 1, 3, 5, 2},
		},
		{
			name:  "case-insensitive membership",
			state: func() models.FilterState { return models.NewFilterState("FiRe") },
			want:  []int64{3, 5, 1},
		},
		{
			name: "sort category restricts further",
			state: func() models.FilterState {
				s := models.NewFilterState("fire", "theft")
				s.SortCategory = "Theft"
				return s
			},
			want: []int64{2},
		},
		{
			name: "sort category outside selection",
			state: func() models.FilterState {
				s := models.NewFilterState("fire")
				s.SortCategory = "theft"
				return s
			},
			want: []int64{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(all, tc.state())

			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestApply_DoesNotReorderInput(t *testing.T) {
	all := []*models.Incident{inc(1, "fire", 1), inc(2, "fire", 2)}

	Apply(all, models.NewFilterState("fire"))

	assert.Equal(t, []int64{1, 2}, ids(all))
}

func TestCategoryCountsAndDefaults(t *testing.T) {
	all := []*models.Incident{inc(1, "Fire", 0), inc(2, "fire", 0), inc(3, "theft", 0)}

	assert.Equal(t, map[string]int{"fire": 2, "theft": 1}, CategoryCounts(all))
	assert.Equal(t, []string{"fire", "theft"}, KnownCategories(all))

	state := DefaultState(all)
	assert.True(t, state.IsSelected("FIRE"))
	assert.True(t, state.IsSelected("theft"))
	assert.Equal(t, models.SortNewest, state.SortTimeOrder)
}

func TestAutoSelect(t *testing.T) {
	t.Run("adds new categories while not customized", func(t *testing.T) {
		state := models.NewFilterState("fire")

		changed := AutoSelect(&state, []*models.Incident{inc(1, "Fire", 0), inc(2, "Flood", 0)})

		assert.True(t, changed)
		assert.True(t, state.IsSelected("flood"))
	})

	t.Run("no change for known categories", func(t *testing.T) {
		state := models.NewFilterState("fire")

		assert.False(t, AutoSelect(&state, []*models.Incident{inc(1, "fire", 0)}))
	})

	t.Run("customized state is kept", func(t *testing.T) {
		state := models.NewFilterState()
		state.Customized = true

		changed := AutoSelect(&state, []*models.Incident{inc(1, "flood", 0)})

		assert.False(t, changed)
		assert.Empty(t, state.SelectedCategories)
	})
}

func TestZoneSummary(t *testing.T) {
	// Подготовка
	square := Zone{Name: "center", Polygon: []models.Coordinates{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 10},
		{Latitude: 10, Longitude: 10},
		{Latitude: 10, Longitude: 0},
	}}
	empty := Zone{Name: "empty", Polygon: []models.Coordinates{
		{Latitude: 50, Longitude: 50},
		{Latitude: 50, Longitude: 51},
		{Latitude: 51, Longitude: 51},
	}}
	point := func(id int64, lat, lng float64, s models.Severity, category string) *models.Incident {
		return &models.Incident{ID: id, Category: category, Severity: s, Coordinates: models.Coordinates{Latitude: lat, Longitude: lng}}
	}
	incidents := []*models.Incident{
		point(1, 5, 5, models.SeverityLow, "Theft"),
		point(2, 6, 6, models.SeverityLow, "theft"),
		point(3, 7, 7, models.SeverityHigh, "fire"),
		point(4, 2, 2, models.SeverityHigh, "fire"),
		point(5, 20, 20, models.SeverityHigh, "fire"),
	}

	// Действие
	reports := ZoneSummary([]Zone{square, empty}, incidents)

	// Проверки
	require.Len(t, reports, 2)
	assert.Equal(t, 4, reports[0].Total)
	assert.Equal(t, map[string]int{"theft": 2, "fire": 2}, reports[0].CategoryCounts)
	assert.Equal(t, models.SeverityHigh, reports[0].MajoritySeverity, "ties resolve to the higher severity")
	assert.Equal(t, 0, reports[1].Total)
	assert.Equal(t, models.SeverityUnknown, reports[1].MajoritySeverity)
}

func TestContainsPoint_DegeneratePolygon(t *testing.T) {
	assert.False(t, containsPoint([]models.Coordinates{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 1}}, models.Coordinates{}))
}

func TestStyles(t *testing.T) {
	styles := ParseStyles("fire=Пожар:#ff0000, theft=Кража, bad-entry")

	assert.Equal(t, models.CategoryStyle{Label: "Пожар", Color: "#ff0000"}, styles.Lookup("FIRE"))
	assert.Equal(t, models.CategoryStyle{Label: "Кража", Color: fallbackColor}, styles.Lookup("theft"))
	assert.Equal(t, models.CategoryStyle{Label: "Flood", Color: fallbackColor}, styles.Lookup("flood"))
	assert.Equal(t, "#FF0000", SeverityColor(models.SeverityHigh))
	assert.Equal(t, "#888888", SeverityColor(models.SeverityUnknown))
}
