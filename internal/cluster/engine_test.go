package cluster

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/shenikar/falconwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denseIncidents размещает n инцидентов на сетке с шагом step градусов
func denseIncidents(n int, lat, lng, step float64) []*models.Incident {
	out := make([]*models.Incident, n)
	for i := 0; i < n; i++ {
		out[i] = &models.Incident{
			ID:       int64(i + 1),
			Category: "fire",
			Severity: models.SeverityLow,
			Coordinates: models.Coordinates{
				Latitude:  lat + float64(i/10)*step,
				Longitude: lng + float64(i%10)*step,
			},
		}
	}
	return out
}

func memberSum(clusters []models.Cluster) int {
	sum := 0
	for _, c := range clusters {
		sum += c.MemberCount
	}
	return sum
}

func TestEngine_DenseIncidentsFormOneCluster(t *testing.T) {
	// Подготовка
	engine := NewEngine(DefaultOptions())
	// шаг 0.0015° на 10 масштабе дает около 2 px, вся сетка укладывается в ~30 px
	engine.Load(denseIncidents(50, 48.85, 2.35, 0.0015))

	// Действие
	clusters := engine.Clusters(models.WorldBounds, 10)

	// Проверки
	require.Len(t, clusters, 1)
	assert.True(t, clusters[0].IsCluster)
	assert.Equal(t, 50, clusters[0].MemberCount)
	assert.Len(t, clusters[0].MemberIncidentIDs, 50)
	assert.InDelta(t, 48.85, clusters[0].Position.Latitude, 0.02)
	assert.InDelta(t, 2.35, clusters[0].Position.Longitude, 0.02)
}

// pxDegrees переводит пиксели 10-го масштаба в градусы у экватора
const pxDegrees = 360.0 / (512 * 1024)

func TestEngine_HundredPixelGroupFormsOneCluster(t *testing.T) {
	// Подготовка: сетка 10x5 с шагом 10 px, 90x40 px на 10 масштабе
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(50, 0, 0, 10*pxDegrees))

	// Действие
	clusters := engine.Clusters(models.WorldBounds, 10)

	// Проверки
	require.Len(t, clusters, 1)
	assert.True(t, clusters[0].IsCluster)
	assert.Equal(t, 50, clusters[0].MemberCount)
	assert.Len(t, engine.Clusters(models.WorldBounds, 17), 50)
}

func TestEngine_RandomDiskOfHundredPixelsFormsOneCluster(t *testing.T) {
	// Подготовка: 50 случайных точек в круге диаметром 100 px
	rng := rand.New(rand.NewSource(7))
	incidents := make([]*models.Incident, 50)
	for i := range incidents {
		r := 50 * math.Sqrt(rng.Float64())
		a := rng.Float64() * 2 * math.Pi
		incidents[i] = &models.Incident{
			ID: int64(i + 1),
			Coordinates: models.Coordinates{
				Latitude:  r * math.Sin(a) * pxDegrees,
				Longitude: r * math.Cos(a) * pxDegrees,
			},
		}
	}
	engine := NewEngine(DefaultOptions())
	engine.Load(incidents)

	// Действие
	clusters := engine.Clusters(models.WorldBounds, 10)

	// Проверки
	require.Len(t, clusters, 1)
	assert.Equal(t, 50, clusters[0].MemberCount)
}

func TestEngine_ClusterIDsDoNotCollideWithIncidentIDs(t *testing.T) {
	// Подготовка: плотная группа и одиночные точки далеко от нее
	incidents := denseIncidents(10, 48.85, 2.35, 0.0001)
	for i, lng := range []float64{-120, -60, 60, 120} {
		incidents = append(incidents, &models.Incident{ID: int64(11 + i), Coordinates: models.Coordinates{Latitude: 0, Longitude: lng}})
	}
	engine := NewEngine(DefaultOptions())
	engine.Load(incidents)

	// Действие
	clusters := engine.Clusters(models.WorldBounds, 4)

	// Проверки
	require.Len(t, clusters, 5)
	seen := make(map[uint64]bool)
	for _, c := range clusters {
		assert.False(t, seen[c.ID], "duplicate id %d", c.ID)
		seen[c.ID] = true
		assert.Equal(t, c.IsCluster, IsClusterID(c.ID))
		if !c.IsCluster {
			_, err := engine.ExpansionZoom(c.ID)
			assert.ErrorIs(t, err, ErrUnknownCluster)
		}
	}
}

func TestEngine_Center(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(50, 48.85, 2.35, 0.0015))
	clusters := engine.Clusters(models.WorldBounds, 10)
	require.Len(t, clusters, 1)

	center, err := engine.Center(clusters[0].ID)

	require.NoError(t, err)
	assert.InDelta(t, clusters[0].Position.Latitude, center.Latitude, 1e-9)
	assert.InDelta(t, clusters[0].Position.Longitude, center.Longitude, 1e-9)
	_, err = engine.Center(1)
	assert.ErrorIs(t, err, ErrUnknownCluster)
}

func TestRecenter(t *testing.T) {
	center := models.Coordinates{Latitude: 48.86, Longitude: 2.35}

	box := Recenter(models.BoundingBox{West: -30, South: 30, East: 10, North: 60}, center, 5, 15)

	assert.InDelta(t, 40.0/1024, box.East-box.West, 1e-9)
	assert.Less(t, box.West, center.Longitude)
	assert.Greater(t, box.East, center.Longitude)
	assert.Less(t, box.South, center.Latitude)
	assert.Greater(t, box.North, center.Latitude)

	world := Recenter(models.WorldBounds, center, 2, 0)
	assert.Equal(t, -180.0, world.West)
	assert.Equal(t, 180.0, world.East)
}

func TestEngine_AboveCeilingAllIndividual(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(50, 48.85, 2.35, 0.0015))

	clusters := engine.Clusters(models.WorldBounds, 17)

	require.Len(t, clusters, 50)
	for _, c := range clusters {
		assert.False(t, c.IsCluster)
		assert.Equal(t, 1, c.MemberCount)
		require.Len(t, c.MemberIncidentIDs, 1)
		assert.Equal(t, int64(c.ID), c.MemberIncidentIDs[0])
	}
	assert.Len(t, engine.Clusters(models.WorldBounds, 22), 50)
}

func TestEngine_BelowMinPointsStayIndividual(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(3, 10, 10, 0.0001))

	clusters := engine.Clusters(models.WorldBounds, 5)

	require.Len(t, clusters, 3)
	for _, c := range clusters {
		assert.False(t, c.IsCluster)
	}
}

func TestEngine_MemberCountSumsToInput(t *testing.T) {
	// Подготовка
	rng := rand.New(rand.NewSource(42))
	incidents := make([]*models.Incident, 300)
	for i := range incidents {
		incidents[i] = &models.Incident{
			ID: int64(i + 1),
			Coordinates: models.Coordinates{
				Latitude:  rng.Float64()*170 - 85,
				Longitude: rng.Float64()*360 - 180,
			},
		}
	}
	// плотная группа, чтобы на всех уровнях были кластеры
	incidents = append(incidents, denseIncidents(40, 40, -74, 0.001)...)
	for i, inc := range incidents {
		inc.ID = int64(i + 1)
	}
	engine := NewEngine(DefaultOptions())
	engine.Load(incidents)

	for zoom := 0; zoom <= 18; zoom++ {
		// Действие
		clusters := engine.Clusters(models.WorldBounds, float64(zoom))

		// Проверки
		assert.Equal(t, len(incidents), memberSum(clusters), "zoom %d", zoom)
		seen := make(map[int64]bool)
		for _, c := range clusters {
			assert.Len(t, c.MemberIncidentIDs, c.MemberCount)
			for _, id := range c.MemberIncidentIDs {
				assert.False(t, seen[id], "incident %d counted twice at zoom %d", id, zoom)
				seen[id] = true
			}
		}
	}
}

func TestEngine_EmptySet(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	assert.Nil(t, engine.Clusters(models.WorldBounds, 3))

	engine.Load(nil)

	assert.Empty(t, engine.Clusters(models.WorldBounds, 3))
}

func TestEngine_AntimeridianBoundingBox(t *testing.T) {
	// Подготовка
	engine := NewEngine(DefaultOptions())
	engine.Load([]*models.Incident{
		{ID: 1, Coordinates: models.Coordinates{Latitude: 0, Longitude: 179.5}},
		{ID: 2, Coordinates: models.Coordinates{Latitude: 0, Longitude: -179.5}},
		{ID: 3, Coordinates: models.Coordinates{Latitude: 0, Longitude: 0}},
	})

	// Действие
	clusters := engine.Clusters(models.BoundingBox{West: 170, South: -10, East: -170, North: 10}, 17)

	// Проверки
	var got []int64
	for _, c := range clusters {
		got = append(got, c.MemberIncidentIDs...)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []int64{1, 2}, got)
}

func TestEngine_BoundingBoxFilters(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load([]*models.Incident{
		{ID: 1, Coordinates: models.Coordinates{Latitude: 10, Longitude: 10}},
		{ID: 2, Coordinates: models.Coordinates{Latitude: -10, Longitude: -10}},
	})

	clusters := engine.Clusters(models.BoundingBox{West: 0, South: 0, East: 20, North: 20}, 17)

	require.Len(t, clusters, 1)
	assert.Equal(t, int64(1), clusters[0].MemberIncidentIDs[0])
}

func TestEngine_ExpansionZoom(t *testing.T) {
	// Подготовка
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(50, 48.85, 2.35, 0.0015))
	clusters := engine.Clusters(models.WorldBounds, 10)
	require.Len(t, clusters, 1)

	// Действие
	zoom, err := engine.ExpansionZoom(clusters[0].ID)

	// Проверки
	require.NoError(t, err)
	assert.Greater(t, zoom, 10)
	assert.LessOrEqual(t, zoom, 17)
	assert.Greater(t, len(engine.Clusters(models.WorldBounds, float64(zoom))), 1)
}

func TestEngine_ExpansionZoomCappedAtCeiling(t *testing.T) {
	// Подготовка
	engine := NewEngine(DefaultOptions())
	// совпадающие точки не распадаются ни на одном уровне
	incidents := make([]*models.Incident, 5)
	for i := range incidents {
		incidents[i] = &models.Incident{ID: int64(i + 1), Coordinates: models.Coordinates{Latitude: 1, Longitude: 1}}
	}
	engine.Load(incidents)
	clusters := engine.Clusters(models.WorldBounds, 3)
	require.Len(t, clusters, 1)

	// Действие
	zoom, err := engine.ExpansionZoom(clusters[0].ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 17, zoom)
}

func TestEngine_Leaves(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	incidents := denseIncidents(50, 48.85, 2.35, 0.0015)
	engine.Load(incidents)
	clusters := engine.Clusters(models.WorldBounds, 10)
	require.Len(t, clusters, 1)

	leaves, err := engine.Leaves(clusters[0].ID)

	require.NoError(t, err)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	want := make([]int64, 50)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, leaves)
}

func TestEngine_UnknownCluster(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(5, 0, 0, 1))

	_, err := engine.ExpansionZoom(2)
	assert.ErrorIs(t, err, ErrUnknownCluster)

	_, err = engine.Leaves(1 << 40)
	assert.ErrorIs(t, err, ErrUnknownCluster)
}

func TestEngine_LoadRebuilds(t *testing.T) {
	engine := NewEngine(DefaultOptions())
	engine.Load(denseIncidents(50, 48.85, 2.35, 0.0015))

	engine.Load(denseIncidents(2, 48.85, 2.35, 0.0015))

	clusters := engine.Clusters(models.WorldBounds, 10)
	assert.Equal(t, 2, memberSum(clusters))
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}.withDefaults()

	assert.Equal(t, DefaultOptions(), opts)
	assert.Equal(t, maxSupportedZoom, Options{MaxZoom: 99}.withDefaults().MaxZoom)
}
