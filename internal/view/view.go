package view

import (
	"sort"

	"github.com/shenikar/falconwatch/internal/models"
)

// Apply возвращает рабочий набор: фильтр по категориям, затем сортировка по времени создания.
// Пустой набор выбранных категорий дает пустой результат.
func Apply(all []*models.Incident, state models.FilterState) []*models.Incident {
	if len(state.SelectedCategories) == 0 {
		return []*models.Incident{}
	}

	sortCategory := models.NormalizeCategory(state.SortCategory)
	out := make([]*models.Incident, 0, len(all))
	for _, incident := range all {
		if !state.IsSelected(incident.Category) {
			continue
		}
		if sortCategory != "" && incident.NormalizedCategory() != sortCategory {
			continue
		}
		out = append(out, incident)
	}

	oldestFirst := state.SortTimeOrder == models.SortOldest
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// CategoryCounts считает инциденты по нормализованной категории
func CategoryCounts(all []*models.Incident) map[string]int {
	counts := make(map[string]int)
	for _, incident := range all {
		counts[incident.NormalizedCategory()]++
	}
	return counts
}

// KnownCategories возвращает отсортированный список категорий набора
func KnownCategories(all []*models.Incident) []string {
	counts := CategoryCounts(all)
	out := make([]string, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DefaultState - все известные категории выбраны
func DefaultState(all []*models.Incident) models.FilterState {
	return models.NewFilterState(KnownCategories(all)...)
}

// AutoSelect добавляет в выбор категории, которых еще нет в состоянии,
// пока пользователь сам не менял набор. Возвращает true, если состояние изменилось.
func AutoSelect(state *models.FilterState, all []*models.Incident) bool {
	if state.Customized {
		return false
	}
	if state.SelectedCategories == nil {
		state.SelectedCategories = make(map[string]struct{})
	}
	changed := false
	for _, incident := range all {
		c := incident.NormalizedCategory()
		if _, ok := state.SelectedCategories[c]; !ok {
			state.SelectedCategories[c] = struct{}{}
			changed = true
		}
	}
	return changed
}
