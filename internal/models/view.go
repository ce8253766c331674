package models

// SortTimeOrder - порядок сортировки по времени создания
type SortTimeOrder string

const (
	SortNewest SortTimeOrder = "newest"
	SortOldest SortTimeOrder = "oldest"
)

// FilterState - пользовательские настройки фильтрации, хранятся на клиенте
type FilterState struct {
	SelectedCategories map[string]struct{} `json:"-"`
	// SortCategory - одиночная категория из контрола сортировки, пусто означает все
	SortCategory  string        `json:"sort_category"`
	SortTimeOrder SortTimeOrder `json:"sort_time_order"`
	// Customized выставляется, когда пользователь сам менял набор категорий
	Customized bool `json:"customized"`
}

// NewFilterState возвращает состояние с заданными категориями и порядком по умолчанию
func NewFilterState(categories ...string) FilterState {
	fs := FilterState{
		SelectedCategories: make(map[string]struct{}, len(categories)),
		SortTimeOrder:      SortNewest,
	}
	for _, c := range categories {
		fs.SelectedCategories[NormalizeCategory(c)] = struct{}{}
	}
	return fs
}

// IsSelected проверяет принадлежность категории набору без учета регистра
func (f FilterState) IsSelected(category string) bool {
	_, ok := f.SelectedCategories[NormalizeCategory(category)]
	return ok
}

// Categories возвращает выбранные категории
func (f FilterState) Categories() []string {
	out := make([]string, 0, len(f.SelectedCategories))
	for c := range f.SelectedCategories {
		out = append(out, c)
	}
	return out
}

// Clone возвращает независимую копию состояния
func (f FilterState) Clone() FilterState {
	out := f
	out.SelectedCategories = make(map[string]struct{}, len(f.SelectedCategories))
	for c := range f.SelectedCategories {
		out.SelectedCategories[c] = struct{}{}
	}
	return out
}

// Cluster - группа инцидентов на текущем масштабе. Не хранится, всегда вычисляется.
type Cluster struct {
	ID                uint64      `json:"id"`
	Position          Coordinates `json:"position"`
	MemberCount       int         `json:"member_count"`
	MemberIncidentIDs []int64     `json:"member_incident_ids"`
	IsCluster         bool        `json:"is_cluster"`
}

// BoundingBox - видимая область карты
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// WorldBounds покрывает всю карту
var WorldBounds = BoundingBox{West: -180, South: -90, East: 180, North: 90}

// CategoryStyle - отображение категории, задается данными, а не кодом
type CategoryStyle struct {
	Label string `json:"label"`
	Color string `json:"color"`
}
