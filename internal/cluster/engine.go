// Package cluster группирует инциденты в кластеры для текущего масштаба и области карты.
//
// Иерархия строится один раз на весь набор (Load) в пиксельном пространстве
// Web Mercator: каждый уровень масштаба получается слиянием групп
// предыдущего, более крупного уровня. Запросы к области (Clusters) индекс не перестраивают.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shenikar/falconwatch/internal/models"
)

// ErrUnknownCluster - идентификатор не принадлежит текущей иерархии
var ErrUnknownCluster = errors.New("unknown cluster")

// maxSupportedZoom ограничен кодированием уровня в пяти битах id кластера
const maxSupportedZoom = 30

// Options - параметры кластеризации
type Options struct {
	// Radius - радиус слияния в пикселях
	Radius float64
	// Extent - размер тайла в пикселях
	Extent float64
	MinZoom int
	// MaxZoom - потолок: выше него кластеризация отключена
	MaxZoom int
	// MinPoints - минимальный размер группы, ставшей кластером
	MinPoints int
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		Radius:    40,
		Extent:    512,
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Radius <= 0 {
		o.Radius = d.Radius
	}
	if o.Extent <= 0 {
		o.Extent = d.Extent
	}
	if o.MinZoom < 0 {
		o.MinZoom = 0
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = d.MaxZoom
	}
	if o.MaxZoom > maxSupportedZoom {
		o.MaxZoom = maxSupportedZoom
	}
	if o.MaxZoom < o.MinZoom {
		o.MaxZoom = o.MinZoom
	}
	if o.MinPoints <= 0 {
		o.MinPoints = d.MinPoints
	}
	return o
}

// node - точка или кластер на одном уровне масштаба
type node struct {
	x, y      float64
	id        uint64
	numPoints int
	// incident задан только для исходных точек
	incident int
	// rep - индекс любой исходной точки, входящей в узел
	rep       int
	isCluster bool
}

type level struct {
	nodes []node
	tree  *kdTree
}

// clusterRef - потомки кластера на уровне originZoom(id) и его центр
type clusterRef struct {
	children []int
	x, y     float64
}

// Engine хранит иерархию кластеров для последнего загруженного набора
type Engine struct {
	mu        sync.RWMutex
	opts      Options
	incidents []*models.Incident
	// levels[z] для z в [MinZoom, MaxZoom+1]
	levels   []level
	clusters map[uint64]clusterRef
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Load полностью перестраивает иерархию для набора инцидентов
func (e *Engine) Load(incidents []*models.Incident) {
	points := make([]*models.Incident, len(incidents))
	copy(points, incidents)

	levels := make([]level, e.opts.MaxZoom+2)
	nodes := make([]node, len(points))
	for i, inc := range points {
		nodes[i] = node{
			x:         lngX(inc.Longitude),
			y:         latY(inc.Latitude),
			id:        uint64(i),
			numPoints: 1,
			incident:  i,
			rep:       i,
		}
	}
	leaf := e.opts.MaxZoom + 1
	levels[leaf] = newLevel(nodes)

	clusters := make(map[uint64]clusterRef)
	groups := newUnionFind(len(points))
	for z := e.opts.MaxZoom; z >= e.opts.MinZoom; z-- {
		levels[z] = newLevel(e.clusterLevel(&levels[z+1], &levels[leaf], groups, z, clusters))
	}

	e.mu.Lock()
	e.incidents = points
	e.levels = levels
	e.clusters = clusters
	e.mu.Unlock()
}

func newLevel(nodes []node) level {
	kd := make([]kdPoint, len(nodes))
	for i, n := range nodes {
		kd[i] = kdPoint{x: n.x, y: n.y, idx: i}
	}
	return level{nodes: nodes, tree: newKDTree(kd)}
}

// clusterLevel строит уровень zoom из уровня zoom+1.
//
// В одну группу попадают исходные точки, связанные цепочкой соседей не дальше
// Radius пикселей на этом масштабе. Радиус в координатах карты на каждом
// следующем уровне вдвое больше, поэтому группы уровня zoom+1 целиком входят
// в группы уровня zoom и иерархия остается вложенной.
func (e *Engine) clusterLevel(src, leaf *level, groups *unionFind, zoom int, clusters map[uint64]clusterRef) []node {
	r := e.opts.Radius / (e.opts.Extent * math.Pow(2, float64(zoom)))
	for i := range leaf.nodes {
		p := &leaf.nodes[i]
		for _, j := range leaf.tree.within(p.x, p.y, r) {
			groups.union(i, j)
		}
	}

	var order []int
	members := make(map[int][]int)
	for i := range src.nodes {
		root := groups.find(src.nodes[i].rep)
		if _, ok := members[root]; !ok {
			order = append(order, root)
		}
		members[root] = append(members[root], i)
	}

	next := make([]node, 0, len(order))
	for _, root := range order {
		group := members[root]
		numPoints := 0
		for _, idx := range group {
			numPoints += src.nodes[idx].numPoints
		}
		if len(group) == 1 || numPoints < e.opts.MinPoints {
			for _, idx := range group {
				next = append(next, src.nodes[idx])
			}
			continue
		}

		var wx, wy float64
		for _, idx := range group {
			b := &src.nodes[idx]
			wx += b.x * float64(b.numPoints)
			wy += b.y * float64(b.numPoints)
		}
		id := encodeID(group[0], zoom+1)
		c := node{
			x:         wx / float64(numPoints),
			y:         wy / float64(numPoints),
			id:        id,
			numPoints: numPoints,
			incident:  -1,
			rep:       src.nodes[group[0]].rep,
			isCluster: true,
		}
		clusters[id] = clusterRef{children: group, x: c.x, y: c.y}
		next = append(next, c)
	}
	return next
}

// Clusters возвращает кластеры и отдельные инциденты в области для масштаба zoom.
// Область, пересекающая антимеридиан (West > East), поддерживается.
func (e *Engine) Clusters(bbox models.BoundingBox, zoom float64) []models.Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.levels == nil {
		return nil
	}

	minLng := wrapLng(bbox.West)
	minLat := math.Max(-90, math.Min(90, bbox.South))
	maxLng := 180.0
	if bbox.East != 180 {
		maxLng = wrapLng(bbox.East)
	}
	maxLat := math.Max(-90, math.Min(90, bbox.North))

	if bbox.East-bbox.West >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		eastern := e.queryLocked(minLng, minLat, 180, maxLat, zoom)
		western := e.queryLocked(-180, minLat, maxLng, maxLat, zoom)
		return append(eastern, western...)
	}
	return e.queryLocked(minLng, minLat, maxLng, maxLat, zoom)
}

func (e *Engine) queryLocked(minLng, minLat, maxLng, maxLat, zoom float64) []models.Cluster {
	lvl := &e.levels[e.limitZoom(zoom)]
	ids := lvl.tree.rangeQuery(lngX(minLng), latY(maxLat), lngX(maxLng), latY(minLat))
	out := make([]models.Cluster, 0, len(ids))
	for _, idx := range ids {
		out = append(out, e.toCluster(&lvl.nodes[idx]))
	}
	return out
}

// ExpansionZoom возвращает минимальный масштаб, на котором кластер распадается
// больше чем на одного потомка. Не превышает MaxZoom+1.
func (e *Engine) ExpansionZoom(clusterID uint64) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.resolveLocked(clusterID); err != nil {
		return 0, err
	}
	// кластер без изменений поднимается по уровням с тем же id,
	// поэтому распадается он ровно на уровне своего образования
	return originZoom(clusterID), nil
}

// Center возвращает центр кластера
func (e *Engine) Center(clusterID uint64) (models.Coordinates, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ref, err := e.resolveLocked(clusterID)
	if err != nil {
		return models.Coordinates{}, err
	}
	return models.Coordinates{Latitude: yLat(ref.y), Longitude: xLng(ref.x)}, nil
}

// Leaves возвращает id всех инцидентов кластера
func (e *Engine) Leaves(clusterID uint64) ([]int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.resolveLocked(clusterID); err != nil {
		return nil, err
	}
	var out []int64
	e.appendLeavesLocked(clusterID, &out)
	return out, nil
}

func (e *Engine) appendLeavesLocked(clusterID uint64, out *[]int64) {
	lvl := &e.levels[originZoom(clusterID)]
	for _, idx := range e.clusters[clusterID].children {
		child := &lvl.nodes[idx]
		if child.isCluster {
			e.appendLeavesLocked(child.id, out)
			continue
		}
		*out = append(*out, e.incidents[child.incident].ID)
	}
}

func (e *Engine) resolveLocked(clusterID uint64) (clusterRef, error) {
	ref, ok := e.clusters[clusterID]
	if !ok || !IsClusterID(clusterID) {
		return clusterRef{}, fmt.Errorf("%w: %d", ErrUnknownCluster, clusterID)
	}
	return ref, nil
}

func (e *Engine) toCluster(n *node) models.Cluster {
	c := models.Cluster{
		Position:    models.Coordinates{Latitude: yLat(n.y), Longitude: xLng(n.x)},
		MemberCount: n.numPoints,
		IsCluster:   n.isCluster,
	}
	if !n.isCluster {
		inc := e.incidents[n.incident]
		c.ID = uint64(inc.ID)
		c.Position = inc.Coordinates
		c.MemberIncidentIDs = []int64{inc.ID}
		return c
	}
	c.ID = n.id
	ids := make([]int64, 0, n.numPoints)
	e.appendLeavesLocked(n.id, &ids)
	c.MemberIncidentIDs = ids
	return c
}

func (e *Engine) limitZoom(z float64) int {
	zoom := int(math.Floor(z))
	if zoom < e.opts.MinZoom {
		return e.opts.MinZoom
	}
	if zoom > e.opts.MaxZoom+1 {
		return e.opts.MaxZoom + 1
	}
	return zoom
}

// clusterIDBit отделяет id кластеров от id инцидентов, которые носят отдельные точки
const clusterIDBit = uint64(1) << 63

// IsClusterID сообщает, что id принадлежит кластеру, а не отдельному инциденту
func IsClusterID(id uint64) bool {
	return id&clusterIDBit != 0
}

// id кластера кодирует индекс первого потомка и уровень, на котором лежат потомки
func encodeID(index, zoom int) uint64 {
	return clusterIDBit | uint64(index)<<5 | uint64(zoom)
}

func originZoom(id uint64) int {
	return int(id & 31)
}

// Recenter возвращает область того же экранного размера, что bounds на масштабе fromZoom,
// с центром в center для масштаба toZoom
func Recenter(bounds models.BoundingBox, center models.Coordinates, fromZoom, toZoom float64) models.BoundingBox {
	dx := lngX(bounds.East) - lngX(bounds.West)
	if bounds.West > bounds.East {
		dx++
	}
	dy := latY(bounds.South) - latY(bounds.North)
	scale := math.Pow(2, fromZoom-toZoom)
	dx *= scale
	dy *= scale

	out := models.BoundingBox{West: -180, East: 180}
	if dx < 1 {
		cx := lngX(center.Longitude)
		out.West = wrapLng(xLng(cx - dx/2))
		out.East = wrapLng(xLng(cx + dx/2))
	}
	cy := latY(center.Latitude)
	out.North = yLat(math.Max(0, cy-dy/2))
	out.South = yLat(math.Min(1, cy+dy/2))
	return out
}

func wrapLng(lng float64) float64 {
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
