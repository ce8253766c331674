package cluster

import "sort"

const kdNodeSize = 64

type kdPoint struct {
	x, y float64
	idx  int
}

// kdTree - статический индекс точек уровня масштаба. После построения не меняется.
type kdTree struct {
	points []kdPoint
}

func newKDTree(points []kdPoint) *kdTree {
	t := &kdTree{points: points}
	t.sort(0, len(points)-1, 0)
	return t
}

func (t *kdTree) sort(left, right, axis int) {
	if right-left <= kdNodeSize {
		return
	}
	sub := t.points[left : right+1]
	if axis == 0 {
		sort.Slice(sub, func(i, j int) bool { return sub[i].x < sub[j].x })
	} else {
		sort.Slice(sub, func(i, j int) bool { return sub[i].y < sub[j].y })
	}
	m := (left + right) >> 1
	t.sort(left, m-1, 1-axis)
	t.sort(m+1, right, 1-axis)
}

// rangeQuery возвращает индексы точек внутри прямоугольника
func (t *kdTree) rangeQuery(minX, minY, maxX, maxY float64) []int {
	var result []int
	if len(t.points) == 0 {
		return result
	}
	stack := []int{0, len(t.points) - 1, 0}
	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= kdNodeSize {
			for i := left; i <= right; i++ {
				p := t.points[i]
				if p.x >= minX && p.x <= maxX && p.y >= minY && p.y <= maxY {
					result = append(result, p.idx)
				}
			}
			continue
		}

		m := (left + right) >> 1
		p := t.points[m]
		if p.x >= minX && p.x <= maxX && p.y >= minY && p.y <= maxY {
			result = append(result, p.idx)
		}
		if (axis == 0 && minX <= p.x) || (axis == 1 && minY <= p.y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && maxX >= p.x) || (axis == 1 && maxY >= p.y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}
	return result
}

// within возвращает индексы точек на расстоянии не больше r от (qx, qy)
func (t *kdTree) within(qx, qy, r float64) []int {
	var result []int
	if len(t.points) == 0 {
		return result
	}
	r2 := r * r
	stack := []int{0, len(t.points) - 1, 0}
	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= kdNodeSize {
			for i := left; i <= right; i++ {
				if sqDist(t.points[i].x, t.points[i].y, qx, qy) <= r2 {
					result = append(result, t.points[i].idx)
				}
			}
			continue
		}

		m := (left + right) >> 1
		p := t.points[m]
		if sqDist(p.x, p.y, qx, qy) <= r2 {
			result = append(result, p.idx)
		}
		if (axis == 0 && qx-r <= p.x) || (axis == 1 && qy-r <= p.y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && qx+r >= p.x) || (axis == 1 && qy+r >= p.y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}
	return result
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}
