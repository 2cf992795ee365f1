package solver

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"corrfield/internal/models"
)

// kptPoint is a keypoint with its index, queryable through gonum's
// KD-tree.
type kptPoint struct {
	X, Y, Z float64
	ID      int
}

// Compare implements the kdtree.Comparable interface
func (p kptPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kptPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p kptPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p kptPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kptPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// kptPoints is a collection of kptPoint satisfying kdtree.Interface.
type kptPoints []kptPoint

func (p kptPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kptPoints) Len() int                              { return len(p) }
func (p kptPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p kptPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(kptPlane{kptPoints: p, Dim: d}, kdtree.MedianOfRandoms(kptPlane{kptPoints: p, Dim: d}, 100))
}

// kptPlane implements sort.Interface and kdtree.SortSlicer for kptPoints.
type kptPlane struct {
	kptPoints
	kdtree.Dim
}

func (p kptPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.kptPoints[i].X < p.kptPoints[j].X
	case 1:
		return p.kptPoints[i].Y < p.kptPoints[j].Y
	case 2:
		return p.kptPoints[i].Z < p.kptPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p kptPlane) Slice(start, end int) kdtree.SortSlicer {
	return kptPlane{kptPoints: p.kptPoints[start:end], Dim: p.Dim}
}

func (p kptPlane) Swap(i, j int) {
	p.kptPoints[i], p.kptPoints[j] = p.kptPoints[j], p.kptPoints[i]
}

// edge connects two keypoints with an intensity-weighted length.
type edge struct {
	a, b   int
	weight float64
}

// spanningTree builds the minimum spanning tree of the k-nearest
// neighbor keypoint graph. Edge weights combine Euclidean distance
// with the fixed-image intensity difference between the endpoints
// scaled by beta, so regularization couples nearby keypoints of
// similar appearance most strongly.
func (s *Solver) spanningTree(kpts [][3]float64, img *models.Volume) ([]edge, error) {
	n := len(kpts)
	if n == 0 {
		return nil, fmt.Errorf("spanning tree: no keypoints: %w", models.ErrSolverFailure)
	}
	if n == 1 {
		return nil, nil
	}

	points := make(kptPoints, n)
	for i, kp := range kpts {
		points[i] = kptPoint{X: kp[0], Y: kp[1], Z: kp[2], ID: i}
	}
	tree := kdtree.New(points, true)

	intensity := make([]float64, n)
	for i, kp := range kpts {
		intensity[i] = sampleTrilinear(img, kp[0], kp[1], kp[2])
	}

	k := s.cfg.KNearest
	if k >= n {
		k = n - 1
	}

	// Candidate edges from each point's k nearest neighbors, deduplicated.
	seen := make(map[[2]int]bool)
	var edges []edge
	for i := range points {
		keeper := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keeper, points[i])
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			q := item.Comparable.(kptPoint)
			if q.ID == i {
				continue
			}
			key := [2]int{i, q.ID}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			dist := math.Sqrt(item.Dist)
			w := dist * (1 + s.cfg.Beta*math.Abs(intensity[key[0]]-intensity[key[1]]))
			edges = append(edges, edge{a: key[0], b: key[1], weight: w})
		}
	}

	// Kruskal with union-find.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].weight != edges[j].weight {
			return edges[i].weight < edges[j].weight
		}
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	var mst []edge
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		if ra == rb {
			continue
		}
		parent[ra] = rb
		mst = append(mst, e)
		if len(mst) == n-1 {
			break
		}
	}

	if len(mst) != n-1 {
		return nil, fmt.Errorf("spanning tree: k-NN graph with k=%d is disconnected (%d/%d edges): %w",
			k, len(mst), n-1, models.ErrSolverFailure)
	}
	return mst, nil
}
