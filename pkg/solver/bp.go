package solver

import (
	"errors"
	"math"

	"corrfield/internal/models"
	"corrfield/pkg/mind"
)

// Marginals computes regularized correspondence marginals for the
// keypoints: the patch SSD data term smoothed by min-sum belief
// propagation over the minimum spanning tree of the keypoint graph.
// Each returned row is a cost profile over the displacement grid in
// Displacements() order.
//
// A k-NN graph that turns out disconnected is retried with doubled
// neighbor counts before giving up, so sparse keypoint sets with large
// spatial gaps (as around an excluded ablation zone) still solve.
func (s *Solver) Marginals(kpts [][3]float64, img *models.Volume, src, dst *mind.Descriptor) ([][]float64, error) {
	if len(kpts) == 0 {
		return nil, errors.Join(models.ErrSolverFailure, models.ErrEmptyKeypointSet)
	}

	cost := s.Costs(kpts, src, dst)
	if len(kpts) == 1 {
		return cost, nil
	}

	mst, err := s.spanningTreeRetry(kpts, img)
	if err != nil {
		return nil, err
	}

	return s.treeBeliefPropagation(cost, mst, len(kpts)), nil
}

// spanningTreeRetry doubles the neighbor count until the k-NN graph is
// connected or covers all keypoints.
func (s *Solver) spanningTreeRetry(kpts [][3]float64, img *models.Volume) ([]edge, error) {
	sub := *s
	for {
		mst, err := sub.spanningTree(kpts, img)
		if err == nil {
			return mst, nil
		}
		if sub.cfg.KNearest >= len(kpts)-1 {
			return nil, err
		}
		sub.cfg.KNearest *= 2
	}
}

// treeBeliefPropagation runs a two-pass min-sum message schedule over
// the spanning tree. The pairwise term is quadratic in the
// displacement difference with a per-edge weight inversely
// proportional to the edge length, computed exactly with the
// lower-envelope distance transform.
func (s *Solver) treeBeliefPropagation(cost [][]float64, mst []edge, n int) [][]float64 {
	q := s.gridSize()

	adj := make([][]int, n)
	lambda := make([][]float64, n)
	const eps = 1e-6
	for _, e := range mst {
		w := 1.0 / (e.weight + eps)
		adj[e.a] = append(adj[e.a], e.b)
		lambda[e.a] = append(lambda[e.a], w)
		adj[e.b] = append(adj[e.b], e.a)
		lambda[e.b] = append(lambda[e.b], w)
	}

	// BFS from node 0 gives the level schedule.
	parent := make([]int, n)
	parentLambda := make([]float64, n)
	order := make([]int, 0, n)
	visited := make([]bool, n)
	queue := []int{0}
	visited[0] = true
	parent[0] = -1
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for i, nb := range adj[node] {
			if !visited[nb] {
				visited[nb] = true
				parent[nb] = node
				parentLambda[nb] = lambda[node][i]
				queue = append(queue, nb)
			}
		}
	}

	// Pairwise penalty per squared grid-index difference: the grid step
	// is Quantisation voxels.
	qv := float64(s.cfg.Quantisation * s.cfg.Quantisation)

	// Upward pass, leaves first.
	up := make([][]float64, n)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if parent[node] < 0 {
			continue
		}
		belief := make([]float64, len(cost[node]))
		copy(belief, cost[node])
		for _, nb := range adj[node] {
			if nb != parent[node] {
				addInto(belief, up[nb])
			}
		}
		up[node] = distanceTransform3D(belief, q, parentLambda[node]*qv)
	}

	// Downward pass, root first.
	down := make([][]float64, n)
	for _, node := range order {
		if parent[node] < 0 {
			down[node] = make([]float64, len(cost[node]))
			continue
		}
		p := parent[node]
		belief := make([]float64, len(cost[p]))
		copy(belief, cost[p])
		addInto(belief, down[p])
		for _, nb := range adj[p] {
			if nb != node && nb != parent[p] {
				addInto(belief, up[nb])
			}
		}
		down[node] = distanceTransform3D(belief, q, parentLambda[node]*qv)
	}

	marginals := make([][]float64, n)
	for node := 0; node < n; node++ {
		marg := make([]float64, len(cost[node]))
		copy(marg, cost[node])
		addInto(marg, down[node])
		for _, nb := range adj[node] {
			if nb != parent[node] {
				addInto(marg, up[nb])
			}
		}
		marginals[node] = marg
	}
	return marginals
}

func addInto(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// distanceTransform3D computes, over the q^3 displacement grid, the
// lower envelope min_j f[j] + w*||d_i - d_j||^2 in grid units,
// separably along the three axes.
func distanceTransform3D(f []float64, q int, w float64) []float64 {
	out := make([]float64, len(f))
	copy(out, f)

	line := make([]float64, q)
	buf := newEnvelopeBuffers(q)

	// axis x: contiguous runs
	for base := 0; base < len(out); base += q {
		copy(line, out[base:base+q])
		buf.lowerEnvelope(line, w)
		copy(out[base:base+q], line)
	}

	// axis y
	for z := 0; z < q; z++ {
		for x := 0; x < q; x++ {
			for y := 0; y < q; y++ {
				line[y] = out[(z*q+y)*q+x]
			}
			buf.lowerEnvelope(line, w)
			for y := 0; y < q; y++ {
				out[(z*q+y)*q+x] = line[y]
			}
		}
	}

	// axis z
	for y := 0; y < q; y++ {
		for x := 0; x < q; x++ {
			for z := 0; z < q; z++ {
				line[z] = out[(z*q+y)*q+x]
			}
			buf.lowerEnvelope(line, w)
			for z := 0; z < q; z++ {
				out[(z*q+y)*q+x] = line[z]
			}
		}
	}

	return out
}

// envelopeBuffers holds scratch space for the 1D lower envelope so the
// transform does not allocate per line.
type envelopeBuffers struct {
	v []int
	z []float64
	d []float64
}

func newEnvelopeBuffers(q int) *envelopeBuffers {
	return &envelopeBuffers{
		v: make([]int, q),
		z: make([]float64, q+1),
		d: make([]float64, q),
	}
}

// lowerEnvelope computes in place the 1D quadratic lower envelope
// d[i] = min_j f[j] + w*(i-j)^2 using the Felzenszwalb-Huttenlocher
// parabola sweep.
func (b *envelopeBuffers) lowerEnvelope(f []float64, w float64) {
	n := len(f)
	if w <= 0 {
		// Degenerate weight: unconstrained minimum everywhere.
		minVal := math.Inf(1)
		for _, v := range f {
			if v < minVal {
				minVal = v
			}
		}
		for i := range f {
			f[i] = minVal
		}
		return
	}

	k := 0
	b.v[0] = 0
	b.z[0] = math.Inf(-1)
	b.z[1] = math.Inf(1)

	for i := 1; i < n; i++ {
		var s float64
		for {
			j := b.v[k]
			s = ((f[i] + w*float64(i*i)) - (f[j] + w*float64(j*j))) / (2 * w * float64(i-j))
			if s > b.z[k] {
				break
			}
			k--
		}
		k++
		b.v[k] = i
		b.z[k] = s
		b.z[k+1] = math.Inf(1)
	}

	k = 0
	for i := 0; i < n; i++ {
		for b.z[k+1] < float64(i) {
			k++
		}
		j := b.v[k]
		b.d[i] = f[j] + w*float64((i-j)*(i-j))
	}
	copy(f, b.d[:n])
}
