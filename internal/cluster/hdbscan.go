// Package cluster implements HDBSCAN over cosine distances.
//
// Points are processed in a canonical order so that the resulting partition
// depends only on the set of points, not on the order they were supplied in.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Noise is the label of points outside every selected cluster
const Noise = -1

// minDistance floors merge distances so identical points get a finite lambda
const minDistance = 1e-10

// minStability is the least persistence a cluster, or a point in it, must
// show to count. A cluster born and dissolved at the same lambda has none.
const minStability = 1e-9

// Params tunes the density estimate
type Params struct {
	// MinClusterSize is the smallest group reported as a cluster
	MinClusterSize int
	// MinSamples is the neighbourhood size used for core distances,
	// counting the point itself. 1 reduces to plain cosine distance.
	MinSamples int
}

// DefaultParams returns MinClusterSize 2 and MinSamples 1
func DefaultParams() Params {
	return Params{MinClusterSize: 2, MinSamples: 1}
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	if p.MinClusterSize < 2 {
		return fmt.Errorf("min cluster size must be at least 2, got %d", p.MinClusterSize)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("min samples must be at least 1, got %d", p.MinSamples)
	}
	return nil
}

// Point is one item to cluster. Key breaks ordering ties between equal vectors.
type Point struct {
	Vector []float32
	Key    string
}

var ErrDimensionMismatch = errors.New("points have different dimensions")

// Fit assigns a label to every point, in input order. Labels are numbered
// from 0 by the lowest input index of each cluster; Noise marks the rest.
func Fit(points []Point, params Params) ([]int, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < 2 {
		return labels, nil
	}

	dim := len(points[0].Vector)
	for _, p := range points {
		if len(p.Vector) != dim {
			return nil, ErrDimensionMismatch
		}
	}

	order := canonicalOrder(points)
	vecs := make([][]float32, n)
	for ci, orig := range order {
		vecs[ci] = points[orig].Vector
	}

	dist := distanceMatrix(vecs)
	core := coreDistances(dist, params.MinSamples)
	mst := primMST(dist, core)
	tree := singleLinkage(mst, n)
	condensed := condenseTree(tree, n, params.MinClusterSize)
	selected := selectClusters(condensed, n)
	canonicalLabels := labelPoints(condensed, selected, n)

	for ci, orig := range order {
		labels[orig] = canonicalLabels[ci]
	}
	return renumber(labels), nil
}

// canonicalOrder sorts point indexes by vector, then key, then index
func canonicalOrder(points []Point) []int {
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := points[order[a]], points[order[b]]
		for k := range pa.Vector {
			if pa.Vector[k] != pb.Vector[k] {
				return pa.Vector[k] < pb.Vector[k]
			}
		}
		if pa.Key != pb.Key {
			return pa.Key < pb.Key
		}
		return order[a] < order[b]
	})
	return order
}

func distanceMatrix(vecs [][]float32) [][]float64 {
	n := len(vecs)
	norms := make([]float64, n)
	for i, v := range vecs {
		var s float64
		for _, x := range v {
			s += float64(x) * float64(x)
		}
		norms[i] = math.Sqrt(s)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var dot float64
			for k := range vecs[i] {
				dot += float64(vecs[i][k]) * float64(vecs[j][k])
			}
			d := 1.0
			if norms[i] > 0 && norms[j] > 0 {
				d = 1 - dot/(norms[i]*norms[j])
			}
			d = math.Max(0, d)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its minSamples-th
// nearest neighbour counting itself
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	k := min(minSamples, n) - 1
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[k]
	}
	return core
}

type edge struct {
	a, b   int
	weight float64
}

// primMST builds the minimum spanning tree of the mutual reachability graph
func primMST(dist [][]float64, core []float64) []edge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(dist[current][j], math.Max(core[current], core[j]))
			if mr < best[j] {
				best[j] = mr
				from[j] = current
			}
		}

		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}

		edges = append(edges, edge{a: from[next], b: next, weight: best[next]})
		inTree[next] = true
		current = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	return edges
}

// linkageNode is an internal node of the single linkage tree; node ids
// below n are points
type linkageNode struct {
	left, right int
	distance    float64
	size        int
}

func singleLinkage(mst []edge, n int) []linkageNode {
	parent := make([]int, 2*n-1)
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

	size := func(nodes []linkageNode, id int) int {
		if id < n {
			return 1
		}
		return nodes[id-n].size
	}

	nodes := make([]linkageNode, 0, n-1)
	for _, e := range mst {
		ra, rb := find(e.a), find(e.b)
		id := n + len(nodes)
		nodes = append(nodes, linkageNode{
			left:     ra,
			right:    rb,
			distance: e.weight,
			size:     size(nodes, ra) + size(nodes, rb),
		})
		parent[ra] = id
		parent[rb] = id
	}
	return nodes
}

// condensedEdge records a child leaving parent cluster at lambda.
// child is a point when < n, otherwise a cluster id.
type condensedEdge struct {
	parent, child int
	lambda        float64
	size          int
}

func condenseTree(nodes []linkageNode, n, minClusterSize int) []condensedEdge {
	root := 2*n - 2
	nodeSize := func(id int) int {
		if id < n {
			return 1
		}
		return nodes[id-n].size
	}
	leaves := func(id int) []int {
		var out []int
		stack := []int{id}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top < n {
				out = append(out, top)
				continue
			}
			nd := nodes[top-n]
			stack = append(stack, nd.right, nd.left)
		}
		sort.Ints(out)
		return out
	}

	relabel := map[int]int{root: n}
	nextLabel := n + 1
	var result []condensedEdge

	queue := []int{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id < n {
			continue
		}

		nd := nodes[id-n]
		lambda := 1 / math.Max(nd.distance, minDistance)
		label := relabel[id]
		leftSize, rightSize := nodeSize(nd.left), nodeSize(nd.right)

		switch {
		case leftSize >= minClusterSize && rightSize >= minClusterSize:
			for _, child := range []int{nd.left, nd.right} {
				relabel[child] = nextLabel
				result = append(result, condensedEdge{parent: label, child: nextLabel, lambda: lambda, size: nodeSize(child)})
				nextLabel++
				queue = append(queue, child)
			}
		case leftSize < minClusterSize && rightSize < minClusterSize:
			for _, child := range []int{nd.left, nd.right} {
				for _, p := range leaves(child) {
					result = append(result, condensedEdge{parent: label, child: p, lambda: lambda, size: 1})
				}
			}
		default:
			big, small := nd.left, nd.right
			if leftSize < minClusterSize {
				big, small = nd.right, nd.left
			}
			for _, p := range leaves(small) {
				result = append(result, condensedEdge{parent: label, child: p, lambda: lambda, size: 1})
			}
			relabel[big] = label
			queue = append(queue, big)
		}
	}
	return result
}

// selectClusters applies excess-of-mass selection. The root cluster and
// clusters without stability are never selected.
func selectClusters(tree []condensedEdge, n int) map[int]bool {
	root := n
	birth := map[int]float64{root: 0}
	children := make(map[int][]int)
	clusters := []int{root}
	for _, e := range tree {
		if e.size > 1 {
			birth[e.child] = e.lambda
			children[e.parent] = append(children[e.parent], e.child)
			clusters = append(clusters, e.child)
		}
	}

	stability := make(map[int]float64, len(clusters))
	for _, c := range clusters {
		stability[c] = 0
	}
	for _, e := range tree {
		stability[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(clusters)))
	selected := make(map[int]bool, len(clusters))
	for _, c := range clusters {
		if c == root {
			continue
		}
		selected[c] = true
	}

	for _, c := range clusters {
		if c == root {
			continue
		}
		var subtree float64
		for _, child := range children[c] {
			subtree += stability[child]
		}
		if len(children[c]) > 0 && subtree > stability[c] {
			selected[c] = false
			stability[c] = subtree
			continue
		}
		stack := append([]int(nil), children[c]...)
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			selected[top] = false
			stack = append(stack, children[top]...)
		}
	}

	out := make(map[int]bool)
	for c, ok := range selected {
		if ok && stability[c] > minStability {
			out[c] = true
		}
	}
	return out
}

// labelPoints gives each point the id of its nearest selected ancestor, or
// Noise. A point that leaves that cluster at the lambda the cluster was born
// at never belonged to it and is Noise too.
func labelPoints(tree []condensedEdge, selected map[int]bool, n int) []int {
	parentOf := make(map[int]int, len(tree))
	birth := make(map[int]float64)
	exit := make([]float64, n)
	for _, e := range tree {
		parentOf[e.child] = e.parent
		if e.child < n {
			exit[e.child] = e.lambda
		} else {
			birth[e.child] = e.lambda
		}
	}

	labels := make([]int, n)
	for p := 0; p < n; p++ {
		labels[p] = Noise
		c, ok := parentOf[p]
		for ok {
			if selected[c] {
				if exit[p]-birth[c] > minStability {
					labels[p] = c
				}
				break
			}
			c, ok = parentOf[c]
		}
	}
	return labels
}

// renumber maps cluster ids to 0..k-1 ordered by lowest member index
func renumber(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == Noise {
			out[i] = Noise
			continue
		}
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out
}
