/*
Copyright © 2019 the AdvTraj authors.
This file is part of AdvTraj.

AdvTraj is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AdvTraj is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AdvTraj.  If not, see <http://www.gnu.org/licenses/>.
*/

package advtraj

import (
	"log"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// maxDeclusterClusters caps the number of clusters used when reassembling a
// periodically split object. The declustering heuristic assumes an object
// is split into at most this many periodic images, with one image holding
// the majority of the points; neither is guaranteed, only assumed.
const maxDeclusterClusters = 4

// UnsplitObjects gathers together, for every object and every time, points
// separated by the cyclic boundaries, so each object is represented by one
// spatially contiguous patch. trajectory has shape [nt, np, 3] and is
// modified in place (and returned). An object is treated as split when the
// spread of its x or y positions exceeds half the domain size.
func UnsplitObjects(trajectory *sparse.DenseArray, labels []int, nobjects, nx, ny int) *sparse.DenseArray {
	nt := trajectory.Shape[0]
	np := trajectory.Shape[1]
	for iobj := 0; iobj < nobjects; iobj++ {
		var sel []int
		for k := 0; k < np; k++ {
			if labels[k] == iobj {
				sel = append(sel, k)
			}
		}
		if len(sel) == 0 {
			continue
		}
		for it := 0; it < nt; it++ {
			xs := make([]float64, len(sel))
			ys := make([]float64, len(sel))
			for i, k := range sel {
				xs[i] = trajectory.Get(it, k, 0)
				ys[i] = trajectory.Get(it, k, 1)
			}
			if floats.Max(xs)-floats.Min(xs) > float64(nx)/2 ||
				floats.Max(ys)-floats.Min(ys) > float64(ny)/2 {
				pos := sparse.ZerosDense(len(sel), 3)
				for i, k := range sel {
					for c := 0; c < 3; c++ {
						pos.Set(trajectory.Get(it, k, c), i, c)
					}
				}
				UnsplitObject(pos, nx, ny)
				for i, k := range sel {
					for c := 0; c < 3; c++ {
						trajectory.Set(pos.Get(i, c), it, k, c)
					}
				}
			}
		}
	}
	return trajectory
}

// UnsplitObject gathers together the points of a single object separated by
// the cyclic boundaries. pos has shape [n, 3] and is modified in place.
//
// The points are partitioned into at most maxDeclusterClusters clusters on
// their raw coordinates; the most populous cluster is the reference, and
// every other cluster is shifted by a whole domain length in x and/or y
// when its centroid is more than half a domain away from the reference
// centroid. z is not periodic and is left untouched.
func UnsplitObject(pos *sparse.DenseArray, nx, ny int) *sparse.DenseArray {
	n := pos.Shape[0]
	nClust := maxDeclusterClusters
	if n < nClust {
		nClust = n
	}
	if nClust < 2 {
		return pos
	}
	assign, centers := kMeans(pos, nClust)

	counts := make([]int, nClust)
	for _, c := range assign {
		counts[c]++
	}
	main := 0
	for i, c := range counts {
		if c > counts[main] {
			main = i
		}
	}

	shift := func(cluster, coord int, by float64) {
		for k, c := range assign {
			if c == cluster {
				pos.AddVal(by, k, coord)
			}
		}
	}
	for i := 0; i < nClust; i++ {
		dx := centers[i][0] - centers[main][0]
		dy := centers[i][1] - centers[main][1]
		if dx < -float64(nx)/2 {
			shift(i, 0, float64(nx))
		}
		if dx > float64(nx)/2 {
			shift(i, 0, -float64(nx))
		}
		if dy < -float64(ny)/2 {
			shift(i, 1, float64(ny))
		}
		if dy > float64(ny)/2 {
			shift(i, 1, -float64(ny))
		}
	}
	return pos
}

// kMeans partitions the rows of pos ([n, 3]) into k clusters by Lloyd
// iteration. Initial centers are points evenly spaced through the input
// order, so the result is deterministic for a given input.
func kMeans(pos *sparse.DenseArray, k int) ([]int, [][3]float64) {
	n := pos.Shape[0]
	centers := make([][3]float64, k)
	for i := 0; i < k; i++ {
		j := i * (n - 1) / (k - 1)
		for c := 0; c < 3; c++ {
			centers[i][c] = pos.Get(j, c)
		}
	}
	assign := make([]int, n)
	const maxSweeps = 25
	for sweep := 0; sweep < maxSweeps; sweep++ {
		changed := false
		for p := 0; p < n; p++ {
			best, bestD := 0, dist2(pos, p, centers[0])
			for i := 1; i < k; i++ {
				if d := dist2(pos, p, centers[i]); d < bestD {
					best, bestD = i, d
				}
			}
			if assign[p] != best {
				assign[p] = best
				changed = true
			}
		}
		if !changed && sweep > 0 {
			break
		}
		sums := make([][3]float64, k)
		counts := make([]int, k)
		for p := 0; p < n; p++ {
			c := assign[p]
			counts[c]++
			for i := 0; i < 3; i++ {
				sums[c][i] += pos.Get(p, i)
			}
		}
		for i := 0; i < k; i++ {
			if counts[i] == 0 {
				// Empty cluster keeps its previous center.
				continue
			}
			for c := 0; c < 3; c++ {
				centers[i][c] = sums[i][c] / float64(counts[i])
			}
		}
		if sweep == maxSweeps-1 {
			log.Printf("advtraj: decluster: k-means did not settle after %d sweeps", maxSweeps)
		}
	}
	return assign, centers
}

func dist2(pos *sparse.DenseArray, p int, c [3]float64) float64 {
	d := 0.0
	for i := 0; i < 3; i++ {
		v := pos.Get(p, i) - c[i]
		d += v * v
	}
	return d
}
