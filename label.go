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
	"github.com/ctessum/sparse"
)

// LabelCyclic labels the connected components of a 3D mask, taking account
// of the cyclic boundaries in x and y. mask must have shape [nx, ny, nz];
// cells with nonzero values belong to objects. The returned array holds an
// object label per cell, 0 to nobjects-1, with -1 for cells outside any
// object.
//
// Components are first labeled assuming non-periodic boundaries with
// 6-connectivity. Then, for x and then y, components touching opposite
// boundary faces are merged iff their face footprints intersect in both the
// orthogonal horizontal coordinate and the z coordinate. Merging uses a
// disjoint set with path compression, keeping the lowest provisional label
// as the root, followed by a single compaction pass so that surviving
// labels are contiguous.
func LabelCyclic(mask *sparse.DenseArrayInt) (*sparse.DenseArrayInt, int) {
	nx, ny, nz := mask.Shape[0], mask.Shape[1], mask.Shape[2]
	labels := sparse.ZerosDenseInt(nx, ny, nz)
	for i := range labels.Elements {
		labels.Elements[i] = -1
	}

	// Non-periodic first pass, 6-connected flood fill.
	nlab := 0
	var stack [][3]int
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			for iz := 0; iz < nz; iz++ {
				if mask.Get(ix, iy, iz) == 0 || labels.Get(ix, iy, iz) >= 0 {
					continue
				}
				stack = append(stack[:0], [3]int{ix, iy, iz})
				// Write through Elements: DenseArrayInt.Set silently
				// drops zero values, which would lose label 0.
				labels.Elements[labels.Index1d(ix, iy, iz)] = nlab
				for len(stack) > 0 {
					c := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					for _, d := range [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
						jx, jy, jz := c[0]+d[0], c[1]+d[1], c[2]+d[2]
						if jx < 0 || jx >= nx || jy < 0 || jy >= ny || jz < 0 || jz >= nz {
							continue
						}
						if mask.Get(jx, jy, jz) != 0 && labels.Get(jx, jy, jz) < 0 {
							labels.Elements[labels.Index1d(jx, jy, jz)] = nlab
							stack = append(stack, [3]int{jx, jy, jz})
						}
					}
				}
				nlab++
			}
		}
	}
	if nlab == 0 {
		return labels, 0
	}

	// Face footprints of each provisional component: the sets of
	// orthogonal coordinates where it touches each periodic boundary face.
	type footprint struct {
		touches bool
		orth    map[int]bool // other horizontal coordinate
		vert    map[int]bool // z coordinate
	}
	newFootprints := func() []footprint {
		f := make([]footprint, nlab)
		for i := range f {
			f[i].orth = make(map[int]bool)
			f[i].vert = make(map[int]bool)
		}
		return f
	}
	xLo, xHi := newFootprints(), newFootprints()
	yLo, yHi := newFootprints(), newFootprints()
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			for iz := 0; iz < nz; iz++ {
				l := labels.Get(ix, iy, iz)
				if l < 0 {
					continue
				}
				if ix == 0 {
					xLo[l].touches = true
					xLo[l].orth[iy] = true
					xLo[l].vert[iz] = true
				}
				if ix == nx-1 {
					xHi[l].touches = true
					xHi[l].orth[iy] = true
					xHi[l].vert[iz] = true
				}
				if iy == 0 {
					yLo[l].touches = true
					yLo[l].orth[ix] = true
					yLo[l].vert[iz] = true
				}
				if iy == ny-1 {
					yHi[l].touches = true
					yHi[l].orth[ix] = true
					yHi[l].vert[iz] = true
				}
			}
		}
	}

	parent := make([]int, nlab)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri == rj {
			return
		}
		// Keep the lowest provisional label as the root so compacted
		// labels follow first-appearance order.
		if ri < rj {
			parent[rj] = ri
		} else {
			parent[ri] = rj
		}
	}
	intersects := func(a, b map[int]bool) bool {
		for k := range a {
			if b[k] {
				return true
			}
		}
		return false
	}
	mergeAxis := func(lo, hi []footprint) {
		for i := 0; i < nlab; i++ {
			if !lo[i].touches {
				continue
			}
			for j := 0; j < nlab; j++ {
				if i == j || !hi[j].touches {
					continue
				}
				if intersects(lo[i].orth, hi[j].orth) && intersects(lo[i].vert, hi[j].vert) {
					union(i, j)
				}
			}
		}
	}
	// x merging feeds into y merging via the shared disjoint set.
	mergeAxis(xLo, xHi)
	mergeAxis(yLo, yHi)

	// Compact surviving roots to a dense 0..K'-1 range.
	compact := make([]int, nlab)
	for i := range compact {
		compact[i] = -1
	}
	nobj := 0
	for i := 0; i < nlab; i++ {
		r := find(i)
		if compact[r] < 0 {
			compact[r] = nobj
			nobj++
		}
	}
	for i, l := range labels.Elements {
		if l >= 0 {
			labels.Elements[i] = compact[find(l)]
		}
	}
	return labels, nobj
}
