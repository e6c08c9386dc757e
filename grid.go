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
	"math"
)

// numPosVars is the number of fields that together encode a 3D position:
// the real and imaginary phase components for x and y, plus raw z.
const numPosVars = 5

// Grid describes a regular, axis-aligned model grid with cyclic boundaries
// in the x and y directions and a bounded z direction. All positions handled
// by this package are in grid-index units (one unit equals one cell), so the
// coordinate axes are simply 0, 1, ..., n-1.
type Grid struct {
	X, Y, Z []float64

	Nx, Ny, Nz int
}

// NewGrid creates a grid with the given number of cells in each direction.
func NewGrid(nx, ny, nz int) *Grid {
	g := &Grid{
		X:  make([]float64, nx),
		Y:  make([]float64, ny),
		Z:  make([]float64, nz),
		Nx: nx, Ny: ny, Nz: nz,
	}
	for i := range g.X {
		g.X[i] = float64(i)
	}
	for i := range g.Y {
		g.Y[i] = float64(i)
	}
	for i := range g.Z {
		g.Z[i] = float64(i)
	}
	return g
}

// Phase converts the real and imaginary components of a phase-encoded
// periodic position to a real position on a grid of size n, in [0, n).
func Phase(vr, vi float64, n int) float64 {
	p := math.Atan2(vi, vr) / (2 * math.Pi) * float64(n)
	if p < 0 {
		p += float64(n)
	}
	return p
}

// wrap brings a periodic coordinate into [0, n).
func wrap(v float64, n int) float64 {
	nf := float64(n)
	for v < 0 {
		v += nf
	}
	for v >= nf {
		v -= nf
	}
	return v
}

// wrapDelta brings a periodic coordinate difference into [-n/2, n/2).
func wrapDelta(d float64, n int) float64 {
	half := float64(n) / 2
	for d < -half {
		d += float64(n)
	}
	for d >= half {
		d -= float64(n)
	}
	return d
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampIndex restricts an integer grid index to [0, n-1].
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// wrapIndex brings an integer grid index into [0, n) by modular arithmetic.
func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// CellID converts integer cell coordinates to a single index
// x + nx*(y + ny*z), the flattened cell identity used when comparing
// object point sets between trajectory sets.
func (g *Grid) CellID(ix, iy, iz int) int {
	return ix + g.Nx*(iy+g.Ny*iz)
}

// ClipPosition brings a position into the valid domain: periodic wrap on
// x and y, clamping to [0, nz-1] on z.
func (g *Grid) ClipPosition(x, y, z float64) (float64, float64, float64) {
	return wrap(x, g.Nx), wrap(y, g.Ny), clamp(z, 0, float64(g.Nz-1))
}
