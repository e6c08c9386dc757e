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
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
)

// InterpPolicy selects the interpolation scheme used when sampling gridded
// fields at arbitrary positions.
type InterpPolicy int

const (
	// TriLinear is corner-weighted trilinear interpolation with periodic
	// index wrap in x and y and reuse of the top z interval for points in
	// the top cell.
	TriLinear InterpPolicy = iota
	// Spline is local Lagrange-stencil interpolation of configurable order
	// with periodic boundary treatment in x and y and clamped z.
	Spline
)

// InterpConfig configures an Interpolator. It replaces the mutable global
// toggles of earlier implementations of this scheme: the policy and order
// are fixed for the lifetime of the Interpolator.
type InterpConfig struct {
	Policy InterpPolicy
	// Order is the interpolation order for the Spline policy.
	// It is ignored by TriLinear.
	Order int
}

// DefaultInterpConfig returns the standard configuration: trilinear
// interpolation.
func DefaultInterpConfig() InterpConfig {
	return InterpConfig{Policy: TriLinear, Order: 1}
}

// Interpolator samples scalar fields defined on a Grid at arbitrary
// real-valued positions, respecting the cyclic x and y boundaries.
type Interpolator struct {
	grid *Grid
	cfg  InterpConfig
}

// NewInterpolator creates an Interpolator for the given grid.
func NewInterpolator(g *Grid, cfg InterpConfig) (*Interpolator, error) {
	switch cfg.Policy {
	case TriLinear:
	case Spline:
		if cfg.Order < 1 {
			return nil, fmt.Errorf("advtraj: interpolator: spline order %d < 1", cfg.Order)
		}
	default:
		return nil, fmt.Errorf("advtraj: interpolator: unknown policy %d", cfg.Policy)
	}
	return &Interpolator{grid: g, cfg: cfg}, nil
}

// Sample interpolates each of the given fields to each of the given
// positions. pos has shape [n, 3], holding real-valued grid coordinates;
// x and y are interpreted periodically and z is clipped to the grid.
// The result has one []float64 of length n per field.
func (ip *Interpolator) Sample(fields []*sparse.DenseArray, pos *sparse.DenseArray) ([][]float64, error) {
	if len(pos.Shape) != 2 || pos.Shape[1] != 3 {
		return nil, fmt.Errorf("advtraj: interpolator: position shape %v, need [n 3]", pos.Shape)
	}
	g := ip.grid
	for i, f := range fields {
		if len(f.Shape) != 3 || f.Shape[0] != g.Nx || f.Shape[1] != g.Ny || f.Shape[2] != g.Nz {
			return nil, fmt.Errorf("advtraj: interpolator: field %d shape %v does not match grid (%d,%d,%d)",
				i, f.Shape, g.Nx, g.Ny, g.Nz)
		}
	}
	n := pos.Shape[0]
	out := make([][]float64, len(fields))
	for l := range out {
		out[l] = make([]float64, n)
	}
	for k := 0; k < n; k++ {
		x := wrap(pos.Get(k, 0), g.Nx)
		y := wrap(pos.Get(k, 1), g.Ny)
		z := clamp(pos.Get(k, 2), 0, float64(g.Nz-1))
		switch ip.cfg.Policy {
		case TriLinear:
			ip.triLinear(fields, x, y, z, k, out)
		case Spline:
			ip.lagrange(fields, x, y, z, k, out)
		}
	}
	return out, nil
}

// whichBox finds i such that coord[i] < v <= coord[i+1], clipped to the
// valid index range.
func whichBox(coord []float64, v float64) int {
	i := sort.SearchFloat64s(coord, v) - 1
	if i > len(coord)-1 {
		i = len(coord) - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// triLinear computes the corner-weighted sum over the 8 cells surrounding
// (x,y,z) for every field, writing particle k's values into out. Indices
// wrap modulo nx, ny in the horizontal; the top z interval is reused when
// the point lies in the top cell.
func (ip *Interpolator) triLinear(fields []*sparse.DenseArray, x, y, z float64, k int, out [][]float64) {
	g := ip.grid
	ix := whichBox(g.X, x)
	iy := whichBox(g.Y, y)
	iz := whichBox(g.Z, z)
	if iz > g.Nz-2 {
		iz--
	}
	xp := x - g.X[ix]
	yp := y - g.Y[iy]
	zp := (z - g.Z[iz]) / (g.Z[iz+1] - g.Z[iz])
	wx := [2]float64{1 - xp, xp}
	wy := [2]float64{1 - yp, yp}
	wz := [2]float64{1 - zp, zp}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for m := 0; m < 2; m++ {
				w := wx[i] * wy[j] * wz[m]
				for l, f := range fields {
					out[l][k] += f.Get((ix+i)%g.Nx, (iy+j)%g.Ny, iz+m) * w
				}
			}
		}
	}
}

// lagrangeWeights returns the order+1 Lagrange basis weights for local
// coordinate t measured from the first stencil node.
func lagrangeWeights(t float64, order int) []float64 {
	w := make([]float64, order+1)
	for m := 0; m <= order; m++ {
		p := 1.0
		for j := 0; j <= order; j++ {
			if j == m {
				continue
			}
			p *= (t - float64(j)) / float64(m-j)
		}
		w[m] = p
	}
	return w
}

// lagrange evaluates separable Lagrange-stencil interpolation of the
// configured order at (x,y,z). The stencil wraps periodically in x and y;
// on z it is clamped to the grid, repeating the boundary node.
func (ip *Interpolator) lagrange(fields []*sparse.DenseArray, x, y, z float64, k int, out [][]float64) {
	g := ip.grid
	q := ip.cfg.Order
	bx := int(math.Floor(x)) - (q-1)/2
	by := int(math.Floor(y)) - (q-1)/2
	bz := int(math.Floor(z)) - (q-1)/2
	wxs := lagrangeWeights(x-float64(bx), q)
	wys := lagrangeWeights(y-float64(by), q)
	wzs := lagrangeWeights(z-float64(bz), q)
	for i := 0; i <= q; i++ {
		gi := wrapIndex(bx+i, g.Nx)
		for j := 0; j <= q; j++ {
			gj := wrapIndex(by+j, g.Ny)
			for m := 0; m <= q; m++ {
				gm := clampIndex(bz+m, g.Nz)
				w := wxs[i] * wys[j] * wzs[m]
				for l, f := range fields {
					out[l][k] += f.Get(gi, gj, gm) * w
				}
			}
		}
	}
}

// decodePositions converts sampled position-field values to real 3D
// positions. The first numPosVars entries of sampled are the x real and
// imaginary phase components, the y real and imaginary phase components,
// and raw z.
func decodePositions(sampled [][]float64, g *Grid) *sparse.DenseArray {
	n := len(sampled[0])
	pos := sparse.ZerosDense(n, 3)
	for k := 0; k < n; k++ {
		pos.Set(Phase(sampled[0][k], sampled[1][k], g.Nx), k, 0)
		pos.Set(Phase(sampled[2][k], sampled[3][k], g.Ny), k, 1)
		pos.Set(sampled[4][k], k, 2)
	}
	return pos
}
