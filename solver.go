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
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/optimize"
)

const (
	// maxIter is the fixed cap on forward fixed-point iterations.
	maxIter = 30
	// convergenceTol is the per-particle squared-distance tolerance below
	// which the fixed-point iteration is considered converged.
	convergenceTol = 1.e-4
	// rescueTol is the squared-distance threshold above which a
	// non-converged particle is sent through the rescue search.
	rescueTol = 5.e-3
	// relaxParam is the under-relaxation factor applied to each
	// fixed-point update.
	relaxParam = 0.5
	// rescueWindow is the half-width, in cells, of the local search
	// window used by the rescue pass.
	rescueWindow = 5
	// rescueEnv is the half-width, in cells, of the continuous refinement
	// sub-window around the best rescue cell.
	rescueEnv = 2
)

// Solver finds, for a field snapshot at a new time, the particle positions
// whose stored position field maps onto the particles' known positions at
// the adjacent time. A Solver is a pure function of its inputs apart from
// diagnostic logging.
type Solver struct {
	grid   *Grid
	interp *Interpolator

	// Debug enables verbose diagnostic logging.
	Debug bool
}

// NewSolver creates a Solver for the given grid using the given
// interpolation configuration.
func NewSolver(g *Grid, cfg InterpConfig, debug bool) (*Solver, error) {
	ip, err := NewInterpolator(g, cfg)
	if err != nil {
		return nil, err
	}
	return &Solver{grid: g, interp: ip, Debug: debug}, nil
}

// BackStep performs one backward step: the position field at the earlier
// time is interpolated directly at the known later positions. Backward
// stepping is an exact lookup, not a fixed-point problem, so no iteration
// is needed. It returns the decoded earlier positions and the values of any
// additional fields beyond the position tracers, sampled at pos.
func (s *Solver) BackStep(fields []*sparse.DenseArray, pos *sparse.DenseArray) (*sparse.DenseArray, [][]float64, error) {
	out, err := s.interp.Sample(fields, pos)
	if err != nil {
		return nil, nil, err
	}
	return decodePositions(out, s.grid), out[numPosVars:], nil
}

// ForwardStep performs one forward step: it solves F(p) = known for p,
// where F interpolates the phase-decoded position field of the new time at
// p. seed is the first estimate, normally a linear extrapolation of the two
// most recent known positions. It returns the position estimate, the
// per-particle residual vector (the final diff, zero where converged), the
// values of the non-position fields at the estimate, and the number of
// field evaluations used.
//
// Convergence is not guaranteed: when the iteration cap is reached, badly
// fitting particles are re-estimated by a local search (see rescue), and
// the returned residuals honestly reflect the remaining error.
func (s *Solver) ForwardStep(fields []*sparse.DenseArray, known, seed *sparse.DenseArray) (*sparse.DenseArray, *sparse.DenseArray, [][]float64, int, error) {
	g := s.grid
	n := known.Shape[0]
	est := seed.Copy()
	s.clip(est)

	var out [][]float64
	var diff *sparse.DenseArray
	var magDiff []float64
	niter := 0
	for iter := 0; ; iter++ {
		var err error
		out, err = s.interp.Sample(fields, est)
		if err != nil {
			return nil, nil, nil, niter, err
		}
		at := decodePositions(out, g)
		diff, magDiff = s.residual(at, known)
		niter = iter + 1

		errMax := 0.0
		for _, d := range magDiff {
			if d > errMax {
				errMax = d
			}
		}
		if errMax <= convergenceTol {
			if s.Debug {
				log.Printf("advtraj: solver: converged after %d iterations, err %g", niter, errMax)
			}
			break
		}
		if iter >= maxIter {
			nRescued := 0
			for k := 0; k < n; k++ {
				if magDiff[k] > rescueTol {
					s.rescue(fields, known, est, k)
					nRescued++
				}
			}
			log.Printf("advtraj: solver: iteration cap %d exceeded (err %g); rescued %d of %d particles",
				maxIter, errMax, nRescued, n)
			s.clip(est)
			// Diagnostic pass only: no further adjustment.
			out, err = s.interp.Sample(fields, est)
			if err != nil {
				return nil, nil, nil, niter, err
			}
			at = decodePositions(out, g)
			diff, magDiff = s.residual(at, known)
			if s.Debug {
				errMax = 0
				for _, d := range magDiff {
					if d > errMax {
						errMax = d
					}
				}
				log.Printf("advtraj: solver: after rescue pass err %g", errMax)
			}
			break
		}
		for k := 0; k < n; k++ {
			for c := 0; c < 3; c++ {
				est.AddVal(-relaxParam*diff.Get(k, c), k, c)
			}
		}
		s.clip(est)
	}
	return est, diff, out[numPosVars:], niter, nil
}

// residual computes at-known per particle with periodic unwrap on x and y,
// plus the per-particle squared distance.
func (s *Solver) residual(at, known *sparse.DenseArray) (*sparse.DenseArray, []float64) {
	g := s.grid
	n := known.Shape[0]
	diff := sparse.ZerosDense(n, 3)
	mag := make([]float64, n)
	for k := 0; k < n; k++ {
		dx := wrapDelta(at.Get(k, 0)-known.Get(k, 0), g.Nx)
		dy := wrapDelta(at.Get(k, 1)-known.Get(k, 1), g.Ny)
		dz := at.Get(k, 2) - known.Get(k, 2)
		diff.Set(dx, k, 0)
		diff.Set(dy, k, 1)
		diff.Set(dz, k, 2)
		mag[k] = dx*dx + dy*dy + dz*dz
	}
	return diff, mag
}

// clip brings all position estimates back into the valid domain.
func (s *Solver) clip(pos *sparse.DenseArray) {
	for k := 0; k < pos.Shape[0]; k++ {
		x, y, z := s.grid.ClipPosition(pos.Get(k, 0), pos.Get(k, 1), pos.Get(k, 2))
		pos.Set(x, k, 0)
		pos.Set(y, k, 1)
		pos.Set(z, k, 2)
	}
}

// rescue re-estimates the position of particle k after the fixed-point
// iteration has failed to converge for it. It scans a local window of the
// raw position-phase fields around the current integer estimate for the
// cell whose decoded position is nearest the known position, then refines
// continuously within a small sub-window around that cell by minimizing the
// interpolated squared-distance surface with a derivative-free method.
// If the minimizer fails to improve on the best cell, the cell itself is
// kept; the estimate is best-effort.
func (s *Solver) rescue(fields []*sparse.DenseArray, known, est *sparse.DenseArray, k int) {
	g := s.grid
	lx := int(math.Round(est.Get(k, 0)))
	ly := int(math.Round(est.Get(k, 1)))
	lz := int(math.Round(est.Get(k, 2)))
	kx := known.Get(k, 0)
	ky := known.Get(k, 1)
	kz := known.Get(k, 2)

	const w = 2*rescueWindow + 1
	dist := make([]float64, w*w*w)
	minVal := math.Inf(1)
	var im, jm, mm int
	for i := 0; i < w; i++ {
		gx := wrapIndex(lx-rescueWindow+i, g.Nx)
		for j := 0; j < w; j++ {
			gy := wrapIndex(ly-rescueWindow+j, g.Ny)
			for m := 0; m < w; m++ {
				gz := clampIndex(lz-rescueWindow+m, g.Nz)
				xpos := Phase(fields[0].Get(gx, gy, gz), fields[1].Get(gx, gy, gz), g.Nx)
				ypos := Phase(fields[2].Get(gx, gy, gz), fields[3].Get(gx, gy, gz), g.Ny)
				zpos := fields[4].Get(gx, gy, gz)
				dx := wrapDelta(xpos-kx, g.Nx)
				dy := wrapDelta(ypos-ky, g.Ny)
				dz := zpos - kz
				d := dx*dx + dy*dy + dz*dz
				dist[(i*w+j)*w+m] = d
				if d < minVal {
					minVal = d
					im, jm, mm = i, j, m
				}
			}
		}
	}
	if s.Debug {
		log.Printf("advtraj: solver: rescue particle %d: nearest cell offset (%d,%d,%d), dist %g",
			k, im-rescueWindow, jm-rescueWindow, mm-rescueWindow, minVal)
	}

	// Continuous refinement over a small sub-window around the minimum,
	// kept inside the search window.
	const sub = 2*rescueEnv + 1
	i0 := clampIndex(im-rescueEnv, w-sub+1)
	j0 := clampIndex(jm-rescueEnv, w-sub+1)
	m0 := clampIndex(mm-rescueEnv, w-sub+1)
	d5 := make([]float64, sub*sub*sub)
	for i := 0; i < sub; i++ {
		for j := 0; j < sub; j++ {
			for m := 0; m < sub; m++ {
				d5[(i*sub+j)*sub+m] = dist[((i0+i)*w+(j0+j))*w+(m0+m)]
			}
		}
	}
	p := optimize.Problem{
		Func: func(x []float64) float64 {
			return sampleVolume(d5, sub, x[0], x[1], x[2])
		},
	}
	x0 := []float64{float64(im - i0), float64(jm - j0), float64(mm - m0)}
	best := x0
	res, err := optimize.Minimize(p, x0, nil, &optimize.NelderMead{})
	if err == nil && res.F < minVal {
		best = res.X
	} else if s.Debug {
		log.Printf("advtraj: solver: rescue particle %d: refinement did not improve (%v)", k, err)
	}

	est.Set(float64(lx-rescueWindow+i0)+best[0], k, 0)
	est.Set(float64(ly-rescueWindow+j0)+best[1], k, 1)
	est.Set(float64(lz-rescueWindow+m0)+best[2], k, 2)
}

// sampleVolume trilinearly interpolates an n×n×n volume stored flat in d at
// the possibly out-of-range point (x,y,z), clamping to the nearest value at
// the edges. Values are squared distances, so the result is floored at zero.
func sampleVolume(d []float64, n int, x, y, z float64) float64 {
	ix := clampIndex(int(math.Floor(x)), n-1)
	iy := clampIndex(int(math.Floor(y)), n-1)
	iz := clampIndex(int(math.Floor(z)), n-1)
	xp := clamp(x-float64(ix), 0, 1)
	yp := clamp(y-float64(iy), 0, 1)
	zp := clamp(z-float64(iz), 0, 1)
	wx := [2]float64{1 - xp, xp}
	wy := [2]float64{1 - yp, yp}
	wz := [2]float64{1 - zp, zp}
	v := 0.0
	for i := 0; i < 2; i++ {
		gi := clampIndex(ix+i, n)
		for j := 0; j < 2; j++ {
			gj := clampIndex(iy+j, n)
			for m := 0; m < 2; m++ {
				gm := clampIndex(iz+m, n)
				v += d[(gi*n+gj)*n+gm] * wx[i] * wy[j] * wz[m]
			}
		}
	}
	return math.Max(0, v)
}
