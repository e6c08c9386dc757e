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
	"testing"
)

// encode is the inverse of Phase: position v on a periodic axis of size n
// to (real, imaginary) phase components.
func encode(v float64, n int) (float64, float64) {
	a := v / float64(n) * 2 * math.Pi
	return math.Cos(a), math.Sin(a)
}

func TestPhaseRoundTrip(t *testing.T) {
	const n = 16
	for _, v := range []float64{0, 0.25, 1, 7.5, 8, 12.125, 15.875} {
		vr, vi := encode(v, n)
		got := Phase(vr, vi, n)
		if math.Abs(got-v) > 1.e-12 {
			t.Errorf("Phase(encode(%g)) = %g", v, got)
		}
	}
}

func TestPhaseRange(t *testing.T) {
	const n = 16
	// Positions just below the wrap point decode near n, not negative.
	vr, vi := encode(15.999, n)
	got := Phase(vr, vi, n)
	if got < 0 || got >= n {
		t.Errorf("Phase out of [0,%d): %g", n, got)
	}
}

func TestWrapDelta(t *testing.T) {
	tests := []struct {
		d    float64
		n    int
		want float64
	}{
		{1, 16, 1},
		{-1, 16, -1},
		{15, 16, -1},
		{-15, 16, 1},
		{8, 16, -8},
		{-8, 16, -8},
		{0, 16, 0},
	}
	for _, test := range tests {
		if got := wrapDelta(test.d, test.n); got != test.want {
			t.Errorf("wrapDelta(%g, %d) = %g, want %g", test.d, test.n, got, test.want)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		v    float64
		n    int
		want float64
	}{
		{0, 8, 0},
		{8, 8, 0},
		{-0.5, 8, 7.5},
		{9.25, 8, 1.25},
		{-8.5, 8, 7.5},
	}
	for _, test := range tests {
		if got := wrap(test.v, test.n); got != test.want {
			t.Errorf("wrap(%g, %d) = %g, want %g", test.v, test.n, got, test.want)
		}
	}
}

func TestClipPosition(t *testing.T) {
	g := NewGrid(8, 8, 4)
	x, y, z := g.ClipPosition(-0.5, 8.5, 5)
	if x != 7.5 || y != 0.5 || z != 3 {
		t.Errorf("ClipPosition(-0.5, 8.5, 5) = (%g, %g, %g), want (7.5, 0.5, 3)", x, y, z)
	}
	x, y, z = g.ClipPosition(3, 4, -1)
	if x != 3 || y != 4 || z != 0 {
		t.Errorf("ClipPosition(3, 4, -1) = (%g, %g, %g), want (3, 4, 0)", x, y, z)
	}
}

func TestCellID(t *testing.T) {
	g := NewGrid(8, 6, 4)
	seen := make(map[int]bool)
	for iz := 0; iz < g.Nz; iz++ {
		for iy := 0; iy < g.Ny; iy++ {
			for ix := 0; ix < g.Nx; ix++ {
				id := g.CellID(ix, iy, iz)
				if id < 0 || id >= g.Nx*g.Ny*g.Nz {
					t.Fatalf("CellID(%d,%d,%d) = %d out of range", ix, iy, iz, id)
				}
				if seen[id] {
					t.Fatalf("CellID(%d,%d,%d) = %d not unique", ix, iy, iz, id)
				}
				seen[id] = true
			}
		}
	}
}
