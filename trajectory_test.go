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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

// fakeProvider serves synthetic snapshots of a uniformly translating flow
// on a 16x16x8 grid: per step, everything moves one cell in +x. A cuboid
// "cloud" of q=1 moves with the flow; q is 0 elsewhere. Snapshot times are
// 0, 1, 2, ... split across sources as configured.
type fakeProvider struct {
	times [][]float64
}

const (
	fakeNx, fakeNy, fakeNz = 16, 16, 8
	fakeDx                 = 1.0
)

func newFakeProvider(times ...[]float64) *fakeProvider {
	return &fakeProvider{times: times}
}

func (p *fakeProvider) NumSources() int { return len(p.times) }

func (p *fakeProvider) NumTimes(source int) (int, error) {
	if source < 0 || source >= len(p.times) {
		return 0, fmt.Errorf("fake: source %d out of range", source)
	}
	return len(p.times[source]), nil
}

// blobCell reports whether cell (ix, iy, iz) is inside the cloud at time t.
func blobCell(t float64, ix, iy, iz int) bool {
	x0 := 5 + int(t)
	return (ix == x0 || ix == x0+1) &&
		(iy == 7 || iy == 8) &&
		(iz == 3 || iz == 4)
}

func (p *fakeProvider) Load(source, index int, vars []string) ([]*sparse.DenseArray, float64, error) {
	if source < 0 || source >= len(p.times) || index < 0 || index >= len(p.times[source]) {
		return nil, 0, fmt.Errorf("fake: source %d index %d out of range", source, index)
	}
	t := p.times[source][index]
	g := NewGrid(fakeNx, fakeNy, fakeNz)
	fields := tracerFields(g, fakeDx, 0)
	for _, v := range vars {
		f := sparse.ZerosDense(fakeNx, fakeNy, fakeNz)
		if v == "q" {
			for ix := 0; ix < fakeNx; ix++ {
				for iy := 0; iy < fakeNy; iy++ {
					for iz := 0; iz < fakeNz; iz++ {
						if blobCell(t, ix, iy, iz) {
							f.Set(1, ix, iy, iz)
						}
					}
				}
			}
		}
		fields = append(fields, f)
	}
	return fields, t, nil
}

func (p *fakeProvider) FindTime(t float64) (int, int, float64, error) {
	for src, ts := range p.times {
		for i, v := range ts {
			if v == t {
				return src, i, 1, nil
			}
		}
	}
	return 0, 0, 0, fmt.Errorf("fake: resolving time %v: %w", t, ErrTimeNotFound)
}

// fakeRefGen seeds a point at every cloudy cell of the reference snapshot,
// labeled by cyclic connected-component analysis.
func fakeRefGen(p FieldProvider, source, index int) (*sparse.DenseArray, []int, int, error) {
	fields, _, err := p.Load(source, index, []string{"q"})
	if err != nil {
		return nil, nil, 0, err
	}
	q := fields[len(fields)-1]
	mask := sparse.ZerosDenseInt(q.Shape...)
	n := 0
	for i, v := range q.Elements {
		if v >= 0.5 {
			mask.Elements[i] = 1
			n++
		}
	}
	objLabels, nobj := LabelCyclic(mask)
	pos := sparse.ZerosDense(n, 3)
	labels := make([]int, 0, n)
	k := 0
	for ix := 0; ix < q.Shape[0]; ix++ {
		for iy := 0; iy < q.Shape[1]; iy++ {
			for iz := 0; iz < q.Shape[2]; iz++ {
				if mask.Get(ix, iy, iz) == 0 {
					continue
				}
				pos.Set(float64(ix), k, 0)
				pos.Set(float64(iy), k, 1)
				pos.Set(float64(iz), k, 2)
				labels = append(labels, objLabels.Get(ix, iy, iz))
				k++
			}
		}
	}
	return pos, labels, nobj, nil
}

// fakePred marks points with interpolated q at or above 0.5 as in-object.
func fakePred(tr *Trajectories) (*sparse.DenseArrayInt, *sparse.DenseArray) {
	iv := tr.Var("q")
	nt, np := tr.NTimes(), tr.NPoints()
	mask := sparse.ZerosDenseInt(nt, np)
	objVar := sparse.ZerosDense(nt, np)
	for it := 0; it < nt; it++ {
		for k := 0; k < np; k++ {
			q := tr.Data.Get(it, k, iv)
			objVar.Set(q, it, k)
			if q >= 0.5 {
				mask.Set(1, it, k)
			}
		}
	}
	return mask, objVar
}

func fakeTrajConfig(ref, start, end float64) TrajectoryConfig {
	return TrajectoryConfig{
		StartTime: start,
		RefTime:   ref,
		EndTime:   end,
		Variables: []string{"q"},
		Interp:    DefaultInterpConfig(),
	}
}

func TestComputeTrajectories(t *testing.T) {
	p := newFakeProvider([]float64{0, 1, 2, 3, 4, 5, 6})
	tr, err := ComputeTrajectories(p, fakeTrajConfig(3, 0, 6), fakeRefGen, fakePred)
	if err != nil {
		t.Fatal(err)
	}
	if tr.NTimes() != 7 {
		t.Fatalf("NTimes = %d, want 7", tr.NTimes())
	}
	if tr.Ref != 3 || tr.End != 6 {
		t.Errorf("Ref, End = %d, %d; want 3, 6", tr.Ref, tr.End)
	}
	if tr.DeltaT != 1 {
		t.Errorf("DeltaT = %g, want 1", tr.DeltaT)
	}
	if tr.NPoints() != 8 {
		t.Errorf("NPoints = %d, want 8", tr.NPoints())
	}
	if tr.NObjects != 1 {
		t.Errorf("NObjects = %d, want 1", tr.NObjects)
	}
	for it, want := range []float64{0, 1, 2, 3, 4, 5, 6} {
		if tr.Times[it] != want {
			t.Errorf("Times[%d] = %g, want %g", it, tr.Times[it], want)
		}
	}

	// Positions move one cell per step in +x relative to the reference.
	for it := 0; it < tr.NTimes(); it++ {
		for k := 0; k < tr.NPoints(); k++ {
			wantX := wrap(tr.Trajectory.Get(tr.Ref, k, 0)+float64(it-tr.Ref)*fakeDx, fakeNx)
			got := wrap(tr.Trajectory.Get(it, k, 0), fakeNx)
			if d := wrapDelta(got-wantX, fakeNx); math.Abs(d) > 0.05 {
				t.Errorf("time %d point %d x = %g, want %g", it, k, got, wantX)
			}
			for c := 1; c < 3; c++ {
				if d := tr.Trajectory.Get(it, k, c) - tr.Trajectory.Get(tr.Ref, k, c); math.Abs(d) > 0.05 {
					t.Errorf("time %d point %d coord %d drifted by %g", it, k, c, d)
				}
			}
		}
	}

	// Residuals are zero at the reference and on all backward steps.
	for it := 0; it <= tr.Ref; it++ {
		for k := 0; k < tr.NPoints(); k++ {
			for c := 0; c < 3; c++ {
				if v := tr.TrajError.Get(it, k, c); v != 0 {
					t.Errorf("backward residual at (%d,%d,%d) = %g", it, k, c, v)
				}
			}
		}
	}

	// All points stay in the moving cloud.
	if got := tr.NumInObj.Get(tr.Ref, 0); got != 8 {
		t.Errorf("NumInObj at reference = %d, want 8", got)
	}
	if len(tr.MaxAtRef) != 1 || tr.MaxAtRef[0] != 0 {
		t.Errorf("MaxAtRef = %v, want [0]", tr.MaxAtRef)
	}
	if v := tr.ObjVarMean.Get(tr.Ref, 0); math.Abs(v-1) > 0.01 {
		t.Errorf("ObjVarMean at reference = %g, want 1", v)
	}
}

func TestComputeTrajectoriesTruncation(t *testing.T) {
	// Requesting more time span than the data holds truncates the
	// trajectory instead of failing.
	p := newFakeProvider([]float64{2, 3, 4})
	tr, err := ComputeTrajectories(p, fakeTrajConfig(3, -5, 20), fakeRefGen, fakePred)
	if err != nil {
		t.Fatal(err)
	}
	if tr.NTimes() != 3 {
		t.Fatalf("NTimes = %d, want 3", tr.NTimes())
	}
	if tr.Times[0] != 2 || tr.Times[2] != 4 {
		t.Errorf("Times = %v, want [2 3 4]", tr.Times)
	}
	if tr.Ref != 1 {
		t.Errorf("Ref = %d, want 1", tr.Ref)
	}
}

func TestComputeTrajectoriesSourceCrossing(t *testing.T) {
	// The same span split across three sources gives the same shape.
	p := newFakeProvider([]float64{0, 1, 2}, []float64{3, 4}, []float64{5, 6})
	tr, err := ComputeTrajectories(p, fakeTrajConfig(3, 0, 6), fakeRefGen, fakePred)
	if err != nil {
		t.Fatal(err)
	}
	if tr.NTimes() != 7 {
		t.Fatalf("NTimes = %d, want 7", tr.NTimes())
	}
	if tr.Ref != 3 {
		t.Errorf("Ref = %d, want 3", tr.Ref)
	}
	for it, want := range []float64{0, 1, 2, 3, 4, 5, 6} {
		if tr.Times[it] != want {
			t.Errorf("Times[%d] = %g, want %g", it, tr.Times[it], want)
		}
	}
}

func TestComputeTrajectoriesBadRefTime(t *testing.T) {
	p := newFakeProvider([]float64{0, 1, 2})
	_, err := ComputeTrajectories(p, fakeTrajConfig(7.5, 0, 2), fakeRefGen, fakePred)
	if !errors.Is(err, ErrTimeNotFound) {
		t.Errorf("err = %v, want ErrTimeNotFound", err)
	}
}

func TestRoundTripStepping(t *testing.T) {
	// One step backward then forward through the same field returns to
	// the start within the convergence tolerance.
	g := NewGrid(fakeNx, fakeNy, fakeNz)
	s, err := NewSolver(g, DefaultInterpConfig(), false)
	if err != nil {
		t.Fatal(err)
	}
	fields := tracerFields(g, 0.5, -0.25)
	start := positions([3]float64{5, 5, 3}, [3]float64{0.5, 15.5, 2})
	back, _, err := s.BackStep(fields, start)
	if err != nil {
		t.Fatal(err)
	}
	est, _, _, _, err := s.ForwardStep(fields, back, back.Copy())
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k < start.Shape[0]; k++ {
		for c, n := range []int{fakeNx, fakeNy} {
			if d := wrapDelta(est.Get(k, c)-start.Get(k, c), n); math.Abs(d) > 0.02 {
				t.Errorf("point %d coord %d: %g, want %g", k, c, est.Get(k, c), start.Get(k, c))
			}
		}
		if d := est.Get(k, 2) - start.Get(k, 2); math.Abs(d) > 0.02 {
			t.Errorf("point %d z: %g, want %g", k, est.Get(k, 2), start.Get(k, 2))
		}
	}
}

func TestObjectPoints(t *testing.T) {
	tr := &Trajectories{Labels: []int{0, 1, 0, 2, 1, 0}}
	got := tr.ObjectPoints(0)
	want := []int{0, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("ObjectPoints(0) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ObjectPoints(0) = %v, want %v", got, want)
		}
	}
}
