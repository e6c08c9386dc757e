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
	"testing"

	"github.com/ctessum/sparse"
)

func TestIntervalOverlap(t *testing.T) {
	tests := []struct {
		amin, amax, bmin, bmax float64
		want                   bool
	}{
		{0, 2, 1, 3, true},  // partial
		{0, 5, 1, 2, true},  // contains
		{1, 2, 0, 5, true},  // contained
		{0, 1, 1, 2, true},  // touching endpoints
		{0, 1, 2, 3, false}, // disjoint
		{4, 5, 0, 3, false},
	}
	for _, test := range tests {
		if got := intervalOverlap(test.amin, test.amax, test.bmin, test.bmax); got != test.want {
			t.Errorf("intervalOverlap(%g,%g,%g,%g) = %v, want %v",
				test.amin, test.amax, test.bmin, test.bmax, got, test.want)
		}
		// Symmetry.
		if got := intervalOverlap(test.bmin, test.bmax, test.amin, test.amax); got != test.want {
			t.Errorf("intervalOverlap(%g,%g,%g,%g) = %v, not symmetric",
				test.bmin, test.bmax, test.amin, test.amax, got)
		}
	}
}

func TestIntervalOverlapWrap(t *testing.T) {
	// Declustered boxes can extend past the domain edge; the wrapped test
	// must see them overlapping boxes at the far side.
	if !intervalOverlapWrap(-2, -1, 14, 15, 16) {
		t.Error("box [-2,-1] does not overlap [14,15] on a 16-wide axis")
	}
	if !intervalOverlapWrap(15, 17, 0, 1, 16) {
		t.Error("box [15,17] does not overlap [0,1] on a 16-wide axis")
	}
	if intervalOverlapWrap(-2, -1, 5, 8, 16) {
		t.Error("box [-2,-1] overlaps [5,8] on a 16-wide axis")
	}
}

// overlapScenario builds two hand-made trajectory sets with one object
// each: at their shared model time, the master object occupies x cells
// 0..3 and the earlier object x cells 2..5, a 50% overlap.
func overlapScenario() *Family {
	g := NewGrid(16, 16, 8)
	mk := func(times []float64, xAtTime map[int][]float64, maxAtRef []int) *Trajectories {
		nt := len(times)
		const np = 4
		tr := &Trajectories{
			Trajectory: sparse.ZerosDense(nt, np, 3),
			Times:      times,
			Ref:        0,
			End:        nt - 1,
			Labels:     []int{0, 0, 0, 0},
			NObjects:   1,
			Grid:       g,
			NumInObj:   sparse.ZerosDenseInt(nt, 1),
			InObjBox:   sparse.ZerosDense(nt, 1, 2, 3),
			MaxAtRef:   maxAtRef,
			inObjMask:  sparse.ZerosDenseInt(nt, np),
		}
		for it := 0; it < nt; it++ {
			xs, ok := xAtTime[it]
			if !ok {
				continue
			}
			for k, x := range xs {
				tr.Trajectory.Set(x, it, k, 0)
				tr.inObjMask.Set(1, it, k)
			}
			tr.NumInObj.Set(len(xs), it, 0)
			tr.InObjBox.Set(minOf(xs), it, 0, 0, 0)
			tr.InObjBox.Set(maxOf(xs), it, 0, 1, 0)
			// y and z boxes stay at the shared value 0.
		}
		return tr
	}
	earlier := mk([]float64{0, 1}, map[int][]float64{
		0: {3, 4, 5, 6},
		1: {2, 3, 4, 5}, // the shared time
	}, []int{0})
	master := mk([]float64{1, 2}, map[int][]float64{
		0: {0, 1, 2, 3}, // its reference, same model time as earlier's step 1
		1: {1, 2, 3, 4},
	}, []int{0})
	return &Family{Sets: []*Trajectories{earlier, master}}
}

func TestRefineObjectOverlap(t *testing.T) {
	f := overlapScenario()
	got := f.RefineObjectOverlap(0, 0, 0, 0, 1)
	if got != 0.5 {
		t.Errorf("overlap = %g, want 0.5", got)
	}
}

func TestMatchingSummaryThreshold(t *testing.T) {
	f := overlapScenario()

	// 50% true overlap passes the default 0.02 threshold...
	ms := f.MatchingSummary(1, nil, DefaultOverlapThresh)
	if len(ms.Matches) != 1 {
		t.Fatalf("got %d earlier sets, want 1", len(ms.Matches))
	}
	matches := ms.Matches[0][0]
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1: %v", len(matches), matches)
	}
	m := matches[0]
	if m.Object != 0 || m.Overlap != 50 {
		t.Errorf("match = %+v, want object 0 at 50%%", m)
	}
	// The earlier object is on its own MaxAtRef list, so it is Linked.
	if m.Type != Linked {
		t.Errorf("match type = %v, want Linked", m.Type)
	}

	// ...but not a 0.6 threshold.
	ms = f.MatchingSummary(1, nil, 0.6)
	if n := len(ms.Matches[0][0]); n != 0 {
		t.Errorf("got %d matches above 0.6, want 0", n)
	}
}

func TestNewFamilyAndSuperObjects(t *testing.T) {
	p := newFakeProvider([]float64{0, 1, 2, 3, 4, 5, 6})
	f, err := NewFamily(p, FamilyConfig{
		FirstRefTime: 2,
		LastRefTime:  4,
		BackLen:      2,
		ForwardLen:   2,
		Variables:    []string{"q"},
		Interp:       DefaultInterpConfig(),
	}, fakeRefGen, fakePred)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Sets) != 3 {
		t.Fatalf("got %d trajectory sets, want 3", len(f.Sets))
	}
	for i, wantRef := range []float64{2, 3, 4} {
		if got := f.Sets[i].Times[f.Sets[i].Ref]; got != wantRef {
			t.Errorf("set %d reference time = %g, want %g", i, got, wantRef)
		}
		if f.Sets[i].NObjects != 1 {
			t.Errorf("set %d has %d objects, want 1", i, f.Sets[i].NObjects)
		}
	}

	// The single cloud tracks itself perfectly across reference times.
	ms := f.MatchingSummary(2, nil, DefaultOverlapThresh)
	for tOff := 0; tOff < 2; tOff++ {
		matches := ms.Matches[tOff][0]
		if len(matches) != 1 {
			t.Fatalf("tOff %d: got %d matches, want 1", tOff, len(matches))
		}
		m := matches[0]
		if m.Object != 0 || m.Type != Linked || m.Overlap != 100 {
			t.Errorf("tOff %d: match = %+v, want object 0 Linked at 100%%", tOff, m)
		}
	}

	chains, lengths := f.SuperObjects(2, DefaultOverlapThresh)
	if len(chains) != 1 {
		t.Fatalf("got %d super-objects, want 1: %v", len(chains), chains)
	}
	if lengths[0] != 3 {
		t.Errorf("super-object length = %d, want 3", lengths[0])
	}
	for i, wantRef := range []int{2, 1, 0} {
		if chains[0][i].RefIndex != wantRef || chains[0][i].Object != 0 {
			t.Errorf("link %d = %+v, want ref %d object 0", i, chains[0][i], wantRef)
		}
	}
}

func TestLinkedObjects(t *testing.T) {
	f := overlapScenario()
	linked := f.LinkedObjects(1, nil, DefaultOverlapThresh)
	if len(linked) != 1 {
		t.Fatalf("got %d chains, want 1", len(linked))
	}
	chain := linked[0]
	if len(chain) != 2 {
		t.Fatalf("chain = %v, want 2 links", chain)
	}
	if chain[0].RefIndex != 1 || chain[0].Object != 0 || chain[0].Overlap != 100 {
		t.Errorf("chain[0] = %+v", chain[0])
	}
	if chain[1].RefIndex != 0 || chain[1].Object != 0 || chain[1].Overlap != 50 {
		t.Errorf("chain[1] = %+v", chain[1])
	}
}
