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
	"log"
	"strings"
)

// DefaultOverlapThresh is the default fractional point-set overlap above
// which two objects at different reference times are considered matching.
const DefaultOverlapThresh = 0.02

// Family is an ordered list of trajectory sets with sequential, strictly
// increasing reference times. It owns only indices into its Trajectories;
// no point data is duplicated.
type Family struct {
	Sets []*Trajectories
}

// FamilyConfig holds the parameters of a trajectory-family computation.
type FamilyConfig struct {
	// FirstRefTime and LastRefTime bound the reference times; one
	// trajectory set is computed per snapshot time in [first, last].
	FirstRefTime, LastRefTime float64
	// BackLen and ForwardLen are the model-time spans to integrate
	// backward and forward from each reference time.
	BackLen, ForwardLen float64
	// Variables are the model fields to interpolate to trajectory points.
	Variables []string
	// Interp configures field interpolation.
	Interp InterpConfig
	// Debug enables verbose diagnostic logging.
	Debug bool
}

// NewFamily computes a family of trajectory sets, one per reference time
// between FirstRefTime and LastRefTime at the snapshot spacing detected
// from the provider.
func NewFamily(p FieldProvider, cfg FamilyConfig, refGen ReferencePointGenerator, pred ObjectPredicate) (*Family, error) {
	_, _, deltaT, err := p.FindTime(cfg.FirstRefTime)
	if err != nil {
		return nil, err
	}
	if deltaT <= 0 {
		return nil, fmt.Errorf("advtraj: family: non-positive snapshot spacing %v", deltaT)
	}
	f := new(Family)
	for ref := cfg.FirstRefTime; ref <= cfg.LastRefTime+deltaT/2; ref += deltaT {
		log.Printf("advtraj: trajectories for reference time %v", ref)
		tr, err := ComputeTrajectories(p, TrajectoryConfig{
			StartTime: ref - cfg.BackLen,
			RefTime:   ref,
			EndTime:   ref + cfg.ForwardLen,
			Variables: cfg.Variables,
			Interp:    cfg.Interp,
			Debug:     cfg.Debug,
		}, refGen, pred)
		if err != nil {
			return nil, err
		}
		f.Sets = append(f.Sets, tr)
	}
	return f, nil
}

func (f *Family) String() string {
	var b strings.Builder
	b.WriteString("Trajectory family\n")
	for _, tr := range f.Sets {
		fmt.Fprintf(&b, "  %v\n", tr)
	}
	return b.String()
}

// MatchingObjects lists, for every trajectory set with an earlier reference
// time than masterRef, the candidate matching objects at all times they
// match, determined by overlap of the restricted (in-object) bounding
// boxes.
//
// Matches[tOff][itBack][i] holds the ids of objects in set
// masterRef-(tOff+1) whose box overlaps that of master object Objects[i],
// itBack steps before the master reference time.
type MatchingObjects struct {
	MasterRef int
	Objects   []int
	Matches   [][][][]int
}

// MatchingObjects finds candidate object matches for the master set against
// every earlier set, by restricted-box overlap with periodic wrap. sel
// selects the master objects to match; nil means all.
func (f *Family) MatchingObjects(masterRef int, sel []int) *MatchingObjects {
	master := f.Sets[masterRef]
	if sel == nil {
		sel = allObjects(master)
	}
	mo := &MatchingObjects{MasterRef: masterRef, Objects: sel}
	for tOff := 0; tOff < masterRef; tOff++ {
		match := f.Sets[masterRef-(tOff+1)]
		perTime := make([][][]int, 0, master.Ref+1)
		for itBack := 0; itBack <= master.Ref; itBack++ {
			refTime := master.Ref - itBack
			matchTime := match.Ref + (tOff + 1) - itBack
			perObj := make([][]int, len(sel))
			for i, iobj := range sel {
				if master.NumInObj.Get(refTime, iobj) == 0 {
					continue
				}
				if matchTime < 0 || matchTime >= match.NTimes() {
					continue
				}
				perObj[i] = overlappingBoxes(master, refTime, iobj, match, matchTime)
			}
			perTime = append(perTime, perObj)
		}
		mo.Matches = append(mo.Matches, perTime)
	}
	return mo
}

// overlappingBoxes returns the ids of objects in match whose restricted box
// at matchTime overlaps the restricted box of master object iobj at
// refTime, excluding objects with no in-object points then.
func overlappingBoxes(master *Trajectories, refTime, iobj int, match *Trajectories, matchTime int) []int {
	var out []int
	for mobj := 0; mobj < match.NObjects; mobj++ {
		if match.NumInObj.Get(matchTime, mobj) == 0 {
			continue
		}
		xOK := intervalOverlapWrap(
			master.InObjBox.Get(refTime, iobj, 0, 0), master.InObjBox.Get(refTime, iobj, 1, 0),
			match.InObjBox.Get(matchTime, mobj, 0, 0), match.InObjBox.Get(matchTime, mobj, 1, 0),
			master.Grid.Nx)
		if !xOK {
			continue
		}
		yOK := intervalOverlapWrap(
			master.InObjBox.Get(refTime, iobj, 0, 1), master.InObjBox.Get(refTime, iobj, 1, 1),
			match.InObjBox.Get(matchTime, mobj, 0, 1), match.InObjBox.Get(matchTime, mobj, 1, 1),
			master.Grid.Ny)
		if yOK {
			out = append(out, mobj)
		}
	}
	return out
}

// intervalOverlap reports whether [amin, amax] and [bmin, bmax] overlap:
// either endpoint of one contained in the other, or either interval
// containing the other.
func intervalOverlap(amin, amax, bmin, bmax float64) bool {
	t1 := amin >= bmin && amin <= bmax
	t2 := amax >= bmin && amax <= bmax
	t3 := amin <= bmin && amax >= bmax
	t4 := amin >= bmin && amax <= bmax
	return t1 || t2 || t3 || t4
}

// intervalOverlapWrap is intervalOverlap on a periodic axis of length n:
// declustered boxes may extend past the domain edge, so the test interval
// is also tried shifted by a whole domain length either way.
func intervalOverlapWrap(amin, amax, bmin, bmax float64, n int) bool {
	if intervalOverlap(amin, amax, bmin, bmax) {
		return true
	}
	L := float64(n)
	return intervalOverlap(amin+L, amax+L, bmin, bmax) ||
		intervalOverlap(amin-L, amax-L, bmin, bmax)
}

// MatchType classifies a cross-time object match.
type MatchType int

const (
	// Same means mere spatial overlap with the earlier object.
	Same MatchType = iota
	// Linked means the earlier object is itself a locally maximal object:
	// it reaches its defining-property maximum at its own reference time.
	Linked
)

func (t MatchType) String() string {
	if t == Linked {
		return "Linked"
	}
	return "Same"
}

// Match is one object in an earlier trajectory set matching a master
// object, with the percentage point-set overlap that confirmed it.
type Match struct {
	Object  int
	Type    MatchType
	Overlap int
}

// MatchingSummary classifies, per earlier set and per master object, the
// earlier objects that match at any time: Matches[tOff][i] lists matches of
// master object Objects[i] in set MasterRef-(tOff+1).
type MatchingSummary struct {
	MasterRef int
	Objects   []int
	Matches   [][][]Match
}

func (s *MatchingSummary) String() string {
	var b strings.Builder
	for tOff := range s.Matches {
		for i, iobj := range s.Objects {
			if len(s.Matches[tOff][i]) == 0 {
				continue
			}
			fmt.Fprintf(&b, "tOff: %d obj: %d matches:", tOff, iobj)
			for _, m := range s.Matches[tOff][i] {
				fmt.Fprintf(&b, " (%d, %v, %02d)", m.Object, m.Type, m.Overlap)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// MatchingSummary refines the candidate matches of MatchingObjects by true
// point-set intersection and classifies each confirmed match. An earlier
// object counts as a match only when the fractional overlap of occupied
// grid cells exceeds thresh.
func (f *Family) MatchingSummary(masterRef int, sel []int, thresh float64) *MatchingSummary {
	master := f.Sets[masterRef]
	if sel == nil {
		sel = allObjects(master)
	}
	mo := f.MatchingObjects(masterRef, sel)
	ms := &MatchingSummary{MasterRef: masterRef, Objects: sel}
	for tOff, perTime := range mo.Matches {
		match := f.Sets[masterRef-(tOff+1)]
		perObj := make([][]Match, len(sel))
		for i, iobj := range sel {
			seen := make(map[int]bool)
			for itBack := range perTime {
				for _, mobj := range perTime[itBack][i] {
					if seen[mobj] {
						continue
					}
					seen[mobj] = true
					inter := f.RefineObjectOverlap(tOff, itBack, iobj, mobj, masterRef)
					if inter <= thresh {
						continue
					}
					mt := Same
					if contains(match.MaxAtRef, mobj) {
						mt = Linked
					}
					perObj[i] = append(perObj[i], Match{
						Object:  mobj,
						Type:    mt,
						Overlap: int(inter*100 + 0.5),
					})
				}
			}
		}
		ms.Matches = append(ms.Matches, perObj)
	}
	return ms
}

// RefineObjectOverlap estimates the degree of overlap between master object
// obj at itBack steps before the master reference time and object mobj of
// the set tOff+1 references earlier, at the same model time. The overlap is
// the number of grid cells occupied by in-object points of both, divided by
// the larger occupied-cell count.
func (f *Family) RefineObjectOverlap(tOff, itBack, obj, mobj, masterRef int) float64 {
	master := f.Sets[masterRef]
	match := f.Sets[masterRef-(tOff+1)]
	mTime := master.Ref - itBack
	cTime := match.Ref + (tOff + 1) - itBack
	if mTime < 0 || mTime >= master.NTimes() || cTime < 0 || cTime >= match.NTimes() {
		return 0
	}
	a := master.objectCellIDs(mTime, master.ObjectPoints(obj))
	b := match.objectCellIDs(cTime, match.ObjectPoints(mobj))
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	if max == 0 {
		return 0
	}
	n := 0
	for c := range a {
		if b[c] {
			n++
		}
	}
	return float64(n) / float64(max)
}

// Link is one object in a lineage: the trajectory-set index it belongs to,
// its object id there, and the percentage overlap linking it to the next
// object in the chain.
type Link struct {
	RefIndex int
	Object   int
	Overlap  int
}

// LinkedObjects returns, for each selected master object (default: the
// master MaxAtRef list), the chain of 'Linked' objects found in earlier
// sets, starting with the object itself at 100% overlap.
func (f *Family) LinkedObjects(masterRef int, sel []int, thresh float64) [][]Link {
	if sel == nil {
		sel = f.Sets[masterRef].MaxAtRef
	}
	ms := f.MatchingSummary(masterRef, sel, thresh)
	linked := make([][]Link, len(sel))
	for i, iobj := range sel {
		linked[i] = append(linked[i], Link{RefIndex: masterRef, Object: iobj, Overlap: 100})
		for tOff := range ms.Matches {
			for _, m := range ms.Matches[tOff][i] {
				if m.Type == Linked {
					linked[i] = append(linked[i], Link{
						RefIndex: masterRef - tOff - 1,
						Object:   m.Object,
						Overlap:  m.Overlap,
					})
				}
			}
		}
	}
	return linked
}

// SuperObjects assembles chains of objects linked contiguously across
// reference times, starting from the master MaxAtRef list and walking
// 'Linked' edges backward one reference time at a time. A chain is closed
// when its earliest object has no linked predecessor; chains merge when an
// earlier object is already part of a previously started chain. It returns
// the chains, each a time-ordered sequence of links, plus their lengths.
func (f *Family) SuperObjects(masterRef int, thresh float64) ([][]Link, []int) {
	log.Println("advtraj: finding super-objects")
	sel := f.Sets[masterRef].MaxAtRef
	var super [][]Link
	var incomplete [][]Link
	var incompleteIDs []int
	for newRef := masterRef; newRef >= 1; newRef-- {
		supObj := f.stepObjectsBack(newRef, sel, thresh)
		nextLevel := f.Sets[newRef-1].MaxAtRef
		var newIncomplete [][]Link
		var newIDs []int
		for _, obj := range supObj {
			j := indexOf(incompleteIDs, obj[0].Object)
			if len(obj) == 1 {
				// Chain terminates at this level.
				if j >= 0 {
					super = append(super, incomplete[j])
				} else {
					super = append(super, obj)
				}
			} else {
				if j >= 0 {
					incomplete[j] = append(incomplete[j], obj[1])
					newIncomplete = append(newIncomplete, incomplete[j])
				} else {
					newIncomplete = append(newIncomplete, obj)
				}
				last := newIncomplete[len(newIncomplete)-1]
				newIDs = append(newIDs, last[len(last)-1].Object)
			}
		}
		incomplete, incompleteIDs = newIncomplete, newIDs
		sel = nextLevel
	}
	super = append(super, incomplete...)
	lengths := make([]int, len(super))
	for i, s := range super {
		lengths[i] = len(s)
	}
	return super, lengths
}

// stepObjectsBack finds, for each object in objs at reference newRef, the
// locally maximal objects one reference time earlier that overlap it above
// thresh at the shared time immediately before the newRef reference.
func (f *Family) stepObjectsBack(newRef int, objs []int, thresh float64) [][]Link {
	mo := f.MatchingObjects(newRef, objs)
	out := make([][]Link, len(objs))
	const tOff, itBack = 0, 0
	for i, iobj := range objs {
		out[i] = append(out[i], Link{RefIndex: newRef, Object: iobj, Overlap: 100})
		if len(mo.Matches) == 0 {
			continue
		}
		for _, mobj := range mo.Matches[tOff][itBack][i] {
			inter := f.RefineObjectOverlap(tOff, itBack, iobj, mobj, newRef)
			if inter > thresh && contains(f.Sets[newRef-1].MaxAtRef, mobj) {
				out[i] = append(out[i], Link{
					RefIndex: newRef - 1,
					Object:   mobj,
					Overlap:  int(inter*100 + 0.5),
				})
			}
		}
	}
	return out
}

func allObjects(tr *Trajectories) []int {
	sel := make([]int, tr.NObjects)
	for i := range sel {
		sel[i] = i
	}
	return sel
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
