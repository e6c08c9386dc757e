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
	"io"
	"log"

	"github.com/ctessum/sparse"
)

// ErrTimeNotFound is returned by FieldProvider.FindTime when a requested
// model time cannot be resolved in any source. Trajectory construction
// cannot proceed without a resolved reference time, so this error is fatal.
var ErrTimeNotFound = errors.New("advtraj: time not found in any source")

// FieldProvider supplies 3D model snapshot fields to the trajectory
// sequencer. A provider exposes an ordered set of sources (typically model
// output files), each holding one or more time indices. Implementations
// should acquire underlying resources per call and release them before
// returning, since a trajectory computation makes thousands of sequential
// loads.
type FieldProvider interface {
	// NumSources returns the number of snapshot sources.
	NumSources() int
	// NumTimes returns the number of time indices in the given source.
	NumTimes(source int) (int, error)
	// Load returns the five phase-encoded position-tracer fields (x real,
	// x imaginary, y real, y imaginary, raw z), followed by one field per
	// entry of vars, together with the model time of the snapshot.
	Load(source, index int, vars []string) ([]*sparse.DenseArray, float64, error)
	// FindTime resolves a model time to a (source, index) pair and the
	// time spacing between adjacent snapshots. When the exact time is
	// absent it falls back to the next available time >= t, advancing to
	// the next source if necessary; if that fails it returns an error
	// wrapping ErrTimeNotFound.
	FindTime(t float64) (source, index int, deltaT float64, err error)
}

// ReferencePointGenerator returns the initial point set for a reference
/// snapshot: particle positions [n, 3] in grid units, an object label per
// particle, and the object count. Implementations typically threshold a
// model field and use LabelCyclic and UnsplitObject to form the objects.
type ReferencePointGenerator func(p FieldProvider, source, index int) (pos *sparse.DenseArray, labels []int, nobjects int, err error)

// ObjectPredicate reports which trajectory points are inside their object
// at each time, along with a continuous diagnostic value per point (for
// example cloud liquid water content). Both returned arrays have shape
// [ntimes, npoints].
type ObjectPredicate func(tr *Trajectories) (*sparse.DenseArrayInt, *sparse.DenseArray)

// TrajectoryConfig holds the parameters of one trajectory-set computation.
type TrajectoryConfig struct {
	// StartTime is the model time at which back trajectories end.
	StartTime float64
	// RefTime is the reference time from which both backward and forward
	// integration originate.
	RefTime float64
	// EndTime is the model time at which forward trajectories end.
	EndTime float64
	// Variables are the names of model fields to interpolate to the
	// trajectory points.
	Variables []string
	// Interp configures the field interpolation.
	Interp InterpConfig
	// Debug enables verbose diagnostic logging.
	Debug bool
}

// Trajectories is a completed set of back and forward trajectories with a
// common reference time, together with per-object summaries. All arrays
// are owned by the Trajectories and must be treated as read-only by
// consumers.
type Trajectories struct {
	// Trajectory holds positions with shape [ntimes, npoints, 3].
	Trajectory *sparse.DenseArray
	// TrajError holds the per-point advection residual, zero at the
	// reference step and for all backward steps. Shape [ntimes, npoints, 3].
	TrajError *sparse.DenseArray
	// Data holds interpolated variable values, shape
	// [ntimes, npoints, len(Variables)].
	Data *sparse.DenseArray
	// Times holds the model time of each step; Times[0] is the earliest.
	Times []float64
	// Ref is the index into Times of the reference time.
	Ref int
	// End is the index of the latest time (len(Times)-1).
	End int
	// DeltaT is the model time spacing between steps.
	DeltaT float64

	// Labels assigns each point an object in [0, NObjects); -1 if none.
	Labels []int
	// NObjects is the number of labeled objects.
	NObjects int

	// Variables names the slices of Data.
	Variables []string

	// Grid is the model grid the trajectories were computed on.
	Grid *Grid

	// Per-object summaries, computed with the ObjectPredicate.
	// DataMean and InObjDataMean have shape [ntimes, NObjects, nvars];
	// ObjVarMean [ntimes, NObjects]; Centroid, InObjCentroid
	// [ntimes, NObjects, 3]; Box and InObjBox [ntimes, NObjects, 2, 3]
	// (min corner, max corner).
	DataMean      *sparse.DenseArray
	InObjDataMean *sparse.DenseArray
	ObjVarMean    *sparse.DenseArray
	NumInObj      *sparse.DenseArrayInt
	Centroid      *sparse.DenseArray
	InObjCentroid *sparse.DenseArray
	Box           *sparse.DenseArray
	InObjBox      *sparse.DenseArray

	// MaxAtRef lists the objects whose mean diagnostic value peaks at the
	// reference time.
	MaxAtRef []int

	pred      ObjectPredicate
	inObjMask *sparse.DenseArrayInt // [ntimes, npoints]
	objVar    *sparse.DenseArray    // [ntimes, npoints]
}

// NTimes returns the number of time steps.
func (tr *Trajectories) NTimes() int { return len(tr.Times) }

// NPoints returns the number of trajectory points.
func (tr *Trajectories) NPoints() int {
	if len(tr.Trajectory.Shape) < 2 {
		return 0
	}
	return tr.Trajectory.Shape[1]
}

func (tr *Trajectories) String() string {
	return fmt.Sprintf("Trajectories reference time %v: times %d, points %d, objects %d",
		tr.Times[tr.Ref], tr.NTimes(), tr.NPoints(), tr.NObjects)
}

// Var returns the index of the named variable in Data, or -1.
func (tr *Trajectories) Var(name string) int {
	for i, v := range tr.Variables {
		if v == name {
			return i
		}
	}
	return -1
}

// ObjectPoints returns the indices of the points labeled iobj.
func (tr *Trajectories) ObjectPoints(iobj int) []int {
	var sel []int
	for k, l := range tr.Labels {
		if l == iobj {
			sel = append(sel, k)
		}
	}
	return sel
}

// sequencer states.
type seqState int

const (
	seqBackward seqState = iota
	seqForward
	seqDone
)

// ComputeTrajectories builds a trajectory set: it locates the reference
// time, generates the reference point set, integrates backward to
// cfg.StartTime and forward to cfg.EndTime, gathers periodically split
// objects, and computes per-object summaries using pred.
//
// Running out of source data in either direction truncates the trajectory
// with a logged diagnostic; an unresolvable reference time is fatal.
func ComputeTrajectories(p FieldProvider, cfg TrajectoryConfig, refGen ReferencePointGenerator, pred ObjectPredicate) (*Trajectories, error) {
	refSrc, refIdx, deltaT, err := p.FindTime(cfg.RefTime)
	if err != nil {
		return nil, err
	}
	fields, refTime, err := p.Load(refSrc, refIdx, cfg.Variables)
	if err != nil {
		return nil, fmt.Errorf("advtraj: loading reference snapshot: %v", err)
	}
	if len(fields) != numPosVars+len(cfg.Variables) {
		return nil, fmt.Errorf("advtraj: provider returned %d fields, want %d",
			len(fields), numPosVars+len(cfg.Variables))
	}
	grid := NewGrid(fields[0].Shape[0], fields[0].Shape[1], fields[0].Shape[2])
	solver, err := NewSolver(grid, cfg.Interp, cfg.Debug)
	if err != nil {
		return nil, err
	}

	refPos, labels, nobjects, err := refGen(p, refSrc, refIdx)
	if err != nil {
		return nil, fmt.Errorf("advtraj: generating reference points: %v", err)
	}
	log.Printf("advtraj: computing trajectories from %v to %v with reference %v: %d points in %d objects",
		cfg.StartTime, cfg.EndTime, refTime, refPos.Shape[0], nobjects)

	// Interpolate the requested variables to the reference points.
	out, err := solver.interp.Sample(fields, refPos)
	if err != nil {
		return nil, err
	}

	// Append-only step sequences, assembled into contiguous arrays once
	// both directions are complete.
	positions := []*sparse.DenseArray{refPos}
	residuals := []*sparse.DenseArray{sparse.ZerosDense(refPos.Shape[0], 3)}
	data := [][][]float64{out[numPosVars:]}
	times := []float64{refTime}

	state := seqBackward
	src, idx := refSrc, refIdx
	for state != seqDone {
		switch state {
		case seqBackward:
			if times[0] <= cfg.StartTime {
				state = seqForward
				src, idx = refSrc, refIdx
				continue
			}
			ok, err := retreat(p, &src, &idx)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Printf("advtraj: ran out of data going backward at time %v; trajectory truncated", times[0])
				state = seqForward
				src, idx = refSrc, refIdx
				continue
			}
			fields, t, err := p.Load(src, idx, cfg.Variables)
			if err != nil {
				return nil, fmt.Errorf("advtraj: backward step at source %d index %d: %v", src, idx, err)
			}
			if cfg.Debug {
				log.Printf("advtraj: backward step to time %v (source %d, index %d)", t, src, idx)
			}
			newPos, stepData, err := solver.BackStep(fields, positions[0])
			if err != nil {
				return nil, err
			}
			positions = prepend(positions, newPos)
			residuals = prepend(residuals, sparse.ZerosDense(newPos.Shape[0], 3))
			data = append([][][]float64{stepData}, data...)
			times = append([]float64{t}, times...)

		case seqForward:
			if times[len(times)-1] >= cfg.EndTime {
				state = seqDone
				continue
			}
			ok, err := advance(p, &src, &idx)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Printf("advtraj: ran out of data going forward at time %v; trajectory truncated", times[len(times)-1])
				state = seqDone
				continue
			}
			fields, t, err := p.Load(src, idx, cfg.Variables)
			if err != nil {
				return nil, fmt.Errorf("advtraj: forward step at source %d index %d: %v", src, idx, err)
			}
			if cfg.Debug {
				log.Printf("advtraj: forward step to time %v (source %d, index %d)", t, src, idx)
			}
			known := positions[len(positions)-1]
			seed := extrapolate(positions)
			est, diff, stepData, niter, err := solver.ForwardStep(fields, known, seed)
			if err != nil {
				return nil, err
			}
			if cfg.Debug {
				log.Printf("advtraj: forward step used %d field evaluations", niter)
			}
			positions = append(positions, est)
			residuals = append(residuals, diff)
			data = append(data, stepData)
			times = append(times, t)
		}
	}

	tr := assemble(positions, residuals, data, times, cfg.Variables, grid)
	tr.DeltaT = deltaT
	tr.Labels = labels
	tr.NObjects = nobjects
	tr.pred = pred
	for i, t := range times {
		if t == refTime {
			tr.Ref = i
			break
		}
	}
	tr.End = len(times) - 1

	log.Println("advtraj: gathering split objects")
	UnsplitObjects(tr.Trajectory, tr.Labels, tr.NObjects, grid.Nx, grid.Ny)

	if pred != nil {
		tr.computeSummaries()
	}
	return tr, nil
}

// retreat moves (src, idx) one time index backward, crossing source
// boundaries, re-detecting the number of indices in each newly entered
// source. It reports false when the data is exhausted.
func retreat(p FieldProvider, src, idx *int) (bool, error) {
	*idx--
	for *idx < 0 {
		*src--
		if *src < 0 {
			return false, nil
		}
		n, err := p.NumTimes(*src)
		if err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, fmt.Errorf("advtraj: detecting times in source %d: %v", *src, err)
		}
		*idx = n - 1
	}
	return true, nil
}

// advance is the forward counterpart of retreat.
func advance(p FieldProvider, src, idx *int) (bool, error) {
	n, err := p.NumTimes(*src)
	if err != nil {
		return false, fmt.Errorf("advtraj: detecting times in source %d: %v", *src, err)
	}
	*idx++
	for *idx >= n {
		*src++
		if *src >= p.NumSources() {
			return false, nil
		}
		n, err = p.NumTimes(*src)
		if err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, fmt.Errorf("advtraj: detecting times in source %d: %v", *src, err)
		}
		*idx = 0
	}
	return true, nil
}

// extrapolate seeds the next forward estimate by linear extrapolation of
// the two most recent positions, 2*p[t] - p[t-1], wrapped into the domain
// by the solver. With a single known position the seed is that position.
func extrapolate(positions []*sparse.DenseArray) *sparse.DenseArray {
	last := positions[len(positions)-1]
	if len(positions) < 2 {
		return last.Copy()
	}
	prev := positions[len(positions)-2]
	seed := sparse.ZerosDense(last.Shape...)
	for i := range seed.Elements {
		seed.Elements[i] = 2*last.Elements[i] - prev.Elements[i]
	}
	return seed
}

func prepend(s []*sparse.DenseArray, v *sparse.DenseArray) []*sparse.DenseArray {
	return append([]*sparse.DenseArray{v}, s...)
}

// assemble concatenates the per-step arrays into the final contiguous
// trajectory arrays.
func assemble(positions, residuals []*sparse.DenseArray, data [][][]float64, times []float64, vars []string, grid *Grid) *Trajectories {
	nt := len(times)
	np := positions[0].Shape[0]
	nv := len(vars)
	tr := &Trajectories{
		Trajectory: sparse.ZerosDense(nt, np, 3),
		TrajError:  sparse.ZerosDense(nt, np, 3),
		Data:       sparse.ZerosDense(nt, np, nv),
		Times:      times,
		Variables:  vars,
		Grid:       grid,
	}
	for it := 0; it < nt; it++ {
		for k := 0; k < np; k++ {
			for c := 0; c < 3; c++ {
				tr.Trajectory.Set(positions[it].Get(k, c), it, k, c)
				tr.TrajError.Set(residuals[it].Get(k, c), it, k, c)
			}
			for v := 0; v < nv; v++ {
				tr.Data.Set(data[it][v][k], it, k, v)
			}
		}
	}
	return tr
}

// computeSummaries fills the per-object mean, count, centroid and
// bounding-box arrays, and the MaxAtRef list, using the object predicate.
// Objects with no in-object points at a time are skipped for the in-object
// summaries at that time; objects with no in-object points at the
// reference time are reported.
func (tr *Trajectories) computeSummaries() {
	nt := tr.NTimes()
	nv := len(tr.Variables)
	nobj := tr.NObjects

	tr.DataMean = sparse.ZerosDense(nt, nobj, nv)
	tr.InObjDataMean = sparse.ZerosDense(nt, nobj, nv)
	tr.ObjVarMean = sparse.ZerosDense(nt, nobj)
	tr.NumInObj = sparse.ZerosDenseInt(nt, nobj)
	tr.Centroid = sparse.ZerosDense(nt, nobj, 3)
	tr.InObjCentroid = sparse.ZerosDense(nt, nobj, 3)
	tr.Box = sparse.ZerosDense(nt, nobj, 2, 3)
	tr.InObjBox = sparse.ZerosDense(nt, nobj, 2, 3)

	tr.inObjMask, tr.objVar = tr.pred(tr)

	for iobj := 0; iobj < nobj; iobj++ {
		sel := tr.ObjectPoints(iobj)
		if len(sel) == 0 {
			continue
		}
		for it := 0; it < nt; it++ {
			// All-point summaries.
			for c := 0; c < 3; c++ {
				lo, hi := tr.Trajectory.Get(it, sel[0], c), tr.Trajectory.Get(it, sel[0], c)
				sum := 0.0
				for _, k := range sel {
					v := tr.Trajectory.Get(it, k, c)
					sum += v
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
				tr.Centroid.Set(sum/float64(len(sel)), it, iobj, c)
				tr.Box.Set(lo, it, iobj, 0, c)
				tr.Box.Set(hi, it, iobj, 1, c)
			}
			for v := 0; v < nv; v++ {
				sum := 0.0
				for _, k := range sel {
					sum += tr.Data.Get(it, k, v)
				}
				tr.DataMean.Set(sum/float64(len(sel)), it, iobj, v)
			}

			// In-object summaries.
			var in []int
			for _, k := range sel {
				if tr.inObjMask.Get(it, k) != 0 {
					in = append(in, k)
				}
			}
			tr.NumInObj.Set(len(in), it, iobj)
			if len(in) == 0 {
				continue
			}
			for c := 0; c < 3; c++ {
				lo, hi := tr.Trajectory.Get(it, in[0], c), tr.Trajectory.Get(it, in[0], c)
				sum := 0.0
				for _, k := range in {
					v := tr.Trajectory.Get(it, k, c)
					sum += v
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
				tr.InObjCentroid.Set(sum/float64(len(in)), it, iobj, c)
				tr.InObjBox.Set(lo, it, iobj, 0, c)
				tr.InObjBox.Set(hi, it, iobj, 1, c)
			}
			for v := 0; v < nv; v++ {
				sum := 0.0
				for _, k := range in {
					sum += tr.Data.Get(it, k, v)
				}
				tr.InObjDataMean.Set(sum/float64(len(in)), it, iobj, v)
			}
			sum := 0.0
			for _, k := range in {
				sum += tr.objVar.Get(it, k)
			}
			tr.ObjVarMean.Set(sum/float64(len(in)), it, iobj)
		}
		if tr.NumInObj.Get(tr.Ref, iobj) == 0 {
			log.Printf("advtraj: object %d has no in-object points at the reference time", iobj)
		}
	}

	// Objects whose mean diagnostic peaks at the reference time.
	tr.MaxAtRef = tr.MaxAtRef[:0]
	for iobj := 0; iobj < nobj; iobj++ {
		max := tr.ObjVarMean.Get(0, iobj)
		for it := 1; it < nt; it++ {
			if v := tr.ObjVarMean.Get(it, iobj); v > max {
				max = v
			}
		}
		if tr.ObjVarMean.Get(tr.Ref, iobj) == max && tr.NumInObj.Get(tr.Ref, iobj) > 0 {
			tr.MaxAtRef = append(tr.MaxAtRef, iobj)
		}
	}
}

// objectCellIDs returns the flattened grid-cell identities occupied by the
// in-object points among sel at time it. Positions are rounded to the
// nearest cell and wrapped into the domain.
func (tr *Trajectories) objectCellIDs(it int, sel []int) map[int]bool {
	cells := make(map[int]bool)
	for _, k := range sel {
		if tr.inObjMask.Get(it, k) == 0 {
			continue
		}
		ix := wrapIndex(int(tr.Trajectory.Get(it, k, 0)+0.5), tr.Grid.Nx)
		iy := wrapIndex(int(tr.Trajectory.Get(it, k, 1)+0.5), tr.Grid.Ny)
		iz := clampIndex(int(tr.Trajectory.Get(it, k, 2)+0.5), tr.Grid.Nz)
		cells[tr.Grid.CellID(ix, iy, iz)] = true
	}
	return cells
}
