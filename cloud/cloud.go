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

// Package cloud defines clouds as the coherent objects to be tracked:
// connected regions where cloud liquid water exceeds a threshold.
package cloud

import (
	"fmt"

	"github.com/ctessum/sparse"

	"github.com/cloudphys/advtraj"
)

// Variable is the model field that defines cloud.
const Variable = "q_cloud_liquid_mass"

// DefaultThreshold is the default cloud liquid water threshold (kg/kg).
const DefaultThreshold = 1.0e-5

// InObject returns a predicate marking trajectory points as in-cloud when
// their interpolated cloud liquid water is at or above thresh. The
// diagnostic value returned alongside the mask is the liquid water
// content itself.
func InObject(thresh float64) advtraj.ObjectPredicate {
	return func(tr *advtraj.Trajectories) (*sparse.DenseArrayInt, *sparse.DenseArray) {
		iv := tr.Var(Variable)
		nt, np := tr.NTimes(), tr.NPoints()
		mask := sparse.ZerosDenseInt(nt, np)
		objVar := sparse.ZerosDense(nt, np)
		if iv < 0 {
			return mask, objVar
		}
		for it := 0; it < nt; it++ {
			for k := 0; k < np; k++ {
				q := tr.Data.Get(it, k, iv)
				objVar.Set(q, it, k)
				if q >= thresh {
					mask.Set(1, it, k)
				}
			}
		}
		return mask, objVar
	}
}

// RefPoints returns a reference point generator that seeds one trajectory
// point at every grid cell where cloud liquid water is at or above
// thresh, labeled by cyclic connected-component analysis of the cloud
// mask.
func RefPoints(thresh float64) advtraj.ReferencePointGenerator {
	return func(p advtraj.FieldProvider, source, index int) (*sparse.DenseArray, []int, int, error) {
		fields, _, err := p.Load(source, index, []string{Variable})
		if err != nil {
			return nil, nil, 0, err
		}
		q := fields[len(fields)-1]
		if len(q.Shape) != 3 {
			return nil, nil, 0, fmt.Errorf("cloud: %s has %d dimensions, want 3", Variable, len(q.Shape))
		}
		nx, ny, nz := q.Shape[0], q.Shape[1], q.Shape[2]
		mask := sparse.ZerosDenseInt(nx, ny, nz)
		n := 0
		for ix := 0; ix < nx; ix++ {
			for iy := 0; iy < ny; iy++ {
				for iz := 0; iz < nz; iz++ {
					if q.Get(ix, iy, iz) >= thresh {
						mask.Set(1, ix, iy, iz)
						n++
					}
				}
			}
		}
		if n == 0 {
			return nil, nil, 0, fmt.Errorf("cloud: no cells at or above threshold %v", thresh)
		}
		objLabels, nobjects := advtraj.LabelCyclic(mask)
		pos := sparse.ZerosDense(n, 3)
		labels := make([]int, 0, n)
		k := 0
		for ix := 0; ix < nx; ix++ {
			for iy := 0; iy < ny; iy++ {
				for iz := 0; iz < nz; iz++ {
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
		return pos, labels, nobjects, nil
	}
}
