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

// Package advtraj reconstructs Lagrangian trajectories of fluid parcels
// through a sequence of 3D snapshots of a periodic-domain fluid simulation,
// and tracks coherent objects (contiguous regions satisfying a predicate,
// such as cloudy air) across time.
//
// Positions along the two horizontal axes are phase-encoded: a point's
// fractional position along a periodic axis is stored as the angle of a unit
// vector, represented by its real and imaginary components, so that
// interpolation does not see a discontinuity at the wrap point. The advection
// engine decodes these fields, interpolates them to arbitrary positions, and
// solves for particle positions backward and forward in time from a
// reference snapshot. Objects are identified on the reference snapshot with
// a periodic-aware connected-component labeler, reassembled when split
// across the wrap boundary, and linked across reference times into
// overlap-based lineages.
package advtraj

// Version is the version of this software.
const Version = "0.1.0"
