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

// Package monc provides a trajectory field provider reading MONC-style
// NetCDF model output: an ordered set of files, each holding one or more
// snapshot times of 3D fields including the phase-encoded trajectory
// tracers.
package monc

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/cloudphys/advtraj"
)

// Position tracer variable names for the two known MONC output flavors.
// The first flavor is written by the stand-alone tracer code, the second
// by the Circle-A configuration.
var (
	standaloneTracers = [...]string{
		"tracer_traj_xr", "tracer_traj_xi",
		"tracer_traj_yr", "tracer_traj_yi",
		"tracer_traj_zr",
	}
	circleATracers = [...]string{
		"CA_xrtraj", "CA_xitraj",
		"CA_yrtraj", "CA_yitraj",
		"CA_ztraj",
	}
)

// timeVar is the variable whose leading dimension names the time
// coordinate variable of a file.
const timeVar = "th"

// FileSet is an advtraj.FieldProvider over an ordered list of MONC NetCDF
// output files. Files are opened per call and closed before returning, so
// no handles are held across the thousands of loads in a trajectory
// computation.
type FileSet struct {
	// Files is the list of file names, ordered by model time.
	Files []string
	// RefTheta, if non-nil, is the reference potential temperature
	// profile (one value per model level) added to the "th" field, which
	// MONC stores as a perturbation.
	RefTheta []float64
}

// NewFileSet creates a FileSet from the given files, sorted by the model
// time embedded in their names. MONC names each output file with the final
// model time it contains, as a trailing _<time> component before the
// extension.
func NewFileSet(files []string) *FileSet {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return fileKey(sorted[i]) < fileKey(sorted[j])
	})
	return &FileSet{Files: sorted}
}

// fileKey extracts the model output time from a file name of the form
// *_<time>.<ext>, returning -1 when no time can be parsed. Fractional
// parts of the time are not distinguished from the extension and are
// dropped.
func fileKey(file string) float64 {
	parts := strings.Split(filepath.Base(file), "_")
	f1 := parts[len(parts)-1]
	f2 := strings.SplitN(f1, ".", 2)[0]
	v, err := strconv.ParseFloat(f2, 64)
	if err != nil {
		return -1
	}
	return v
}

// NumSources returns the number of files.
func (fs *FileSet) NumSources() int { return len(fs.Files) }

// NumTimes returns the number of snapshot times in file source.
func (fs *FileSet) NumTimes(source int) (int, error) {
	f, ff, err := fs.open(source)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	ts, err := times(f, ff)
	if err != nil {
		return 0, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
	}
	return len(ts), nil
}

// Load reads the five position tracer fields followed by the requested
// variables at the given file and time index, returning them with the
// snapshot's model time.
func (fs *FileSet) Load(source, index int, vars []string) ([]*sparse.DenseArray, float64, error) {
	f, ff, err := fs.open(source)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	tracers := standaloneTracers
	if len(ff.Header.Lengths(circleATracers[0])) != 0 {
		tracers = circleATracers
	}
	fields := make([]*sparse.DenseArray, 0, len(tracers)+len(vars))
	for _, name := range tracers {
		data, err := readVar3D(ff, name, index)
		if err != nil {
			return nil, 0, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
		}
		fields = append(fields, data)
	}
	for _, name := range vars {
		data, err := readVar3D(ff, name, index)
		if err != nil {
			return nil, 0, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
		}
		if name == "th" && fs.RefTheta != nil {
			addProfile(data, fs.RefTheta)
		}
		fields = append(fields, data)
	}
	ts, err := times(f, ff)
	if err != nil {
		return nil, 0, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
	}
	if index < 0 || index >= len(ts) {
		return nil, 0, fmt.Errorf("monc: %s: time index %d out of range [0,%d)", fs.Files[source], index, len(ts))
	}
	return fields, ts[index], nil
}

// FindTime resolves model time t to a (file, index) pair plus the snapshot
// spacing. When the exact time is not present, the next available time >=
// t is used, advancing through files as needed; if no such time exists the
// returned error wraps advtraj.ErrTimeNotFound.
func (fs *FileSet) FindTime(t float64) (int, int, float64, error) {
	src := -1
	for i, file := range fs.Files {
		if fileKey(file) >= t {
			src = i
			break
		}
	}
	if src < 0 {
		return 0, 0, 0, fmt.Errorf("monc: resolving time %v: %w", t, advtraj.ErrTimeNotFound)
	}
	for ; src < len(fs.Files); src++ {
		ts, err := fs.timesIn(src)
		if err != nil {
			return 0, 0, 0, err
		}
		it := -1
		for i, v := range ts {
			if v == t {
				it = i
				break
			}
		}
		if it < 0 {
			log.Printf("monc: could not find exact time %v in %s", t, fs.Files[src])
			for i, v := range ts {
				if v >= t {
					it = i
					break
				}
			}
		}
		if it < 0 {
			continue // look in the next file
		}
		deltaT, err := fs.spacing(src, ts, it)
		if err != nil {
			return 0, 0, 0, err
		}
		log.Printf("monc: time %v resolved to file %s index %d (time %v, spacing %v)",
			t, filepath.Base(fs.Files[src]), it, ts[it], deltaT)
		return src, it, deltaT, nil
	}
	return 0, 0, 0, fmt.Errorf("monc: resolving time %v: %w", t, advtraj.ErrTimeNotFound)
}

// spacing determines the snapshot spacing at entry it of the time vector
// ts of file src, looking into the next file when src has only one time.
func (fs *FileSet) spacing(src int, ts []float64, it int) (float64, error) {
	if len(ts) > 1 {
		if it == len(ts)-1 {
			return ts[it] - ts[it-1], nil
		}
		return ts[it+1] - ts[it], nil
	}
	if src+1 < len(fs.Files) {
		next, err := fs.timesIn(src + 1)
		if err != nil {
			return 0, err
		}
		if len(next) > 0 {
			return next[0] - ts[0], nil
		}
	}
	return 0, nil
}

func (fs *FileSet) open(source int) (*os.File, *cdf.File, error) {
	if source < 0 || source >= len(fs.Files) {
		return nil, nil, fmt.Errorf("monc: source %d out of range [0,%d)", source, len(fs.Files))
	}
	f, err := os.Open(fs.Files[source])
	if err != nil {
		return nil, nil, err
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
	}
	return f, ff, nil
}

func (fs *FileSet) timesIn(source int) ([]float64, error) {
	f, ff, err := fs.open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ts, err := times(f, ff)
	if err != nil {
		return nil, fmt.Errorf("monc: %s: %v", fs.Files[source], err)
	}
	return ts, nil
}

// times reads the time coordinate of a file: the variable named by the
// leading dimension of timeVar. The time dimension is the record
// dimension, so the record count comes from the file size.
func times(f *os.File, ff *cdf.File) ([]float64, error) {
	dims := ff.Header.Dimensions(timeVar)
	if len(dims) == 0 {
		return nil, fmt.Errorf("reading times: variable %s not in file", timeVar)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading times: %v", err)
	}
	n := int(ff.Header.NumRecs(fi.Size()))
	if n <= 0 {
		return nil, fmt.Errorf("reading times: no records in file")
	}
	r := ff.Reader(dims[0], []int{0}, []int{n})
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading time variable %s: %v", dims[0], err)
	}
	return toFloat64(buf)
}

// readVar3D reads variable name at time index it as an [nx, ny, nz] array.
func readVar3D(ff *cdf.File, name string, it int) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("reading netcdf: variable %v not in file", name)
	}
	dims = dims[1:]
	nread := 1
	for _, dim := range dims {
		nread *= dim
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = it, it+1
	r := ff.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading netcdf variable %s: %v", name, err)
	}
	vals, err := toFloat64(buf)
	if err != nil {
		return nil, fmt.Errorf("reading netcdf variable %s: %v", name, err)
	}
	data := sparse.ZerosDense(dims...)
	copy(data.Elements, vals)
	return data, nil
}

// addProfile adds a per-level reference profile to a 3D [nx, ny, nz]
// perturbation field.
func addProfile(data *sparse.DenseArray, prof []float64) {
	nz := data.Shape[2]
	for i, v := range data.Elements {
		data.Elements[i] = v + prof[i%nz]
	}
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported netcdf data type %T", buf)
	}
}
