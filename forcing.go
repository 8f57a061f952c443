/*
Copyright © 2018 the Meso authors.
This file is part of Meso.

Meso is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Meso is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Meso.  If not, see <http://www.gnu.org/licenses/>.
*/

package meso

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ctessum/sparse"
)

// ForcingData is one time step of the coarse forcing dataset: the
// forcing grid's coordinate and height arrays plus the raw variable
// arrays keyed by forcing-variable name. The interpolation machinery
// builds lookup tables against the coordinates and never mutates the
// snapshot.
type ForcingData struct {
	Time time.Time

	// Cell-center coordinates of the forcing grid [j,i].
	Lon, Lat *sparse.DenseArray

	// Z holds the forcing grid's 3D heights [k,j,i], on the forcing
	// dataset's native levels.
	Z *sparse.DenseArray

	// Vars holds the per-variable raw arrays, 2D [j,i] or
	// 3D [k,j,i] on native forcing levels.
	Vars map[string]*sparse.DenseArray
}

// Var returns the named raw array.
func (f *ForcingData) Var(name string) (*sparse.DenseArray, error) {
	d, ok := f.Vars[name]
	if !ok {
		return nil, ErrVarNotFound{Var: name}
	}
	return d, nil
}

// NextForcing is a function returning the forcing snapshot for the next
// forcing time step. When there are no more time steps it returns the
// io.EOF error.
type NextForcing func() (*ForcingData, error)

// forcingDateFormat is how dates appear in forcing file names.
const forcingDateFormat = "2006-01-02_15:04:05"

// ForcingCoords names the coordinate and height variables of the
// forcing dataset.
type ForcingCoords struct {
	Lon, Lat, Z string
}

// NextForcingNCF returns a NextForcing that walks a series of NetCDF
// forcing files whose names follow fileTemplate, where the [DATE]
// wildcard is replaced with each file's start date. recordDelta and
// fileDelta give the time between records and between files. The named
// variables plus the coordinate/height variables are read at each step.
func NextForcingNCF(fileTemplate string, coords ForcingCoords, varNames []string,
	start, end time.Time, recordDelta, fileDelta time.Duration) NextForcing {
	recordsPerFile := int(fileDelta / recordDelta)
	var rec int
	date := start
	fileDate := start
	return func() (*ForcingData, error) {
		if !date.Before(end) {
			return nil, io.EOF
		}
		fname := strings.Replace(fileTemplate, "[DATE]", fileDate.Format(forcingDateFormat), -1)
		r, err := OpenNCF(fname)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		out := &ForcingData{
			Time: date,
			Vars: make(map[string]*sparse.DenseArray, len(varNames)),
		}
		if out.Lon, err = readCoord(r, coords.Lon, rec, 2); err != nil {
			return nil, fmt.Errorf("meso: forcing longitude: %v", err)
		}
		if out.Lat, err = readCoord(r, coords.Lat, rec, 2); err != nil {
			return nil, fmt.Errorf("meso: forcing latitude: %v", err)
		}
		if out.Z, err = readCoord(r, coords.Z, rec, 3); err != nil {
			return nil, fmt.Errorf("meso: forcing heights: %v", err)
		}
		for _, name := range varNames {
			d, err := readRecord(r, name, rec)
			if err != nil {
				return nil, err
			}
			out.Vars[name] = d
		}

		rec++
		date = date.Add(recordDelta)
		if rec == recordsPerFile {
			rec = 0
			fileDate = fileDate.Add(fileDelta)
		}
		return out, nil
	}
}

// readCoord reads a coordinate variable of the given spatial rank.
// WRF-style files carry the time dimension on their coordinate
// variables too, so when the variable has extra leading dimensions the
// current record is read; a variable holding only its spatial
// dimensions is read whole.
func readCoord(r *NCFReader, varName string, rec, rank int) (*sparse.DenseArray, error) {
	dims := r.ff.Header.Lengths(varName)
	if len(dims) == 0 {
		return nil, ErrVarNotFound{Var: varName}
	}
	if len(dims) > rank {
		return readRecord(r, varName, rec)
	}
	return r.Read(varName)
}

// readRecord reads one time record of the named variable.
func readRecord(r *NCFReader, varName string, rec int) (*sparse.DenseArray, error) {
	dims := r.ff.Header.Lengths(varName)
	if len(dims) == 0 {
		return nil, ErrVarNotFound{Var: varName}
	}
	dims = dims[1:]
	n := 1
	for _, d := range dims {
		n *= d
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = rec, rec+1
	rr := r.ff.Reader(varName, start, end)
	buf := rr.Zero(n)
	if _, err := rr.Read(buf); err != nil {
		return nil, fmt.Errorf("meso: reading forcing variable %s record %d: %v", varName, rec, err)
	}
	data := sparse.ZerosDense(dims...)
	switch b := buf.(type) {
	case []float32:
		for i, v := range b {
			data.Elements[i] = float64(v)
		}
	case []float64:
		copy(data.Elements, b)
	default:
		return nil, fmt.Errorf("meso: forcing variable %s has unsupported type %T", varName, buf)
	}
	return data, nil
}
