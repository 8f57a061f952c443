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
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// A Reader supplies raw global arrays by variable name. The domain uses
// it to ingest static terrain, coordinate, land and soil data; it does
// not define file formats. Implementations return ErrVarNotFound when
// the variable is absent so callers can distinguish "missing with
// fallback" from real read failures.
type Reader interface {
	Read(varName string) (*sparse.DenseArray, error)
}

// ErrVarNotFound reports a variable absent from the underlying dataset.
type ErrVarNotFound struct {
	Var string
}

func (e ErrVarNotFound) Error() string {
	return fmt.Sprintf("meso: variable %s not found in dataset", e.Var)
}

// NCFReader reads variables from a NetCDF file.
type NCFReader struct {
	f  *os.File
	ff *cdf.File
}

// OpenNCF opens the NetCDF file at path for reading.
func OpenNCF(path string) (*NCFReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("meso: opening %s: %v", path, err)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("meso: reading NetCDF header of %s: %v", path, err)
	}
	return &NCFReader{f: f, ff: ff}, nil
}

// Close closes the underlying file.
func (r *NCFReader) Close() error { return r.f.Close() }

// Read reads the named variable in full. A leading record (time)
// dimension of length one is dropped so static fields come back as plain
// 2D or 3D arrays.
func (r *NCFReader) Read(varName string) (*sparse.DenseArray, error) {
	dims := r.ff.Header.Lengths(varName)
	if len(dims) == 0 {
		return nil, ErrVarNotFound{Var: varName}
	}
	if len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	rr := r.ff.Reader(varName, nil, nil)
	buf := rr.Zero(n)
	if _, err := rr.Read(buf); err != nil {
		return nil, fmt.Errorf("meso: reading NetCDF variable %s: %v", varName, err)
	}
	data := sparse.ZerosDense(dims...)
	switch b := buf.(type) {
	case []float32:
		for i, v := range b {
			data.Elements[i] = float64(v)
		}
	case []float64:
		copy(data.Elements, b)
	case []int32:
		for i, v := range b {
			data.Elements[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("meso: NetCDF variable %s has unsupported type %T", varName, buf)
	}
	return data, nil
}

// MapReader serves arrays from memory. It backs tests and the simulated
// multi-image harness, where every image shares one set of global
// arrays.
type MapReader map[string]*sparse.DenseArray

// Read implements Reader.
func (m MapReader) Read(varName string) (*sparse.DenseArray, error) {
	d, ok := m[varName]
	if !ok {
		return nil, ErrVarNotFound{Var: varName}
	}
	return d, nil
}

// subset2D extracts the cells covering topo's memory extents from a
// global 2D array.
func subset2D(global *sparse.DenseArray, topo *Topology) (*sparse.DenseArray, error) {
	if len(global.Shape) != 2 {
		return nil, fmt.Errorf("meso: expected 2D array, got shape %v", global.Shape)
	}
	if global.Shape[0] <= topo.Jme || global.Shape[1] <= topo.Ime {
		return nil, fmt.Errorf("meso: global array shape %v too small for extents [%d,%d]",
			global.Shape, topo.Jme, topo.Ime)
	}
	out := sparse.ZerosDense(topo.Ny(), topo.Nx())
	for j := topo.Jms; j <= topo.Jme; j++ {
		for i := topo.Ims; i <= topo.Ime; i++ {
			out.Set(global.Get(j, i), topo.LocalJ(j), topo.LocalI(i))
		}
	}
	return out, nil
}

// subset3D extracts the cells covering topo's memory extents from a
// global [k,j,i] array, keeping all levels present in the source.
func subset3D(global *sparse.DenseArray, topo *Topology) (*sparse.DenseArray, error) {
	if len(global.Shape) != 3 {
		return nil, fmt.Errorf("meso: expected 3D array, got shape %v", global.Shape)
	}
	if global.Shape[1] <= topo.Jme || global.Shape[2] <= topo.Ime {
		return nil, fmt.Errorf("meso: global array shape %v too small for extents [%d,%d]",
			global.Shape, topo.Jme, topo.Ime)
	}
	nk := global.Shape[0]
	out := sparse.ZerosDense(nk, topo.Ny(), topo.Nx())
	for k := 0; k < nk; k++ {
		for j := topo.Jms; j <= topo.Jme; j++ {
			for i := topo.Ims; i <= topo.Ime; i++ {
				out.Set(global.Get(k, j, i), k, topo.LocalJ(j), topo.LocalI(i))
			}
		}
	}
	return out, nil
}
