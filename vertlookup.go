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

	"github.com/ctessum/sparse"
)

// A VertLookup remaps columns from the forcing dataset's vertical levels
// onto the fine grid's terrain-following levels. For every destination
// column and level it stores the bracketing source-level indices and a
// linear weight. Destination levels below the source bottom or above the
// source top clamp to the boundary source level (weight one), never
// extrapolate. It is rebuilt whenever the vertical geometry changes,
// which for a static domain grid is only at initialization.
type VertLookup struct {
	nz, ny, nx int // destination shape
	srcNz      int

	// Below and Above hold the bracketing source-level indices for
	// each destination point, shaped [k,j,i] like the destination
	// grid. Weight is the fraction assigned to Below; Above gets the
	// remainder.
	Below, Above []int
	Weight       []float64
}

// A VerticalRegridder remaps a horizontally-interpolated [srcLevels,j,i]
// array onto the destination vertical levels. It is an interface so the
// pipeline's level remapping can be observed or replaced in tests.
type VerticalRegridder interface {
	Regrid(in *sparse.DenseArray) *sparse.DenseArray
}

// NewVertLookup builds the vertical interpolation table for destination
// heights dstZ [k,j,i] from source heights srcZ [ks,j,i]. Both arrays
// must share their horizontal shape: srcZ is the forcing dataset's
// height field already horizontally interpolated onto the destination
// grid.
func NewVertLookup(srcZ, dstZ *sparse.DenseArray) (*VertLookup, error) {
	if len(srcZ.Shape) != 3 || len(dstZ.Shape) != 3 {
		return nil, fmt.Errorf("meso: vertical lookup needs 3D height arrays, got %v and %v",
			srcZ.Shape, dstZ.Shape)
	}
	if srcZ.Shape[1] != dstZ.Shape[1] || srcZ.Shape[2] != dstZ.Shape[2] {
		return nil, fmt.Errorf("meso: vertical lookup horizontal shapes differ: %v vs %v",
			srcZ.Shape, dstZ.Shape)
	}
	srcNz := srcZ.Shape[0]
	nz, ny, nx := dstZ.Shape[0], dstZ.Shape[1], dstZ.Shape[2]
	v := &VertLookup{
		nz: nz, ny: ny, nx: nx,
		srcNz:  srcNz,
		Below:  make([]int, nz*ny*nx),
		Above:  make([]int, nz*ny*nx),
		Weight: make([]float64, nz*ny*nx),
	}
	n := 0
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				z := dstZ.Get(k, j, i)
				lo, hi, w := bracket(srcZ, z, j, i)
				v.Below[n], v.Above[n], v.Weight[n] = lo, hi, w
				n++
			}
		}
	}
	return v, nil
}

// bracket finds the source levels surrounding height z in column (j,i)
// and the linear weight of the lower one. Out-of-range heights clamp to
// the boundary level.
func bracket(srcZ *sparse.DenseArray, z float64, j, i int) (lo, hi int, w float64) {
	srcNz := srcZ.Shape[0]
	if z <= srcZ.Get(0, j, i) {
		return 0, 0, 1
	}
	top := srcNz - 1
	if z >= srcZ.Get(top, j, i) {
		return top, top, 1
	}
	for k := 1; k <= top; k++ {
		zk := srcZ.Get(k, j, i)
		if z <= zk {
			zlo := srcZ.Get(k-1, j, i)
			if zk == zlo {
				return k - 1, k, 1
			}
			return k - 1, k, (zk - z) / (zk - zlo)
		}
	}
	return top, top, 1
}

// Regrid remaps in [srcLevels,j,i] onto the destination levels,
// implementing VerticalRegridder.
func (v *VertLookup) Regrid(in *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(v.nz, v.ny, v.nx)
	n := 0
	for k := 0; k < v.nz; k++ {
		for j := 0; j < v.ny; j++ {
			for i := 0; i < v.nx; i++ {
				lo, hi, w := v.Below[n], v.Above[n], v.Weight[n]
				// A source array shallower than the lookup was
				// built for replicates its top level upward.
				if lo >= in.Shape[0] {
					lo = in.Shape[0] - 1
				}
				if hi >= in.Shape[0] {
					hi = in.Shape[0] - 1
				}
				out.Set(w*in.Get(lo, j, i)+(1-w)*in.Get(hi, j, i), k, j, i)
				n++
			}
		}
	}
	return out
}
