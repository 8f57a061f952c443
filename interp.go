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
	"math"

	"github.com/ctessum/sparse"
)

// Physical constants for the hydrostatic pressure adjustment.
const (
	gravity = 9.80665 // m/s2
	rdGas   = 287.058 // J/(kg K), specific gas constant for dry air
	tStd    = 288.15  // K, standard reference temperature
)

// An Interpolator maps forcing-dataset snapshots onto the domain's fine
// grids. Its lookup tables are built once against the forcing grid's
// coordinates and heights and are treated as immutable read-only data
// for the remainder of the run.
type Interpolator struct {
	d *Domain

	geo, geoU, geoV *GeoLookup

	vertMass, vertU, vertV VerticalRegridder

	// Forcing-grid heights horizontally interpolated onto the mass
	// grid, for the hydrostatic pressure adjustment.
	srcZMass *sparse.DenseArray
}

// NewInterpolator builds the geographic and vertical lookup table pairs
// for the mass and staggered grids from the forcing grid's coordinate
// and height arrays.
func NewInterpolator(d *Domain, f *ForcingData) (*Interpolator, error) {
	ip := &Interpolator{d: d}

	var err error
	if ip.geo, err = NewGeoLookup(f.Lon, f.Lat, d.Lon.Data, d.Lat.Data); err != nil {
		return nil, fmt.Errorf("meso: mass-grid geographic lookup: %v", err)
	}
	if ip.geoU, err = NewGeoLookup(f.Lon, f.Lat, d.LonU.Data, d.LatU.Data); err != nil {
		return nil, fmt.Errorf("meso: u-grid geographic lookup: %v", err)
	}
	if ip.geoV, err = NewGeoLookup(f.Lon, f.Lat, d.LonV.Data, d.LatV.Data); err != nil {
		return nil, fmt.Errorf("meso: v-grid geographic lookup: %v", err)
	}

	ip.srcZMass = ip.geo.Interp3D(f.Z)
	if ip.vertMass, err = NewVertLookup(ip.srcZMass, d.Z.Data); err != nil {
		return nil, fmt.Errorf("meso: mass-grid vertical lookup: %v", err)
	}
	if ip.vertU, err = NewVertLookup(ip.geoU.Interp3D(f.Z), d.ZU.Data); err != nil {
		return nil, fmt.Errorf("meso: u-grid vertical lookup: %v", err)
	}
	if ip.vertV, err = NewVertLookup(ip.geoV.Interp3D(f.Z), d.ZV.Data); err != nil {
		return nil, fmt.Errorf("meso: v-grid vertical lookup: %v", err)
	}
	return ip, nil
}

// InitialConditions interpolates every registered forcing variable
// directly into the domain's live data buffers, then diagnoses the
// vertical velocity from the interpolated winds.
func (ip *Interpolator) InitialConditions(f *ForcingData) error {
	d := ip.d
	for _, name := range d.registry.Names() {
		fld, _ := d.registry.Field(name)
		raw, err := f.Var(name)
		if err != nil {
			return err
		}
		out, err := ip.interpolate(fld, raw)
		if err != nil {
			return err
		}
		copy(fld.Data.Elements, out.Elements)
	}
	if d.W.Allocated() && d.U.Allocated() && d.V.Allocated() {
		d.diagnoseW(d.U.Data, d.V.Data, d.W.Data)
	}
	return nil
}

// interpolate produces the named field's snapshot on its own grid.
func (ip *Interpolator) interpolate(fld *Field, raw *sparse.DenseArray) (*sparse.DenseArray, error) {
	switch fld.topo {
	case ip.d.GridU:
		return ip.interpolateStaggered(fld, raw, ip.geoU, ip.vertU, ip.d.GridUExt, smoothY)
	case ip.d.GridV:
		return ip.interpolateStaggered(fld, raw, ip.geoV, ip.vertV, ip.d.GridVExt, smoothX)
	}
	return ip.interpolateMass(fld, raw)
}

// interpolateMass handles mass-grid variables: horizontal interpolation,
// then either the vertical level remap or, for pressure, the analytic
// hydrostatic adjustment. Pressure is never vertically interpolated:
// remapping would introduce interpolation error into a field whose
// absolute value sets the hydrostatic balance.
func (ip *Interpolator) interpolateMass(fld *Field, raw *sparse.DenseArray) (*sparse.DenseArray, error) {
	if len(raw.Shape) == 2 {
		return ip.geo.Interp2D(raw), nil
	}
	if len(raw.Shape) != 3 {
		return nil, fmt.Errorf("meso: forcing variable %s has shape %v, want 2D or 3D",
			fld.ForcingVar, raw.Shape)
	}
	h := ip.geo.Interp3D(raw)
	if fld == ip.d.Pressure {
		return ip.adjustPressure(h), nil
	}
	return ip.vertMass.Regrid(h), nil
}

// adjustPressure converts horizontally-interpolated pressure from the
// forcing grid's levels to the destination's terrain-following levels
// with a barometric correction, comparing the destination heights with
// the source heights at matching levels (clamped to the shallower of
// the two).
func (ip *Interpolator) adjustPressure(h *sparse.DenseArray) *sparse.DenseArray {
	d := ip.d
	nz := d.Grid.Nz()
	ny, nx := d.Grid.Ny(), d.Grid.Nx()
	srcTop := h.Shape[0] - 1
	out := sparse.ZerosDense(nz, ny, nx)
	for k := 0; k < nz; k++ {
		ks := min(k, srcTop)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				dz := d.Z.Data.Get(k, j, i) - ip.srcZMass.Get(ks, j, i)
				p := h.Get(ks, j, i) * math.Exp(-dz*gravity/(rdGas*tStd))
				out.Set(p, k, j, i)
			}
		}
	}
	return out
}

// interpolateStaggered handles u/v variables: horizontal interpolation
// onto the extended staggered grid (wider than the final grid, so the
// smoothing window has data across image boundaries), vertical remap,
// smoothing along the cross-wind axis, and a final subset down to the
// field's actual memory extents.
func (ip *Interpolator) interpolateStaggered(fld *Field, raw *sparse.DenseArray,
	geo *GeoLookup, vert VerticalRegridder, ext *Topology,
	smooth func(*sparse.DenseArray, int)) (*sparse.DenseArray, error) {
	if len(raw.Shape) != 3 {
		return nil, fmt.Errorf("meso: staggered forcing variable %s has shape %v, want 3D",
			fld.ForcingVar, raw.Shape)
	}
	h := vert.Regrid(geo.Interp3D(raw))
	smooth(h, ip.d.cfg.SmoothDist)
	return subsetToTopo(h, ext, fld.topo), nil
}

// smoothY smooths each level along the y axis with a running mean of
// half-width w, clamped at the array edges.
func smoothY(a *sparse.DenseArray, w int) {
	if w < 1 {
		return
	}
	nz, ny, nx := a.Shape[0], a.Shape[1], a.Shape[2]
	col := make([]float64, ny)
	for k := 0; k < nz; k++ {
		for i := 0; i < nx; i++ {
			for j := 0; j < ny; j++ {
				col[j] = a.Get(k, j, i)
			}
			for j := 0; j < ny; j++ {
				j0, j1 := max(0, j-w), min(ny-1, j+w)
				s := 0.0
				for jj := j0; jj <= j1; jj++ {
					s += col[jj]
				}
				a.Set(s/float64(j1-j0+1), k, j, i)
			}
		}
	}
}

// smoothX smooths each level along the x axis with a running mean of
// half-width w, clamped at the array edges.
func smoothX(a *sparse.DenseArray, w int) {
	if w < 1 {
		return
	}
	nz, ny, nx := a.Shape[0], a.Shape[1], a.Shape[2]
	row := make([]float64, nx)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				row[i] = a.Get(k, j, i)
			}
			for i := 0; i < nx; i++ {
				i0, i1 := max(0, i-w), min(nx-1, i+w)
				s := 0.0
				for ii := i0; ii <= i1; ii++ {
					s += row[ii]
				}
				a.Set(s/float64(i1-i0+1), k, j, i)
			}
		}
	}
}

// subsetToTopo extracts the cells covering dst's memory extents from an
// array covering src's memory extents. src must enclose dst.
func subsetToTopo(a *sparse.DenseArray, src, dst *Topology) *sparse.DenseArray {
	out := sparse.ZerosDense(dst.Nz(), dst.Ny(), dst.Nx())
	jOff := dst.Jms - src.Jms
	iOff := dst.Ims - src.Ims
	for k := 0; k < dst.Nz(); k++ {
		for j := 0; j < dst.Ny(); j++ {
			for i := 0; i < dst.Nx(); i++ {
				out.Set(a.Get(k, j+jOff, i+iOff), k, j, i)
			}
		}
	}
	return out
}
