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
	"time"

	"github.com/ctessum/sparse"
)

// The delta-forcing protocol: forcing data arrives at a coarse cadence,
// but the simulation sub-steps need a continuously varying boundary
// condition. UpdateDeltaFields turns each freshly interpolated forcing
// snapshot into a per-second rate of change (dqdt); ApplyForcing then
// advances the state by a fraction of that rate each sub-step, without
// re-running the expensive geographic interpolation.

// UpdateDeltaFields interpolates the forcing snapshot f onto the fine
// grids and stores, for every registered forcing variable and for the
// vertical velocity, the per-second rate of change
// dqdt = (snapshot − current state) / dtForcing.
func (ip *Interpolator) UpdateDeltaFields(f *ForcingData, dtForcing time.Duration) error {
	sec := dtForcing.Seconds()
	if sec <= 0 {
		return fmt.Errorf("meso: nonpositive forcing interval %v", dtForcing)
	}
	d := ip.d
	for _, name := range d.registry.Names() {
		fld, _ := d.registry.Field(name)
		raw, err := f.Var(name)
		if err != nil {
			return err
		}
		snap, err := ip.interpolate(fld, raw)
		if err != nil {
			return err
		}
		for i, s := range snap.Elements {
			fld.DQdt.Elements[i] = (s - fld.Data.Elements[i]) / sec
		}
	}

	// The vertical velocity has no forcing source but must stay
	// consistent with the incoming winds: diagnose it from the wind
	// snapshot and treat the difference as its rate of change.
	if d.W.Allocated() && d.U.Allocated() && d.V.Allocated() &&
		d.U.ForcingVar != "" && d.V.ForcingVar != "" {
		uSnap := snapshotOf(d.U, sec)
		vSnap := snapshotOf(d.V, sec)
		wSnap := sparse.ZerosDense(d.W.Data.Shape...)
		d.diagnoseW(uSnap, vSnap, wSnap)
		for i, s := range wSnap.Elements {
			d.W.DQdt.Elements[i] = (s - d.W.Data.Elements[i]) / sec
		}
	}
	return nil
}

// snapshotOf reconstructs the forcing-step snapshot from a field's
// current state and its freshly computed rate of change.
func snapshotOf(f *Field, sec float64) *sparse.DenseArray {
	out := sparse.ZerosDense(f.Data.Shape...)
	for i, v := range f.Data.Elements {
		out.Elements[i] = v + f.DQdt.Elements[i]*sec
	}
	return out
}

// ApplyForcing advances every forcing-driven field by dtSub's worth of
// its stored rate of change. Two-dimensional variables update
// everywhere. Three-dimensional variables with the boundary policy
// (advected scalars) update only on lateral faces that are physical
// domain edges for this image, leaving interior cells to the advection
// and physics collaborators; variables without it (diagnosed fields)
// update their entire local array, as does the vertical velocity.
func (d *Domain) ApplyForcing(dtSub time.Duration) {
	sec := dtSub.Seconds()
	for _, name := range d.registry.Names() {
		fld, _ := d.registry.Field(name)
		if len(fld.Data.Shape) == 2 || !fld.ForceBoundaries {
			applyEverywhere(fld, sec)
			continue
		}
		applyBoundaries(fld, sec)
	}
	if d.W.Allocated() && d.W.DQdt != nil {
		applyEverywhere(d.W, sec)
	}
}

func applyEverywhere(f *Field, sec float64) {
	for i, r := range f.DQdt.Elements {
		f.Data.Elements[i] += r * sec
	}
}

// applyBoundaries applies the increment on the lateral faces of the
// local array that are true physical domain edges, not image-grid
// seams. All four faces update their full edge rows and columns;
// corner cells shared by two faces advance exactly once.
func applyBoundaries(f *Field, sec float64) {
	t := f.topo
	nz, ny, nx := f.Data.Shape[0], f.Data.Shape[1], f.Data.Shape[2]
	add := func(k, j, i int) {
		f.Data.Set(f.Data.Get(k, j, i)+f.DQdt.Get(k, j, i)*sec, k, j, i)
	}
	if t.WestBoundary() {
		for k := 0; k < nz; k++ {
			for j := 0; j < ny; j++ {
				add(k, j, 0)
			}
		}
	}
	if t.EastBoundary() {
		for k := 0; k < nz; k++ {
			for j := 0; j < ny; j++ {
				add(k, j, nx-1)
			}
		}
	}
	if t.SouthBoundary() {
		for k := 0; k < nz; k++ {
			for i := 0; i < nx; i++ {
				if t.WestBoundary() && i == 0 || t.EastBoundary() && i == nx-1 {
					continue // corner already advanced by the west/east pass
				}
				add(k, 0, i)
			}
		}
	}
	if t.NorthBoundary() {
		for k := 0; k < nz; k++ {
			for i := 0; i < nx; i++ {
				if t.WestBoundary() && i == 0 || t.EastBoundary() && i == nx-1 {
					continue
				}
				add(k, ny-1, i)
			}
		}
	}
}
