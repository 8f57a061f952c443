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

// A Field is one named physical quantity defined over a Topology. Three
// dimensional fields are stored [k,j,i]; two dimensional fields [j,i],
// both covering the topology's memory extents. A field bound to an
// external forcing variable may also carry a delta buffer (dqdt) of
// identical shape holding its per-second rate of change between forcing
// time steps.
type Field struct {
	Name string

	// ForcingVar is the name of the external forcing variable that
	// drives this field, or empty if it has no forcing source.
	ForcingVar string

	// ForceBoundaries selects the forcing update policy: true means
	// the forcing increment is applied only on physical domain edges
	// (advected scalars), false means it is applied everywhere
	// (diagnosed quantities).
	ForceBoundaries bool

	Data *sparse.DenseArray
	DQdt *sparse.DenseArray

	topo *Topology
}

// newField3D allocates a 3D field over the memory extents of topo.
func newField3D(name string, topo *Topology) *Field {
	return &Field{
		Name: name,
		Data: sparse.ZerosDense(topo.Nz(), topo.Ny(), topo.Nx()),
		topo: topo,
	}
}

// newField2D allocates a 2D field over the memory extents of topo.
func newField2D(name string, topo *Topology) *Field {
	return &Field{
		Name: name,
		Data: sparse.ZerosDense(topo.Ny(), topo.Nx()),
		topo: topo,
	}
}

// Allocated reports whether f holds data. Fields not requested for a run
// are left nil, and every catalog iteration checks this first.
func (f *Field) Allocated() bool { return f != nil && f.Data != nil }

// Topology returns the grid the field is defined on.
func (f *Field) Topology() *Topology { return f.topo }

// ensureDelta allocates the dqdt buffer if it does not exist yet. The
// buffer always matches the data buffer's shape exactly.
func (f *Field) ensureDelta() {
	if f.DQdt == nil {
		f.DQdt = sparse.ZerosDense(f.Data.Shape...)
	}
}

// An ExchangeableField is a 3D field whose ghost cells are kept current
// with the interiors of neighboring images via explicit halo messages.
// The halo width is fixed at construction and identical on all four
// lateral sides; at a physical domain edge there is no neighbor and no
// exchange on that side.
type ExchangeableField struct {
	Field
	halo int
}

// newExchangeableField allocates a halo-exchanged 3D field over topo.
// The topology's smoothing margin must cover the halo width, otherwise
// there is no allocated ghost region to exchange into.
func newExchangeableField(name string, topo *Topology, halo int) (*ExchangeableField, error) {
	if halo < 1 {
		return nil, fmt.Errorf("meso: field %s: halo width %d < 1", name, halo)
	}
	if topo.NSmooth < halo {
		return nil, fmt.Errorf("meso: field %s: halo width %d exceeds grid margin %d",
			name, halo, topo.NSmooth)
	}
	f := newField3D(name, topo)
	return &ExchangeableField{Field: *f, halo: halo}, nil
}

// Allocated reports whether f holds data.
func (f *ExchangeableField) Allocated() bool { return f != nil && f.Field.Allocated() }
