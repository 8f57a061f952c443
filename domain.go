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

// Package meso manages the spatial state of a regional atmospheric
// simulation domain distributed across cooperating images, and drives
// the ingestion of coarse-resolution forcing data onto the domain's fine
// grid: sub-domain decomposition, halo exchange for stencil neighbors,
// geographic and vertical interpolation onto the staggered fine grids,
// and the time-stepped delta-forcing update protocol. Physical
// parameterizations, file-format decisions and the top-level integration
// loop are external collaborators.
package meso

import (
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/meso/comm"
)

// Default init-file variable names, following WRF geogrid conventions.
const (
	terrainVar  = "HGT"
	latVar      = "XLAT"
	lonVar      = "XLONG"
	latUVar     = "XLAT_U"
	lonUVar     = "XLONG_U"
	latVVar     = "XLAT_V"
	lonVVar     = "XLONG_V"
	landMaskVar = "XLAND"
	soilTVar    = "TSLB"
	soilMVar    = "SMOIS"
	vegFraVar   = "VEGFRA"
)

// monthsPerYear is the level count of the monthly climatology grid.
const monthsPerYear = 12

// A Domain owns one image's portion of the simulation state: the grid
// variants, the catalog of prognostic, diagnostic and static fields, and
// the derived vertical geometry. Fields not requested for the run stay
// nil; every catalog iteration checks Allocated first.
type Domain struct {
	cfg  *Config
	rank *comm.Rank
	vars Vars

	// Grid variants. GridU and GridV are the staggered grids; the
	// Ext variants carry the widened smoothing margin used while
	// interpolating wind fields. GridSoil and GridMonthly share the
	// horizontal decomposition with their own level counts.
	Grid, GridU, GridV    *Topology
	GridUExt, GridVExt    *Topology
	GridSoil, GridMonthly *Topology

	// Prognostic fields, halo-exchanged each sub-step.
	QV, QC, QI, QR, QS *ExchangeableField
	Theta              *ExchangeableField

	// Diagnosed fields, updated over their whole local arrays.
	Pressure *Field
	U, V, W  *Field

	// Static fields read from the init file.
	Terrain            *Field
	Lat, Lon           *Field
	TerrainU, TerrainV *Field
	LatU, LonU         *Field
	LatV, LonV         *Field
	LandMask           *Field
	SoilT, SoilM       *Field
	VegFraMonthly      *Field

	// Terrain-following vertical geometry.
	Z, DzMass, ZInterface *Field
	ZU, ZV                *Field

	registry    *Registry
	meanTerrain float64
}

// NewDomain builds the domain state for one image: it derives the grid
// topologies from the init file's terrain array, allocates the requested
// fields, ingests the static land/terrain data, computes the domain-wide
// mean terrain height (a collective operation - all images must call
// NewDomain together), and derives the terrain-following vertical
// geometry.
func NewDomain(cfg *Config, vars Vars, rank *comm.Rank, rdr Reader) (*Domain, error) {
	cfg.applyDefaults()
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	d := &Domain{cfg: cfg, rank: rank, vars: vars}

	terrain, err := rdr.Read(terrainVar)
	if err != nil {
		return nil, fmt.Errorf("meso: reading terrain: %v", err)
	}
	if len(terrain.Shape) != 2 {
		return nil, fmt.Errorf("meso: terrain has shape %v, want 2D", terrain.Shape)
	}
	nyGlobal, nxGlobal := terrain.Shape[0], terrain.Shape[1]
	nz := len(cfg.DzLevels)

	if err := d.initTopologies(nxGlobal, nyGlobal, nz); err != nil {
		return nil, err
	}
	if err := d.allocateFields(); err != nil {
		return nil, err
	}
	if err := d.readStatic(rdr, terrain); err != nil {
		return nil, err
	}
	d.reduceMeanTerrain(nxGlobal, nyGlobal)
	d.initVerticalGeometry()
	if err := d.setupForcingRegistry(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Domain) initTopologies(nxGlobal, nyGlobal, nz int) error {
	n, x, y := d.rank.Size(), d.cfg.Ximages, d.cfg.Yimages
	id := d.rank.ID()

	var err error
	if d.Grid, err = NewTopology(n, x, y, id, d.cfg.Halo); err != nil {
		return err
	}
	if err = d.Grid.SetGridDimensions(nxGlobal, nyGlobal, nz, 0, 0); err != nil {
		return err
	}
	if d.GridU, err = NewTopology(n, x, y, id, d.cfg.Halo); err != nil {
		return err
	}
	if err = d.GridU.SetGridDimensions(nxGlobal, nyGlobal, nz, 1, 0); err != nil {
		return err
	}
	if d.GridV, err = NewTopology(n, x, y, id, d.cfg.Halo); err != nil {
		return err
	}
	if err = d.GridV.SetGridDimensions(nxGlobal, nyGlobal, nz, 0, 1); err != nil {
		return err
	}
	d.GridUExt = d.GridU.Extend(d.cfg.SmoothDist)
	d.GridVExt = d.GridV.Extend(d.cfg.SmoothDist)
	d.GridSoil = d.Grid.WithVerticalExtent(d.cfg.NSoilLevels)
	d.GridMonthly = d.Grid.WithVerticalExtent(monthsPerYear)
	return nil
}

func (d *Domain) allocateFields() error {
	alloc := func(name string, flag Vars) (*ExchangeableField, error) {
		if !d.vars.Has(flag) {
			return nil, nil
		}
		return newExchangeableField(name, d.Grid, d.cfg.Halo)
	}
	var err error
	if d.QV, err = alloc("qv", VarWaterVapor); err != nil {
		return err
	}
	if d.QC, err = alloc("qc", VarCloudWater); err != nil {
		return err
	}
	if d.QI, err = alloc("qi", VarCloudIce); err != nil {
		return err
	}
	if d.QR, err = alloc("qr", VarRain); err != nil {
		return err
	}
	if d.QS, err = alloc("qs", VarSnow); err != nil {
		return err
	}
	if d.Theta, err = alloc("theta", VarPotentialTemp); err != nil {
		return err
	}
	if d.vars.Has(VarPressure) {
		d.Pressure = newField3D("pressure", d.Grid)
	}
	if d.vars.Has(VarWinds) {
		d.U = newField3D("u", d.GridU)
		d.V = newField3D("v", d.GridV)
		d.W = newField3D("w", d.Grid)
		d.W.ensureDelta()
	}
	return nil
}

// readStatic ingests the init file's terrain, coordinate, land and soil
// arrays, subsetting each global array to this image's memory extents.
// Staggered-grid coordinates fall back to averages of the mass-grid
// arrays when the init file does not carry them; missing mass-grid
// coordinates are fatal.
func (d *Domain) readStatic(rdr Reader, terrain *sparse.DenseArray) error {
	var err error
	if d.Terrain, err = staticField("terrain", terrain, d.Grid); err != nil {
		return err
	}

	lat, err := rdr.Read(latVar)
	if err != nil {
		return fmt.Errorf("meso: reading %s: %v", latVar, err)
	}
	lon, err := rdr.Read(lonVar)
	if err != nil {
		return fmt.Errorf("meso: reading %s: %v", lonVar, err)
	}
	if d.Lat, err = staticField("lat", lat, d.Grid); err != nil {
		return err
	}
	if d.Lon, err = staticField("lon", lon, d.Grid); err != nil {
		return err
	}

	// Staggered terrain is always derived by averaging; the init file
	// has no staggered terrain variable.
	if d.TerrainU, err = staticField("terrain_u", stagGlobalX(terrain), d.GridUExt); err != nil {
		return err
	}
	if d.TerrainV, err = staticField("terrain_v", stagGlobalY(terrain), d.GridVExt); err != nil {
		return err
	}

	if d.LatU, err = staggeredCoord(rdr, latUVar, "lat_u", lat, stagGlobalX, d.GridUExt); err != nil {
		return err
	}
	if d.LonU, err = staggeredCoord(rdr, lonUVar, "lon_u", lon, stagGlobalX, d.GridUExt); err != nil {
		return err
	}
	if d.LatV, err = staggeredCoord(rdr, latVVar, "lat_v", lat, stagGlobalY, d.GridVExt); err != nil {
		return err
	}
	if d.LonV, err = staggeredCoord(rdr, lonVVar, "lon_v", lon, stagGlobalY, d.GridVExt); err != nil {
		return err
	}

	if land, err := rdr.Read(landMaskVar); err == nil {
		if d.LandMask, err = staticField("landmask", land, d.Grid); err != nil {
			return err
		}
	} else if _, ok := err.(ErrVarNotFound); !ok {
		return err
	}

	if d.vars.Has(VarSoil) {
		st, err := rdr.Read(soilTVar)
		if err != nil {
			return fmt.Errorf("meso: reading soil temperature: %v", err)
		}
		if d.SoilT, err = staticField3D("soil_t", st, d.GridSoil); err != nil {
			return err
		}
		sm, err := rdr.Read(soilMVar)
		if err != nil {
			return fmt.Errorf("meso: reading soil moisture: %v", err)
		}
		if d.SoilM, err = staticField3D("soil_m", sm, d.GridSoil); err != nil {
			return err
		}
	}
	if d.vars.Has(VarMonthlyClim) {
		vf, err := rdr.Read(vegFraVar)
		if err != nil {
			return fmt.Errorf("meso: reading vegetation fraction: %v", err)
		}
		if d.VegFraMonthly, err = staticField3D("vegfra", vf, d.GridMonthly); err != nil {
			return err
		}
	}
	return nil
}

func staticField(name string, global *sparse.DenseArray, topo *Topology) (*Field, error) {
	data, err := subset2D(global, topo)
	if err != nil {
		return nil, fmt.Errorf("meso: static field %s: %v", name, err)
	}
	return &Field{Name: name, Data: data, topo: topo}, nil
}

func staticField3D(name string, global *sparse.DenseArray, topo *Topology) (*Field, error) {
	data, err := subset3D(global, topo)
	if err != nil {
		return nil, fmt.Errorf("meso: static field %s: %v", name, err)
	}
	return &Field{Name: name, Data: data, topo: topo}, nil
}

// staggeredCoord reads a staggered coordinate variable, deriving it from
// the mass-grid array when the init file does not carry it.
func staggeredCoord(rdr Reader, varName, name string, mass *sparse.DenseArray,
	stag func(*sparse.DenseArray) *sparse.DenseArray, topo *Topology) (*Field, error) {
	global, err := rdr.Read(varName)
	if err != nil {
		if _, ok := err.(ErrVarNotFound); !ok {
			return nil, err
		}
		global = stag(mass)
	}
	return staticField(name, global, topo)
}

// stagGlobalX builds an x-staggered global array (one extra column) by
// averaging adjacent cells, extrapolating at the domain edges.
func stagGlobalX(mass *sparse.DenseArray) *sparse.DenseArray {
	ny, nx := mass.Shape[0], mass.Shape[1]
	out := sparse.ZerosDense(ny, nx+1)
	for j := 0; j < ny; j++ {
		for i := 1; i < nx; i++ {
			out.Set((mass.Get(j, i-1)+mass.Get(j, i))/2, j, i)
		}
		out.Set(mass.Get(j, 0)-(mass.Get(j, 1)-mass.Get(j, 0))/2, j, 0)
		out.Set(mass.Get(j, nx-1)+(mass.Get(j, nx-1)-mass.Get(j, nx-2))/2, j, nx)
	}
	return out
}

// stagGlobalY builds a y-staggered global array (one extra row) by
// averaging adjacent cells, extrapolating at the domain edges.
func stagGlobalY(mass *sparse.DenseArray) *sparse.DenseArray {
	ny, nx := mass.Shape[0], mass.Shape[1]
	out := sparse.ZerosDense(ny+1, nx)
	for i := 0; i < nx; i++ {
		for j := 1; j < ny; j++ {
			out.Set((mass.Get(j-1, i)+mass.Get(j, i))/2, j, i)
		}
		out.Set(mass.Get(0, i)-(mass.Get(1, i)-mass.Get(0, i))/2, 0, i)
		out.Set(mass.Get(ny-1, i)+(mass.Get(ny-1, i)-mass.Get(ny-2, i))/2, ny, i)
	}
	return out
}

// reduceMeanTerrain computes the domain-wide mean terrain height with a
// global sum reduction over every image's tile cells.
func (d *Domain) reduceMeanTerrain(nxGlobal, nyGlobal int) {
	t := d.Grid
	sum := 0.0
	for j := t.Jts; j <= t.Jte; j++ {
		for i := t.Its; i <= t.Ite; i++ {
			sum += d.Terrain.Data.Get(t.LocalJ(j), t.LocalI(i))
		}
	}
	d.meanTerrain = d.rank.AllReduceSum(sum) / float64(nxGlobal*nyGlobal)
}

// setupForcingRegistry registers every allocated forcing-driven field
// under its configured forcing-variable name, in fixed catalog order.
// Advected scalars force boundaries only; diagnosed fields update
// everywhere.
func (d *Domain) setupForcingRegistry() error {
	d.registry = NewRegistry()
	names := d.cfg.ForcingVars

	type entry struct {
		forcingVar      string
		field           *Field
		forceBoundaries bool
	}
	entries := []entry{
		{names.Temperature, exField(d.Theta), true},
		{names.Pressure, d.Pressure, false},
		{names.U, d.U, false},
		{names.V, d.V, false},
		{names.WaterVapor, exField(d.QV), true},
		{names.CloudWater, exField(d.QC), true},
		{names.CloudIce, exField(d.QI), true},
		{names.Rain, exField(d.QR), true},
		{names.Snow, exField(d.QS), true},
	}
	for _, e := range entries {
		if e.forcingVar == "" || !e.field.Allocated() {
			continue
		}
		e.field.ForceBoundaries = e.forceBoundaries
		if err := d.registry.Register(e.forcingVar, e.field); err != nil {
			return err
		}
	}
	return nil
}

func exField(f *ExchangeableField) *Field {
	if f == nil {
		return nil
	}
	return &f.Field
}

// Registry returns the forcing-variable registry built during setup.
func (d *Domain) Registry() *Registry { return d.registry }

// MeanTerrain returns the domain-wide mean terrain height [m].
func (d *Domain) MeanTerrain() float64 { return d.meanTerrain }

// exchangeables returns the allocated halo-exchanged fields in fixed
// catalog order. Every image iterates the same order each sub-step, so
// no two images can deadlock on divergent exchange orderings.
func (d *Domain) exchangeables() []*ExchangeableField {
	all := []*ExchangeableField{d.QV, d.QC, d.QI, d.QR, d.QS, d.Theta}
	out := all[:0]
	for _, f := range all {
		if f.Allocated() {
			out = append(out, f)
		}
	}
	return out
}

// moistureFields returns the allocated moisture species.
func (d *Domain) moistureFields() []*ExchangeableField {
	all := []*ExchangeableField{d.QV, d.QC, d.QI, d.QR, d.QS}
	out := all[:0]
	for _, f := range all {
		if f.Allocated() {
			out = append(out, f)
		}
	}
	return out
}

// CheckMoisture clamps negative moisture mixing ratios to zero. Small
// negative values appear after advection and forcing updates; repairing
// them silently is policy, but a repair that changes values is logged
// for diagnosability.
func (d *Domain) CheckMoisture() {
	for _, f := range d.moistureFields() {
		n := 0
		for i, v := range f.Data.Elements {
			if v < 0 {
				f.Data.Elements[i] = 0
				n++
			}
		}
		if n > 0 {
			logrus.WithFields(logrus.Fields{
				"field": f.Name,
				"cells": n,
				"image": d.rank.ID(),
			}).Warn("clamped negative moisture values")
		}
	}
}

// diagnoseW fills w from the horizontal wind convergence, integrating
// the continuity equation upward over each column of the given u and v
// arrays. u must cover GridU's and v GridV's memory extents.
func (d *Domain) diagnoseW(u, v, w *sparse.DenseArray) {
	t := d.Grid
	tu, tv := d.GridU, d.GridV
	dx := d.cfg.Dx
	for j := t.Jts; j <= t.Jte; j++ {
		for i := t.Its; i <= t.Ite; i++ {
			wPrev := 0.0
			for k := 0; k < t.Nz(); k++ {
				du := u.Get(k, tu.LocalJ(j), tu.LocalI(i+1)) - u.Get(k, tu.LocalJ(j), tu.LocalI(i))
				dv := v.Get(k, tv.LocalJ(j+1), tv.LocalI(i)) - v.Get(k, tv.LocalJ(j), tv.LocalI(i))
				dz := d.DzMass.Data.Get(k, t.LocalJ(j), t.LocalI(i))
				wPrev -= (du + dv) / dx * dz
				w.Set(wPrev, k, t.LocalJ(j), t.LocalI(i))
			}
		}
	}
}
