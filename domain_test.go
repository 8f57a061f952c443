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
	"sync"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/meso/comm"
)

// The shared harness for domain and interpolation tests: a flat 4×4
// mass grid at integer lon/lat coordinates, four 100 m levels, and a
// 6×6 forcing grid overhanging the fine grid on all sides so the
// staggered coordinates stay inside the forcing hull.

func testConfig(ximages, yimages int, names ForcingVarNames) *Config {
	return &Config{
		Ximages:     ximages,
		Yimages:     yimages,
		Dx:          1000,
		DzLevels:    []float64{100, 100, 100, 100},
		ForcingVars: names,
	}
}

func flatInitReader() MapReader {
	lat := sparse.ZerosDense(4, 4)
	lon := sparse.ZerosDense(4, 4)
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			lat.Set(float64(j), j, i)
			lon.Set(float64(i), j, i)
		}
	}
	return MapReader{
		"HGT":   sparse.ZerosDense(4, 4),
		"XLAT":  lat,
		"XLONG": lon,
	}
}

// testForcingData builds a forcing snapshot whose heights coincide with
// the flat domain's mass levels (50, 150, 250, 350 m) and whose
// variables are horizontally and vertically constant.
func testForcingData(vals map[string]float64) *ForcingData {
	lon, lat := coordGrid(6, 6, -1, -1, 1)
	z := sparse.ZerosDense(4, 6, 6)
	for k := 0; k < 4; k++ {
		for n := 0; n < 36; n++ {
			z.Elements[k*36+n] = 50 + 100*float64(k)
		}
	}
	f := &ForcingData{Lon: lon, Lat: lat, Z: z,
		Vars: make(map[string]*sparse.DenseArray, len(vals))}
	for name, v := range vals {
		a := sparse.ZerosDense(4, 6, 6)
		for i := range a.Elements {
			a.Elements[i] = v
		}
		f.Vars[name] = a
	}
	return f
}

func singleImageDomain(t *testing.T, vars Vars, names ForcingVarNames) *Domain {
	t.Helper()
	g := comm.NewGroup(1)
	d, err := NewDomain(testConfig(1, 1, names), vars, g.Rank(0), flatInitReader())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDomainSetup(t *testing.T) {
	d := singleImageDomain(t, VarPotentialTemp, ForcingVarNames{Temperature: "temperature"})

	if d.MeanTerrain() != 0 {
		t.Errorf("mean terrain %g, want 0", d.MeanTerrain())
	}
	if d.QV != nil {
		t.Error("unrequested water vapor field should stay nil")
	}
	if !d.Theta.Allocated() {
		t.Fatal("requested potential temperature field not allocated")
	}
	if got := d.Registry().Names(); len(got) != 1 || got[0] != "temperature" {
		t.Errorf("registry names %v, want [temperature]", got)
	}
	if !d.Theta.ForceBoundaries {
		t.Error("potential temperature should default to boundary forcing")
	}

	// Flat terrain: mass levels at 50, 150, 250, 350 m everywhere.
	for k := 0; k < 4; k++ {
		want := 50 + 100*float64(k)
		if got := d.Z.Data.Get(k, 1, 1); got != want {
			t.Errorf("level %d height %g, want %g", k, got, want)
		}
	}
}

func TestStaggeredCoordFallback(t *testing.T) {
	// The init reader carries no XLAT_U/XLONG_U etc., so staggered
	// coordinates must be derived by averaging the mass grid.
	d := singleImageDomain(t, VarPotentialTemp, ForcingVarNames{Temperature: "temperature"})

	if got := d.LonU.Data.Get(0, 0); got != -0.5 {
		t.Errorf("western u-grid longitude %g, want -0.5", got)
	}
	if got := d.LonU.Data.Get(0, 4); got != 3.5 {
		t.Errorf("eastern u-grid longitude %g, want 3.5", got)
	}
	if got := d.LatV.Data.Get(0, 0); got != -0.5 {
		t.Errorf("southern v-grid latitude %g, want -0.5", got)
	}
	if got := d.LatV.Data.Get(4, 0); got != 3.5 {
		t.Errorf("northern v-grid latitude %g, want 3.5", got)
	}
}

func TestInitialConditionsConstantField(t *testing.T) {
	d := singleImageDomain(t, VarPotentialTemp, ForcingVarNames{Temperature: "temperature"})
	ip, err := NewInterpolator(d, testForcingData(map[string]float64{"temperature": 300}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ip.InitialConditions(testForcingData(map[string]float64{"temperature": 300})); err != nil {
		t.Fatal(err)
	}
	for i, v := range d.Theta.Data.Elements {
		if math.Abs(v-300) > 1e-9 {
			t.Fatalf("element %d: %g, want 300", i, v)
		}
	}
}

func TestForcingUpdateWholeDomain(t *testing.T) {
	d := singleImageDomain(t, VarPotentialTemp, ForcingVarNames{Temperature: "temperature"})
	ip, err := NewInterpolator(d, testForcingData(map[string]float64{"temperature": 300}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ip.InitialConditions(testForcingData(map[string]float64{"temperature": 300})); err != nil {
		t.Fatal(err)
	}
	d.Theta.ForceBoundaries = false

	next := testForcingData(map[string]float64{"temperature": 310})
	if err := ip.UpdateDeltaFields(next, time.Hour); err != nil {
		t.Fatal(err)
	}
	// Sub-stepping through the full forcing interval must land on the
	// snapshot everywhere.
	for s := 0; s < 6; s++ {
		d.ApplyForcing(10 * time.Minute)
	}
	for i, v := range d.Theta.Data.Elements {
		if math.Abs(v-310) > 1e-9 {
			t.Fatalf("element %d: %g, want 310", i, v)
		}
	}
}

func TestForcingUpdateBoundariesOnly(t *testing.T) {
	d := singleImageDomain(t, VarPotentialTemp, ForcingVarNames{Temperature: "temperature"})
	ip, err := NewInterpolator(d, testForcingData(map[string]float64{"temperature": 300}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ip.InitialConditions(testForcingData(map[string]float64{"temperature": 300})); err != nil {
		t.Fatal(err)
	}
	if err := ip.UpdateDeltaFields(testForcingData(map[string]float64{"temperature": 310}), time.Hour); err != nil {
		t.Fatal(err)
	}
	d.ApplyForcing(time.Hour)

	// A single image owns all four physical edges: the boundary ring
	// reaches the snapshot, the interior keeps its old state.
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				want := 300.0
				if j == 0 || j == 3 || i == 0 || i == 3 {
					want = 310
				}
				if got := d.Theta.Data.Get(k, j, i); math.Abs(got-want) > 1e-9 {
					t.Fatalf("(%d,%d,%d): %g, want %g", k, j, i, got, want)
				}
			}
		}
	}
}

func TestCheckMoistureClampsNegatives(t *testing.T) {
	d := singleImageDomain(t, VarPotentialTemp|VarWaterVapor|VarCloudWater,
		ForcingVarNames{Temperature: "temperature"})

	for i := range d.QV.Data.Elements {
		d.QV.Data.Elements[i] = 0.01
	}
	d.QV.Data.Set(-1e-8, 0, 1, 1)
	d.QV.Data.Set(-2.5, 3, 0, 2)
	// sparse.DenseArray.Set silently ignores zero values, so write the
	// element directly.
	d.QV.Data.Elements[d.QV.Data.Index1d(2, 2, 2)] = 0
	d.QC.Data.Set(-0.5, 1, 1, 1)
	// Non-moisture fields may legitimately go negative.
	d.Theta.Data.Set(-10, 0, 0, 0)

	d.CheckMoisture()

	for _, idx := range [][3]int{{0, 1, 1}, {3, 0, 2}} {
		if got := d.QV.Data.Get(idx[0], idx[1], idx[2]); got != 0 {
			t.Errorf("qv%v = %g, want 0", idx, got)
		}
	}
	if got := d.QV.Data.Get(2, 2, 2); got != 0 {
		t.Errorf("qv zero value changed to %g", got)
	}
	if got := d.QV.Data.Get(1, 3, 3); got != 0.01 {
		t.Errorf("qv positive value changed to %g", got)
	}
	if got := d.QC.Data.Get(1, 1, 1); got != 0 {
		t.Errorf("qc(1,1,1) = %g, want 0", got)
	}
	if got := d.Theta.Data.Get(0, 0, 0); got != -10 {
		t.Errorf("theta(0,0,0) = %g, clamping must not touch non-moisture fields", got)
	}
}

func TestSoilAndMonthlyClimIngestion(t *testing.T) {
	init := flatInitReader()
	soilT := sparse.ZerosDense(4, 4, 4)
	soilM := sparse.ZerosDense(4, 4, 4)
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				soilT.Set(280+float64(k), k, j, i)
				soilM.Set(0.1*float64(k+1), k, j, i)
			}
		}
	}
	vegfra := sparse.ZerosDense(12, 4, 4)
	for m := 0; m < 12; m++ {
		for n := 0; n < 16; n++ {
			vegfra.Elements[m*16+n] = float64(m)
		}
	}
	init[soilTVar] = soilT
	init[soilMVar] = soilM
	init[vegFraVar] = vegfra

	g := comm.NewGroup(1)
	d, err := NewDomain(testConfig(1, 1, ForcingVarNames{Temperature: "temperature"}),
		VarPotentialTemp|VarSoil|VarMonthlyClim, g.Rank(0), init)
	if err != nil {
		t.Fatal(err)
	}

	if d.SoilT == nil || d.SoilM == nil {
		t.Fatal("soil fields not allocated")
	}
	if got := d.SoilT.Data.Shape; got[0] != 4 || got[1] != 4 || got[2] != 4 {
		t.Fatalf("soil temperature shape %v, want [4 4 4]", got)
	}
	if got := d.SoilT.Data.Get(2, 1, 1); got != 282 {
		t.Errorf("soil temperature level 2 = %g, want 282", got)
	}
	if got := d.SoilM.Data.Get(3, 0, 0); got != 0.4 {
		t.Errorf("soil moisture level 3 = %g, want 0.4", got)
	}
	if d.VegFraMonthly == nil {
		t.Fatal("monthly vegetation fraction not allocated")
	}
	if got := d.VegFraMonthly.Data.Shape; got[0] != 12 {
		t.Fatalf("vegetation fraction shape %v, want 12 levels", got)
	}
	if got := d.VegFraMonthly.Data.Get(7, 2, 2); got != 7 {
		t.Errorf("vegetation fraction month 7 = %g, want 7", got)
	}
	if got := d.GridSoil.Nz(); got != 4 {
		t.Errorf("soil grid has %d levels, want 4", got)
	}
	if got := d.GridMonthly.Nz(); got != 12 {
		t.Errorf("monthly grid has %d levels, want 12", got)
	}
}

// TestMultiImageForcing runs the full pipeline on a 2×2 image grid:
// domain setup (with its collective mean-terrain reduction),
// interpolation, halo exchange and a delta-forcing cycle.
func TestMultiImageForcing(t *testing.T) {
	const n = 4
	g := comm.NewGroup(n)
	init := flatInitReader()

	errs := make([]error, n)
	var wg sync.WaitGroup
	for id := 0; id < n; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs[id] = func() error {
				cfg := testConfig(2, 2, ForcingVarNames{Temperature: "temperature"})
				d, err := NewDomain(cfg, VarPotentialTemp, g.Rank(id), init)
				if err != nil {
					return err
				}
				ip, err := NewInterpolator(d, testForcingData(map[string]float64{"temperature": 300}))
				if err != nil {
					return err
				}
				if err := ip.InitialConditions(testForcingData(map[string]float64{"temperature": 300})); err != nil {
					return err
				}
				d.HaloExchange()
				d.Theta.ForceBoundaries = false

				if err := ip.UpdateDeltaFields(testForcingData(map[string]float64{"temperature": 310}), time.Hour); err != nil {
					return err
				}
				for s := 0; s < 2; s++ {
					d.ApplyForcing(30 * time.Minute)
					d.HaloExchange()
				}
				for i, v := range d.Theta.Data.Elements {
					if math.Abs(v-310) > 1e-9 {
						return fmt.Errorf("image %d element %d: %g, want 310", id, i, v)
					}
				}
				return nil
			}()
		}(id)
	}
	wg.Wait()
	for id, err := range errs {
		if err != nil {
			t.Errorf("image %d: %v", id, err)
		}
	}
}
