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

	"github.com/BurntSushi/toml"
)

// Vars is the requested-capability set deciding which fields a Domain
// allocates. Fields whose flag is absent stay nil and every catalog
// iteration skips them.
type Vars uint32

const (
	// VarWaterVapor requests the water vapor mixing ratio field.
	VarWaterVapor Vars = 1 << iota
	// VarCloudWater requests the cloud water mixing ratio field.
	VarCloudWater
	// VarCloudIce requests the cloud ice mixing ratio field.
	VarCloudIce
	// VarRain requests the rain mass mixing ratio field.
	VarRain
	// VarSnow requests the snow mass mixing ratio field.
	VarSnow
	// VarPotentialTemp requests the potential temperature field.
	VarPotentialTemp
	// VarPressure requests the pressure field.
	VarPressure
	// VarWinds requests the u, v and w wind component fields.
	VarWinds
	// VarSoil requests the soil temperature and moisture fields.
	VarSoil
	// VarMonthlyClim requests the monthly vegetation-fraction
	// climatology field.
	VarMonthlyClim
)

// Has reports whether all flags in w are set in v.
func (v Vars) Has(w Vars) bool { return v&w == w }

var varNames = map[string]Vars{
	"water_vapor":    VarWaterVapor,
	"cloud_water":    VarCloudWater,
	"cloud_ice":      VarCloudIce,
	"rain":           VarRain,
	"snow":           VarSnow,
	"potential_temp": VarPotentialTemp,
	"pressure":       VarPressure,
	"winds":          VarWinds,
	"soil":           VarSoil,
	"monthly_clim":   VarMonthlyClim,
}

// ParseVars converts a list of requested-variable names from the
// configuration file into a Vars set.
func ParseVars(names []string) (Vars, error) {
	var v Vars
	for _, n := range names {
		f, ok := varNames[n]
		if !ok {
			return 0, fmt.Errorf("meso: unknown requested variable %q", n)
		}
		v |= f
	}
	return v, nil
}

// ForcingVarNames maps the fields this core manages to the variable
// names used by the external forcing dataset. Empty names leave the
// corresponding field unregistered with the forcing machinery.
type ForcingVarNames struct {
	Temperature string `toml:"temperature"`
	Pressure    string `toml:"pressure"`
	U           string `toml:"u"`
	V           string `toml:"v"`
	WaterVapor  string `toml:"water_vapor"`
	CloudWater  string `toml:"cloud_water"`
	CloudIce    string `toml:"cloud_ice"`
	Rain        string `toml:"rain"`
	Snow        string `toml:"snow"`
	Height      string `toml:"height"`
	Lat         string `toml:"lat"`
	Lon         string `toml:"lon"`
}

// registered returns the forcing-variable names that drive domain
// fields, in catalog order, skipping unconfigured ones.
func (n *ForcingVarNames) registered() []string {
	all := []string{n.Temperature, n.Pressure, n.U, n.V,
		n.WaterVapor, n.CloudWater, n.CloudIce, n.Rain, n.Snow}
	out := all[:0]
	for _, s := range all {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Config holds the scalar parameters this core needs. It is decoded from
// a TOML file by the driver; this core performs no other option parsing.
type Config struct {
	// InitFile is the path of the NetCDF file holding the static
	// terrain, coordinate, land and soil arrays.
	InitFile string `toml:"init_file"`
	// ForcingFile is the path template of the forcing dataset.
	ForcingFile string `toml:"forcing_file"`

	// Ximages and Yimages give the image-grid shape. Their product
	// must equal the number of cooperating images.
	Ximages int `toml:"ximages"`
	Yimages int `toml:"yimages"`

	// Dx is the horizontal grid spacing [m].
	Dx float64 `toml:"dx"`

	// DzLevels are the nominal vertical level thicknesses [m],
	// bottom-up.
	DzLevels []float64 `toml:"dz_levels"`

	// FlatZHeight is the height [m] above which vertical levels
	// become horizontally flat. A value ≤ 0 is interpreted as an
	// offset below the model top.
	FlatZHeight float64 `toml:"flat_z_height"`

	// SpaceVaryingDz enables terrain-following level thicknesses.
	// When false all levels are terrain-parallel with fixed global
	// thickness.
	SpaceVaryingDz bool `toml:"space_varying_dz"`

	// SmoothDist is the half-width [cells] of the smoothing window
	// applied to interpolated wind fields.
	SmoothDist int `toml:"smooth_dist"`

	// Halo is the ghost-cell width for exchanged prognostic fields.
	Halo int `toml:"halo"`

	// NSoilLevels is the number of soil levels in the init file.
	NSoilLevels int `toml:"n_soil_levels"`

	// StartDate and EndDate bound the forcing period, in the format
	// "YYYYMMDD".
	StartDate string `toml:"start_date"`
	EndDate   string `toml:"end_date"`

	// ForcingInterval is the time between forcing records and
	// FileInterval the time span of each forcing file, both in
	// time.ParseDuration syntax.
	ForcingInterval string `toml:"forcing_interval"`
	FileInterval    string `toml:"file_interval"`

	// SubstepInterval is the simulation sub-step length.
	SubstepInterval string `toml:"substep_interval"`

	// RequestedVars lists the variable groups to allocate.
	RequestedVars []string `toml:"requested_vars"`

	ForcingVars ForcingVarNames `toml:"forcing_vars"`
}

// applyDefaults fills the parameters that have natural defaults.
func (c *Config) applyDefaults() {
	if c.Halo == 0 {
		c.Halo = 1
	}
	if c.SmoothDist == 0 {
		c.SmoothDist = 2
	}
	if c.NSoilLevels == 0 {
		c.NSoilLevels = 4
	}
	if c.ForcingInterval == "" {
		c.ForcingInterval = "1h"
	}
	if c.FileInterval == "" {
		c.FileInterval = "24h"
	}
	if c.SubstepInterval == "" {
		c.SubstepInterval = "5m"
	}
}

// Check validates the parts of the configuration this core depends on.
func (c *Config) Check() error {
	if c.Ximages < 1 || c.Yimages < 1 {
		return fmt.Errorf("meso: invalid image grid %d×%d", c.Ximages, c.Yimages)
	}
	if len(c.DzLevels) == 0 {
		return fmt.Errorf("meso: no vertical level thicknesses configured")
	}
	for k, dz := range c.DzLevels {
		if dz <= 0 {
			return fmt.Errorf("meso: nonpositive level thickness %g at level %d", dz, k)
		}
	}
	if c.Dx <= 0 {
		return fmt.Errorf("meso: nonpositive grid spacing %g", c.Dx)
	}
	seen := make(map[string]bool)
	for _, name := range c.ForcingVars.registered() {
		if seen[name] {
			return fmt.Errorf("meso: forcing variable %q configured for more than one field", name)
		}
		seen[name] = true
	}
	return nil
}

// LoadConfig decodes and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("meso: opening configuration file: %v", err)
	}
	defer f.Close()
	c := new(Config)
	if _, err := toml.DecodeReader(f, c); err != nil {
		return nil, fmt.Errorf("meso: decoding configuration file %s: %v", path, err)
	}
	c.applyDefaults()
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}
