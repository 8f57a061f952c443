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
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// flattenLevel returns the level index above which the vertical levels
// become horizontally flat. Levels k < flattenLevel are terrain-
// following. A flatZHeight ≤ 0 is an offset below the model top. When
// the flattening height is never reached while accumulating nominal
// thicknesses (including a flatZHeight above the column top), every
// level is terrain-following and the returned index is len(dz).
func flattenLevel(dz []float64, flatZHeight float64) int {
	h := flatZHeight
	if h <= 0 {
		h = floats.Sum(dz) + flatZHeight
	}
	cum := 0.0
	for k, t := range dz {
		cum += t
		if cum >= h {
			return k + 1
		}
	}
	return len(dz)
}

// terrainFollowingZ computes the scaled level thicknesses, mid-level
// heights and interface heights for a grid with the given local terrain.
// dz holds the nominal bottom-up level thicknesses; meanTerrain is the
// domain-wide mean terrain height; maxLevel is the flattening level from
// flattenLevel, or 0 to disable space-varying thickness entirely (all
// thickness ratios one: terrain-parallel levels of fixed global
// thickness).
//
// Below the flattening level each column's thickness is scaled by the
// ratio of (target elevation − local terrain) to (target elevation −
// mean terrain), where the target elevation is the mean-terrain-based
// height of the flattening level. Heights accumulate bottom-up: the
// first mass level sits half a scaled thickness above the terrain, and
// each next level is the prior one plus the average of the consecutive
// scaled thicknesses.
func terrainFollowingZ(dz []float64, terrain *sparse.DenseArray, meanTerrain float64, maxLevel int) (dzOut, z, zi *sparse.DenseArray) {
	nz := len(dz)
	ny, nx := terrain.Shape[0], terrain.Shape[1]
	dzOut = sparse.ZerosDense(nz, ny, nx)
	z = sparse.ZerosDense(nz, ny, nx)
	zi = sparse.ZerosDense(nz+1, ny, nx)

	target := meanTerrain + floats.Sum(dz[:maxLevel])

	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			ratio := 1.0
			if maxLevel > 0 && target != meanTerrain {
				ratio = (target - terrain.Get(j, i)) / (target - meanTerrain)
			}
			prevDz := 0.0
			prevZ := 0.0
			zi.Set(terrain.Get(j, i), 0, j, i)
			for k := 0; k < nz; k++ {
				s := dz[k]
				if k < maxLevel {
					s = dz[k] * ratio
				}
				dzOut.Set(s, k, j, i)
				if k == 0 {
					prevZ = terrain.Get(j, i) + s/2
				} else {
					prevZ += (s + prevDz) / 2
				}
				z.Set(prevZ, k, j, i)
				zi.Set(zi.Get(k, j, i)+s, k+1, j, i)
				prevDz = s
			}
		}
	}
	return dzOut, z, zi
}

// initVerticalGeometry computes the terrain-following vertical geometry
// for the mass grid and both staggered grids. It requires the terrain
// fields and the domain-wide mean terrain height to be in place.
func (d *Domain) initVerticalGeometry() {
	maxLevel := 0
	if d.cfg.SpaceVaryingDz {
		maxLevel = flattenLevel(d.cfg.DzLevels, d.cfg.FlatZHeight)
	}

	dzm, zm, zim := terrainFollowingZ(d.cfg.DzLevels, d.Terrain.Data, d.meanTerrain, maxLevel)
	d.DzMass = &Field{Name: "dz_mass", Data: dzm, topo: d.Grid}
	d.Z = &Field{Name: "z", Data: zm, topo: d.Grid}
	d.ZInterface = &Field{Name: "z_interface", Data: zim, topo: d.Grid}

	// Staggered-grid heights follow the same recurrence seeded from
	// the staggered terrain, on the extended grids so smoothing has
	// data past the tile edge.
	_, zu, _ := terrainFollowingZ(d.cfg.DzLevels, d.TerrainU.Data, d.meanTerrain, maxLevel)
	d.ZU = &Field{Name: "z_u", Data: zu, topo: d.GridUExt}
	_, zv, _ := terrainFollowingZ(d.cfg.DzLevels, d.TerrainV.Data, d.meanTerrain, maxLevel)
	d.ZV = &Field{Name: "z_v", Data: zv, topo: d.GridVExt}
}
