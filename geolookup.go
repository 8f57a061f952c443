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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/sparse"
)

// A GeoLookup maps forcing-grid cells onto fine-grid cells: for every
// destination cell it stores the four bracketing source-grid cell
// indices and their bilinear weights. Interior weight rows sum to one;
// destination cells outside the source grid's hull collapse to a single
// nearest-neighbor weight of one. A lookup is built once per
// (source grid, destination grid) pair and is immutable afterwards; the
// domain grid is static for a run, so rebuilds never happen.
type GeoLookup struct {
	ny, nx       int // destination shape
	srcNy, srcNx int

	// Per flattened destination cell: the four source (j,i) pairs and
	// matching weights.
	Index  [][4][2]int
	Weight [][4]float64
}

// srcQuad is the cell between four adjacent source-grid centers,
// indexed by its lower-left corner.
type srcQuad struct {
	geom.Polygon
	j, i int
}

// NewGeoLookup builds the horizontal interpolation table from the source
// grid's coordinates onto the destination grid's coordinates. All four
// arrays are 2D [j,i] longitude/latitude (or projected x/y) cell-center
// coordinates.
func NewGeoLookup(srcLon, srcLat, dstLon, dstLat *sparse.DenseArray) (*GeoLookup, error) {
	if len(srcLon.Shape) != 2 || len(dstLon.Shape) != 2 {
		return nil, fmt.Errorf("meso: geographic lookup needs 2D coordinate arrays, got %v and %v",
			srcLon.Shape, dstLon.Shape)
	}
	srcNy, srcNx := srcLon.Shape[0], srcLon.Shape[1]
	if srcNy < 2 || srcNx < 2 {
		return nil, fmt.Errorf("meso: source grid %d×%d too small for interpolation", srcNy, srcNx)
	}
	ny, nx := dstLon.Shape[0], dstLon.Shape[1]

	g := &GeoLookup{
		ny: ny, nx: nx,
		srcNy: srcNy, srcNx: srcNx,
		Index:  make([][4][2]int, ny*nx),
		Weight: make([][4]float64, ny*nx),
	}

	tree := rtree.NewTree(25, 50)
	for j := 0; j < srcNy-1; j++ {
		for i := 0; i < srcNx-1; i++ {
			tree.Insert(srcQuad{
				Polygon: geom.Polygon{{
					{X: srcLon.Get(j, i), Y: srcLat.Get(j, i)},
					{X: srcLon.Get(j, i+1), Y: srcLat.Get(j, i+1)},
					{X: srcLon.Get(j+1, i+1), Y: srcLat.Get(j+1, i+1)},
					{X: srcLon.Get(j+1, i), Y: srcLat.Get(j+1, i)},
				}},
				j: j, i: i,
			})
		}
	}

	// Characteristic source cell size, for the expanding nearest-
	// neighbor search at extrapolated edges.
	cellDx := dist(
		geom.Point{X: srcLon.Get(0, 0), Y: srcLat.Get(0, 0)},
		geom.Point{X: srcLon.Get(srcNy-1, srcNx-1), Y: srcLat.Get(srcNy-1, srcNx-1)},
	) / float64(srcNy+srcNx)

	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			p := geom.Point{X: dstLon.Get(j, i), Y: dstLat.Get(j, i)}
			n := j*nx + i
			if q, ok := findQuad(tree, p); ok {
				g.Index[n], g.Weight[n] = bilinear(q, srcLon, srcLat, p)
			} else {
				jn, in := nearestCenter(tree, srcLon, srcLat, p, cellDx)
				for c := 0; c < 4; c++ {
					g.Index[n][c] = [2]int{jn, in}
				}
				g.Weight[n] = [4]float64{1, 0, 0, 0}
			}
		}
	}
	return g, nil
}

func findQuad(tree *rtree.Rtree, p geom.Point) (srcQuad, bool) {
	for _, qI := range tree.SearchIntersect(p.Bounds()) {
		q := qI.(srcQuad)
		if p.Within(q.Polygon) != geom.Outside {
			return q, true
		}
	}
	return srcQuad{}, false
}

// bilinear computes the corner indices and weights for point p inside
// quad q, from p's fractional position along the quad's edge vectors.
func bilinear(q srcQuad, srcLon, srcLat *sparse.DenseArray, p geom.Point) ([4][2]int, [4]float64) {
	a := geom.Point{X: srcLon.Get(q.j, q.i), Y: srcLat.Get(q.j, q.i)}
	b := geom.Point{X: srcLon.Get(q.j, q.i+1), Y: srcLat.Get(q.j, q.i+1)}
	c := geom.Point{X: srcLon.Get(q.j+1, q.i), Y: srcLat.Get(q.j+1, q.i)}

	fx := frac(p.X-a.X, p.Y-a.Y, b.X-a.X, b.Y-a.Y)
	fy := frac(p.X-a.X, p.Y-a.Y, c.X-a.X, c.Y-a.Y)

	idx := [4][2]int{
		{q.j, q.i},
		{q.j, q.i + 1},
		{q.j + 1, q.i},
		{q.j + 1, q.i + 1},
	}
	w := [4]float64{
		(1 - fx) * (1 - fy),
		fx * (1 - fy),
		(1 - fx) * fy,
		fx * fy,
	}
	return idx, w
}

// frac projects the offset (dx,dy) onto the edge vector (ex,ey) and
// returns the fractional position along it, clamped to [0,1].
func frac(dx, dy, ex, ey float64) float64 {
	d2 := ex*ex + ey*ey
	if d2 == 0 {
		return 0
	}
	f := (dx*ex + dy*ey) / d2
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// nearestCenter finds the source cell center closest to p by searching
// boxes of doubling radius around it.
func nearestCenter(tree *rtree.Rtree, srcLon, srcLat *sparse.DenseArray, p geom.Point, r0 float64) (int, int) {
	r := r0
	for try := 0; try < 40; try++ {
		box := &geom.Bounds{
			Min: geom.Point{X: p.X - r, Y: p.Y - r},
			Max: geom.Point{X: p.X + r, Y: p.Y + r},
		}
		var bestJ, bestI int
		best := -1.0
		for _, qI := range tree.SearchIntersect(box) {
			q := qI.(srcQuad)
			// Consider all four corners of each candidate quad.
			for _, c := range [][2]int{{q.j, q.i}, {q.j, q.i + 1}, {q.j + 1, q.i}, {q.j + 1, q.i + 1}} {
				d := dist(p, geom.Point{X: srcLon.Get(c[0], c[1]), Y: srcLat.Get(c[0], c[1])})
				if best < 0 || d < best {
					best, bestJ, bestI = d, c[0], c[1]
				}
			}
		}
		if best >= 0 {
			return bestJ, bestI
		}
		r *= 2
	}
	// Degenerate coordinates; fall back to the grid origin.
	return 0, 0
}

func dist(a, b geom.Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Interp2D horizontally interpolates a source-grid 2D array onto the
// destination grid.
func (g *GeoLookup) Interp2D(src *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(g.ny, g.nx)
	for n := range g.Index {
		v := 0.0
		for c := 0; c < 4; c++ {
			v += g.Weight[n][c] * src.Get(g.Index[n][c][0], g.Index[n][c][1])
		}
		out.Elements[n] = v
	}
	return out
}

// Interp3D horizontally interpolates every level of a source-grid
// [k,j,i] array onto the destination grid, keeping the source's vertical
// extent.
func (g *GeoLookup) Interp3D(src *sparse.DenseArray) *sparse.DenseArray {
	nk := src.Shape[0]
	out := sparse.ZerosDense(nk, g.ny, g.nx)
	for k := 0; k < nk; k++ {
		for n := range g.Index {
			v := 0.0
			for c := 0; c < 4; c++ {
				v += g.Weight[n][c] * src.Get(k, g.Index[n][c][0], g.Index[n][c][1])
			}
			out.Set(v, k, n/g.nx, n%g.nx)
		}
	}
	return out
}
