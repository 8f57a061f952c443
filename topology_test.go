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

import "testing"

// TestTileUnion checks that the tiles of all images exactly cover the
// global domain with no gaps or overlaps, for several image-grid shapes
// including ones that leave remainder cells.
func TestTileUnion(t *testing.T) {
	cases := []struct {
		nx, ny, ximages, yimages int
	}{
		{4, 4, 2, 2},
		{8, 8, 2, 2},
		{10, 7, 3, 2},
		{9, 9, 3, 3},
		{5, 5, 1, 1},
		{12, 5, 4, 1},
	}
	for _, c := range cases {
		n := c.ximages * c.yimages
		covered := make([][]int, c.ny)
		for j := range covered {
			covered[j] = make([]int, c.nx)
		}
		for rank := 0; rank < n; rank++ {
			topo, err := NewTopology(n, c.ximages, c.yimages, rank, 1)
			if err != nil {
				t.Fatalf("%v rank %d: %v", c, rank, err)
			}
			if err := topo.SetGridDimensions(c.nx, c.ny, 3, 0, 0); err != nil {
				t.Fatalf("%v rank %d: %v", c, rank, err)
			}
			if topo.Ims > topo.Its || topo.Its > topo.Ite || topo.Ite > topo.Ime {
				t.Errorf("%v rank %d: invalid x extents %d %d %d %d",
					c, rank, topo.Ims, topo.Its, topo.Ite, topo.Ime)
			}
			for j := topo.Jts; j <= topo.Jte; j++ {
				for i := topo.Its; i <= topo.Ite; i++ {
					covered[j][i]++
				}
			}
		}
		for j := 0; j < c.ny; j++ {
			for i := 0; i < c.nx; i++ {
				if covered[j][i] != 1 {
					t.Errorf("%v: cell (%d,%d) covered %d times", c, j, i, covered[j][i])
				}
			}
		}
	}
}

func TestTopologyImageGridMismatch(t *testing.T) {
	if _, err := NewTopology(4, 3, 2, 0, 1); err == nil {
		t.Error("expected error for 3×2 image grid with 4 images")
	}
	if _, err := NewTopology(4, 2, 2, 5, 1); err == nil {
		t.Error("expected error for out-of-range rank")
	}
}

func TestMemoryMarginOnlyAtInteriorEdges(t *testing.T) {
	// Rank 0 of a 2×2 grid has physical edges at west and south and
	// neighbors at east and north.
	topo, err := NewTopology(4, 2, 2, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := topo.SetGridDimensions(8, 8, 3, 0, 0); err != nil {
		t.Fatal(err)
	}
	if topo.Ims != topo.Ids {
		t.Errorf("west physical edge should carry no margin: ims=%d ids=%d", topo.Ims, topo.Ids)
	}
	if topo.Jms != topo.Jds {
		t.Errorf("south physical edge should carry no margin: jms=%d jds=%d", topo.Jms, topo.Jds)
	}
	if got, want := topo.Ime, topo.Ite+2; got != want {
		t.Errorf("east interior edge margin: ime=%d want %d", got, want)
	}
	if got, want := topo.Jme, topo.Jte+2; got != want {
		t.Errorf("north interior edge margin: jme=%d want %d", got, want)
	}
}

func TestStaggeredExtents(t *testing.T) {
	// The trailing image in x absorbs the u grid's extra column.
	for rank := 0; rank < 2; rank++ {
		topo, err := NewTopology(2, 2, 1, rank, 1)
		if err != nil {
			t.Fatal(err)
		}
		if err := topo.SetGridDimensions(6, 4, 3, 1, 0); err != nil {
			t.Fatal(err)
		}
		if topo.Ide != 6 {
			t.Errorf("rank %d: u-grid ide=%d, want 6", rank, topo.Ide)
		}
		if rank == 1 && topo.Ite != 6 {
			t.Errorf("trailing rank: ite=%d, want 6", topo.Ite)
		}
		if rank == 0 && topo.Ite != 2 {
			t.Errorf("leading rank: ite=%d, want 2", topo.Ite)
		}
	}
}

func TestExtendClampsToGlobalBounds(t *testing.T) {
	topo, err := NewTopology(4, 2, 2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := topo.SetGridDimensions(8, 8, 3, 0, 0); err != nil {
		t.Fatal(err)
	}
	ext := topo.Extend(100)
	if ext.Ims != topo.Ids || ext.Ime != topo.Ide {
		t.Errorf("extended x extents %d..%d should clamp to %d..%d",
			ext.Ims, ext.Ime, topo.Ids, topo.Ide)
	}
	if ext.Jms != topo.Jds || ext.Jme != topo.Jde {
		t.Errorf("extended y extents %d..%d should clamp to %d..%d",
			ext.Jms, ext.Jme, topo.Jds, topo.Jde)
	}
	// The original is unchanged.
	if topo.Ims != 0 || topo.Ime == topo.Ide {
		t.Errorf("Extend should not mutate the receiver: ims=%d ime=%d", topo.Ims, topo.Ime)
	}
}

func TestBoundaryFlagsAndNeighbors(t *testing.T) {
	// 3×3 image grid; the center image has four neighbors and no
	// physical edges.
	topo, err := NewTopology(9, 3, 3, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if topo.WestBoundary() || topo.EastBoundary() || topo.SouthBoundary() || topo.NorthBoundary() {
		t.Error("center image should have no boundary flags set")
	}
	for _, c := range []struct {
		name string
		fn   func() (int, bool)
		want int
	}{
		{"west", topo.West, 3},
		{"east", topo.East, 5},
		{"south", topo.South, 1},
		{"north", topo.North, 7},
	} {
		got, ok := c.fn()
		if !ok || got != c.want {
			t.Errorf("%s neighbor: got %d,%v want %d,true", c.name, got, ok, c.want)
		}
	}

	// A corner image has two boundary flags and two neighbors.
	corner, err := NewTopology(9, 3, 3, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !corner.WestBoundary() || !corner.SouthBoundary() {
		t.Error("corner image should be at the west and south edges")
	}
	if _, ok := corner.West(); ok {
		t.Error("corner image should have no west neighbor")
	}
	if _, ok := corner.South(); ok {
		t.Error("corner image should have no south neighbor")
	}
}
