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

import "fmt"

// A Topology describes one image's portion of the global simulation grid:
// the global extents, the tile this image owns and advances, and the
// memory extents it allocates, which extend past the tile by a smoothing
// margin wherever a neighboring image exists. All bounds are zero-based
// and inclusive. A Topology is computed once at initialization and is
// immutable afterwards.
type Topology struct {
	// Global domain extents.
	Ids, Ide, Jds, Jde, Kds, Kde int
	// Memory (allocated) extents for this image.
	Ims, Ime, Jms, Jme, Kms, Kme int
	// Tile (owned) extents for this image.
	Its, Ite, Jts, Jte, Kts, Kte int

	// Position of this image in the image grid, and the grid shape.
	Ximg, Yimg       int
	Ximages, Yimages int

	// Staggering extras: 1 for a u grid (one extra column) or a v grid
	// (one extra row), 0 for the mass grid.
	NXExtra, NYExtra int

	// Width of the smoothing margin at interior image boundaries.
	NSmooth int
}

// NewTopology creates the topology skeleton for the image with the given
// rank in a ximages × yimages image grid. It returns an error if the
// image-grid shape does not match the number of cooperating images;
// continuing with a mismatched decomposition would silently corrupt the
// domain. Call SetGridDimensions to populate the extents.
func NewTopology(nimages, ximages, yimages, rank, nsmooth int) (*Topology, error) {
	if ximages < 1 || yimages < 1 || ximages*yimages != nimages {
		return nil, fmt.Errorf("meso: image grid %d×%d does not match %d images",
			ximages, yimages, nimages)
	}
	if rank < 0 || rank >= nimages {
		return nil, fmt.Errorf("meso: rank %d out of range for %d images", rank, nimages)
	}
	if nsmooth < 0 {
		return nil, fmt.Errorf("meso: negative smoothing halo width %d", nsmooth)
	}
	return &Topology{
		Ximg:    rank % ximages,
		Yimg:    rank / ximages,
		Ximages: ximages,
		Yimages: yimages,
		NSmooth: nsmooth,
	}, nil
}

// SetGridDimensions derives this image's tile and memory extents from the
// global grid size and the image-grid shape. nxExtra and nyExtra are
// staggering extras: a u grid carries one extra column (nxExtra=1) and a
// v grid one extra row (nyExtra=1). Cells left over when the global
// extent does not divide evenly are assigned to the trailing-edge tiles
// of the image grid.
func (t *Topology) SetGridDimensions(nxGlobal, nyGlobal, nzGlobal, nxExtra, nyExtra int) error {
	if nxGlobal < t.Ximages || nyGlobal < t.Yimages {
		return fmt.Errorf("meso: grid %d×%d too small for %d×%d images",
			nxGlobal, nyGlobal, t.Ximages, t.Yimages)
	}
	if nzGlobal < 1 {
		return fmt.Errorf("meso: invalid vertical extent %d", nzGlobal)
	}
	t.NXExtra = nxExtra
	t.NYExtra = nyExtra

	t.Ids, t.Ide = 0, nxGlobal+nxExtra-1
	t.Jds, t.Jde = 0, nyGlobal+nyExtra-1
	t.Kds, t.Kde = 0, nzGlobal-1

	nxTile := nxGlobal / t.Ximages
	nyTile := nyGlobal / t.Yimages

	t.Its = t.Ids + t.Ximg*nxTile
	t.Ite = t.Its + nxTile - 1
	if t.Ximg == t.Ximages-1 {
		// Trailing tile absorbs the remainder and the stagger extra.
		t.Ite = t.Ide
	}
	t.Jts = t.Jds + t.Yimg*nyTile
	t.Jte = t.Jts + nyTile - 1
	if t.Yimg == t.Yimages-1 {
		t.Jte = t.Jde
	}
	t.Kts, t.Kte = t.Kds, t.Kde

	// The memory margin exists only where a neighboring image does;
	// physical domain edges carry no margin.
	t.Ims = max(t.Ids, t.Its-t.NSmooth)
	t.Ime = min(t.Ide, t.Ite+t.NSmooth)
	t.Jms = max(t.Jds, t.Jts-t.NSmooth)
	t.Jme = min(t.Jde, t.Jte+t.NSmooth)
	t.Kms, t.Kme = t.Kds, t.Kde
	return nil
}

// Extend returns a copy of t whose memory extents are widened by n cells
// on each lateral side, clamped to the global domain bounds. Extended
// topologies back the staggered-grid variants used for smoothing across
// image boundaries.
func (t *Topology) Extend(n int) *Topology {
	o := *t
	o.Ims = max(t.Ids, t.Ims-n)
	o.Ime = min(t.Ide, t.Ime+n)
	o.Jms = max(t.Jds, t.Jms-n)
	o.Jme = min(t.Jde, t.Jme+n)
	return &o
}

// WithVerticalExtent returns a copy of t with kds..kde replaced by
// 0..nz-1. It backs the soil and monthly-climatology grid variants,
// which share the horizontal decomposition but have their own level
// counts.
func (t *Topology) WithVerticalExtent(nz int) *Topology {
	o := *t
	o.Kds, o.Kde = 0, nz-1
	o.Kms, o.Kme = 0, nz-1
	o.Kts, o.Kte = 0, nz-1
	return &o
}

// Rank returns this image's rank in the image grid.
func (t *Topology) Rank() int { return t.Yimg*t.Ximages + t.Ximg }

// Boundary flags: true iff this image sits at that edge of the image
// grid, which makes its tile edge a physical domain edge.

// WestBoundary reports whether this image is at the western domain edge.
func (t *Topology) WestBoundary() bool { return t.Ximg == 0 }

// EastBoundary reports whether this image is at the eastern domain edge.
func (t *Topology) EastBoundary() bool { return t.Ximg == t.Ximages-1 }

// SouthBoundary reports whether this image is at the southern domain edge.
func (t *Topology) SouthBoundary() bool { return t.Yimg == 0 }

// NorthBoundary reports whether this image is at the northern domain edge.
func (t *Topology) NorthBoundary() bool { return t.Yimg == t.Yimages-1 }

// Neighbor ranks. The second return value is false at a physical domain
// edge, where there is no neighbor in that direction.

// West returns the rank of the western neighbor.
func (t *Topology) West() (int, bool) {
	if t.WestBoundary() {
		return -1, false
	}
	return t.Rank() - 1, true
}

// East returns the rank of the eastern neighbor.
func (t *Topology) East() (int, bool) {
	if t.EastBoundary() {
		return -1, false
	}
	return t.Rank() + 1, true
}

// South returns the rank of the southern neighbor.
func (t *Topology) South() (int, bool) {
	if t.SouthBoundary() {
		return -1, false
	}
	return t.Rank() - t.Ximages, true
}

// North returns the rank of the northern neighbor.
func (t *Topology) North() (int, bool) {
	if t.NorthBoundary() {
		return -1, false
	}
	return t.Rank() + t.Ximages, true
}

// Nx returns the allocated extent in x.
func (t *Topology) Nx() int { return t.Ime - t.Ims + 1 }

// Ny returns the allocated extent in y.
func (t *Topology) Ny() int { return t.Jme - t.Jms + 1 }

// Nz returns the allocated extent in z.
func (t *Topology) Nz() int { return t.Kme - t.Kms + 1 }

// LocalI converts a global x index to this image's array index.
func (t *Topology) LocalI(i int) int { return i - t.Ims }

// LocalJ converts a global y index to this image's array index.
func (t *Topology) LocalJ(j int) int { return j - t.Jms }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
