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

import "github.com/spatialmodel/meso/comm"

// Halo messages are tagged with the side of the *receiving* image that
// they fill, so a message sent toward the west fills the receiver's east
// ghost region and carries the "E" tag.
const (
	haloWest  = "W"
	haloEast  = "E"
	haloSouth = "S"
	haloNorth = "N"
)

// Send copies the interior-adjacent cells into outgoing halo buffers and
// posts one message to each existing neighbor. It never blocks. All
// images must call Send for a field before any image calls Retrieve for
// it, in the same per-field order everywhere, or the exchange deadlocks.
func (f *ExchangeableField) Send(r *comm.Rank) {
	t := f.topo
	if w, ok := t.West(); ok {
		r.Send(w, f.Name+"/"+haloEast, f.packX(t.LocalI(t.Its)))
	}
	if e, ok := t.East(); ok {
		r.Send(e, f.Name+"/"+haloWest, f.packX(t.LocalI(t.Ite)-f.halo+1))
	}
	if s, ok := t.South(); ok {
		r.Send(s, f.Name+"/"+haloNorth, f.packY(t.LocalJ(t.Jts)))
	}
	if n, ok := t.North(); ok {
		r.Send(n, f.Name+"/"+haloSouth, f.packY(t.LocalJ(t.Jte)-f.halo+1))
	}
}

// Retrieve blocks until the halo message from each existing neighbor has
// arrived, copies each into the matching ghost region, and then waits at
// a group barrier so that all images leave the exchange together.
func (f *ExchangeableField) Retrieve(r *comm.Rank) {
	f.RetrieveNoSync(r)
	r.Barrier()
}

// RetrieveNoSync is Retrieve without the trailing barrier, for callers
// that know a prior Retrieve already synchronized all images at this
// logical point.
func (f *ExchangeableField) RetrieveNoSync(r *comm.Rank) {
	t := f.topo
	if w, ok := t.West(); ok {
		f.unpackX(r.Recv(w, f.Name+"/"+haloWest), t.LocalI(t.Its)-f.halo)
	}
	if e, ok := t.East(); ok {
		f.unpackX(r.Recv(e, f.Name+"/"+haloEast), t.LocalI(t.Ite)+1)
	}
	if s, ok := t.South(); ok {
		f.unpackY(r.Recv(s, f.Name+"/"+haloSouth), t.LocalJ(t.Jts)-f.halo)
	}
	if n, ok := t.North(); ok {
		f.unpackY(r.Recv(n, f.Name+"/"+haloNorth), t.LocalJ(t.Jte)+1)
	}
}

// Exchange is Send followed by Retrieve.
func (f *ExchangeableField) Exchange(r *comm.Rank) {
	f.Send(r)
	f.Retrieve(r)
}

// packX copies the halo-wide slab of columns starting at local index i0,
// over the owned rows and all levels, into a flat buffer.
func (f *ExchangeableField) packX(i0 int) []float64 {
	t := f.topo
	j0, j1 := t.LocalJ(t.Jts), t.LocalJ(t.Jte)
	buf := make([]float64, 0, t.Nz()*(j1-j0+1)*f.halo)
	for k := 0; k < t.Nz(); k++ {
		for j := j0; j <= j1; j++ {
			for i := i0; i < i0+f.halo; i++ {
				buf = append(buf, f.Data.Get(k, j, i))
			}
		}
	}
	return buf
}

func (f *ExchangeableField) unpackX(buf []float64, i0 int) {
	t := f.topo
	j0, j1 := t.LocalJ(t.Jts), t.LocalJ(t.Jte)
	n := 0
	for k := 0; k < t.Nz(); k++ {
		for j := j0; j <= j1; j++ {
			for i := i0; i < i0+f.halo; i++ {
				f.Data.Set(buf[n], k, j, i)
				n++
			}
		}
	}
}

// packY copies the halo-wide slab of rows starting at local index j0,
// over the owned columns and all levels, into a flat buffer.
func (f *ExchangeableField) packY(j0 int) []float64 {
	t := f.topo
	i0, i1 := t.LocalI(t.Its), t.LocalI(t.Ite)
	buf := make([]float64, 0, t.Nz()*f.halo*(i1-i0+1))
	for k := 0; k < t.Nz(); k++ {
		for j := j0; j < j0+f.halo; j++ {
			for i := i0; i <= i1; i++ {
				buf = append(buf, f.Data.Get(k, j, i))
			}
		}
	}
	return buf
}

func (f *ExchangeableField) unpackY(buf []float64, j0 int) {
	t := f.topo
	i0, i1 := t.LocalI(t.Its), t.LocalI(t.Ite)
	n := 0
	for k := 0; k < t.Nz(); k++ {
		for j := j0; j < j0+f.halo; j++ {
			for i := i0; i <= i1; i++ {
				f.Data.Set(buf[n], k, j, i)
				n++
			}
		}
	}
}

// HaloSend posts halo messages for every allocated exchangeable field,
// in fixed catalog order.
func (d *Domain) HaloSend() {
	for _, f := range d.exchangeables() {
		f.Send(d.rank)
	}
}

// HaloRetrieve completes the exchange started by HaloSend for every
// allocated exchangeable field, in the same order.
func (d *Domain) HaloRetrieve() {
	first := true
	for _, f := range d.exchangeables() {
		if first {
			f.Retrieve(d.rank)
			first = false
		} else {
			f.RetrieveNoSync(d.rank)
		}
	}
}

// HaloExchange performs a full halo exchange on all allocated
// exchangeable fields. After it returns, every image's ghost cells for
// every exchanged field equal the corresponding interior cells of the
// owning neighbor at the time HaloSend was entered. Fields not requested
// for this run are skipped.
func (d *Domain) HaloExchange() {
	d.HaloSend()
	d.HaloRetrieve()
}
