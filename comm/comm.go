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

// Package comm provides explicit message passing among the cooperating
// images (SPMD ranks) of a distributed simulation domain. Each image runs
// in its own goroutine; messages travel over tagged buffered channels so a
// send never blocks the sender and a receive blocks until the matching
// message arrives. There are no timeouts: a rank that waits forever on a
// neighbor that never sends is a fatal desynchronization of the whole run,
// not a recoverable condition.
package comm

import (
	"fmt"
	"sync"
)

// chanCap is the per-link message capacity. It only needs to cover the
// number of outstanding sends between two barriers, which for halo
// exchanges is one message per field per direction.
const chanCap = 16

type chanKey struct {
	from, to int
	tag      string
}

// A Group connects n ranks. All ranks must be driven concurrently;
// collective operations (Barrier, AllReduceSum) block until every rank
// has entered them.
type Group struct {
	n int

	mu    sync.Mutex
	links map[chanKey]chan []float64

	barrier *barrier

	reduce    []float64
	reduceIn  *barrier
	reduceOut *barrier
}

// NewGroup creates a communication group of n ranks.
func NewGroup(n int) *Group {
	if n < 1 {
		panic(fmt.Sprintf("comm: invalid group size %d", n))
	}
	return &Group{
		n:         n,
		links:     make(map[chanKey]chan []float64),
		barrier:   newBarrier(n),
		reduce:    make([]float64, n),
		reduceIn:  newBarrier(n),
		reduceOut: newBarrier(n),
	}
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.n }

// Rank returns the endpoint for rank id.
func (g *Group) Rank(id int) *Rank {
	if id < 0 || id >= g.n {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", id, g.n))
	}
	return &Rank{g: g, id: id}
}

func (g *Group) link(k chanKey) chan []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.links[k]
	if !ok {
		c = make(chan []float64, chanCap)
		g.links[k] = c
	}
	return c
}

// A Rank is one image's endpoint into its Group.
type Rank struct {
	g  *Group
	id int
}

// ID returns this rank's index within the group.
func (r *Rank) ID() int { return r.id }

// Size returns the number of ranks in the group.
func (r *Rank) Size() int { return r.g.n }

// Send posts data to rank `to` under the given tag. The data is copied,
// so the caller may reuse its buffer immediately. Send does not block
// unless the link's capacity is exhausted, which only happens if the
// receiver has fallen more than a full exchange behind.
func (r *Rank) Send(to int, tag string, data []float64) {
	buf := make([]float64, len(data))
	copy(buf, data)
	r.g.link(chanKey{from: r.id, to: to, tag: tag}) <- buf
}

// Recv blocks until a message with the given tag arrives from rank
// `from`, and returns its payload.
func (r *Rank) Recv(from int, tag string) []float64 {
	return <-r.g.link(chanKey{from: from, to: r.id, tag: tag})
}

// Barrier blocks until every rank in the group has called Barrier.
func (r *Rank) Barrier() {
	r.g.barrier.await()
}

// AllReduceSum sums v across all ranks and returns the total to each.
// It is a collective operation: every rank must call it.
func (r *Rank) AllReduceSum(v float64) float64 {
	r.g.reduce[r.id] = v
	r.g.reduceIn.await()
	total := 0.0
	for _, x := range r.g.reduce {
		total += x
	}
	// Keep the staging slice intact until every rank has read it.
	r.g.reduceOut.await()
	return total
}

// barrier is a reusable counting barrier.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   int
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
