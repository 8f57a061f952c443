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

package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendRecv(t *testing.T) {
	g := NewGroup(2)
	var wg sync.WaitGroup
	wg.Add(2)

	var got []float64
	go func() {
		defer wg.Done()
		g.Rank(0).Send(1, "x", []float64{1, 2, 3})
	}()
	go func() {
		defer wg.Done()
		got = g.Rank(1).Recv(0, "x")
	}()
	wg.Wait()
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestSendCopiesData(t *testing.T) {
	g := NewGroup(2)
	buf := []float64{1, 2}
	g.Rank(0).Send(1, "x", buf)
	buf[0] = 99
	got := g.Rank(1).Recv(0, "x")
	assert.Equal(t, []float64{1, 2}, got)
}

func TestTagsKeepMessagesSeparate(t *testing.T) {
	g := NewGroup(2)
	r0, r1 := g.Rank(0), g.Rank(1)
	r0.Send(1, "a", []float64{1})
	r0.Send(1, "b", []float64{2})
	// Receive in the opposite order from the sends.
	assert.Equal(t, []float64{2}, r1.Recv(0, "b"))
	assert.Equal(t, []float64{1}, r1.Recv(0, "a"))
}

func TestAllReduceSum(t *testing.T) {
	const n = 4
	g := NewGroup(n)
	results := make([]float64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r := g.Rank(i)
			// Two back-to-back reductions exercise the staging
			// slice reuse.
			results[i] = r.AllReduceSum(float64(i + 1))
			results[i] += r.AllReduceSum(1)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, 14.0, results[i], "rank %d", i)
	}
}

func TestBarrierReusable(t *testing.T) {
	const n = 3
	g := NewGroup(n)
	counter := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r := g.Rank(i)
			for iter := 0; iter < 10; iter++ {
				mu.Lock()
				counter++
				mu.Unlock()
				r.Barrier()
				mu.Lock()
				c := counter
				mu.Unlock()
				// After the barrier every rank must have
				// incremented for this iteration.
				assert.True(t, c >= (iter+1)*n)
				r.Barrier()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10*n, counter)
}
