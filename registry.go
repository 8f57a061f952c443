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

// A Registry is an insertion-ordered mapping from forcing-variable name
// to the domain field it drives. Both the interpolation pipeline and the
// delta-forcing updater iterate it in registration order, which is the
// fixed catalog order established during field setup.
type Registry struct {
	names  []string
	fields map[string]*Field
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[string]*Field)}
}

// Register binds the forcing variable name to f. Names must be non-empty
// and unique.
func (r *Registry) Register(name string, f *Field) error {
	if name == "" {
		return fmt.Errorf("meso: empty forcing variable name for field %s", f.Name)
	}
	if _, ok := r.fields[name]; ok {
		return fmt.Errorf("meso: forcing variable %s registered twice", name)
	}
	r.names = append(r.names, name)
	r.fields[name] = f
	f.ForcingVar = name
	f.ensureDelta()
	return nil
}

// Names returns the registered forcing variable names in registration
// order. The returned slice is a copy; iterating it is restartable and
// does not mutate the registry.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Field returns the field driven by the named forcing variable.
func (r *Registry) Field(name string) (*Field, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// Len returns the number of registered variables.
func (r *Registry) Len() int { return len(r.names) }
