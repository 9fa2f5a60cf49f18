// Package terrain provides the read-only ground model queried by vehicles.
//
// Terrain values are built once at setup and never mutated afterwards, so a
// single instance is shared by every local agent without locking.
package terrain

import (
	"errors"
	"fmt"
)

// ErrInvalidPatch is returned when a patch has inverted bounds or a
// non-positive friction coefficient.
var ErrInvalidPatch = errors.New("terrain: invalid patch")

// Terrain answers height and friction queries at a 2-D location.
type Terrain interface {
	// Height returns the ground elevation (m) under (x, y).
	Height(x, y float64) float64

	// Friction returns the tire/ground friction coefficient at (x, y).
	Friction(x, y float64) float64
}

// Flat is an infinite horizontal plane.
type Flat struct {
	Z  float64
	Mu float64
}

// Height implements Terrain.
func (f Flat) Height(x, y float64) float64 { return f.Z }

// Friction implements Terrain.
func (f Flat) Friction(x, y float64) float64 { return f.Mu }

// Patch is an axis-aligned rectangle with its own elevation and friction.
type Patch struct {
	Name       string
	MinX, MinY float64
	MaxX, MaxY float64
	Z          float64
	Mu         float64
}

func (p Patch) contains(x, y float64) bool {
	return x >= p.MinX && x <= p.MaxX && y >= p.MinY && y <= p.MaxY
}

// Rigid is a set of rigid patches laid over a fallback plane. The first patch
// containing a query point wins.
type Rigid struct {
	base    Flat
	patches []Patch
}

// NewRigid validates the patches and returns an immutable terrain.
func NewRigid(base Flat, patches ...Patch) (*Rigid, error) {
	if base.Mu <= 0 {
		return nil, fmt.Errorf("%w: base friction must be positive, got %g", ErrInvalidPatch, base.Mu)
	}
	for i, p := range patches {
		if p.MaxX < p.MinX || p.MaxY < p.MinY {
			return nil, fmt.Errorf("%w: patch %d (%q) has inverted bounds", ErrInvalidPatch, i, p.Name)
		}
		if p.Mu <= 0 {
			return nil, fmt.Errorf("%w: patch %d (%q) friction must be positive, got %g", ErrInvalidPatch, i, p.Name, p.Mu)
		}
	}
	cp := make([]Patch, len(patches))
	copy(cp, patches)
	return &Rigid{base: base, patches: cp}, nil
}

func (r *Rigid) lookup(x, y float64) (float64, float64) {
	for _, p := range r.patches {
		if p.contains(x, y) {
			return p.Z, p.Mu
		}
	}
	return r.base.Z, r.base.Mu
}

// Height implements Terrain.
func (r *Rigid) Height(x, y float64) float64 {
	z, _ := r.lookup(x, y)
	return z
}

// Friction implements Terrain.
func (r *Rigid) Friction(x, y float64) float64 {
	_, mu := r.lookup(x, y)
	return mu
}

// Patches returns a copy of the configured patches.
func (r *Rigid) Patches() []Patch {
	cp := make([]Patch, len(r.patches))
	copy(cp, r.patches)
	return cp
}
