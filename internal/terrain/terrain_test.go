package terrain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat(t *testing.T) {
	f := Flat{Z: 0.5, Mu: 0.9}
	assert.Equal(t, 0.5, f.Height(100, -3))
	assert.Equal(t, 0.9, f.Friction(-1, 2))
}

func TestRigid_PatchLookup(t *testing.T) {
	r, err := NewRigid(Flat{Z: 0, Mu: 0.8},
		Patch{Name: "wet", MinX: -10, MinY: 0, MaxX: 10, MaxY: 50, Z: 0.1, Mu: 0.4},
		Patch{Name: "overlap", MinX: -10, MinY: 40, MaxX: 10, MaxY: 60, Z: 0.2, Mu: 0.6},
	)
	require.NoError(t, err)

	assert.Equal(t, 0.4, r.Friction(0, 10))
	assert.Equal(t, 0.1, r.Height(0, 10))

	// first patch wins where they overlap
	assert.Equal(t, 0.4, r.Friction(0, 45))
	assert.Equal(t, 0.6, r.Friction(0, 55))

	// outside every patch falls back to the base plane
	assert.Equal(t, 0.8, r.Friction(50, 50))
	assert.Equal(t, 0.0, r.Height(50, 50))
}

func TestRigid_Validation(t *testing.T) {
	tests := []struct {
		name    string
		base    Flat
		patches []Patch
	}{
		{"zero base friction", Flat{Mu: 0}, nil},
		{"inverted x", Flat{Mu: 1}, []Patch{{MinX: 5, MaxX: 1, Mu: 1}}},
		{"inverted y", Flat{Mu: 1}, []Patch{{MinY: 5, MaxY: 1, Mu: 1}}},
		{"negative friction", Flat{Mu: 1}, []Patch{{MaxX: 1, MaxY: 1, Mu: -0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRigid(tt.base, tt.patches...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPatch))
		})
	}
}

func TestRigid_PatchesIsCopy(t *testing.T) {
	in := []Patch{{Name: "a", MaxX: 1, MaxY: 1, Mu: 1}}
	r, err := NewRigid(Flat{Mu: 1}, in...)
	require.NoError(t, err)

	in[0].Mu = 5
	got := r.Patches()
	got[0].Mu = 7
	assert.Equal(t, 1.0, r.Friction(0.5, 0.5))
}
