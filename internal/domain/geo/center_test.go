package geo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCenter(t *testing.T) {
	tests := []struct {
		name string
		lats []float64
		lons []float64
		want Point
	}{
		{
			name: "single stop",
			lats: []float64{38.9},
			lons: []float64{-77.0},
			want: Point{Lat: 38.9, Lon: -77.0},
		},
		{
			name: "odd count takes true median per axis",
			lats: []float64{3, 1, 2},
			lons: []float64{10, 30, 20},
			want: Point{Lat: 2, Lon: 20},
		},
		{
			name: "even count takes upper middle",
			lats: []float64{4, 1, 3, 2},
			lons: []float64{-1, -4, -2, -3},
			want: Point{Lat: 3, Lon: -2},
		},
		{
			name: "outlier at null island does not drag the center",
			lats: []float64{0, 45.1, 45.2, 45.3, 45.4},
			lons: []float64{0, -122.1, -122.2, -122.3, -122.4},
			want: Point{Lat: 45.2, Lon: -122.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Center(tt.lats, tt.lons)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCenterDoesNotMutateInput(t *testing.T) {
	lats := []float64{3, 1, 2}
	lons := []float64{6, 4, 5}

	_, err := Center(lats, lons)
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 1, 2}, lats)
	assert.Equal(t, []float64{6, 4, 5}, lons)
}

func TestCenterErrors(t *testing.T) {
	_, err := Center(nil, nil)
	assert.ErrorIs(t, err, ErrNoStops)

	_, err = Center([]float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestCenterWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(50)
		lats := make([]float64, n)
		lons := make([]float64, n)
		for j := range lats {
			lats[j] = rng.Float64()*180 - 90
			lons[j] = rng.Float64()*360 - 180
		}

		p, err := Center(lats, lons)
		require.NoError(t, err)

		minLat, maxLat := bounds(lats)
		minLon, maxLon := bounds(lons)
		assert.GreaterOrEqual(t, p.Lat, minLat)
		assert.LessOrEqual(t, p.Lat, maxLat)
		assert.GreaterOrEqual(t, p.Lon, minLon)
		assert.LessOrEqual(t, p.Lon, maxLon)
	}
}

func bounds(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
