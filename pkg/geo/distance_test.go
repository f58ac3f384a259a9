package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name   string
		lat1   float64
		lon1   float64
		lat2   float64
		lon2   float64
		wantKm float64
	}{
		{"same point", 28.5562, 77.1000, 28.5562, 77.1000, 0},
		{"igi airport to connaught place", 28.5562, 77.1000, 28.6315, 77.2167, 14.18},
		{"igi airport to gurugram", 28.5562, 77.1000, 28.4595, 77.0266, 12.93},
		{"across equator", -1.0, 36.8, 1.0, 36.8, 222.39},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.wantKm, got, 0.5)
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	forward := Haversine(28.5562, 77.1000, 28.6315, 77.2167)
	backward := Haversine(28.6315, 77.2167, 28.5562, 77.1000)
	assert.Equal(t, forward, backward)
}

func TestHaversineMeters(t *testing.T) {
	meters := HaversineMeters(28.5562, 77.1000, 28.6315, 77.2167)
	km := Haversine(28.5562, 77.1000, 28.6315, 77.2167)
	assert.Equal(t, int(km*1000), meters)
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name        string
		distanceKm  float64
		wantMinutes int
	}{
		{"zero distance", 0, 0},
		{"ten km", 10, 15},
		{"forty km is one hour", 40, 60},
		{"short hop rounds", 0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMinutes, EstimateDuration(tt.distanceKm))
		})
	}
}
